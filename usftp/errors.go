package usftp

import (
	"errors"
	"fmt"
)

// StatusError is a server-reported SSH_FX_* result. Code is one of the
// SSH_FX codes 0..8; Message, when the server supplied one, overrides the
// fixed English phrase for the code.
type StatusError struct {
	Code    uint32
	Message string
	Lang    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fxCodeText(e.Code)
}

// Is lets errors.Is(err, ErrEOF) and friends work regardless of the
// message text the server happened to send.
func (e *StatusError) Is(target error) bool {
	var other *StatusError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

func fxCodeText(code uint32) string {
	switch code {
	case sshFxOk:
		return "ok"
	case sshFxEOF:
		return "EOF"
	case sshFxNoSuchFile:
		return "no such file or directory"
	case sshFxPermissionDenied:
		return "permission denied"
	case sshFxFailure:
		return "failure"
	case sshFxBadMessage:
		return "bad message"
	case sshFxNoConnection:
		return "no connection"
	case sshFxConnectionLost:
		return "connection lost"
	case sshFxOPUnsupported:
		return "operation unsupported"
	default:
		return "unknown error code"
	}
}

// Well-known statuses, usable with errors.Is against any *StatusError
// carrying the same code.
var (
	ErrEOF              = &StatusError{Code: sshFxEOF, Message: "EOF"}
	ErrNoSuchFile       = &StatusError{Code: sshFxNoSuchFile, Message: "no such file or directory"}
	ErrPermissionDenied = &StatusError{Code: sshFxPermissionDenied, Message: "permission denied"}
	ErrUnsupported      = &StatusError{Code: sshFxOPUnsupported, Message: "operation unsupported"}
)

// ProtocolError reports a malformed, unexpected, or inconsistent packet —
// the "kind -1, internal error" family from the reference design. It is
// never produced by the server; it means this client caught the server
// (or itself) being wrong.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// statusFromPacket interprets a decoded STATUS body, returning nil for
// SSH_FX_OK and a *StatusError otherwise.
func statusFromPacket(b *buffer) error {
	code, err := b.getUint32()
	if err != nil {
		return protocolErrorf("malformed STATUS packet: %v", err)
	}
	msg, _ := b.getString()
	lang, _ := b.getString()
	if code == sshFxOk {
		return nil
	}
	return &StatusError{Code: code, Message: msg, Lang: lang}
}

// isEOF reports whether err is an explicit SSH_FX_EOF status. The other
// EOF convention, a zero-length DATA reply, carries no error and is
// recognised by the transfer engine itself.
func isEOF(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == sshFxEOF
}

// StatVFS reports filesystem statistics via the statvfs@openssh.com
// extension reply.
type StatVFS struct {
	Bsize   uint64 // file system block size
	Frsize  uint64 // fundamental fs block size
	Blocks  uint64 // total blocks (unit f_frsize)
	Bfree   uint64 // free blocks
	Bavail  uint64 // free blocks available to non-root
	Files   uint64 // total file inodes
	Ffree   uint64 // free file inodes
	Favail  uint64 // free file inodes available to non-root
	Fsid    uint64 // file system id
	Flag    uint64 // bit mask of mount flags
	Namemax uint64 // maximum filename length
}

// TotalSpace returns the total space in the filesystem, in bytes.
func (v *StatVFS) TotalSpace() uint64 { return v.Frsize * v.Blocks }

// FreeSpace returns the free space in the filesystem, in bytes.
func (v *StatVFS) FreeSpace() uint64 { return v.Frsize * v.Bfree }
