package usftp

import (
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/antsftp/usftp/internal/uerr"
	"github.com/antsftp/usftp/internal/ulog"
)

// Client is a single-threaded SFTP v3 client: one logical task issues
// sends and feeds inbound frames back into the request table and any
// active transfers. It is not safe for concurrent use by multiple
// goroutines.
type Client struct {
	tr  *transport
	cfg *Config

	reqs       requestTable
	extensions map[string]string

	logger ulog.Logger
	closer func() error

	watchdog *Watchdog
	audit    AuditSink
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Config)

// NewClient dials addr over SSH using sshCfg, opens the sftp subsystem,
// and completes protocol init.
func NewClient(addr string, sshCfg *ssh.ClientConfig, opts ...ClientOption) (*Client, error) {
	ch, closer, err := dialSSH("tcp", addr, sshCfg)
	if err != nil {
		return nil, uerr.Chainf(err, "dialing %s", addr)
	}
	c, err := newClient(ch, opts...)
	if err != nil {
		closer.Close()
		return nil, err
	}
	c.closer = closer.Close
	return c, nil
}

// NewClientFromChannel builds a Client atop an already-open duplex
// stream — a negotiated ssh.Channel, or an in-process pipe for tests —
// so everything above the transport is exercised without a live SSH
// handshake.
func NewClientFromChannel(ch channel, opts ...ClientOption) (*Client, error) {
	return newClient(ch, opts...)
}

func newClient(ch channel, opts ...ClientOption) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Client{
		tr:       newTransport(ch),
		cfg:      cfg,
		logger:   cfg.Logger,
		watchdog: cfg.Watchdog,
		audit:    cfg.AuditSink,
	}

	if err := c.init(); err != nil {
		return nil, err
	}
	if c.watchdog != nil {
		c.watchdog.attach(&c.reqs, c.logger)
	}
	return c, nil
}

func (c *Client) init() error {
	if err := c.sendInit(); err != nil {
		return uerr.Chainf(err, "sending INIT")
	}
	buf, err := c.tr.recvFrame()
	if err != nil {
		return uerr.Chainf(err, "reading VERSION")
	}
	version, extensions, err := recvVersion(buf.pktType, buf)
	if err != nil {
		return err
	}
	if version > sftpProtocolVersion {
		return protocolErrorf("server offered SFTP version %d, only version %d is supported", version, sftpProtocolVersion)
	}
	c.extensions = extensions
	return nil
}

// Close releases the underlying transport. Any requests still
// outstanding in the table are abandoned (see (*transferEngine).cleanup
// for in-flight transfers); this does not wait for or cancel them on the
// wire.
func (c *Client) Close() error {
	if c.watchdog != nil {
		c.watchdog.stop()
	}
	if c.closer != nil {
		return c.closer()
	}
	return nil
}

// hasExtension reports whether the server advertised ext in its VERSION
// extension-pair list.
func (c *Client) hasExtension(ext string) bool {
	_, ok := c.extensions[ext]
	return ok
}

// requestOwner lets a non-synchronous requester (the transfer engine)
// claim responses for requests it issued, even while something else is
// the one blocked in invoke's read loop.
type requestOwner interface {
	onResponse(pktType byte, b *buffer)
}

// invoke drives the single-op synchronous path: send, then read frames
// until the one matching rec arrives. Any frame matching a different,
// still-outstanding request is routed to its owner (a transfer engine's
// subrequest bookkeeping) and the wait continues — this is what lets a
// windowed transfer stay pipelined even while the caller also issues
// plain ops like Stat against the same Client.
func (c *Client) invoke(
	sendFn func() (*requestRecord, error),
	recvFn func(pktType byte, b *buffer) error,
) error {
	rec, err := sendFn()
	if err != nil {
		return err
	}
	for {
		matched, pktType, buf, err := c.recvAndFind()
		if err != nil {
			return err
		}
		if matched.ID == rec.ID {
			return recvFn(pktType, buf)
		}
		if owner, ok := matched.userdata.(requestOwner); ok {
			owner.onResponse(pktType, buf)
			continue
		}
		return protocolErrorf("response for request %d has no owner", matched.ID)
	}
}

// pumpOne reads and routes exactly one inbound frame to its owner,
// without waiting on any particular request. Transfer engines call this
// to drive their own event loop when no synchronous invoke is already
// pumping frames.
func (c *Client) pumpOne() error {
	matched, pktType, buf, err := c.recvAndFind()
	if err != nil {
		return err
	}
	if owner, ok := matched.userdata.(requestOwner); ok {
		owner.onResponse(pktType, buf)
		return nil
	}
	return protocolErrorf("response for request %d has no owner", matched.ID)
}

func (c *Client) recvAndFind() (*requestRecord, byte, *buffer, error) {
	c.watchdog.poll(&c.reqs, c.logger)
	buf, err := c.tr.recvFrame()
	if err != nil {
		return nil, 0, nil, uerr.Chainf(err, "transport read")
	}
	id, err := buf.getUint32()
	if err != nil {
		return nil, 0, nil, protocolErrorf("response packet too short for request ID")
	}
	matched, err := c.reqs.find(id)
	if err != nil {
		return nil, 0, nil, err
	}
	return matched, buf.pktType, buf, nil
}

// RealPath resolves path to a canonical, absolute path.
func (c *Client) RealPath(p string) (string, error) {
	var out string
	err := c.invoke(
		func() (*requestRecord, error) { return c.sendRealpath(p) },
		func(pktType byte, b *buffer) error {
			var err error
			out, err = recvRealpath(pktType, b)
			return err
		},
	)
	return out, err
}

// Getwd returns the server's notion of the current working directory.
func (c *Client) Getwd() (string, error) {
	return c.RealPath(".")
}

// Mkdir creates a directory on the server.
func (c *Client) Mkdir(p string) error {
	return c.invoke(
		func() (*requestRecord, error) { return c.sendMkdir(p) },
		func(pktType byte, b *buffer) error { return recvStatus(pktType, b) },
	)
}

// Remove deletes the named file.
func (c *Client) Remove(p string) error {
	return c.invoke(
		func() (*requestRecord, error) { return c.sendRemove(p) },
		func(pktType byte, b *buffer) error { return recvStatus(pktType, b) },
	)
}

// RemoveDirectory deletes the named, empty directory.
func (c *Client) RemoveDirectory(p string) error {
	return c.invoke(
		func() (*requestRecord, error) { return c.sendRmdir(p) },
		func(pktType byte, b *buffer) error { return recvStatus(pktType, b) },
	)
}

// Rename renames oldpath to newpath. newpath must not already exist
// (use PosixRename where the server supports the extension for
// overwrite-on-rename semantics).
func (c *Client) Rename(oldpath, newpath string) error {
	return c.invoke(
		func() (*requestRecord, error) { return c.sendRename(oldpath, newpath) },
		func(pktType byte, b *buffer) error { return recvStatus(pktType, b) },
	)
}

// PosixRename renames oldpath to newpath, overwriting newpath if it
// exists, via the posix-rename@openssh.com extension. Returns
// ErrUnsupported if the server did not advertise it.
func (c *Client) PosixRename(oldpath, newpath string) error {
	if !c.hasExtension(extPosixRen) {
		return ErrUnsupported
	}
	return c.invoke(
		func() (*requestRecord, error) { return c.sendPosixRename(oldpath, newpath) },
		func(pktType byte, b *buffer) error { return recvStatus(pktType, b) },
	)
}

// Stat returns the attributes of path, following symlinks.
func (c *Client) Stat(p string) (*FileStat, error) {
	var out *FileStat
	err := c.invoke(
		func() (*requestRecord, error) { return c.sendStat(p) },
		func(pktType byte, b *buffer) error {
			var err error
			out, err = recvAttrs(pktType, b)
			return err
		},
	)
	return out, err
}

// Lstat returns the attributes of path, not following a terminal
// symlink.
func (c *Client) Lstat(p string) (*FileStat, error) {
	var out *FileStat
	err := c.invoke(
		func() (*requestRecord, error) { return c.sendLstat(p) },
		func(pktType byte, b *buffer) error {
			var err error
			out, err = recvAttrs(pktType, b)
			return err
		},
	)
	return out, err
}

func (c *Client) fstat(handle string) (*FileStat, error) {
	var out *FileStat
	err := c.invoke(
		func() (*requestRecord, error) { return c.sendFstat(handle) },
		func(pktType byte, b *buffer) error {
			var err error
			out, err = recvAttrs(pktType, b)
			return err
		},
	)
	return out, err
}

func (c *Client) setstat(p string, flags uint32, attrs *FileStat) error {
	return c.invoke(
		func() (*requestRecord, error) { return c.sendSetstat(p, flags, attrs) },
		func(pktType byte, b *buffer) error { return recvStatus(pktType, b) },
	)
}

func (c *Client) fsetstat(handle string, flags uint32, attrs *FileStat) error {
	return c.invoke(
		func() (*requestRecord, error) { return c.sendFsetstat(handle, flags, attrs) },
		func(pktType byte, b *buffer) error { return recvStatus(pktType, b) },
	)
}

// Chmod changes the permission bits of path.
func (c *Client) Chmod(p string, mode os.FileMode) error {
	return c.setstat(p, sshFileXferAttrPermissions, &FileStat{Mode: toChmodPerm(mode)})
}

// Chown changes the owning uid/gid of path.
func (c *Client) Chown(p string, uid, gid int) error {
	return c.setstat(p, sshFileXferAttrUIDGID, &FileStat{UID: uint32(uid), GID: uint32(gid)})
}

// Chtimes changes the access and modification times of path.
func (c *Client) Chtimes(p string, atime, mtime time.Time) error {
	return c.setstat(p, sshFileXferAttrACmodTime, &FileStat{
		Atime: uint32(atime.Unix()),
		Mtime: uint32(mtime.Unix()),
	})
}

// Truncate changes the size of path.
func (c *Client) Truncate(p string, size int64) error {
	return c.setstat(p, sshFileXferAttrSize, &FileStat{Size: uint64(size)})
}

// Symlink creates newname as a symbolic link to oldname.
func (c *Client) Symlink(oldname, newname string) error {
	return c.invoke(
		func() (*requestRecord, error) { return c.sendSymlink(newname, oldname) },
		func(pktType byte, b *buffer) error { return recvStatus(pktType, b) },
	)
}

// ReadLink returns the destination of the symbolic link at name.
func (c *Client) ReadLink(name string) (string, error) {
	var out string
	err := c.invoke(
		func() (*requestRecord, error) { return c.sendReadlink(name) },
		func(pktType byte, b *buffer) error {
			names, err := recvNames(pktType, b)
			if err != nil {
				return err
			}
			if len(names) != 1 {
				return protocolErrorf("READLINK returned %d names, want exactly 1", len(names))
			}
			out = names[0].Name
			return nil
		},
	)
	return out, err
}

// StatVFS reports filesystem statistics for path via the
// statvfs@openssh.com extension.
func (c *Client) StatVFS(p string) (*StatVFS, error) {
	if !c.hasExtension(extStatvfs) {
		return nil, ErrUnsupported
	}
	var out *StatVFS
	err := c.invoke(
		func() (*requestRecord, error) { return c.sendStatvfs(p) },
		func(pktType byte, b *buffer) error {
			var err error
			out, err = recvStatvfs(pktType, b)
			return err
		},
	)
	return out, err
}

func (c *Client) fsync(handle string) error {
	if !c.hasExtension(extFsync) {
		return ErrUnsupported
	}
	return c.invoke(
		func() (*requestRecord, error) { return c.sendFsync(handle) },
		func(pktType byte, b *buffer) error { return recvStatus(pktType, b) },
	)
}

// DirEntry is one row returned by ReadDir: a filename, its attributes,
// and the server's rendered long listing.
type DirEntry struct {
	name     string
	longName string
	attrs    FileStat
}

// BaseName returns the entry's filename (not a full path).
func (d *DirEntry) BaseName() string { return d.name }

// Attrs returns the entry's attributes as reported by READDIR.
func (d *DirEntry) Attrs() *FileStat { return &d.attrs }

// String renders the server's ls-style long listing for this entry.
func (d *DirEntry) String() string { return d.longName }

// ReadDir lists the contents of dir.
func (c *Client) ReadDir(dir string) ([]*DirEntry, error) {
	return c.ReadDirLimit(dir, 0, nil)
}

// ReadDirLimit lists the contents of dir, stopping after limit entries
// (0 means unbounded) and skipping any entry for which filter returns
// false.
func (c *Client) ReadDirLimit(dir string, limit int, filter func(name string) bool) ([]*DirEntry, error) {
	handle, err := c.opendir(dir)
	if err != nil {
		return nil, err
	}
	defer c.closeHandle(handle)

	var out []*DirEntry
	for {
		var names []nameEntry
		var eof bool
		err := c.invoke(
			func() (*requestRecord, error) { return c.sendReaddir(handle) },
			func(pktType byte, b *buffer) error {
				if pktType == sshFxpStatus {
					if err := recvStatus(pktType, b); err != nil {
						if isEOF(err) {
							eof = true
							return nil
						}
						return err
					}
				}
				var err error
				names, err = recvNames(pktType, b)
				return err
			},
		)
		if err != nil {
			return nil, err
		}
		if eof {
			break
		}
		for _, n := range names {
			if n.Name == "." || n.Name == ".." {
				continue
			}
			if filter != nil && !filter(n.Name) {
				continue
			}
			out = append(out, &DirEntry{name: n.Name, longName: n.LongName, attrs: *n.Attrs})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (c *Client) opendir(p string) (string, error) {
	var handle string
	err := c.invoke(
		func() (*requestRecord, error) { return c.sendOpendir(p) },
		func(pktType byte, b *buffer) error {
			var err error
			handle, err = recvHandle(pktType, b)
			return err
		},
	)
	return handle, err
}

func (c *Client) closeHandle(handle string) error {
	return c.invoke(
		func() (*requestRecord, error) { return c.sendClose(handle) },
		func(pktType byte, b *buffer) error { return recvStatus(pktType, b) },
	)
}

// open is the shared Open/Create/OpenRead path.
func (c *Client) open(p string, pflags uint32) (string, error) {
	return c.openWithAttrs(p, pflags, 0, nil)
}

// openWithAttrs is open, but lets the caller supply initial ATTRS (e.g. a
// local source file's size/permissions/owner) to send along with the
// OPEN request instead of letting the server pick defaults. PutFile is
// the only caller that needs this; everything else goes through open.
func (c *Client) openWithAttrs(p string, pflags uint32, attrFlags uint32, attrs *FileStat) (string, error) {
	var handle string
	err := c.invoke(
		func() (*requestRecord, error) { return c.sendOpen(p, pflags, attrFlags, attrs) },
		func(pktType byte, b *buffer) error {
			var err error
			handle, err = recvHandle(pktType, b)
			return err
		},
	)
	return handle, err
}

// OpenRead opens path read-only and returns a File positioned at offset 0.
func (c *Client) OpenRead(p string) (*File, error) {
	handle, err := c.open(p, sshFxfRead)
	if err != nil {
		return nil, err
	}
	return newFile(c, handle, p), nil
}

// Create opens (creating/truncating) path for writing.
func (c *Client) Create(p string) (*File, error) {
	handle, err := c.open(p, sshFxfWrite|sshFxfCreat|sshFxfTrunc)
	if err != nil {
		return nil, err
	}
	return newFile(c, handle, p), nil
}

// Open opens path with the given os.O_* flags, as os.OpenFile does.
func (c *Client) Open(p string, flag int) (*File, error) {
	handle, err := c.open(p, toPflags(flag))
	if err != nil {
		return nil, err
	}
	return newFile(c, handle, p), nil
}

// PutFile uploads the local file at localPath to remotePath, creating or
// truncating it, and carries the local file's ATTRS (size, permissions,
// mtime/atime, and owner where available) along with the OPEN request
// rather than leaving the server to pick defaults — the same thing sftp
// command-line clients do for a local-to-remote put. It returns the ATTRS
// sent with OPEN; the remote handle is closed before PutFile returns.
func (c *Client) PutFile(localPath, remotePath string) (*FileStat, error) {
	local, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer local.Close()

	fi, err := local.Stat()
	if err != nil {
		return nil, err
	}

	attrFlags, attrs := fileStatFromInfo(fi)
	if uid, gid, ownerErr := localFileOwner(localPath); ownerErr == nil {
		attrFlags |= sshFileXferAttrUIDGID
		attrs.UID = uid
		attrs.GID = gid
	}

	handle, err := c.openWithAttrs(remotePath, sshFxfWrite|sshFxfCreat|sshFxfTrunc, attrFlags, attrs)
	if err != nil {
		return nil, err
	}
	f := newFile(c, handle, remotePath)

	if _, err := io.Copy(f, local); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// toPflags converts os.O_* flags to SFTP v3 OPEN pflags.
func toPflags(f int) uint32 {
	var out uint32
	switch f & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		out |= sshFxfRead
	case os.O_WRONLY:
		out |= sshFxfWrite
	case os.O_RDWR:
		out |= sshFxfRead | sshFxfWrite
	}
	if f&os.O_APPEND != 0 {
		out |= sshFxfAppend
	}
	if f&os.O_CREATE != 0 {
		out |= sshFxfCreat
	}
	if f&os.O_TRUNC != 0 {
		out |= sshFxfTrunc
	}
	if f&os.O_EXCL != 0 {
		out |= sshFxfExcl
	}
	return out
}

// toChmodPerm converts an os.FileMode's permission and setuid/setgid/
// sticky bits to SFTP v3 wire permission bits.
func toChmodPerm(m os.FileMode) uint32 {
	const mask = os.ModePerm | os.FileMode(s_ISUID|s_ISGID|s_ISVTX)
	perm := uint32(m & mask)
	if m&os.ModeSetuid != 0 {
		perm |= s_ISUID
	}
	if m&os.ModeSetgid != 0 {
		perm |= s_ISGID
	}
	if m&os.ModeSticky != 0 {
		perm |= s_ISVTX
	}
	return perm
}

// errIsNotExist reports whether err corresponds to SSH_FX_NO_SUCH_FILE.
func errIsNotExist(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == sshFxNoSuchFile
}
