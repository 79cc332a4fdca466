package usftp

import (
	"encoding/binary"
	"fmt"
)

var errShortPacket = fmt.Errorf("packet too short")

// buffer is the wire codec's growable byte buffer. It serves both as an
// encode target (length is the amount written so far, cap(buf) the
// allocated capacity) and, once filled in from a frame, as a decode
// source (cursor tracks how much has been consumed). pktType is the
// first body byte, pulled out by the framed transport before decode of
// the rest begins.
//
// Invariant while decoding: 0 <= cursor <= len(buf).
type buffer struct {
	buf     []byte
	cursor  int
	pktType byte
}

// newBuffer allocates an encode buffer with room for at least hint bytes.
func newBuffer(hint int) *buffer {
	if hint < 64 {
		hint = 64
	}
	return &buffer{buf: make([]byte, 0, hint)}
}

// newDecodeBuffer wraps an already-received frame body (byte 0 already
// consumed as the type tag by the transport) for decode.
func newDecodeBuffer(pktType byte, body []byte) *buffer {
	return &buffer{buf: body, pktType: pktType}
}

// grow ensures the backing array can hold at least needed more bytes,
// appending extra headroom so repeated small writes don't thrash.
func (b *buffer) grow(needed int) {
	if cap(b.buf)-len(b.buf) >= needed {
		return
	}
	next := make([]byte, len(b.buf), len(b.buf)+needed+256)
	copy(next, b.buf)
	b.buf = next
}

// Bytes returns the written portion of the buffer.
func (b *buffer) Bytes() []byte { return b.buf }

// Len returns how much has been written (encode) or how much is present
// (decode).
func (b *buffer) Len() int { return len(b.buf) }

func (b *buffer) putByte(v byte) {
	b.grow(1)
	b.buf = append(b.buf, v)
}

func (b *buffer) putUint32(v uint32) {
	b.grow(4)
	b.buf = binary.BigEndian.AppendUint32(b.buf, v)
}

func (b *buffer) putUint64(v uint64) {
	b.grow(8)
	b.buf = binary.BigEndian.AppendUint64(b.buf, v)
}

// putString writes a full length-prefixed string in one call.
func (b *buffer) putString(s string) {
	b.putUint32(uint32(len(s)))
	b.grow(len(s))
	b.buf = append(b.buf, s...)
}

func (b *buffer) putBytes(p []byte) {
	b.grow(len(p))
	b.buf = append(b.buf, p...)
}

// beginString reserves the 4-byte length slot for a string whose payload
// will be appended incrementally via appendStringPayload, and returns the
// offset to pass to endString once all payload has been appended. This
// is the deferred-length-patch pattern used when the payload (e.g. a
// write buffer) is appended without first being copied into place.
func (b *buffer) beginString() (patchAt int) {
	patchAt = len(b.buf)
	b.putUint32(0)
	return
}

func (b *buffer) appendStringPayload(p []byte) {
	b.putBytes(p)
}

// endString patches in the final length of the string begun at patchAt.
func (b *buffer) endString(patchAt int) {
	length := len(b.buf) - patchAt - 4
	binary.BigEndian.PutUint32(b.buf[patchAt:patchAt+4], uint32(length))
}

// putAttrs writes the flags word followed by the fields it selects, in
// wire order: size, uid+gid, permissions, atime+mtime. Extended
// attributes are never emitted on send, even if the caller passed a
// flags word with the extended bit set.
func (b *buffer) putAttrs(flags uint32, a *FileStat) {
	b.putUint32(flags &^ sshFileXferAttrExtended)
	if flags&sshFileXferAttrSize != 0 {
		b.putUint64(a.Size)
	}
	if flags&sshFileXferAttrUIDGID != 0 {
		b.putUint32(a.UID)
		b.putUint32(a.GID)
	}
	if flags&sshFileXferAttrPermissions != 0 {
		b.putUint32(a.Mode)
	}
	if flags&sshFileXferAttrACmodTime != 0 {
		b.putUint32(a.Atime)
		b.putUint32(a.Mtime)
	}
}

// remaining returns how many undecoded bytes are left.
func (b *buffer) remaining() int {
	return len(b.buf) - b.cursor
}

func (b *buffer) getByte() (byte, error) {
	if b.remaining() < 1 {
		return 0, errShortPacket
	}
	v := b.buf[b.cursor]
	b.cursor++
	return v, nil
}

func (b *buffer) getUint32() (uint32, error) {
	if b.remaining() < 4 {
		return 0, errShortPacket
	}
	v := binary.BigEndian.Uint32(b.buf[b.cursor:])
	b.cursor += 4
	return v, nil
}

func (b *buffer) getUint64() (uint64, error) {
	if b.remaining() < 8 {
		return 0, errShortPacket
	}
	v := binary.BigEndian.Uint64(b.buf[b.cursor:])
	b.cursor += 8
	return v, nil
}

// getString returns a borrowed view into the buffer plus its length; a
// negative (on the wire: absurdly large, since the field is unsigned but
// the spec treats it as signed 32-bit) or truncated length is a decode
// failure.
func (b *buffer) getString() (string, error) {
	n, err := b.getUint32()
	if err != nil {
		return "", err
	}
	if int32(n) < 0 || int64(n) > int64(b.remaining()) {
		return "", errShortPacket
	}
	s := string(b.buf[b.cursor : b.cursor+int(n)])
	b.cursor += int(n)
	return s, nil
}

// getBytes returns a borrowed view of n raw bytes.
func (b *buffer) getBytes(n int) ([]byte, error) {
	if n < 0 || n > b.remaining() {
		return nil, errShortPacket
	}
	p := b.buf[b.cursor : b.cursor+n]
	b.cursor += n
	return p, nil
}

// getAttrs reads the fields selected by flags, in wire order. When the
// extended bit is set, it reads a count and consumes that many
// name/value string pairs without interpreting them (they are kept, in
// case a caller wants FileInfoExtendedData-style access).
func (b *buffer) getAttrs(flags uint32) (*FileStat, error) {
	var a FileStat
	var err error

	if flags&sshFileXferAttrSize != 0 {
		if a.Size, err = b.getUint64(); err != nil {
			return nil, err
		}
	}
	if flags&sshFileXferAttrUIDGID != 0 {
		if a.UID, err = b.getUint32(); err != nil {
			return nil, err
		}
		if a.GID, err = b.getUint32(); err != nil {
			return nil, err
		}
	}
	if flags&sshFileXferAttrPermissions != 0 {
		if a.Mode, err = b.getUint32(); err != nil {
			return nil, err
		}
	}
	if flags&sshFileXferAttrACmodTime != 0 {
		if a.Atime, err = b.getUint32(); err != nil {
			return nil, err
		}
		if a.Mtime, err = b.getUint32(); err != nil {
			return nil, err
		}
	}
	if flags&sshFileXferAttrExtended != 0 {
		count, err := b.getUint32()
		if err != nil {
			return nil, err
		}
		// guard against a hostile count the same way READDIR does:
		// each pair is at least two 4-byte length words.
		if uint64(count)*8 > uint64(b.remaining()) {
			return nil, errShortPacket
		}
		ext := make([]StatExtended, count)
		for i := range ext {
			typ, err := b.getString()
			if err != nil {
				return nil, err
			}
			data, err := b.getString()
			if err != nil {
				return nil, err
			}
			ext[i] = StatExtended{ExtType: typ, ExtData: data}
		}
		a.Extended = ext
	}
	return &a, nil
}
