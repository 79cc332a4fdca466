package usftp

import "math"

// This file holds one send/recv function pair per SFTP operation. send
// functions allocate a request, build the packet body, and dispatch it;
// recv functions consume the matched response buffer and return a typed
// result. Client's exported methods (in client.go) are thin wrappers that
// call a send, wait for the matching response, then call the recv.

// nameEntry is one row of a NAME packet: filename, server-rendered long
// (ls -l style) name, and its attributes.
type nameEntry struct {
	Name     string
	LongName string
	Attrs    *FileStat
}

// send builds typ's body (via encode) with a freshly allocated,
// registered ID, and dispatches it.
func (c *Client) send(typ byte, encode func(b *buffer, id uint32)) (*requestRecord, error) {
	rec := c.reqs.allocate()
	b := newBuffer(64)
	b.putByte(typ)
	b.putUint32(rec.ID)
	encode(b, rec.ID)
	if err := c.tr.sendFrame(b.Bytes()); err != nil {
		c.reqs.cancel(rec.ID)
		return nil, err
	}
	c.reqs.register(rec)
	return rec, nil
}

// dispatch is send with an owner attached: used by the transfer engine
// so responses route to its subrequest bookkeeping instead of a single
// synchronous invoke call.
func (c *Client) dispatch(typ byte, encode func(b *buffer, id uint32), owner requestOwner) (*requestRecord, error) {
	rec := c.reqs.allocate()
	rec.userdata = owner
	b := newBuffer(64)
	b.putByte(typ)
	b.putUint32(rec.ID)
	encode(b, rec.ID)
	if err := c.tr.sendFrame(b.Bytes()); err != nil {
		c.reqs.cancel(rec.ID)
		return nil, err
	}
	c.reqs.register(rec)
	return rec, nil
}

// --- init / version -------------------------------------------------

func (c *Client) sendInit() error {
	b := newBuffer(16)
	b.putByte(sshFxpInit)
	b.putUint32(sftpProtocolVersion)
	return c.tr.sendFrame(b.Bytes())
}

func recvVersion(pktType byte, b *buffer) (version uint32, extensions map[string]string, err error) {
	if pktType != sshFxpVersion {
		return 0, nil, protocolErrorf("expected VERSION, got packet type %d", pktType)
	}
	version, err = b.getUint32()
	if err != nil {
		return 0, nil, protocolErrorf("malformed VERSION packet: %v", err)
	}
	extensions = make(map[string]string)
	for b.remaining() > 0 {
		name, err := b.getString()
		if err != nil {
			return 0, nil, protocolErrorf("malformed VERSION extension: %v", err)
		}
		data, err := b.getString()
		if err != nil {
			return 0, nil, protocolErrorf("malformed VERSION extension: %v", err)
		}
		extensions[name] = data
	}
	return version, extensions, nil
}

// --- realpath ---------------------------------------------------------

func (c *Client) sendRealpath(path string) (*requestRecord, error) {
	return c.send(sshFxpRealpath, func(b *buffer, id uint32) { b.putString(path) })
}

func recvRealpath(pktType byte, b *buffer) (string, error) {
	names, err := recvNames(pktType, b)
	if err != nil {
		return "", err
	}
	if len(names) != 1 {
		return "", protocolErrorf("REALPATH returned %d names, want exactly 1", len(names))
	}
	return names[0].Name, nil
}

// --- open / opendir -----------------------------------------------------

func (c *Client) sendOpen(path string, pflags uint32, attrFlags uint32, attrs *FileStat) (*requestRecord, error) {
	if attrs == nil {
		attrs = &FileStat{}
	}
	return c.send(sshFxpOpen, func(b *buffer, id uint32) {
		b.putString(path)
		b.putUint32(pflags)
		b.putAttrs(attrFlags, attrs)
	})
}

func (c *Client) sendOpendir(path string) (*requestRecord, error) {
	return c.send(sshFxpOpendir, func(b *buffer, id uint32) { b.putString(path) })
}

func recvHandle(pktType byte, b *buffer) (string, error) {
	if pktType != sshFxpHandle {
		return "", statusOrProtocolError(pktType, b, "HANDLE")
	}
	h, err := b.getString()
	if err != nil {
		return "", protocolErrorf("malformed HANDLE packet: %v", err)
	}
	return h, nil
}

// --- close --------------------------------------------------------------

func (c *Client) sendClose(handle string) (*requestRecord, error) {
	return c.send(sshFxpClose, func(b *buffer, id uint32) { b.putString(handle) })
}

// --- mkdir / rmdir / remove ----------------------------------------------

func (c *Client) sendMkdir(path string) (*requestRecord, error) {
	return c.send(sshFxpMkdir, func(b *buffer, id uint32) {
		b.putString(path)
		b.putUint32(0) // attr flags, ignored
	})
}

func (c *Client) sendRmdir(path string) (*requestRecord, error) {
	return c.send(sshFxpRmdir, func(b *buffer, id uint32) { b.putString(path) })
}

func (c *Client) sendRemove(path string) (*requestRecord, error) {
	return c.send(sshFxpRemove, func(b *buffer, id uint32) { b.putString(path) })
}

// --- rename ---------------------------------------------------------------

func (c *Client) sendRename(oldpath, newpath string) (*requestRecord, error) {
	return c.send(sshFxpRename, func(b *buffer, id uint32) {
		b.putString(oldpath)
		b.putString(newpath)
	})
}

func (c *Client) sendPosixRename(oldpath, newpath string) (*requestRecord, error) {
	return c.send(sshFxpExtended, func(b *buffer, id uint32) {
		b.putString(extPosixRen)
		b.putString(oldpath)
		b.putString(newpath)
	})
}

// --- stat / lstat / fstat / setstat / fsetstat ----------------------------

func (c *Client) sendStat(path string) (*requestRecord, error) {
	return c.send(sshFxpStat, func(b *buffer, id uint32) { b.putString(path) })
}

func (c *Client) sendLstat(path string) (*requestRecord, error) {
	return c.send(sshFxpLstat, func(b *buffer, id uint32) { b.putString(path) })
}

func (c *Client) sendFstat(handle string) (*requestRecord, error) {
	return c.send(sshFxpFstat, func(b *buffer, id uint32) { b.putString(handle) })
}

func recvAttrs(pktType byte, b *buffer) (*FileStat, error) {
	if pktType != sshFxpAttrs {
		return nil, statusOrProtocolError(pktType, b, "ATTRS")
	}
	flags, err := b.getUint32()
	if err != nil {
		return nil, protocolErrorf("malformed ATTRS packet: %v", err)
	}
	attrs, err := b.getAttrs(flags)
	if err != nil {
		return nil, protocolErrorf("malformed ATTRS packet: %v", err)
	}
	return attrs, nil
}

func (c *Client) sendSetstat(path string, flags uint32, attrs *FileStat) (*requestRecord, error) {
	return c.send(sshFxpSetstat, func(b *buffer, id uint32) {
		b.putString(path)
		b.putAttrs(flags, attrs)
	})
}

func (c *Client) sendFsetstat(handle string, flags uint32, attrs *FileStat) (*requestRecord, error) {
	return c.send(sshFxpFsetstat, func(b *buffer, id uint32) {
		b.putString(handle)
		b.putAttrs(flags, attrs)
	})
}

// --- read / write -----------------------------------------------------------

func (c *Client) sendRead(handle string, offset uint64, length uint32) (*requestRecord, error) {
	return c.send(sshFxpRead, func(b *buffer, id uint32) {
		b.putString(handle)
		b.putUint64(offset)
		b.putUint32(length)
	})
}

// recvRead copies at most len(dst) bytes of the DATA payload into dst and
// returns how many were returned. A server sending more bytes than
// requested, or a malformed length, is a protocol error. EOF is reported
// as *StatusError with Code sshFxEOF, per statusOrProtocolError.
func recvRead(pktType byte, b *buffer, dst []byte) (int, error) {
	if pktType != sshFxpData {
		return 0, statusOrProtocolError(pktType, b, "DATA")
	}
	n, err := b.getUint32()
	if err != nil {
		return 0, protocolErrorf("malformed DATA packet: %v", err)
	}
	if int64(n) > int64(b.remaining()) || int(n) > len(dst) {
		return 0, protocolErrorf("server returned more data than requested")
	}
	data, err := b.getBytes(int(n))
	if err != nil {
		return 0, protocolErrorf("malformed DATA packet: %v", err)
	}
	copy(dst, data)
	return int(n), nil
}

func (c *Client) sendWrite(handle string, offset uint64, data []byte) (*requestRecord, error) {
	return c.send(sshFxpWrite, func(b *buffer, id uint32) {
		b.putString(handle)
		b.putUint64(offset)
		patch := b.beginString()
		b.appendStringPayload(data)
		b.endString(patch)
	})
}

// --- readdir ----------------------------------------------------------------

func (c *Client) sendReaddir(handle string) (*requestRecord, error) {
	return c.send(sshFxpReaddir, func(b *buffer, id uint32) { b.putString(handle) })
}

// recvNames parses a NAME packet, validating the declared count against
// the remaining body size before allocating anything, to defeat a
// hostile server lying about how many entries follow. On any mid-parse
// failure, no partially-built slice is returned (the parse itself does
// not touch the packet buffer's backing array after failing, so there is
// nothing left to leak by the time the caller discards it).
func recvNames(pktType byte, b *buffer) ([]nameEntry, error) {
	if pktType != sshFxpName {
		return nil, statusOrProtocolError(pktType, b, "NAME")
	}
	count, err := b.getUint32()
	if err != nil {
		return nil, protocolErrorf("malformed NAME packet: %v", err)
	}

	// minimum well-formed entry is three empty strings (name, longname,
	// zero attr flags word): 4+4+4 = 12 bytes.
	const minEntry = 12
	if uint64(count)*minEntry > uint64(b.remaining()) {
		return nil, protocolErrorf("malformed NAME packet: declared count too large for packet size")
	}
	if count > math.MaxInt32/minEntry {
		return nil, protocolErrorf("malformed NAME packet: declared count overflows")
	}

	names := make([]nameEntry, count)
	for i := range names {
		name, err := b.getString()
		if err != nil {
			return nil, protocolErrorf("malformed NAME entry %d: %v", i, err)
		}
		longName, err := b.getString()
		if err != nil {
			return nil, protocolErrorf("malformed NAME entry %d: %v", i, err)
		}
		flags, err := b.getUint32()
		if err != nil {
			return nil, protocolErrorf("malformed NAME entry %d: %v", i, err)
		}
		attrs, err := b.getAttrs(flags)
		if err != nil {
			return nil, protocolErrorf("malformed NAME entry %d: %v", i, err)
		}
		names[i] = nameEntry{Name: name, LongName: longName, Attrs: attrs}
	}
	return names, nil
}

// --- readlink / symlink -------------------------------------------------

func (c *Client) sendReadlink(path string) (*requestRecord, error) {
	return c.send(sshFxpReadlink, func(b *buffer, id uint32) { b.putString(path) })
}

func (c *Client) sendSymlink(linkpath, targetpath string) (*requestRecord, error) {
	// SFTP v3's SYMLINK has its arguments reversed from every other
	// implementation's expectation; OpenSSH servers (and this client)
	// follow the de facto on-wire order: target first, then link name.
	return c.send(sshFxpSymlink, func(b *buffer, id uint32) {
		b.putString(targetpath)
		b.putString(linkpath)
	})
}

// --- statvfs@openssh.com / fsync@openssh.com extensions ------------------

func (c *Client) sendStatvfs(path string) (*requestRecord, error) {
	return c.send(sshFxpExtended, func(b *buffer, id uint32) {
		b.putString(extStatvfs)
		b.putString(path)
	})
}

func recvStatvfs(pktType byte, b *buffer) (*StatVFS, error) {
	if pktType != sshFxpExtendedReply {
		return nil, statusOrProtocolError(pktType, b, "EXTENDED_REPLY")
	}
	var v StatVFS
	var err error
	fields := []*uint64{
		&v.Bsize, &v.Frsize, &v.Blocks, &v.Bfree, &v.Bavail,
		&v.Files, &v.Ffree, &v.Favail, &v.Fsid, &v.Flag, &v.Namemax,
	}
	for _, f := range fields {
		if *f, err = b.getUint64(); err != nil {
			return nil, protocolErrorf("malformed statvfs reply: %v", err)
		}
	}
	return &v, nil
}

func (c *Client) sendFsync(handle string) (*requestRecord, error) {
	return c.send(sshFxpExtended, func(b *buffer, id uint32) {
		b.putString(extFsync)
		b.putString(handle)
	})
}

// recvStatus parses a STATUS packet's result for operations whose only
// success payload is the status itself (close, mkdir, rmdir, remove,
// rename, setstat, fsetstat, symlink, and the posix-rename/fsync
// extensions). Returns nil on SSH_FX_OK.
func recvStatus(pktType byte, b *buffer) error {
	if pktType != sshFxpStatus {
		return protocolErrorf("expected STATUS, got packet type %d", pktType)
	}
	return statusFromPacket(b)
}

// statusOrProtocolError builds the error to return when a caller expected
// some other packet type but got either a STATUS (server explaining why
// the operation failed) or something else entirely (a protocol error).
func statusOrProtocolError(pktType byte, b *buffer, want string) error {
	if pktType == sshFxpStatus {
		err := statusFromPacket(b)
		if err != nil {
			return err
		}
		return protocolErrorf("server sent STATUS(OK) where %s was expected", want)
	}
	return protocolErrorf("expected %s, got packet type %d", want, pktType)
}
