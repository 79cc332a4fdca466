package usftp

import (
	"io"
	"sync"
)

// bufferedPipe is one direction of an in-memory duplex stream with an
// unbounded buffer, so a writer queuing up several frames (the transfer
// engine's pipelining) never blocks waiting for the other side to read —
// unlike net.Pipe, which is synchronous and would deadlock a pipelined
// sender against a reader that hasn't gotten around to draining yet.
type bufferedPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newBufferedPipe() *bufferedPipe {
	p := &bufferedPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *bufferedPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, b...)
	p.cond.Broadcast()
	return len(b), nil
}

func (p *bufferedPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.buf) == 0 && p.closed {
		return 0, io.EOF
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *bufferedPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// duplexEnd is one endpoint of a pair of bufferedPipes wired into a full
// duplex channel.
type duplexEnd struct {
	r *bufferedPipe
	w *bufferedPipe
}

func (d *duplexEnd) Read(b []byte) (int, error)  { return d.r.Read(b) }
func (d *duplexEnd) Write(b []byte) (int, error) { return d.w.Write(b) }
func (d *duplexEnd) Close() error                { d.w.Close(); return nil }

func newDuplexPair() (a, b *duplexEnd) {
	ab := newBufferedPipe()
	ba := newBufferedPipe()
	return &duplexEnd{r: ab, w: ba}, &duplexEnd{r: ba, w: ab}
}

// fakeServer is a minimal in-process SFTP v3 server used to exercise
// Client end to end over a bufferedPipe duplex pair, without a live SSH
// connection. It understands just enough of the protocol to back the
// operations these tests drive: INIT/VERSION, REALPATH, OPEN/CLOSE, READ,
// WRITE, STAT/LSTAT/FSTAT, MKDIR, and REMOVE, plus an in-memory
// filesystem keyed by path.
type fakeServer struct {
	tr *transport

	mu      sync.Mutex
	files   map[string][]byte
	handles map[string]*fakeHandle
	nextH   int
}

type fakeHandle struct {
	path string
}

// newFakeServerPair returns a Client wired to a fakeServer over an
// in-process pipe, and a done channel closed once the server's serve
// loop exits (on a transport error or a malformed request).
func newFakeServerPair(t interface{ Fatalf(string, ...interface{}) }, opts ...ClientOption) (*Client, *fakeServer, <-chan struct{}) {
	clientConn, serverConn := newDuplexPair()

	srv := &fakeServer{
		tr:      newTransport(serverConn),
		files:   make(map[string][]byte),
		handles: make(map[string]*fakeHandle),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.serve()
	}()

	c, err := NewClientFromChannel(clientConn, opts...)
	if err != nil {
		t.Fatalf("NewClientFromChannel: %v", err)
	}
	return c, srv, done
}

func (s *fakeServer) serve() {
	buf, err := s.tr.recvFrame()
	if err != nil || buf.pktType != sshFxpInit {
		return
	}
	reply := newBuffer(16)
	reply.putByte(sshFxpVersion)
	reply.putUint32(sftpProtocolVersion)
	if err := s.tr.sendFrame(reply.Bytes()); err != nil {
		return
	}

	for {
		req, err := s.tr.recvFrame()
		if err != nil {
			return
		}
		id, err := req.getUint32()
		if err != nil {
			return
		}
		if !s.handle(id, req.pktType, req) {
			return
		}
	}
}

func (s *fakeServer) sendStatus(id uint32, code uint32, msg string) {
	b := newBuffer(32)
	b.putByte(sshFxpStatus)
	b.putUint32(id)
	b.putUint32(code)
	b.putString(msg)
	b.putString("")
	s.tr.sendFrame(b.Bytes())
}

func (s *fakeServer) handle(id uint32, typ byte, req *buffer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch typ {
	case sshFxpRealpath:
		p, _ := req.getString()
		b := newBuffer(32)
		b.putByte(sshFxpName)
		b.putUint32(id)
		b.putUint32(1)
		b.putString(p)
		b.putString(p)
		b.putUint32(0)
		return s.tr.sendFrame(b.Bytes()) == nil

	case sshFxpOpen:
		p, _ := req.getString()
		pflags, _ := req.getUint32()
		if pflags&sshFxfCreat != 0 {
			if _, ok := s.files[p]; !ok {
				s.files[p] = nil
			}
		}
		if _, ok := s.files[p]; !ok {
			s.sendStatus(id, sshFxNoSuchFile, "no such file")
			return true
		}
		s.nextH++
		h := fakeHandleName(s.nextH)
		s.handles[h] = &fakeHandle{path: p}
		b := newBuffer(32)
		b.putByte(sshFxpHandle)
		b.putUint32(id)
		b.putString(h)
		return s.tr.sendFrame(b.Bytes()) == nil

	case sshFxpClose:
		h, _ := req.getString()
		delete(s.handles, h)
		s.sendStatus(id, sshFxOk, "")
		return true

	case sshFxpRead:
		h, _ := req.getString()
		offset, _ := req.getUint64()
		length, _ := req.getUint32()
		fh, ok := s.handles[h]
		if !ok {
			s.sendStatus(id, sshFxFailure, "bad handle")
			return true
		}
		data := s.files[fh.path]
		if offset >= uint64(len(data)) {
			s.sendStatus(id, sshFxEOF, "EOF")
			return true
		}
		end := offset + uint64(length)
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		chunk := data[offset:end]
		b := newBuffer(32 + len(chunk))
		b.putByte(sshFxpData)
		b.putUint32(id)
		patch := b.beginString()
		b.appendStringPayload(chunk)
		b.endString(patch)
		return s.tr.sendFrame(b.Bytes()) == nil

	case sshFxpWrite:
		h, _ := req.getString()
		offset, _ := req.getUint64()
		data, _ := req.getString()
		fh, ok := s.handles[h]
		if !ok {
			s.sendStatus(id, sshFxFailure, "bad handle")
			return true
		}
		cur := s.files[fh.path]
		need := int(offset) + len(data)
		if need > len(cur) {
			grown := make([]byte, need)
			copy(grown, cur)
			cur = grown
		}
		copy(cur[offset:], data)
		s.files[fh.path] = cur
		s.sendStatus(id, sshFxOk, "")
		return true

	case sshFxpFstat:
		h, _ := req.getString()
		fh, ok := s.handles[h]
		if !ok {
			s.sendStatus(id, sshFxFailure, "bad handle")
			return true
		}
		return s.sendAttrs(id, uint64(len(s.files[fh.path])))

	case sshFxpStat, sshFxpLstat:
		p, _ := req.getString()
		data, ok := s.files[p]
		if !ok {
			s.sendStatus(id, sshFxNoSuchFile, "no such file")
			return true
		}
		return s.sendAttrs(id, uint64(len(data)))

	case sshFxpMkdir:
		p, _ := req.getString()
		s.files[p] = nil
		s.sendStatus(id, sshFxOk, "")
		return true

	case sshFxpRemove:
		p, _ := req.getString()
		delete(s.files, p)
		s.sendStatus(id, sshFxOk, "")
		return true

	default:
		s.sendStatus(id, sshFxOPUnsupported, "unsupported")
		return true
	}
}

func (s *fakeServer) sendAttrs(id uint32, size uint64) bool {
	b := newBuffer(32)
	b.putByte(sshFxpAttrs)
	b.putUint32(id)
	flags := uint32(sshFileXferAttrSize)
	b.putUint32(flags)
	b.putUint64(size)
	return s.tr.sendFrame(b.Bytes()) == nil
}

func fakeHandleName(n int) string {
	return "h" + string(rune('a'+n%26)) + string(rune('0'+n/26))
}
