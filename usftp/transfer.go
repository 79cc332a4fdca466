package usftp

import "math"

const (
	// subrequestSize is the default length of each read/write sub-request
	// the transfer engine issues, used when no block size is configured.
	subrequestSize = 32 * 1024

	// defaultWindowSize is the maximum total bytes kept in outstanding
	// sub-requests for one transfer, absent an explicit Config override.
	defaultWindowSize = 1024 * 1024
)

// unboundedSize is the tentative file size a download starts with:
// "unbounded" until a short read narrows it.
const unboundedSize = math.MaxUint64

type subState int

const (
	subPending subState = iota
	subOK
	subFailedOrEOF
)

// subrequest is one queued read or write, submitted in offset order but
// possibly acknowledged out of order. It is its own requestOwner: the
// Client routes the matching response straight back to transferEngine.
type subrequest struct {
	id     uint32
	offset uint64
	length uint32
	buf    []byte // populated for downloads only
	gotLen int
	state  subState
	engine *transferEngine
}

func (s *subrequest) onResponse(pktType byte, b *buffer) {
	if s.engine.download {
		s.engine.handleResponse(s, pktType, b)
	} else {
		s.engine.handleWriteResponse(s, pktType, b)
	}
}

// transferEngine is the pipelined read/write state machine described for
// one open handle: a FIFO of sub-requests, a next-offset cursor, the
// furthest offset acknowledged so far, a tentative file size, how many
// bytes are currently in flight, the window budget, and sticky eof/err
// flags.
type transferEngine struct {
	c        *Client
	handle   string
	download bool

	window    uint64
	inFlight  uint64
	blockSize uint32

	nextOffset  uint64
	furthestAck uint64
	fileSize    uint64

	eof bool
	err error

	queue []*subrequest
}

func newDownloadEngine(c *Client, handle string, startOffset uint64, window uint64, blockSize uint32) *transferEngine {
	if window == 0 {
		window = defaultWindowSize
	}
	if blockSize == 0 {
		blockSize = subrequestSize
	}
	return &transferEngine{
		c:          c,
		handle:     handle,
		download:   true,
		window:     window,
		blockSize:  blockSize,
		nextOffset: startOffset,
		fileSize:   unboundedSize,
	}
}

func newUploadEngine(c *Client, handle string, startOffset uint64, window uint64, blockSize uint32) *transferEngine {
	if window == 0 {
		window = defaultWindowSize
	}
	if blockSize == 0 {
		blockSize = subrequestSize
	}
	return &transferEngine{
		c:          c,
		handle:     handle,
		download:   false,
		window:     window,
		blockSize:  blockSize,
		nextOffset: startOffset,
		eof:        true, // upload has no EOF source; done once the queue drains
	}
}

// fill tops up the read queue until the window is full, EOF was already
// observed, or an error is sticky. Download only; uploads are filled by
// the caller handing buffers to write.
func (e *transferEngine) fill() error {
	if !e.download {
		return nil
	}
	for !e.eof && e.err == nil && e.inFlight < e.window {
		sub := &subrequest{
			offset: e.nextOffset,
			length: e.blockSize,
			buf:    make([]byte, e.blockSize),
			engine: e,
		}
		rec, err := e.c.dispatch(sshFxpRead, func(b *buffer, id uint32) {
			b.putString(e.handle)
			b.putUint64(sub.offset)
			b.putUint32(sub.length)
		}, sub)
		if err != nil {
			e.err = err
			return err
		}
		sub.id = rec.ID
		e.nextOffset += uint64(sub.length)
		e.inFlight += uint64(sub.length)
		e.queue = append(e.queue, sub)
	}
	return nil
}

// handleResponse classifies one READ response per the three-way rule:
// a short read infers (and monotonically shrinks) the file size, an EOF
// status or a zero-length DATA ends the stream, and any other status or
// malformed DATA is a sticky engine error.
func (e *transferEngine) handleResponse(sub *subrequest, pktType byte, b *buffer) {
	e.inFlight -= uint64(sub.length)

	if pktType == sshFxpStatus {
		err := statusFromPacket(b)
		switch {
		case err == nil:
			e.err = protocolErrorf("server sent STATUS(OK) in response to READ")
			sub.state = subFailedOrEOF
		case isEOF(err):
			e.eof = true
			sub.state = subFailedOrEOF
		default:
			e.err = err
			sub.state = subFailedOrEOF
		}
		return
	}

	n, err := recvRead(pktType, b, sub.buf)
	if err != nil {
		e.err = err
		sub.state = subFailedOrEOF
		return
	}
	if n == 0 {
		// the reference implementation's read_recv is documented as
		// uncertain about which EOF convention a server will use;
		// treat a bare zero-length DATA the same as an EOF status.
		e.eof = true
		sub.state = subFailedOrEOF
		return
	}

	sub.gotLen = n
	sub.state = subOK

	// Furthest acknowledged offset tracks block starts, not block ends:
	// a later block whose start already sits past the inferred file size
	// is the anomaly this guards against, not merely a block that extends
	// past it.
	if sub.offset > e.furthestAck {
		e.furthestAck = sub.offset
	}
	end := sub.offset + uint64(n)
	if uint32(n) < sub.length && end < e.fileSize {
		e.fileSize = end
	}
	if e.furthestAck > e.fileSize {
		e.err = protocolErrorf("received a short buffer from FXP_READ, but not at EOF")
	}
}

// next blocks (pumping frames through the Client) until the head of the
// queue resolves, then returns its data in strict offset order —
// responses may arrive out of order, but delivery never does. done is
// true once the queue is empty and EOF has been observed; a sticky error
// is returned as err (with done false) once the queue has emptied.
func (e *transferEngine) next() (data []byte, offset uint64, done bool, err error) {
	for {
		if err := e.fill(); err != nil {
			return nil, 0, false, err
		}
		for len(e.queue) > 0 && e.queue[0].state != subPending {
			head := e.queue[0]
			e.queue = e.queue[1:]
			if head.state == subFailedOrEOF {
				continue
			}
			return head.buf[:head.gotLen], head.offset, false, nil
		}
		if len(e.queue) == 0 {
			if e.err != nil {
				return nil, 0, false, e.err
			}
			if e.eof {
				return nil, 0, true, nil
			}
		}
		if e.err != nil && len(e.queue) == 0 {
			return nil, 0, false, e.err
		}
		if err := e.c.pumpOne(); err != nil {
			return nil, 0, false, err
		}
	}
}

// --- upload side ----------------------------------------------------------

// ready reports whether the upload window has room for another write.
func (e *transferEngine) ready() bool {
	return e.err == nil && e.inFlight < e.window
}

// write synthesizes a WRITE sub-request for data at the engine's current
// offset cursor, advancing it; no local copy of data is retained beyond
// what the wire send needs.
func (e *transferEngine) write(data []byte) error {
	sub := &subrequest{offset: e.nextOffset, length: uint32(len(data)), engine: e}
	rec, err := e.c.dispatch(sshFxpWrite, func(b *buffer, id uint32) {
		b.putString(e.handle)
		b.putUint64(sub.offset)
		patch := b.beginString()
		b.appendStringPayload(data)
		b.endString(patch)
	}, sub)
	if err != nil {
		e.err = err
		return err
	}
	sub.id = rec.ID
	e.nextOffset += uint64(sub.length)
	e.inFlight += uint64(sub.length)
	e.queue = append(e.queue, sub)
	return nil
}

// handleWriteResponse records whether a queued write succeeded. Unlike
// downloads, upload acknowledgements are not required to be consumed in
// order — only overall completion is ordered (all acked).
func (e *transferEngine) handleWriteResponse(sub *subrequest, pktType byte, b *buffer) {
	e.inFlight -= uint64(sub.length)
	e.removeFromQueue(sub)
	if err := recvStatus(pktType, b); err != nil {
		e.err = err
		sub.state = subFailedOrEOF
		return
	}
	sub.state = subOK
}

func (e *transferEngine) removeFromQueue(sub *subrequest) {
	for i, s := range e.queue {
		if s == sub {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// pumpUntilReady drains responses until the window has room again or the
// queue is empty, whichever comes first — used by callers that want to
// block only long enough to keep writing.
func (e *transferEngine) pumpUntilReady() error {
	for !e.ready() && len(e.queue) > 0 {
		if err := e.c.pumpOne(); err != nil {
			return err
		}
	}
	return e.err
}

// done reports whether the upload has nothing left outstanding.
func (e *transferEngine) done() bool {
	return (e.eof || e.err != nil) && len(e.queue) == 0
}

// drain blocks until every outstanding write has been acknowledged.
func (e *transferEngine) drain() error {
	for len(e.queue) > 0 {
		if err := e.c.pumpOne(); err != nil {
			return err
		}
	}
	return e.err
}

// cleanup releases every queued sub-request and cancels its table entry.
// Must be called regardless of success.
func (e *transferEngine) cleanup() {
	for _, sub := range e.queue {
		e.c.reqs.cancel(sub.id)
	}
	e.queue = nil
}
