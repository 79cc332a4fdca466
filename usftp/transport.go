package usftp

import (
	"io"
	"net"

	"golang.org/x/crypto/ssh"
)

// channel is the only shape the framed transport adapter needs: a
// byte-oriented duplex stream. An *ssh.Channel, a net.Conn, or an
// in-process io.Pipe all satisfy it, which keeps the codec, request
// table, and transfer engine free of any dependency on the SSH package —
// only NewClient (client.go) and dialSSH below use golang.org/x/crypto/ssh.
type channel interface {
	io.Reader
	io.Writer
}

// transport realizes send_bytes/recv_bytes: 4-byte big-endian length
// prefix framing over a channel, with no further interpretation of the
// frame body.
type transport struct {
	ch  channel
	buf []byte // scratch encode buffer, reused across sendFrame calls
}

func newTransport(ch channel) *transport {
	return &transport{ch: ch, buf: make([]byte, 4, 4+32*1024)}
}

// sendFrame writes the 4-byte length prefix followed by body. A short
// write is a transport failure; per the external design, the session is
// considered dead afterward.
func (tr *transport) sendFrame(body []byte) error {
	tr.buf = tr.buf[:4]
	tr.buf = append(tr.buf, body...)
	putUint32At(tr.buf, 0, uint32(len(body)))
	_, err := tr.ch.Write(tr.buf)
	return err
}

// recvFrame reads one frame: 4 bytes of length, then exactly that many
// bytes of body. It returns the packet type (body[0]) and a buffer
// positioned to decode body[1:]. A truncated read is a transport
// failure and yields no packet.
func (tr *transport) recvFrame() (*buffer, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(tr.ch, hdr[:]); err != nil {
		return nil, err
	}
	length := uint32(hdr[0])<<24 | uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3])
	if length == 0 {
		return nil, protocolErrorf("zero-length frame")
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(tr.ch, body); err != nil {
		return nil, err
	}
	return newDecodeBuffer(body[0], body[1:]), nil
}

func putUint32At(b []byte, at int, v uint32) {
	b[at] = byte(v >> 24)
	b[at+1] = byte(v >> 16)
	b[at+2] = byte(v >> 8)
	b[at+3] = byte(v)
}

// dialSSH opens conn, completes the SSH handshake with cfg, and returns
// the "sftp" subsystem channel that NewClient's transport rides on.
// Channel multiplexing and encryption are entirely golang.org/x/crypto/ssh's
// concern; this function and NewClient are the only users of that package.
func dialSSH(network, addr string, cfg *ssh.ClientConfig) (channel, io.Closer, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	sshClient := ssh.NewClient(c, chans, reqs)
	session, err := sshClient.NewSession()
	if err != nil {
		sshClient.Close()
		return nil, nil, err
	}
	pw, err := session.StdinPipe()
	if err != nil {
		session.Close()
		sshClient.Close()
		return nil, nil, err
	}
	pr, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		sshClient.Close()
		return nil, nil, err
	}
	if err := session.RequestSubsystem("sftp"); err != nil {
		session.Close()
		sshClient.Close()
		return nil, nil, err
	}
	return &sessionChannel{r: pr, w: pw}, sessionCloser{session, sshClient}, nil
}

// sessionChannel adapts an ssh.Session's stdin/stdout pipes to the
// channel interface.
type sessionChannel struct {
	r io.Reader
	w io.Writer
}

func (s *sessionChannel) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *sessionChannel) Write(p []byte) (int, error) { return s.w.Write(p) }

type sessionCloser struct {
	session *ssh.Session
	client  *ssh.Client
}

func (s sessionCloser) Close() error {
	s.session.Close()
	return s.client.Close()
}
