package connection

import (
	"errors"
	"io"
	"net"
)

// Conn is the runner's end of an established connection to a benchmark
// executable. It is not safe for concurrent use.
type Conn struct {
	conn    net.Conn
	peer    Hello
	recvBuf []byte
}

// New performs the hello exchange on an accepted socket. On failure the socket
// is closed and a *ConnectionError is returned.
func New(c net.Conn) (*Conn, error) {
	if _, err := c.Write(encodeRunnerHello(RunnerVersion)); err != nil {
		c.Close()
		return nil, &ConnectionError{Op: "write runner hello", Err: err}
	}

	buf := make([]byte, benchmarkHelloSize)
	if _, err := io.ReadFull(c, buf); err != nil {
		c.Close()
		return nil, &ConnectionError{Op: "read benchmark hello", Err: err}
	}

	peer, err := decodeBenchmarkHello(buf)
	if err != nil {
		c.Close()
		return nil, &ConnectionError{Op: "check benchmark hello", Err: err}
	}

	return &Conn{conn: c, peer: peer}, nil
}

// Peer returns the hello announced by the benchmark executable.
func (c *Conn) Peer() Hello {
	return c.peer
}

// Receive reads the next message. It returns (nil, nil) once the executable
// has closed its end of the connection between two messages.
func (c *Conn) Receive() (IncomingMessage, error) {
	body, err := readFrame(c.conn, c.recvBuf)
	c.recvBuf = body
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, &MessageError{Op: "read frame", Err: err}
	}

	msg, err := DecodeIncoming(body)
	if err != nil {
		return nil, &MessageError{Op: "decode", Err: err}
	}
	return msg, nil
}

// Send writes one message to the executable.
func (c *Conn) Send(msg OutgoingMessage) error {
	body, err := EncodeOutgoing(msg)
	if err != nil {
		return &MessageError{Op: "encode", Err: err}
	}
	if err := writeFrame(c.conn, body); err != nil {
		return &MessageError{Op: "write frame", Err: err}
	}
	return nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}
