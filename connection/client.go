package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
)

// EnvPort names the environment variable through which the runner passes the
// TCP port of its listening endpoint to the benchmark executable.
const EnvPort = "CARGO_CRITERION_PORT"

// ErrNoRunner is returned by PortFromEnv when the executable was not started
// by a runner.
var ErrNoRunner = errors.New(EnvPort + " is not set")

// PortFromEnv returns the runner's port from the environment.
func PortFromEnv() (int, error) {
	v, ok := os.LookupEnv(EnvPort)
	if !ok || v == "" {
		return 0, ErrNoRunner
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid %s %q", EnvPort, v)
	}
	return port, nil
}

// Client is the benchmark executable's end of the connection.
type Client struct {
	conn    net.Conn
	runner  Version
	recvBuf []byte
}

// Dial connects to the runner at addr and performs the hello exchange,
// announcing hello.
func Dial(ctx context.Context, addr string, hello Hello) (*Client, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial runner", Err: err}
	}

	buf := make([]byte, runnerHelloSize)
	if _, err := io.ReadFull(c, buf); err != nil {
		c.Close()
		return nil, &ConnectionError{Op: "read runner hello", Err: err}
	}
	runner, err := decodeRunnerHello(buf)
	if err != nil {
		c.Close()
		return nil, &ConnectionError{Op: "check runner hello", Err: err}
	}

	if _, err := c.Write(encodeBenchmarkHello(hello)); err != nil {
		c.Close()
		return nil, &ConnectionError{Op: "write benchmark hello", Err: err}
	}

	return &Client{conn: c, runner: runner}, nil
}

// RunnerVersion returns the version announced by the runner.
func (c *Client) RunnerVersion() Version {
	return c.runner
}

// Send writes one message to the runner.
func (c *Client) Send(msg IncomingMessage) error {
	body, err := EncodeIncoming(msg)
	if err != nil {
		return &MessageError{Op: "encode", Err: err}
	}
	if err := writeFrame(c.conn, body); err != nil {
		return &MessageError{Op: "write frame", Err: err}
	}
	return nil
}

// Receive reads the next instruction from the runner. It returns (nil, nil)
// when the runner has closed the connection.
func (c *Client) Receive() (OutgoingMessage, error) {
	body, err := readFrame(c.conn, c.recvBuf)
	c.recvBuf = body
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, &MessageError{Op: "read frame", Err: err}
	}

	msg, err := DecodeOutgoing(body)
	if err != nil {
		return nil, &MessageError{Op: "decode", Err: err}
	}
	return msg, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
