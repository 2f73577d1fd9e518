package connection

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connect returns both ends of a handshaken connection over loopback TCP.
func connect(t *testing.T, hello Hello) (*Conn, *Client) {
	t.Helper()

	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	type dialed struct {
		client *Client
		err    error
	}
	done := make(chan dialed, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := Dial(ctx, ln.Addr().String(), hello)
		done <- dialed{c, err}
	}()

	sock, err := ln.Accept()
	require.NoError(t, err)

	conn, err := New(sock)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	d := <-done
	require.NoError(t, d.err)
	t.Cleanup(func() { d.client.Close() })

	return conn, d.client
}

func TestHandshake(t *testing.T) {
	hello := Hello{Version: Version{0, 5, 1}, ProtocolVersion: ProtocolVersion, Format: FormatCBOR}
	conn, client := connect(t, hello)

	assert.Equal(t, hello, conn.Peer())
	assert.Equal(t, RunnerVersion, client.RunnerVersion())
	assert.Equal(t, "0.5.1", conn.Peer().Version.String())
}

func TestConversation(t *testing.T) {
	conn, client := connect(t, DefaultHello())

	id := NewBenchmarkID("g1", "fib", "20")
	id.Throughput = []Throughput{{Kind: ThroughputBytes, Count: 1024}}
	// Decoding always yields a non-nil slice.
	other := NewBenchmarkID("g1", "other", "")
	other.Throughput = []Throughput{}

	sent := []IncomingMessage{
		BeginningBenchmarkGroup{Group: "g1"},
		BeginningBenchmark{ID: id},
		Warmup{ID: id, Nanos: 3e9},
		MeasurementStart{ID: id, SampleCount: 100, EstimateNs: 5e9, IterCount: 5050, AddedRunner: true},
		MeasurementComplete{ID: id, Iters: []float64{1, 2, 3}, Times: []float64{10, 21, 29}, SamplingMethod: "Linear"},
		SkippingBenchmark{ID: other},
		FinishedBenchmarkGroup{Group: "g1"},
	}

	go func() {
		for _, msg := range sent {
			if err := client.Send(msg); err != nil {
				return
			}
			if msg.Type() == TypeBeginningBenchmark {
				if reply, err := client.Receive(); err != nil || reply == nil {
					return
				}
			}
		}
		client.Close()
	}()

	var got []IncomingMessage
	for {
		msg, err := conn.Receive()
		require.NoError(t, err)
		if msg == nil {
			break
		}
		got = append(got, msg)
		if msg.Type() == TypeBeginningBenchmark {
			require.NoError(t, conn.Send(RunBenchmark{}))
		}
	}

	require.Equal(t, sent, got)

	complete, ok := got[4].(MeasurementComplete)
	require.True(t, ok)
	assert.Equal(t, "g1/fib/20", complete.ID.String())
	assert.Equal(t, []Throughput{{Kind: ThroughputBytes, Count: 1024}}, complete.ID.Throughput)
}

func TestClientReceivesRunBenchmark(t *testing.T) {
	conn, client := connect(t, DefaultHello())

	require.NoError(t, conn.Send(RunBenchmark{}))

	msg, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, RunBenchmark{}, msg)

	require.NoError(t, conn.Close())
	msg, err = client.Receive()
	require.NoError(t, err)
	assert.Nil(t, msg)
}

// pipeHello runs New against a peer that answers with raw.
func pipeHello(t *testing.T, raw []byte) error {
	t.Helper()

	runner, bench := net.Pipe()
	defer bench.Close()

	go func() {
		buf := make([]byte, runnerHelloSize)
		if _, err := io.ReadFull(bench, buf); err != nil {
			return
		}
		bench.Write(raw)
		bench.Close()
	}()

	_, err := New(runner)
	return err
}

func TestNewRejectsBadMagic(t *testing.T) {
	raw := encodeBenchmarkHello(DefaultHello())
	copy(raw, "Xriterion")

	err := pipeHello(t, raw)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, ErrHelloFailed)
}

func TestNewRejectsUnsupportedFormat(t *testing.T) {
	hello := DefaultHello()
	hello.Format = 2

	err := pipeHello(t, encodeBenchmarkHello(hello))

	var unsupported *UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "protocol format", unsupported.What)
	assert.Equal(t, uint16(2), unsupported.Value)
}

func TestNewRejectsUnsupportedProtocolVersion(t *testing.T) {
	hello := DefaultHello()
	hello.ProtocolVersion = 9

	err := pipeHello(t, encodeBenchmarkHello(hello))

	var unsupported *UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "protocol version", unsupported.What)
}

func TestNewShortHello(t *testing.T) {
	err := pipeHello(t, []byte("Crit"))

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "read benchmark hello", connErr.Op)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// rawConn handshakes New over a pipe and then lets the test write raw bytes
// as the benchmark side.
func rawConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()

	runner, bench := net.Pipe()
	t.Cleanup(func() { bench.Close() })

	go func() {
		buf := make([]byte, runnerHelloSize)
		if _, err := io.ReadFull(bench, buf); err != nil {
			return
		}
		bench.Write(encodeBenchmarkHello(DefaultHello()))
	}()

	conn, err := New(runner)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, bench
}

func TestReceiveTruncatedFrame(t *testing.T) {
	conn, bench := rawConn(t)

	go func() {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], 100)
		bench.Write(prefix[:])
		bench.Write([]byte{0xa1})
		bench.Close()
	}()

	msg, err := conn.Receive()
	assert.Nil(t, msg)

	var msgErr *MessageError
	require.ErrorAs(t, err, &msgErr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReceiveUnknownMessage(t *testing.T) {
	conn, bench := rawConn(t)

	go func() {
		body, _ := encMode.Marshal(map[string]map[string]string{"Bogus": {"group": "g"}})
		writeFrame(bench, body)
	}()

	_, err := conn.Receive()

	var msgErr *MessageError
	require.ErrorAs(t, err, &msgErr)
	assert.Equal(t, "decode", msgErr.Op)
	assert.Contains(t, err.Error(), "unknown message type: Bogus")
}

func TestReceiveOversizedFrame(t *testing.T) {
	conn, bench := rawConn(t)

	go func() {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)
		bench.Write(prefix[:])
	}()

	_, err := conn.Receive()

	var msgErr *MessageError
	require.ErrorAs(t, err, &msgErr)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestSendOnClosedConnection(t *testing.T) {
	conn, _ := rawConn(t)
	require.NoError(t, conn.Close())

	err := conn.Send(RunBenchmark{})

	var msgErr *MessageError
	require.ErrorAs(t, err, &msgErr)
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
}

func TestPortFromEnv(t *testing.T) {
	t.Setenv(EnvPort, "40123")
	port, err := PortFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 40123, port)

	t.Setenv(EnvPort, "")
	_, err = PortFromEnv()
	assert.ErrorIs(t, err, ErrNoRunner)

	t.Setenv(EnvPort, "70000")
	_, err = PortFromEnv()
	assert.Error(t, err)
}
