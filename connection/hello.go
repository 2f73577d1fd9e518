package connection

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	runnerMagic    = "cargo-criterion"
	benchmarkMagic = "Criterion"

	runnerHelloSize    = len(runnerMagic) + 3
	benchmarkHelloSize = len(benchmarkMagic) + 3 + 2 + 2
)

// Protocol constants understood by this package.
const (
	ProtocolVersion uint16 = 1
	FormatCBOR      uint16 = 1
)

// RunnerVersion is announced to benchmark executables in the runner hello.
var RunnerVersion = Version{1, 0, 0}

// Version is a major.minor.patch triple as carried in hello messages.
type Version [3]uint8

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// Hello is what a benchmark executable announces about itself.
type Hello struct {
	Version         Version
	ProtocolVersion uint16
	Format          uint16
}

// DefaultHello is the hello a Go benchmark executable sends.
func DefaultHello() Hello {
	return Hello{
		Version:         RunnerVersion,
		ProtocolVersion: ProtocolVersion,
		Format:          FormatCBOR,
	}
}

func encodeRunnerHello(v Version) []byte {
	buf := make([]byte, 0, runnerHelloSize)
	buf = append(buf, runnerMagic...)
	return append(buf, v[:]...)
}

func decodeRunnerHello(buf []byte) (Version, error) {
	if len(buf) != runnerHelloSize || !bytes.HasPrefix(buf, []byte(runnerMagic)) {
		return Version{}, ErrHelloFailed
	}
	var v Version
	copy(v[:], buf[len(runnerMagic):])
	return v, nil
}

func encodeBenchmarkHello(h Hello) []byte {
	buf := make([]byte, 0, benchmarkHelloSize)
	buf = append(buf, benchmarkMagic...)
	buf = append(buf, h.Version[:]...)
	buf = binary.BigEndian.AppendUint16(buf, h.ProtocolVersion)
	return binary.BigEndian.AppendUint16(buf, h.Format)
}

func decodeBenchmarkHello(buf []byte) (Hello, error) {
	if len(buf) != benchmarkHelloSize || !bytes.HasPrefix(buf, []byte(benchmarkMagic)) {
		return Hello{}, ErrHelloFailed
	}
	i := len(benchmarkMagic)

	var h Hello
	copy(h.Version[:], buf[i:i+3])
	i += 3
	h.ProtocolVersion = binary.BigEndian.Uint16(buf[i:])
	i += 2
	h.Format = binary.BigEndian.Uint16(buf[i:])

	if h.ProtocolVersion != ProtocolVersion {
		return h, &UnsupportedError{What: "protocol version", Value: h.ProtocolVersion}
	}
	if h.Format != FormatCBOR {
		return h, &UnsupportedError{What: "protocol format", Value: h.Format}
	}
	return h, nil
}
