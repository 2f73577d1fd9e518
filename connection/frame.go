package connection

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single message body. Larger length prefixes are
// treated as corrupt input.
const MaxFrameSize = 64 << 20

// writeFrame writes a u32 big-endian length prefix followed by body.
func writeFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(body), MaxFrameSize)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readFrame reads one frame into buf, growing it as needed, and returns the
// body. A clean end of stream before the prefix yields io.EOF; a stream that
// ends anywhere else yields io.ErrUnexpectedEOF.
func readFrame(r io.Reader, buf []byte) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return buf, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return buf, fmt.Errorf("frame of %d bytes exceeds limit of %d", n, MaxFrameSize)
	}
	if cap(buf) < int(n) {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return buf, err
	}
	return buf, nil
}
