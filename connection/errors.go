package connection

import (
	"errors"
	"fmt"
)

// ErrHelloFailed is returned when the peer's hello does not start with the
// expected magic number.
var ErrHelloFailed = errors.New("hello message did not carry the expected magic number")

// UnsupportedError reports a protocol version or format this package cannot speak.
type UnsupportedError struct {
	What  string
	Value uint16
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s %d", e.What, e.Value)
}

// ConnectionError is a failure while establishing or validating a connection.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// MessageError is a failure sending, receiving or decoding a message on an
// established connection.
type MessageError struct {
	Op  string
	Err error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("message error: %s: %v", e.Op, e.Err)
}

func (e *MessageError) Unwrap() error {
	return e.Err
}
