package client

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by outbound commands issued without a
// connection. No bytes are written.
var ErrNotConnected = errors.New("client: not connected")

var ErrClosed = errors.New("client: closed")

// ConnectionError reports a failed dial.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("client: connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IOError reports a read or write failure that dropped the connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("client: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
