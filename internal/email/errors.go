package email

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by folder, search, fetch and flag operations
// issued while the session is not in the connected state.
var ErrNotConnected = errors.New("not connected to IMAP server")

// ConnectionError wraps a network or authentication failure, including the
// terminal failure after the reconnect budget is spent.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("imap connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ParseError marks a single message whose MIME payload could not be
// parsed. Batch fetches skip the message and keep going.
type ParseError struct {
	UID uint32
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse message uid %d: %v", e.UID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
