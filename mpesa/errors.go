package mpesa

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error is returned for every failed call to the gateway.
type Error struct {
	Op         string // "token", "stkpush", "query"
	StatusCode int    // 0 when no HTTP response was received
	Message    string // upstream diagnostic text
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("mpesa %s: status %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("mpesa %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time and may be retried.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}
