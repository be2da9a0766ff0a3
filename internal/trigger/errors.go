package trigger

import (
	"errors"
	"fmt"
)

// ErrNoConnection is wrapped by every ConnectivityError.
var ErrNoConnection = errors.New("no trigger connection")

// ConnectivityError reports that the trigger channel is unreachable or was
// torn down. It is a shutdown signal, not a fatal fault.
type ConnectivityError struct {
	// Op is the step that failed ("open", "read", "write", "cancelled").
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("trigger %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("trigger %s: %v", e.Op, ErrNoConnection)
}

// Unwrap exposes both the cause and ErrNoConnection to errors.Is.
func (e *ConnectivityError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNoConnection}
	}
	return []error{ErrNoConnection, e.Err}
}

// IsConnectivityError returns true if err carries a ConnectivityError.
func IsConnectivityError(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

func connectivity(op string, err error) *ConnectivityError {
	return &ConnectivityError{Op: op, Err: err}
}
