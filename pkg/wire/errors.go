package wire

import (
	"errors"
	"fmt"
)

// Session and call errors.
var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrNotConnected         = errors.New("not connected")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTransport            = errors.New("transport error")
	ErrBusy                 = errors.New("device busy")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrRejected             = errors.New("rejected in current mode")
	ErrProtocol             = errors.New("protocol error")

	// ErrGated is returned for locally initiated commands while the device
	// reports it is being operated by hand. It is never retried.
	ErrGated = errors.New("device operated locally, command gated")
)

// StatusError is a non-OK status returned by the device.
type StatusError struct {
	Status  Status
	Target  string
	Retries int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Target, e.Status)
	if e.Retries > 0 {
		msg = fmt.Sprintf("%s after %d retries", msg, e.Retries)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap maps the status to its taxonomy sentinel.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case StatusBusy:
		return ErrBusy
	case StatusInvalidParameter:
		return ErrInvalidParameter
	case StatusRejected:
		return ErrRejected
	default:
		return ErrProtocol
	}
}

// TransportError wraps a link-level failure.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// Is reports ErrTransport for every TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// IsTransport reports whether err is a link-level failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
