package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrRemote matches any *RemoteError via errors.Is.
	ErrRemote = errors.New("remote service rejected request")
	// ErrTransport matches any *TransportError via errors.Is.
	ErrTransport = errors.New("remote service unreachable")
)

// RemoteError is returned when the service answered with a non-2xx status.
type RemoteError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: HTTP error: %d", e.Op, e.Status)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// TransportError covers network failures, timeouts and unparsable bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsRequestFailure reports whether err is one of the normalized gateway failures.
func IsRequestFailure(err error) bool {
	return errors.Is(err, ErrRemote) || errors.Is(err, ErrTransport)
}
