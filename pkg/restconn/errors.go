package restconn

import "errors"

// Error taxonomy for the connection layer.
var (
	// ErrTransport is returned when no usable response was obtained
	// from the gateway (network failure, unreachable endpoint).
	ErrTransport = errors.New("transport failure")

	// ErrAuthenticationFailed is returned when the gateway explicitly
	// rejects the supplied credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotConnected is returned when an operation requires an active
	// session and none exists. It is rejected before any transport
	// call is made.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect while a session is
	// still active.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrLockLimitExceeded is returned when an operation would push the
	// session past its MaxLocks ceiling. It is rejected before any
	// transport call is made and leaves the lock count unchanged.
	ErrLockLimitExceeded = errors.New("lock limit exceeded")

	// ErrSessionLost is recorded when the gateway no longer recognizes
	// a previously valid session handle. Callers observe it as the
	// cause of the ErrNotConnected returned by their next operation.
	ErrSessionLost = errors.New("session lost")

	// ErrInvalidConfiguration is returned when a non-positive limit is
	// supplied. Limits are never silently disabled.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrClosed is returned by operations on a closed Connection.
	ErrClosed = errors.New("connection closed")
)
