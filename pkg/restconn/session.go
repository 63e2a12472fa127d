package restconn

import (
	"sync/atomic"
	"time"
)

// Connection state machine. Connecting is transient and always resolves
// to Connected or back to Disconnected.
const (
	stateDisconnected int32 = iota
	stateConnecting
	stateConnected
)

// connState tracks the facade's lifecycle state.
type connState struct {
	state atomic.Int32
}

func (s *connState) set(state int32) { s.state.Store(state) }

// String returns the current state as a human-readable string.
func (s *connState) String() string {
	switch s.state.Load() {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// session is the client-side record of a gateway-held conversational
// context. All fields are guarded by the owning Connection's mutex.
type session struct {
	// handle is the opaque token issued by the gateway; empty while
	// disconnected or for stateless scope.
	handle string

	connected      bool
	createdAt      time.Time
	lastActivityAt time.Time

	// lockCount is a client-side cache of the gateway's lock count,
	// reconciled downward by the inspection sweep when the gateway
	// reports fewer held locks.
	lockCount int

	// lostCause records why the session became unusable without an
	// explicit disconnect. Surfaced as the cause of the next
	// ErrNotConnected.
	lostCause error
}

// clear resets the session to its disconnected form.
func (s *session) clear() {
	s.handle = ""
	s.connected = false
	s.lockCount = 0
}

// touch records caller activity.
func (s *session) touch() {
	s.lastActivityAt = time.Now()
}
