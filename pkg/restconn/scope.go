package restconn

import "fmt"

// Scope is the statefulness contract of a logical connection.
type Scope string

const (
	// ScopeStateless makes every call independent: no session handle,
	// no locks, commit and rollback have no meaning.
	ScopeStateless Scope = "stateless"

	// ScopeStateful keeps a gateway session across calls (cursors,
	// attributes) but acquires no row locks and has no transaction
	// boundary.
	ScopeStateful Scope = "stateful"

	// ScopeTransactional keeps a session, holds row locks acquired by
	// mutating operations, and requires explicit commit or rollback to
	// release them.
	ScopeTransactional Scope = "transactional"
)

// ParseScope converts a configuration string into a Scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeStateless, ScopeStateful, ScopeTransactional:
		return Scope(s), nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidConfiguration, s)
}

// Operation is the kind of a requested connection operation.
type Operation int

// Operation kinds classified by the scope policy.
const (
	OpConnect Operation = iota
	OpDisconnect
	OpRead
	OpInsert
	OpUpdate
	OpDelete
	OpScript
	OpBatch
	OpCommit
	OpRollback
)

// String returns the wire path of the operation.
func (op Operation) String() string {
	switch op {
	case OpConnect:
		return "connect"
	case OpDisconnect:
		return "disconnect"
	case OpRead:
		return "select"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpScript:
		return "script"
	case OpBatch:
		return "batch"
	case OpCommit:
		return "commit"
	case OpRollback:
		return "rollback"
	}
	return "unknown"
}

// decision is the scope policy's classification of one operation.
type decision struct {
	// requiresSession means the operation may only run while a session
	// handle is held.
	requiresSession bool

	// acquiresLock means a successful operation takes one row lock.
	acquiresLock bool

	// requiresActiveTransaction means the operation releases locks and
	// is meaningful only once a transactional session exists.
	requiresActiveTransaction bool
}

// mutating reports whether the operation changes rows.
func mutating(op Operation) bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete, OpScript, OpBatch:
		return true
	}
	return false
}

// decide is the pure scope policy: it maps a requested operation and
// the connection's scope to the session behavior required of it.
// Connect and disconnect are always permitted and never classified
// here.
func decide(op Operation, scope Scope) decision {
	switch op {
	case OpConnect, OpDisconnect:
		return decision{}
	case OpCommit, OpRollback:
		if scope == ScopeTransactional {
			return decision{requiresSession: true, requiresActiveTransaction: true}
		}
		// Nothing to release outside a transaction boundary; trivially
		// successful with zero transport.
		return decision{}
	}

	switch scope {
	case ScopeStateless:
		return decision{}
	case ScopeStateful:
		return decision{requiresSession: true}
	default:
		return decision{
			requiresSession: true,
			acquiresLock:    mutating(op),
		}
	}
}
