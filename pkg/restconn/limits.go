package restconn

import (
	"fmt"
	"sync"
	"time"
)

// Limits bounds a session's resource usage. All fields must be
// positive; Validate rejects anything else rather than treating it as
// "disabled".
type Limits struct {
	// MaxLocks is the maximum number of simultaneous row locks a
	// transactional session may hold.
	MaxLocks int `yaml:"max_locks"`

	// TrxTimeout is how long a transactional session may stay idle
	// before the client assumes the gateway reclaimed its locks.
	TrxTimeout time.Duration `yaml:"trx_timeout"`

	// LockInspect is the interval between keep-alive/lock-inspection
	// sweeps.
	LockInspect time.Duration `yaml:"lock_inspect"`

	// ConnTimeout is how long a stateful or transactional session may
	// stay idle before the client proactively disconnects it.
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

// Built-in limit defaults.
const (
	DefaultMaxLocks    = 32
	DefaultTrxTimeout  = 60 * time.Second
	DefaultLockInspect = 10 * time.Second
	DefaultConnTimeout = 5 * time.Minute
)

var (
	defaultsMu    sync.RWMutex
	defaultLimits = Limits{
		MaxLocks:    DefaultMaxLocks,
		TrxTimeout:  DefaultTrxTimeout,
		LockInspect: DefaultLockInspect,
		ConnTimeout: DefaultConnTimeout,
	}
)

// Validate checks that every limit is positive.
func (l Limits) Validate() error {
	if l.MaxLocks <= 0 {
		return fmt.Errorf("%w: max_locks must be positive, got %d", ErrInvalidConfiguration, l.MaxLocks)
	}
	if l.TrxTimeout <= 0 {
		return fmt.Errorf("%w: trx_timeout must be positive, got %s", ErrInvalidConfiguration, l.TrxTimeout)
	}
	if l.LockInspect <= 0 {
		return fmt.Errorf("%w: lock_inspect must be positive, got %s", ErrInvalidConfiguration, l.LockInspect)
	}
	if l.ConnTimeout <= 0 {
		return fmt.Errorf("%w: conn_timeout must be positive, got %s", ErrInvalidConfiguration, l.ConnTimeout)
	}
	return nil
}

// DefaultLimits returns the process-wide defaults snapshotted into each
// Connection at construction. Changing the defaults afterward affects
// only Connections created later.
func DefaultLimits() Limits {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return defaultLimits
}

// SetDefaultLimits replaces the process-wide defaults.
func SetDefaultLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaultLimits = l
	return nil
}
