package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// gwSession is the server-side record of one client session. The
// registry mutex guards the map and lastActiveAt; mu guards the
// transaction and lock state.
type gwSession struct {
	id           string
	user         string
	scope        string
	createdAt    time.Time
	lastActiveAt time.Time

	mu sync.Mutex

	// locks is the authoritative count of row locks the session holds.
	locks int

	// tx is the open transaction for transactional sessions, begun
	// lazily on the first mutating statement.
	tx *sqlx.Tx
}

// beginTx lazily opens the session's transaction.
func (s *gwSession) beginTx(db *sqlx.DB) (*sqlx.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		s.tx = tx
	}
	return s.tx, nil
}

// openTx returns the current transaction, or nil.
func (s *gwSession) openTx() *sqlx.Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx
}

// endTx finishes the open transaction and clears the lock count.
func (s *gwSession) endTx(commit bool) error {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.locks = 0
	s.mu.Unlock()

	if tx == nil {
		return nil
	}
	if commit {
		return tx.Commit()
	}
	return tx.Rollback()
}

// addLocks grows the lock count and returns the new value.
func (s *gwSession) addLocks(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks += n
	return s.locks
}

// lockCount returns the held lock count.
func (s *gwSession) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks
}

// registry holds live sessions and reaps idle ones, issuing and
// resolving JWT handle tokens.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*gwSession

	signingKey []byte
	ttl        time.Duration
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newRegistry(signingKey []byte, ttl time.Duration, logger *slog.Logger) *registry {
	return &registry{
		sessions:   make(map[string]*gwSession),
		signingKey: signingKey,
		ttl:        ttl,
		logger:     logger,
	}
}

// create registers a new session and returns its handle token.
func (r *registry) create(user, scope string) (string, error) {
	now := time.Now()
	sess := &gwSession{
		id:           uuid.NewString(),
		user:         user,
		scope:        scope,
		createdAt:    now,
		lastActiveAt: now,
	}

	claims := jwt.RegisteredClaims{
		ID:        sess.id,
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing session handle: %w", err)
	}

	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.mu.Unlock()
	return token, nil
}

// resolve validates a handle token and returns its live session,
// refreshing the activity timestamp. Returns nil for unknown, expired
// or tampered handles.
func (r *registry) resolve(handle string) *gwSession {
	parsed, err := jwt.ParseWithClaims(handle, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return r.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[claims.ID]
	if !ok {
		return nil
	}
	sess.lastActiveAt = time.Now()
	return sess
}

// drop removes a session, rolling back its open transaction.
func (r *registry) drop(sess *gwSession) {
	r.mu.Lock()
	delete(r.sessions, sess.id)
	r.mu.Unlock()

	if err := sess.endTx(false); err != nil {
		r.logger.Warn("gateway: rollback on drop failed", "session", sess.id, "error", err)
	}
}

// count returns the number of live sessions.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// startReaper launches the idle-session sweep.
func (r *registry) startReaper(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reap()
			}
		}
	}()
}

// reap drops sessions idle past the TTL.
func (r *registry) reap() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	var idle []*gwSession
	for id, sess := range r.sessions {
		if sess.lastActiveAt.Before(cutoff) {
			idle = append(idle, sess)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, sess := range idle {
		r.logger.Info("gateway: reaped idle session", "session", sess.id, "user", sess.user)
		_ = sess.endTx(false)
	}
}

// close stops the reaper and rolls back every remaining session.
func (r *registry) close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}

	r.mu.Lock()
	remaining := make([]*gwSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		remaining = append(remaining, sess)
	}
	r.sessions = make(map[string]*gwSession)
	r.mu.Unlock()

	for _, sess := range remaining {
		_ = sess.endTx(false)
	}
	return nil
}
