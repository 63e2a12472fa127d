package restconn

import (
	"context"
	"fmt"
	"time"

	"github.com/miracle-42/openrestdb-go/pkg/sqlrest"
	"github.com/miracle-42/openrestdb-go/pkg/transport"
)

// pingPath is the gateway's keep-alive/lock-inspection endpoint.
const pingPath = "ping"

// notifyTimeout bounds the disconnect notification sent after the sweep
// loop's own context is already cancelled.
const notifyTimeout = 5 * time.Second

// supervisor keeps a stateful or transactional session alive and within
// its limits. It runs one inspection sweep per LockInspect interval;
// sweeps run inline in the timer goroutine, so a tick that fires while
// a sweep is still in flight is dropped by the ticker, never queued.
type supervisor struct {
	conn     *Connection
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func newSupervisor(c *Connection, interval time.Duration) *supervisor {
	return &supervisor{
		conn:     c,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// start launches the sweep loop.
func (s *supervisor) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// halt cancels the loop without waiting. Used from code paths that hold
// the connection mutex, where waiting could deadlock against a sweep.
func (s *supervisor) halt() {
	s.cancel()
}

// stop cancels the loop and waits for the in-flight sweep, if any, to
// finish. After stop returns no further sweep fires.
func (s *supervisor) stop() {
	s.cancel()
	<-s.done
}

// sweep is one inspection pass: enforce the idle timeouts, then ping
// the gateway to keep the session alive and reconcile the lock count.
func (s *supervisor) sweep(ctx context.Context) {
	c := s.conn

	c.mu.Lock()
	if c.closed || !c.sess.connected || c.scope == ScopeStateless {
		c.mu.Unlock()
		return
	}
	handle := c.sess.handle
	locks := c.sess.lockCount
	idle := time.Since(c.sess.lastActivityAt)
	c.mu.Unlock()

	if idle > c.limits.ConnTimeout {
		c.logger.Info("supervisor: idle session disconnected",
			"idle", idle.Round(time.Millisecond), "limit", c.limits.ConnTimeout)
		s.idleDisconnect(handle)
		return
	}

	if c.scope == ScopeTransactional && locks > 0 && idle > c.limits.TrxTimeout {
		s.expireTransaction(ctx, handle)
		return
	}

	s.inspect(ctx, handle)
}

// idleDisconnect clears the session locally, then best-effort notifies
// the gateway. The loop cancels itself; Disconnect, Connect or Close
// reaps the goroutine. The notification runs on its own context because
// the loop's context dies with the cancel.
func (s *supervisor) idleDisconnect(handle string) {
	c := s.conn

	c.mu.Lock()
	if c.sess.connected && c.sess.handle == handle {
		c.sess.clear()
		c.sess.lostCause = nil
		c.state.set(stateDisconnected)
	}
	c.mu.Unlock()
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	c.notifyDisconnect(ctx, handle)
}

// expireTransaction mirrors the gateway's own transaction reclamation:
// after TrxTimeout of idleness the client rolls back proactively so its
// lock view never diverges for longer than one inspection interval. The
// session stays connected.
func (s *supervisor) expireTransaction(ctx context.Context, handle string) {
	c := s.conn

	body := sqlrest.SessionRequest{Session: handle}
	resp, err := c.invoker.Invoke(ctx, transport.Request{Path: OpRollback.String(), Body: body})
	if err != nil {
		c.logger.Warn("supervisor: transaction expiry rollback failed", "error", err)
	} else if !resp.Success {
		c.logger.Warn("supervisor: gateway rejected expiry rollback", "response", resp.Raw)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.connected && c.sess.handle == handle {
		if c.sess.lockCount > 0 {
			c.logger.Info("supervisor: idle transaction expired",
				"released_locks", c.sess.lockCount)
		}
		c.sess.lockCount = 0
	}
}

// inspect pings the gateway. A transport failure or an unrecognized
// session marks the session lost; otherwise the gateway's lock count is
// authoritative and the client count is corrected downward on mismatch.
func (s *supervisor) inspect(ctx context.Context, handle string) {
	c := s.conn

	body := sqlrest.SessionRequest{Session: handle}
	resp, invokeErr := c.invoker.Invoke(ctx, transport.Request{Path: pingPath, Body: body})
	env, err := parseEnvelope(resp, invokeErr)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.sess.connected || c.sess.handle != handle {
		return
	}
	if err != nil {
		c.markLostLocked(fmt.Errorf("%w: keep-alive failed: %v", ErrSessionLost, err))
		return
	}
	if !env.Success {
		c.markLostLocked(fmt.Errorf("%w: %s", ErrSessionLost, env.Message))
		return
	}
	if env.Locks != nil && *env.Locks < c.sess.lockCount {
		c.logger.Warn("supervisor: lock count corrected from gateway",
			"client", c.sess.lockCount, "gateway", *env.Locks)
		c.sess.lockCount = *env.Locks
	}
}
