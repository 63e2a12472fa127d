// Package restconn emulates connection-scoped database semantics over a
// stateless REST transport. A Connection classifies each operation
// against its scope (stateless, stateful, transactional), maintains the
// gateway-issued session handle and row-lock accounting, and runs a
// background supervisor that keeps the session alive and reconciles
// client state with the gateway's.
package restconn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miracle-42/openrestdb-go/pkg/sqlrest"
	"github.com/miracle-42/openrestdb-go/pkg/transport"
)

// Invoker executes one exchange with the gateway. *transport.HTTPInvoker
// satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Credentials identify the connecting user. Custom entries are
// forwarded to the gateway unmodified.
type Credentials struct {
	Username string
	Password string
	Custom   map[string]any
}

// Connection is the public operation surface of one logical database
// connection. Independent Connections share nothing; within one
// Connection, caller operations and the supervisor's sweeps serialize
// on a single mutex.
type Connection struct {
	invoker Invoker
	scope   Scope
	limits  Limits
	logger  *slog.Logger

	mu         sync.Mutex
	sess       session
	attributes attributeSet
	clientInfo attributeSet
	sup        *supervisor
	closed     bool

	state connState
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithScope sets the connection scope. The default is transactional.
func WithScope(scope Scope) ConnectionOption {
	return func(c *Connection) {
		c.scope = scope
	}
}

// WithLimits overrides the process-wide default limits for this
// Connection only.
func WithLimits(limits Limits) ConnectionOption {
	return func(c *Connection) {
		c.limits = limits
	}
}

// WithConnLogger sets the logger used for session lifecycle events.
func WithConnLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// New creates a disconnected Connection. Limits default from the
// process-wide configuration at this single injection point.
func New(invoker Invoker, options ...ConnectionOption) (*Connection, error) {
	c := &Connection{
		invoker: invoker,
		scope:   ScopeTransactional,
		limits:  DefaultLimits(),
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	if err := c.limits.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Scope returns the connection's scope.
func (c *Connection) Scope() Scope {
	return c.scope
}

// Limits returns the limits this Connection was constructed with.
func (c *Connection) Limits() Limits {
	return c.limits
}

// Connected reports whether a session is active.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.connected
}

// LockCount returns the client-side view of held row locks. The gateway
// is authoritative; this value is reconciled by the inspection sweep.
func (c *Connection) LockCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.lockCount
}

// State returns the lifecycle state as a human-readable string.
func (c *Connection) State() string {
	return c.state.String()
}

// SetAttribute sets a named attribute forwarded with every request from
// the next one on. Purely local; no gateway call.
func (c *Connection) SetAttribute(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attributes.set(name, value)
}

// DeleteAttribute removes a named attribute.
func (c *Connection) DeleteAttribute(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attributes.delete(name)
}

// SetClientInfo sets a named client-info entry forwarded with every
// request for gateway-side audit context.
func (c *Connection) SetClientInfo(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientInfo.set(name, value)
}

// DeleteClientInfo removes a named client-info entry.
func (c *Connection) DeleteClientInfo(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientInfo.delete(name)
}

// Connect establishes a session with the gateway. It fails with
// ErrAlreadyConnected while a session is active, ErrAuthenticationFailed
// when the gateway rejects the credentials, and ErrTransport when no
// usable response was obtained. For non-stateless scopes a successful
// connect starts the lock/timeout supervisor.
func (c *Connection) Connect(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.sess.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state.set(stateConnecting)
	clientInfo := c.clientInfo.snapshot()
	oldSup := c.sup
	c.sup = nil
	c.mu.Unlock()

	// Reap the supervisor of a session that was lost rather than
	// explicitly disconnected.
	if oldSup != nil {
		oldSup.stop()
	}

	body := sqlrest.ConnectRequest{
		Username:   creds.Username,
		Password:   creds.Password,
		Scope:      string(c.scope),
		Custom:     creds.Custom,
		ClientInfo: clientInfo,
	}
	resp, err := c.invoker.Invoke(ctx, transport.Request{Path: OpConnect.String(), Body: body})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.state.set(stateDisconnected)
		return ErrClosed
	}
	if c.sess.connected {
		// A racing Connect won while the mutex was released; do not
		// overwrite its session or orphan its supervisor.
		return ErrAlreadyConnected
	}
	env, err := parseEnvelope(resp, err)
	if err != nil {
		c.state.set(stateDisconnected)
		return err
	}
	if !env.Success {
		c.state.set(stateDisconnected)
		return fmt.Errorf("%w: %s", ErrAuthenticationFailed, env.Message)
	}
	if c.scope != ScopeStateless && env.Session == "" {
		c.state.set(stateDisconnected)
		return fmt.Errorf("%w: gateway returned no session handle", ErrTransport)
	}

	now := time.Now()
	c.sess = session{
		connected:      true,
		createdAt:      now,
		lastActivityAt: now,
	}
	if c.scope != ScopeStateless {
		c.sess.handle = env.Session
		c.sup = newSupervisor(c, c.limits.LockInspect)
		c.sup.start()
	}
	c.state.set(stateConnected)
	c.logger.Info("session established", "scope", string(c.scope))
	return nil
}

// Disconnect tears the session down. Local state is cleared first and
// the gateway is notified best-effort, so the Connection never stays
// "connected" after an explicit disconnect even if the gateway call
// fails. Calling Disconnect while already disconnected is a no-op.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.sess.connected {
		c.mu.Unlock()
		return nil
	}
	handle := c.sess.handle
	c.sess.clear()
	c.sess.lostCause = nil
	c.state.set(stateDisconnected)
	sup := c.sup
	c.sup = nil
	c.mu.Unlock()

	if sup != nil {
		sup.stop()
	}
	if handle != "" {
		c.notifyDisconnect(ctx, handle)
	}
	return nil
}

// notifyDisconnect tells the gateway the session is gone. Failures are
// logged, never surfaced: the local teardown already happened.
func (c *Connection) notifyDisconnect(ctx context.Context, handle string) {
	body := sqlrest.SessionRequest{Session: handle}
	resp, err := c.invoker.Invoke(ctx, transport.Request{Path: OpDisconnect.String(), Body: body})
	if err != nil {
		c.logger.Warn("disconnect: gateway notification failed", "error", err)
		return
	}
	if !resp.Success {
		c.logger.Warn("disconnect: gateway rejected notification", "response", resp.Raw)
	}
}

// Commit releases all locks held by a transactional session. It
// degrades to a no-op success when there is nothing to release (never
// connected, or non-transactional scope) and fails only on transport
// or session loss.
func (c *Connection) Commit(ctx context.Context) error {
	return c.endTransaction(ctx, OpCommit)
}

// Rollback discards uncommitted work and releases all locks. Same
// degradation rules as Commit.
func (c *Connection) Rollback(ctx context.Context) error {
	return c.endTransaction(ctx, OpRollback)
}

func (c *Connection) endTransaction(ctx context.Context, op Operation) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	d := decide(op, c.scope)
	if !d.requiresActiveTransaction || !c.sess.connected {
		// Nothing to release; the caller's intent is already satisfied.
		c.mu.Unlock()
		return nil
	}
	handle := c.sess.handle
	c.mu.Unlock()

	body := sqlrest.SessionRequest{Session: handle}
	resp, err := c.invoker.Invoke(ctx, transport.Request{Path: op.String(), Body: body})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	env, err := parseEnvelope(resp, err)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !env.Success {
		// The gateway no longer recognizes the session.
		cause := fmt.Errorf("%w: %s", ErrSessionLost, env.Message)
		c.markLostLocked(cause)
		return fmt.Errorf("%s: %w", op, cause)
	}
	if c.sess.connected && c.sess.handle == handle {
		c.sess.lockCount = 0
		c.sess.touch()
	}
	return nil
}

// Select executes a read statement.
func (c *Connection) Select(ctx context.Context, stmt sqlrest.SQLRest) (*sqlrest.Response, error) {
	return c.exec(ctx, OpRead, stmt)
}

// Insert executes an insert statement, acquiring one row lock under
// transactional scope.
func (c *Connection) Insert(ctx context.Context, stmt sqlrest.SQLRest) (*sqlrest.Response, error) {
	return c.exec(ctx, OpInsert, stmt)
}

// Update executes an update statement, acquiring one row lock under
// transactional scope.
func (c *Connection) Update(ctx context.Context, stmt sqlrest.SQLRest) (*sqlrest.Response, error) {
	return c.exec(ctx, OpUpdate, stmt)
}

// Delete executes a delete statement, acquiring one row lock under
// transactional scope.
func (c *Connection) Delete(ctx context.Context, stmt sqlrest.SQLRest) (*sqlrest.Response, error) {
	return c.exec(ctx, OpDelete, stmt)
}

// exec dispatches exactly one request for a single-statement operation.
func (c *Connection) exec(ctx context.Context, op Operation, stmt sqlrest.SQLRest) (*sqlrest.Response, error) {
	frame, err := c.prepare(op)
	if err != nil {
		return nil, err
	}

	body := sqlrest.ExecRequest{
		Session:    frame.handle,
		Attributes: frame.attrs,
		ClientInfo: frame.info,
		Statement:  stmt,
	}
	resp, invokeErr := c.invoker.Invoke(ctx, transport.Request{Path: op.String(), Body: body})

	return c.settle(op, frame, resp, invokeErr)
}

// Script executes an ordered sequence of dependent steps as one round
// trip. Atomicity of the sequence is the gateway's contract; locks are
// counted once per call unless the gateway reports its own count.
func (c *Connection) Script(ctx context.Context, steps []sqlrest.Step) (*sqlrest.Response, error) {
	frame, err := c.prepare(OpScript)
	if err != nil {
		return nil, err
	}

	body := sqlrest.ScriptRequest{
		Session:    frame.handle,
		Attributes: frame.attrs,
		ClientInfo: frame.info,
		Steps:      steps,
	}
	resp, invokeErr := c.invoker.Invoke(ctx, transport.Request{Path: OpScript.String(), Body: body})

	return c.settle(OpScript, frame, resp, invokeErr)
}

// Batch executes independent steps in one round trip and returns one
// result per step in input order. A failed step does not undo earlier
// ones; batch is not a transaction.
func (c *Connection) Batch(ctx context.Context, steps []sqlrest.Step) ([]sqlrest.Response, error) {
	frame, err := c.prepare(OpBatch)
	if err != nil {
		return nil, err
	}

	body := sqlrest.BatchRequest{
		Session:    frame.handle,
		Attributes: frame.attrs,
		ClientInfo: frame.info,
		Steps:      steps,
	}
	resp, invokeErr := c.invoker.Invoke(ctx, transport.Request{Path: OpBatch.String(), Body: body})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if invokeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, invokeErr)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrTransport, resp.Raw)
	}
	var batch sqlrest.BatchResponse
	if err := json.Unmarshal(resp.Body, &batch); err != nil {
		return nil, fmt.Errorf("%w: decoding batch response: %v", ErrTransport, err)
	}
	c.applyLocked(frame, batch.Success, batch.Locks)
	return batch.Results, nil
}

// Close disposes the Connection. The supervisor is stopped
// synchronously before the session is released; results of operations
// still in flight are discarded.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.sess.clear()
	c.state.set(stateDisconnected)
	sup := c.sup
	c.sup = nil
	c.mu.Unlock()

	if sup != nil {
		sup.stop()
	}
	return nil
}

// callFrame is the pre-flight snapshot a data operation carries through
// its transport call: the policy decision plus the session handle and
// attribute sets to attach to the request.
type callFrame struct {
	d      decision
	handle string
	attrs  []sqlrest.NameValue
	info   []sqlrest.NameValue
}

// prepare validates an operation against the scope policy before any
// transport call. NotConnected and LockLimitExceeded are rejected here,
// with zero side effects.
func (c *Connection) prepare(op Operation) (callFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return callFrame{}, ErrClosed
	}
	d := decide(op, c.scope)
	if !c.sess.connected {
		if cause := c.sess.lostCause; cause != nil {
			return callFrame{}, fmt.Errorf("%s: %w (%v)", op, ErrNotConnected, cause)
		}
		return callFrame{}, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	if d.acquiresLock && c.sess.lockCount+1 > c.limits.MaxLocks {
		return callFrame{}, fmt.Errorf("%s: %w (%d held, limit %d)",
			op, ErrLockLimitExceeded, c.sess.lockCount, c.limits.MaxLocks)
	}
	frame := callFrame{
		d:     d,
		attrs: c.attributes.snapshot(),
		info:  c.clientInfo.snapshot(),
	}
	if d.requiresSession {
		frame.handle = c.sess.handle
	}
	return frame, nil
}

// settle parses the response of a single-statement or script operation
// and applies lock/activity bookkeeping.
func (c *Connection) settle(op Operation, frame callFrame, resp *transport.Response, invokeErr error) (*sqlrest.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	env, err := parseEnvelope(resp, invokeErr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.applyLocked(frame, env.Success, env.Locks)
	return env, nil
}

// applyLocked updates activity and lock bookkeeping after a completed
// exchange. No-op when the session changed underneath the operation
// (supervisor disconnect, reconnect). Caller holds c.mu.
func (c *Connection) applyLocked(frame callFrame, success bool, serverLocks *int) {
	if !c.sess.connected || c.sess.handle != frame.handle {
		return
	}
	c.sess.touch()
	if !success || !frame.d.acquiresLock {
		return
	}
	if serverLocks != nil {
		c.sess.lockCount = *serverLocks
		return
	}
	c.sess.lockCount++
}

// markLostLocked transitions the session to disconnected after the
// gateway stopped recognizing it. Caller holds c.mu. The supervisor is
// asked to halt; the next Connect or Close reaps its goroutine.
func (c *Connection) markLostLocked(cause error) {
	if !c.sess.connected {
		return
	}
	c.sess.clear()
	c.sess.lostCause = cause
	c.state.set(stateDisconnected)
	if c.sup != nil {
		c.sup.halt()
	}
	c.logger.Warn("session lost", "cause", cause)
}

// parseEnvelope converts an invoker result into a gateway envelope,
// folding transport-level failures into ErrTransport.
func parseEnvelope(resp *transport.Response, invokeErr error) (*sqlrest.Response, error) {
	if invokeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, invokeErr)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrTransport, resp.Raw)
	}
	var env sqlrest.Response
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrTransport, err)
	}
	return &env, nil
}
