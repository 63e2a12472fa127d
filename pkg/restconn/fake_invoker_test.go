package restconn

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miracle-42/openrestdb-go/pkg/sqlrest"
	"github.com/miracle-42/openrestdb-go/pkg/transport"
)

const testHandle = "sess-0001"

// responder produces the invoker result for one path.
type responder func(req transport.Request) (*transport.Response, error)

// fakeInvoker scripts gateway responses per path and records every
// exchange in order.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []string
	respond map[string]responder
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{respond: make(map[string]responder)}
}

// Invoke honors context cancellation the way a real HTTP invoker does:
// a dead context fails the exchange before anything reaches the wire.
func (f *fakeInvoker) Invoke(ctx context.Context, req transport.Request) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Path)
	r := f.respond[req.Path]
	f.mu.Unlock()

	if r != nil {
		return r(req)
	}
	switch req.Path {
	case "connect":
		return okEnvelope(sqlrest.Response{Success: true, Session: testHandle}), nil
	default:
		return okEnvelope(sqlrest.Response{Success: true}), nil
	}
}

// on scripts the responder for a path.
func (f *fakeInvoker) on(path string, r responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond[path] = r
}

// callCount returns how many exchanges hit the given path.
func (f *fakeInvoker) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.calls {
		if p == path {
			n++
		}
	}
	return n
}

// okEnvelope wraps a gateway envelope in a successful transport result.
func okEnvelope(env any) *transport.Response {
	data, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	return &transport.Response{Success: true, Body: data}
}

// failEnvelope builds a gateway-level failure with the given message.
func failEnvelope(message string) *transport.Response {
	return okEnvelope(sqlrest.Response{Success: false, Message: message})
}

// testLimits returns limits sized for fast tests.
func testLimits() Limits {
	l := DefaultLimits()
	l.MaxLocks = 8
	return l
}

// connectedConn builds a Connection in the given scope and connects it.
func connectedConn(t *testing.T, inv *fakeInvoker, scope Scope, limits Limits) *Connection {
	t.Helper()
	conn, err := New(inv, WithScope(scope), WithLimits(limits))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background(), Credentials{Username: "hr", Password: "secret"}))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
