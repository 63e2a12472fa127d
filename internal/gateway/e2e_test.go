package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miracle-42/openrestdb-go/pkg/restconn"
	"github.com/miracle-42/openrestdb-go/pkg/sqlrest"
	"github.com/miracle-42/openrestdb-go/pkg/transport"
)

// e2eLimits keeps the client supervisor quiet unless a test wants it.
func e2eLimits() restconn.Limits {
	return restconn.Limits{
		MaxLocks:    4,
		TrxTimeout:  time.Hour,
		LockInspect: 25 * time.Millisecond,
		ConnTimeout: time.Hour,
	}
}

// TestEndToEnd_TransactionalFlow drives the real client package against
// the gateway over HTTP.
func TestEndToEnd_TransactionalFlow(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, Config{})

	conn, err := restconn.New(
		transport.NewHTTPInvoker(g.http.URL),
		restconn.WithScope(restconn.ScopeTransactional),
		restconn.WithLimits(e2eLimits()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Connect(ctx, restconn.Credentials{
		Username: gwTestUser,
		Password: gwTestPassword,
	}))
	require.True(t, conn.Connected())

	g.mock.ExpectBegin()
	g.mock.ExpectExec("update employees set active = ?").
		WithArgs(false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	g.mock.ExpectCommit()

	env, err := conn.Update(ctx, sqlrest.SQLRest{
		Stmt: "update employees set active = :active",
		Bind: []sqlrest.BindValue{{Name: "active", Value: false}},
	})
	require.NoError(t, err)
	require.True(t, env.Success, env.Message)
	assert.Equal(t, 1, conn.LockCount(), "client and gateway agree on the lock count")

	require.NoError(t, conn.Commit(ctx))
	assert.Equal(t, 0, conn.LockCount())

	require.NoError(t, conn.Disconnect(ctx))
	assert.Eventually(t, func() bool {
		return g.server.sessions.count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, g.mock.ExpectationsWereMet())
}

// TestEndToEnd_SessionLossIsDetected reaps the session server-side and
// verifies the client notices through its inspection sweep.
func TestEndToEnd_SessionLossIsDetected(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, Config{
		SessionTTL:   40 * time.Millisecond,
		ReapInterval: 15 * time.Millisecond,
	})

	limits := e2eLimits()
	limits.LockInspect = 150 * time.Millisecond

	conn, err := restconn.New(
		transport.NewHTTPInvoker(g.http.URL),
		restconn.WithScope(restconn.ScopeStateful),
		restconn.WithLimits(limits),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Connect(ctx, restconn.Credentials{
		Username: gwTestUser,
		Password: gwTestPassword,
	}))

	// The gateway reaps the idle session before the client's next
	// sweep; the sweep then observes the loss.
	require.Eventually(t, func() bool {
		return !conn.Connected()
	}, 3*time.Second, 20*time.Millisecond)

	_, err = conn.Select(ctx, sqlrest.SQLRest{Stmt: "select 1"})
	assert.ErrorIs(t, err, restconn.ErrNotConnected)
}

// TestEndToEnd_StatelessSelect runs a sessionless read through the full
// stack.
func TestEndToEnd_StatelessSelect(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, Config{})

	g.mock.ExpectQuery("select id from departments").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))

	conn, err := restconn.New(
		transport.NewHTTPInvoker(g.http.URL),
		restconn.WithScope(restconn.ScopeStateless),
		restconn.WithLimits(e2eLimits()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Connect(ctx, restconn.Credentials{
		Username: gwTestUser,
		Password: gwTestPassword,
	}))

	env, err := conn.Select(ctx, sqlrest.SQLRest{Stmt: "select id from departments"})
	require.NoError(t, err)
	require.True(t, env.Success, env.Message)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(env.Rows, &rows))
	require.Len(t, rows, 1)
}
