package restconn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miracle-42/openrestdb-go/pkg/sqlrest"
	"github.com/miracle-42/openrestdb-go/pkg/transport"
)

const (
	supTestInterval = 20 * time.Millisecond
	supTestWait     = 2 * time.Second
	supTestTick     = 10 * time.Millisecond
)

// supTestLimits returns limits with a fast sweep and generous timeouts
// so individual tests tighten only what they exercise.
func supTestLimits() Limits {
	return Limits{
		MaxLocks:    8,
		TrxTimeout:  time.Hour,
		LockInspect: supTestInterval,
		ConnTimeout: time.Hour,
	}
}

func TestSupervisor_KeepAlivePings(t *testing.T) {
	inv := newFakeInvoker()
	conn := connectedConn(t, inv, ScopeStateful, supTestLimits())

	assert.Eventually(t, func() bool {
		return inv.callCount(pingPath) >= 2
	}, supTestWait, supTestTick, "sweep should ping while the session is alive")
	assert.True(t, conn.Connected())
}

func TestSupervisor_SessionLostViaPing(t *testing.T) {
	inv := newFakeInvoker()
	inv.on(pingPath, func(transport.Request) (*transport.Response, error) {
		return failEnvelope("session not found"), nil
	})
	conn := connectedConn(t, inv, ScopeTransactional, supTestLimits())

	require.Eventually(t, func() bool {
		return !conn.Connected()
	}, supTestWait, supTestTick)

	// The sweep's effect is visible to the very next caller operation.
	_, err := conn.Update(context.Background(), testStmt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, ErrSessionLost)
	assert.Equal(t, 0, conn.LockCount())
}

func TestSupervisor_TransportFailureMarksLost(t *testing.T) {
	inv := newFakeInvoker()
	inv.on(pingPath, func(transport.Request) (*transport.Response, error) {
		return nil, errors.New("gateway unreachable")
	})
	conn := connectedConn(t, inv, ScopeStateful, supTestLimits())

	require.Eventually(t, func() bool {
		return !conn.Connected()
	}, supTestWait, supTestTick)

	_, err := conn.Select(context.Background(), testStmt)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSupervisor_ConnTimeoutDisconnects(t *testing.T) {
	limits := supTestLimits()
	limits.ConnTimeout = 60 * time.Millisecond
	inv := newFakeInvoker()
	conn := connectedConn(t, inv, ScopeStateful, limits)

	require.Eventually(t, func() bool {
		return !conn.Connected()
	}, supTestWait, supTestTick, "idle session must be disconnected without caller action")
	assert.Eventually(t, func() bool {
		return inv.callCount("disconnect") == 1
	}, supTestWait, supTestTick,
		"gateway must be notified on a live context even though the sweep loop cancelled its own")

	_, err := conn.Select(context.Background(), testStmt)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, ErrSessionLost, "an idle disconnect is not a lost session")
}

func TestSupervisor_TrxTimeoutRollsBack(t *testing.T) {
	ctx := context.Background()
	limits := supTestLimits()
	limits.TrxTimeout = 60 * time.Millisecond
	inv := newFakeInvoker()
	conn := connectedConn(t, inv, ScopeTransactional, limits)

	_, err := conn.Update(ctx, testStmt)
	require.NoError(t, err)
	require.Equal(t, 1, conn.LockCount())

	require.Eventually(t, func() bool {
		return conn.LockCount() == 0
	}, supTestWait, supTestTick, "idle transaction must be rolled back")
	assert.True(t, conn.Connected(), "transaction expiry keeps the session connected")
	assert.GreaterOrEqual(t, inv.callCount("rollback"), 1)
}

func TestSupervisor_ActivityDefersTimeouts(t *testing.T) {
	ctx := context.Background()
	limits := supTestLimits()
	limits.TrxTimeout = 150 * time.Millisecond
	limits.ConnTimeout = 150 * time.Millisecond
	conn := connectedConn(t, newFakeInvoker(), ScopeTransactional, limits)

	// Keep issuing operations faster than the timeouts.
	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, err := conn.Select(ctx, testStmt)
		require.NoError(t, err)
		time.Sleep(30 * time.Millisecond)
	}
	assert.True(t, conn.Connected(), "activity must keep the session alive")
}

func TestSupervisor_LockCountCorrectedDownward(t *testing.T) {
	ctx := context.Background()
	gatewayLocks := 0
	inv := newFakeInvoker()
	inv.on(pingPath, func(transport.Request) (*transport.Response, error) {
		return okEnvelope(sqlrest.Response{Success: true, Locks: &gatewayLocks}), nil
	})
	conn := connectedConn(t, inv, ScopeTransactional, supTestLimits())

	_, err := conn.Update(ctx, testStmt)
	require.NoError(t, err)
	require.Equal(t, 1, conn.LockCount())

	// The gateway reports zero held locks; the client cache is
	// corrected at the next inspection tick.
	require.Eventually(t, func() bool {
		return conn.LockCount() == 0
	}, supTestWait, supTestTick)
	assert.True(t, conn.Connected())
}

func TestSupervisor_StatelessNeverSweeps(t *testing.T) {
	inv := newFakeInvoker()
	conn := connectedConn(t, inv, ScopeStateless, supTestLimits())

	time.Sleep(4 * supTestInterval)
	assert.Zero(t, inv.callCount(pingPath))
	assert.True(t, conn.Connected())
}

func TestSupervisor_CloseStopsSweepsSynchronously(t *testing.T) {
	inv := newFakeInvoker()
	conn := connectedConn(t, inv, ScopeStateful, supTestLimits())

	require.NoError(t, conn.Close())
	pings := inv.callCount(pingPath)

	time.Sleep(4 * supTestInterval)
	assert.Equal(t, pings, inv.callCount(pingPath), "no sweep may fire after close")
}

func TestSupervisor_DisconnectStopsSweeps(t *testing.T) {
	inv := newFakeInvoker()
	conn := connectedConn(t, inv, ScopeTransactional, supTestLimits())

	require.NoError(t, conn.Disconnect(context.Background()))
	pings := inv.callCount(pingPath)

	time.Sleep(4 * supTestInterval)
	assert.Equal(t, pings, inv.callCount(pingPath))
}

func TestSupervisor_ReconnectAfterLoss(t *testing.T) {
	ctx := context.Background()
	inv := newFakeInvoker()
	var lost atomic.Bool
	lost.Store(true)
	inv.on(pingPath, func(transport.Request) (*transport.Response, error) {
		if lost.Load() {
			return failEnvelope("session not found"), nil
		}
		return okEnvelope(sqlrest.Response{Success: true}), nil
	})
	conn := connectedConn(t, inv, ScopeTransactional, supTestLimits())

	require.Eventually(t, func() bool {
		return !conn.Connected()
	}, supTestWait, supTestTick)

	lost.Store(false)
	require.NoError(t, conn.Connect(ctx, Credentials{Username: "hr", Password: "secret"}))
	assert.True(t, conn.Connected())

	_, err := conn.Update(ctx, testStmt)
	require.NoError(t, err)
	assert.Equal(t, 1, conn.LockCount())
}
