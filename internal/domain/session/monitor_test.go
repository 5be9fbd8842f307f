package session_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teachhelper-console/internal/domain/session"
	platformtesting "teachhelper-console/internal/platform/testing"
	"teachhelper-console/internal/platform/storage"
)

func TestSyncWithStore(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour)), &student)
	svc := newService(t, &MockBackend{}, store)
	ctx := context.Background()

	loggedOut, err := svc.SyncWithStore(ctx)
	require.NoError(t, err)
	assert.False(t, loggedOut, "store and memory agree")

	require.NoError(t, store.Remove(ctx, storage.KeyToken))
	loggedOut, err = svc.SyncWithStore(ctx)
	require.NoError(t, err)
	assert.True(t, loggedOut)
	assert.Empty(t, svc.Token())

	loggedOut, err = svc.SyncWithStore(ctx)
	require.NoError(t, err)
	assert.False(t, loggedOut, "nothing left to reconcile")
}

func TestMonitorLogsOutWhenTokenRemoved(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour)), &student)
	svc := newService(t, &MockBackend{}, store)

	var calls atomic.Int32
	monitor := session.NewMonitor(svc, 10*time.Millisecond, func() { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	require.NoError(t, store.Remove(context.Background(), storage.KeyToken))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, svc.IsAuthenticated())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
