package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/stata-bridge/internal/apperrors"
	"github.com/teranos/stata-bridge/internal/engine"
	"github.com/teranos/stata-bridge/internal/graphs"
)

func fakeWorkerFactory(t *testing.T) WorkerFactory {
	t.Helper()
	idx := graphs.NewIndex()
	return func(sessionID string) (*engine.Worker, error) {
		return engine.New(engine.Config{
			StataPath:       "/bin/true",
			WorkspaceRoot:   t.TempDir(),
			LogFileLocation: "workspace",
		}, idx)
	}
}

func TestManager_SingleSessionMode_CreatesSingletonEagerly(t *testing.T) {
	m := New(4, false, time.Hour, fakeWorkerFactory(t), nil)
	require.NoError(t, m.Start())
	defer m.Stop()

	summaries := m.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, SingletonID, summaries[0].ID)
}

func TestManager_MultiSession_CreateListGetDestroy(t *testing.T) {
	m := New(4, true, time.Hour, fakeWorkerFactory(t), nil)
	require.NoError(t, m.Start())
	defer m.Stop()

	id, err := m.Create()
	require.NoError(t, err)

	summary, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, summary.ID)

	require.NoError(t, m.Destroy(id))
	_, err = m.Get(id)
	assert.Error(t, err)

	// Destroying again is a no-op, not an error.
	assert.NoError(t, m.Destroy(id))
}

func TestManager_Create_FailsAtCapacity(t *testing.T) {
	m := New(1, true, time.Hour, fakeWorkerFactory(t), nil)
	require.NoError(t, m.Start())
	defer m.Stop()

	_, err := m.Create()
	require.Error(t, err)
	ae := err.(*apperrors.AppError)
	assert.Equal(t, apperrors.KindCapacity, ae.Kind)
}

func TestManager_Resolve_DefaultsToSingletonInSingleSessionMode(t *testing.T) {
	m := New(4, false, time.Hour, fakeWorkerFactory(t), nil)
	require.NoError(t, m.Start())
	defer m.Stop()

	e, err := m.resolve("some-other-id")
	require.NoError(t, err)
	assert.Equal(t, SingletonID, e.id)
}

func TestManager_Resolve_UnknownIDInMultiSessionMode(t *testing.T) {
	m := New(4, true, time.Hour, fakeWorkerFactory(t), nil)
	require.NoError(t, m.Start())
	defer m.Stop()

	_, err := m.resolve("nonexistent")
	require.Error(t, err)
	ae := err.(*apperrors.AppError)
	assert.Equal(t, apperrors.KindSessionNotFound, ae.Kind)
}

func TestManager_Dispatch_AdvancesLastUsedAtOnAcceptance(t *testing.T) {
	m := New(4, false, time.Hour, fakeWorkerFactory(t), nil)
	require.NoError(t, m.Start())
	defer m.Stop()

	m.mu.Lock()
	before := m.entries[SingletonID].lastUsedAt
	m.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = m.Dispatch(ctx, "", engine.Request{Kind: engine.RequestRestart})

	m.mu.Lock()
	after := m.entries[SingletonID].lastUsedAt
	m.mu.Unlock()

	assert.True(t, after.After(before))
}

func TestManager_EvictIdle_SkipsSingletonInSingleSessionMode(t *testing.T) {
	m := New(4, false, time.Millisecond, fakeWorkerFactory(t), nil)
	require.NoError(t, m.Start())
	defer m.Stop()

	time.Sleep(5 * time.Millisecond)
	m.evictIdle()

	_, err := m.Get(SingletonID)
	assert.NoError(t, err)
}

func TestManager_EvictIdle_EvictsTimedOutMultiSession(t *testing.T) {
	m := New(4, true, time.Millisecond, fakeWorkerFactory(t), nil)
	require.NoError(t, m.Start())
	defer m.Stop()

	id, err := m.Create()
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	m.evictIdle()

	_, err = m.Get(id)
	assert.Error(t, err)
}
