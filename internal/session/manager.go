// Package session implements the Session Manager (spec.md §4.2 / C2):
// session lifecycle, idle eviction, and the single-session compatibility
// mode, grounded on the teacher's code/gopls service layer (one
// request/response surface in front of a long-lived subprocess) plus
// pulse/async's sweeper-goroutine idiom for idle eviction.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/stata-bridge/internal/apperrors"
	"github.com/teranos/stata-bridge/internal/engine"
	"github.com/teranos/stata-bridge/internal/graphs"
	"github.com/teranos/stata-bridge/internal/logging"
)

// SingletonID names the implicit session used in single-session mode and
// by legacy clients that omit session_id.
const SingletonID = "default"

// State mirrors engine.State for the parts the manager needs to reason
// about without importing engine's internals into callers.
type State = engine.State

// Summary is the list()/GET-detail view of a session (spec.md §4.2).
type Summary struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	WorkingDir string    `json:"working_dir"`
	LogPath    string    `json:"log_path"`
}

type entry struct {
	id         string
	worker     *engine.Worker
	createdAt  time.Time
	lastUsedAt time.Time
	workingDir string
}

// WorkerFactory builds a fresh Worker for a new session; Manager owns only
// the session table, not Engine Worker construction details.
type WorkerFactory func(sessionID string) (*engine.Worker, error)

// Manager owns the session_id → worker map behind a single mutex (spec.md
// §5: "no shared mutable state outside the Session Manager's session
// table, guarded by a reentrant mutex").
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxSessions    int
	multiSession   bool
	sessionTimeout time.Duration
	newWorker      WorkerFactory
	graphIndex     *graphs.Index

	stop chan struct{}
	done chan struct{}
}

// New builds a Manager. The singleton session is created by Start, not
// here.
func New(maxSessions int, multiSession bool, sessionTimeout time.Duration, newWorker WorkerFactory, idx *graphs.Index) *Manager {
	m := &Manager{
		entries:        make(map[string]*entry),
		maxSessions:    maxSessions,
		multiSession:   multiSession,
		sessionTimeout: sessionTimeout,
		newWorker:      newWorker,
		graphIndex:     idx,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	return m
}

// Start spawns the singleton session and the idle-eviction sweeper. The
// singleton exists in both modes, so requests that omit session_id always
// have a session to resolve to; it counts toward max_sessions.
func (m *Manager) Start() error {
	if _, err := m.createWithID(SingletonID); err != nil {
		return err
	}
	go m.sweep()
	return nil
}

// Stop tears down the sweeper and every live worker.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done

	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Destroy(id)
	}
}

// Create allocates a new session, failing with apperrors.Capacity when
// max_sessions live sessions already exist.
func (m *Manager) Create() (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", apperrors.Internal(err)
	}
	return m.createWithID(id)
}

func (m *Manager) createWithID(id string) (string, error) {
	m.mu.Lock()
	if len(m.entries) >= m.maxSessions {
		m.mu.Unlock()
		return "", apperrors.Capacity(m.maxSessions)
	}
	m.mu.Unlock()

	w, err := m.newWorker(id)
	if err != nil {
		return "", err
	}
	if err := w.Start(); err != nil {
		return "", err
	}

	now := time.Now()
	e := &entry{id: id, worker: w, createdAt: now, lastUsedAt: now}

	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()

	logging.Named("session").Infow("session created", "session_id", id)
	return id, nil
}

// resolve maps an optional client-supplied id to the entry to operate on,
// defaulting to the singleton in single-session mode.
func (m *Manager) resolve(id string) (*entry, error) {
	if id == "" || !m.multiSession {
		id = SingletonID
	}
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return nil, apperrors.SessionNotFound(id)
	}
	return e, nil
}

// Get returns a point-in-time Summary for id.
func (m *Manager) Get(id string) (Summary, error) {
	e, err := m.resolve(id)
	if err != nil {
		return Summary{}, err
	}
	return m.summarize(e), nil
}

// List returns a Summary for every live session.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, m.summarize(e))
	}
	return out
}

func (m *Manager) summarize(e *entry) Summary {
	return Summary{
		ID:         e.id,
		State:      e.worker.State(),
		CreatedAt:  e.createdAt,
		LastUsedAt: e.lastUsedAt,
		WorkingDir: e.workingDir,
		LogPath:    e.worker.LogPath(),
	}
}

// Destroy tears down a session's worker. Idempotent: destroying an
// already-absent id is a no-op.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.entries, id)
	m.mu.Unlock()

	e.worker.Stop()
	logging.Named("session").Infow("session destroyed", "session_id", id)
	return nil
}

// Dispatch resolves id, forwards req to its worker, and advances
// last_used_at at acceptance time, not completion (spec.md §3 invariant ii).
func (m *Manager) Dispatch(ctx context.Context, id string, req engine.Request) (engine.Result, error) {
	e, err := m.touch(id, req)
	if err != nil {
		return engine.Result{}, err
	}
	return e.worker.Submit(ctx, req)
}

// DispatchAsync is Dispatch's non-blocking counterpart for the Streaming
// Layer (C6): it applies the same busy-check and last_used_at bookkeeping
// before enqueuing, so a second concurrent stream request to a busy
// session gets session_busy/409 before any SSE header is written, instead
// of silently queuing behind the in-flight run.
func (m *Manager) DispatchAsync(ctx context.Context, id string, req engine.Request) (*engine.Worker, <-chan engine.RunOutcome, error) {
	e, err := m.touch(id, req)
	if err != nil {
		return nil, nil, err
	}
	resultCh, err := e.worker.SubmitAsync(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return e.worker, resultCh, nil
}

// touch resolves id, rejects a dispatch against a busy/terminating/dead
// worker, and advances last_used_at at acceptance time, not completion
// (spec.md §3 invariant ii) — shared by Dispatch and DispatchAsync so the
// two never drift.
func (m *Manager) touch(id string, req engine.Request) (*entry, error) {
	e, err := m.resolve(id)
	if err != nil {
		return nil, err
	}

	state := e.worker.State()
	if state == engine.StateBusy || state == engine.StateTerminating {
		return nil, apperrors.SessionBusy(string(state))
	}
	if state == engine.StateDead {
		return nil, apperrors.WorkerDead("session worker is dead")
	}

	m.mu.Lock()
	e.lastUsedAt = time.Now()
	if req.WorkingDir != "" {
		e.workingDir = req.WorkingDir
	}
	m.mu.Unlock()

	return e, nil
}

// Worker exposes the underlying Worker for callers (the streaming layer,
// health probes) that need more than Dispatch's blocking call/response.
func (m *Manager) Worker(id string) (*engine.Worker, error) {
	e, err := m.resolve(id)
	if err != nil {
		return nil, err
	}
	return e.worker, nil
}

// sweep evicts idle, ready sessions at a bounded interval — never faster
// than 1s, never slower than a quarter of session_timeout, per
// SPEC_FULL.md §4.2's sweeper bound.
func (m *Manager) sweep() {
	defer close(m.done)

	interval := m.sessionTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictIdle()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) evictIdle() {
	if m.sessionTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.sessionTimeout)

	m.mu.Lock()
	var toEvict []string
	for id, e := range m.entries {
		if id == SingletonID && !m.multiSession {
			continue
		}
		if e.worker.State() == engine.StateReady && e.lastUsedAt.Before(cutoff) {
			toEvict = append(toEvict, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toEvict {
		logging.Named("session").Infow("evicting idle session", "session_id", id)
		_ = m.Destroy(id)
	}
}

func newSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
