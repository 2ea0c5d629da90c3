package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostbridge/mcp-host-go/mcp"
)

// Func is the unit of work a task executes. It should honor ctx cancellation;
// cancellation is advisory, and a func that never checks ctx runs to
// completion even after the task is marked cancelled.
type Func func(ctx context.Context, report ProgressFunc) (any, error)

// ProgressFunc overwrites the task's progress field. Reporting progress never
// changes the task's state.
type ProgressFunc func(current, total float64, message string)

const defaultCancelGrace = 500 * time.Millisecond

// Manager owns the task lifecycle: registration, execution, progress,
// cooperative cancellation and terminal bookkeeping.
type Manager struct {
	store Store
	log   *slog.Logger
	grace time.Duration

	mu      sync.Mutex
	running map[string]*execution // taskID -> live execution state
}

type execution struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the slog logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithCancelGrace sets how long Cancel waits for a handler to unwind before
// marking the task cancelled anyway.
func WithCancelGrace(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// NewManager constructs a Manager over the given store. A nil store gets a
// default MemoryStore.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		store:   store,
		log:     slog.Default(),
		grace:   defaultCancelGrace,
		running: make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run registers a new task and starts fn on its own goroutine. The task
// record exists (state pending) before Run returns, so the returned id is
// always resolvable even if execution has not begun. The execution context
// detaches from ctx's cancellation: abandoning the originating request does
// not abandon the task.
func (m *Manager) Run(ctx context.Context, method, sessionID string, fn Func) (mcp.TaskInfo, error) {
	now := time.Now().UTC()
	t := mcp.TaskInfo{
		TaskID:    uuid.NewString(),
		Method:    method,
		State:     mcp.TaskStatePending,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Put(ctx, t); err != nil {
		return mcp.TaskInfo{}, err
	}

	execCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	exec := &execution{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.running[t.TaskID] = exec
	m.mu.Unlock()

	go m.execute(execCtx, t.TaskID, method, fn, exec)

	m.log.InfoContext(ctx, "task.accepted", slog.String("task_id", t.TaskID), slog.String("method", method))
	return t, nil
}

func (m *Manager) execute(ctx context.Context, id, method string, fn Func, exec *execution) {
	defer close(exec.done)
	defer func() {
		m.mu.Lock()
		delete(m.running, id)
		m.mu.Unlock()
	}()

	start := time.Now()
	m.transition(ctx, id, func(t *mcp.TaskInfo) {
		t.State = mcp.TaskStateRunning
	})

	report := func(current, total float64, message string) {
		m.transition(ctx, id, func(t *mcp.TaskInfo) {
			t.Progress = &mcp.TaskProgress{Current: current, Total: total, Message: message}
		})
	}

	result, err := fn(ctx, report)

	switch {
	case ctx.Err() != nil:
		// Cancellation wins over whatever the handler returned.
		m.finish(ctx, id, func(t *mcp.TaskInfo) {
			t.State = mcp.TaskStateCancelled
		})
		m.log.InfoContext(ctx, "task.cancelled", slog.String("task_id", id), slog.String("method", method), slog.Duration("dur", time.Since(start)))
	case err != nil:
		m.finish(ctx, id, func(t *mcp.TaskInfo) {
			t.State = mcp.TaskStateFailed
			t.Error = &mcp.TaskError{Message: err.Error()}
		})
		m.log.InfoContext(ctx, "task.failed", slog.String("task_id", id), slog.String("method", method), slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
	default:
		m.finish(ctx, id, func(t *mcp.TaskInfo) {
			t.State = mcp.TaskStateCompleted
			t.Result = result
		})
		m.log.InfoContext(ctx, "task.completed", slog.String("task_id", id), slog.String("method", method), slog.Duration("dur", time.Since(start)))
	}
}

// transition applies mutate to the stored record unless it already reached a
// terminal state.
func (m *Manager) transition(ctx context.Context, id string, mutate func(*mcp.TaskInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok, err := m.store.Get(ctx, id)
	if err != nil || !ok || t.State.IsTerminal() {
		return
	}
	mutate(&t)
	t.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, t); err != nil {
		m.log.WarnContext(ctx, "task.store.put_fail", slog.String("task_id", id), slog.String("err", err.Error()))
	}
}

// finish is transition plus the completion timestamp.
func (m *Manager) finish(ctx context.Context, id string, mutate func(*mcp.TaskInfo)) {
	m.transition(ctx, id, func(t *mcp.TaskInfo) {
		mutate(t)
		now := time.Now().UTC()
		t.CompletedAt = &now
	})
}

// Get returns the record for id.
func (m *Manager) Get(ctx context.Context, id string) (mcp.TaskInfo, error) {
	t, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return mcp.TaskInfo{}, err
	}
	if !ok {
		return mcp.TaskInfo{}, ErrTaskNotFound
	}
	return t, nil
}

// List returns all records in creation order.
func (m *Manager) List(ctx context.Context) ([]mcp.TaskInfo, error) {
	return m.store.List(ctx)
}

// Cancel requests cooperative cancellation. Pending and running tasks
// transition to cancelled exactly once; cancelling a terminal task is a
// no-op that returns the task unchanged. Unknown ids are ErrTaskNotFound.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (mcp.TaskInfo, error) {
	t, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return mcp.TaskInfo{}, err
	}
	if !ok {
		return mcp.TaskInfo{}, ErrTaskNotFound
	}
	if t.State.IsTerminal() {
		return t, nil
	}

	m.mu.Lock()
	exec := m.running[id]
	m.mu.Unlock()

	if exec != nil {
		exec.cancel(context.Canceled)
		// Give the handler a moment to unwind; a handler that ignores its
		// context keeps running, but the task is marked cancelled regardless.
		select {
		case <-exec.done:
		case <-time.After(m.grace):
		case <-ctx.Done():
		}
	}

	m.finish(ctx, id, func(t *mcp.TaskInfo) {
		t.State = mcp.TaskStateCancelled
	})
	m.log.InfoContext(ctx, "task.cancel.requested", slog.String("task_id", id), slog.String("reason", reason))
	return m.Get(ctx, id)
}
