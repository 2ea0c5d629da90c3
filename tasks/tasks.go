// Package tasks tracks long-running invocations as a durable state machine
// independent of any particular request. A task is registered before its
// handler starts executing, so its id resolves immediately; the executing
// goroutine and cancellation requests are the only mutators. Terminal tasks
// are retained for a window and evicted when the store is at capacity.
package tasks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hostbridge/mcp-host-go/mcp"
)

// ErrTaskNotFound indicates an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// Store persists task records. Implementations must be safe for concurrent
// use. The manager keeps all execution state (cancel funcs, done channels)
// in memory; stores only see serializable TaskInfo snapshots.
type Store interface {
	Put(ctx context.Context, t mcp.TaskInfo) error
	Get(ctx context.Context, id string) (mcp.TaskInfo, bool, error)
	// List returns all records ordered by creation time.
	List(ctx context.Context) ([]mcp.TaskInfo, error)
	Delete(ctx context.Context, id string) error
}

const (
	defaultCapacity  = 1000
	defaultRetention = 15 * time.Minute
)

// MemoryStore is the default in-process Store: capacity-bounded, evicting the
// oldest terminal tasks older than the retention window when full. Pending
// and running tasks are never evicted; when nothing is evictable the store
// grows past capacity rather than refusing a new task.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]mcp.TaskInfo
	capacity  int
	retention time.Duration
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCapacity bounds the number of retained task records.
func WithCapacity(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithRetention sets how long terminal tasks stay eviction-exempt.
func WithRetention(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewMemoryStore constructs a MemoryStore with default capacity and retention.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		items:     make(map[string]mcp.TaskInfo),
		capacity:  defaultCapacity,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores or replaces a task record, evicting expired terminal records
// first when inserting a new id into a full store.
func (s *MemoryStore) Put(ctx context.Context, t mcp.TaskInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[t.TaskID]; !exists && len(s.items) >= s.capacity {
		s.evictLocked()
	}
	s.items[t.TaskID] = t
	return nil
}

// evictLocked removes terminal tasks whose completion predates the retention
// window, oldest first, until below capacity.
func (s *MemoryStore) evictLocked() {
	cutoff := time.Now().Add(-s.retention)
	var candidates []mcp.TaskInfo
	for _, t := range s.items {
		if t.State.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CompletedAt.Before(*candidates[j].CompletedAt)
	})
	for _, t := range candidates {
		if len(s.items) < s.capacity {
			return
		}
		delete(s.items, t.TaskID)
	}
}

// Get returns the record for id.
func (s *MemoryStore) Get(ctx context.Context, id string) (mcp.TaskInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	return t, ok, nil
}

// List returns all records ordered by creation time.
func (s *MemoryStore) List(ctx context.Context) ([]mcp.TaskInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcp.TaskInfo, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the record for id; deleting an unknown id is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}
