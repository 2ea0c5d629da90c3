// Package registry holds the named capability definitions a server exposes:
// tools, resources and prompts. Each registry owns its definitions for the
// process lifetime, serves ordered and cursor-paginated listings, and runs any
// deferred registration loaders exactly once before the first query.
//
// Registries are explicit objects passed by handle into the server and
// transports; there is no package-level ambient state. All methods are safe
// for concurrent use.
package registry

import (
	"sync"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// clampPageSize normalizes a caller-supplied page size.
func clampPageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

// core is the shared storage engine behind the three registries: an
// insertion-ordered, name-keyed definition set with deferred loaders and
// cursor pagination.
type core[T any] struct {
	mu    sync.RWMutex
	order []string
	items map[string]T

	loadMu  sync.Mutex
	pending []func()

	notifier ChangeNotifier
	codec    CursorCodec
}

// put registers def under key, overwriting any prior definition. The first
// registration fixes the key's position in listing order; overwrites keep it.
func (c *core[T]) put(key string, def T) {
	c.mu.Lock()
	if c.items == nil {
		c.items = make(map[string]T)
	}
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = def
	c.mu.Unlock()
	c.notifier.Notify()
}

// enqueueLoader queues fn to run before the first query.
func (c *core[T]) enqueueLoader(fn func()) {
	c.loadMu.Lock()
	c.pending = append(c.pending, fn)
	c.loadMu.Unlock()
}

// ensureLoaded drains the deferred loader queue in registration order. Every
// query path calls it, so loaders observe a strict register-phase /
// serve-phase split: once any listing or lookup has been served, no deferred
// loader remains unexecuted. Each loader runs with loadMu released, so a
// loader may register further lazy batches or query its own registry; loaders
// it enqueues drain in the same sweep, before the outer query is served.
func (c *core[T]) ensureLoaded() {
	for {
		c.loadMu.Lock()
		if len(c.pending) == 0 {
			c.loadMu.Unlock()
			return
		}
		fn := c.pending[0]
		c.pending = c.pending[1:]
		c.loadMu.Unlock()
		fn()
	}
}

// get returns the definition registered under key.
func (c *core[T]) get(key string) (T, bool) {
	c.ensureLoaded()
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.items[key]
	return def, ok
}

// snapshot returns all definitions in insertion order.
func (c *core[T]) snapshot() []T {
	c.ensureLoaded()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.items[key])
	}
	return out
}

// size returns the registered definition count.
func (c *core[T]) size() int {
	c.ensureLoaded()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// PageSlice applies the registry pagination contract to an arbitrary slice:
// an absent cursor starts at offset zero, an out-of-range or malformed cursor
// is ErrInvalidCursor, and a non-empty remainder yields an opaque next-cursor
// token. It exists so callers serving registry-adjacent listings (e.g. task
// listings) keep identical cursor semantics.
func PageSlice[T any](items []T, cursor *string, pageSize int) ([]T, string, error) {
	return page(CursorCodec{}, items, cursor, pageSize, "")
}

// page slices items according to the decoded cursor contract: an absent
// cursor starts at offset zero, a cursor pointing outside [0, len(items)) is
// ErrInvalidCursor, and a non-empty remainder yields the next cursor token.
// snapshot binds the returned cursor to the query that produced the items.
func page[T any](codec CursorCodec, items []T, cursor *string, pageSize int, snapshot string) ([]T, string, error) {
	offset := 0
	if cursor != nil && *cursor != "" {
		c, err := codec.Decode(*cursor)
		if err != nil {
			return nil, "", err
		}
		if c.Snapshot != snapshot {
			return nil, "", ErrInvalidCursor
		}
		if c.Offset < 0 || c.Offset >= len(items) {
			return nil, "", ErrInvalidCursor
		}
		offset = c.Offset
	}

	pageSize = clampPageSize(pageSize)
	end := offset + pageSize
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])

	if end < len(items) {
		return out, codec.Encode(Cursor{Offset: end, Snapshot: snapshot}), nil
	}
	return out, "", nil
}

// ChangeNotifier is a small in-process fan-out used by registries to signal
// that their definition set changed, so transports can emit list_changed
// notifications. Sends are best-effort and never block.
type ChangeNotifier struct {
	mu   sync.Mutex
	subs []chan struct{}
}

// Notify signals every subscriber. Slow subscribers miss coalesced signals
// rather than blocking the registrar.
func (n *ChangeNotifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel receiving a signal per change. The channel has
// capacity one; consecutive changes coalesce.
func (n *ChangeNotifier) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}
