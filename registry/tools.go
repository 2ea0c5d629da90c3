package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/hostbridge/mcp-host-go/mcp"
)

// ToolHandler is the function a tool invocation dispatches to. Arguments
// arrive as the decoded JSON object from the call's "arguments" member. The
// returned value may be a string, a structured value (map/slice), or anything
// else stringifiable; the server normalizes it into content blocks. A
// returned error becomes an isError result, never a protocol failure.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ToolDefinition pairs a tool descriptor with its handler. Definitions are
// immutable once registered.
type ToolDefinition struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// Tools is the registry of callable tools.
type Tools struct {
	core[ToolDefinition]
}

// NewTools constructs an empty tool registry.
func NewTools() *Tools {
	return &Tools{}
}

// ToolOption configures a tool at registration time.
type ToolOption func(*mcp.Tool)

// WithDescription sets the human description shown in listings.
func WithDescription(desc string) ToolOption {
	return func(t *mcp.Tool) { t.Description = desc }
}

// WithInputSchema overrides the derived input schema.
func WithInputSchema(s mcp.ToolInputSchema) ToolOption {
	return func(t *mcp.Tool) { t.InputSchema = s }
}

// WithAnnotations attaches behavior hints.
func WithAnnotations(a mcp.ToolAnnotations) ToolOption {
	return func(t *mcp.Tool) { t.Annotations = &a }
}

// WithCategory assigns the search category.
func WithCategory(c string) ToolOption {
	return func(t *mcp.Tool) { t.Category = c }
}

// WithTags assigns the search tag set.
func WithTags(tags ...string) ToolOption {
	return func(t *mcp.Tool) { t.Tags = tags }
}

// Register adds or overwrites the named tool. Registration never fails: when
// no schema option is supplied the tool gets a permissive object schema, and
// an omitted description stays empty rather than blocking registration.
func (r *Tools) Register(name string, handler ToolHandler, opts ...ToolOption) {
	desc := mcp.Tool{
		Name:        name,
		InputSchema: permissiveObjectSchema(),
	}
	for _, opt := range opts {
		opt(&desc)
	}
	r.put(name, ToolDefinition{Descriptor: desc, Handler: handler})
}

// RegisterDefinition adds or overwrites a fully-built definition, as produced
// by NewTool.
func (r *Tools) RegisterDefinition(def ToolDefinition) {
	r.put(def.Descriptor.Name, def)
}

// RegisterLazy defers a batch of registrations until the registry is first
// queried. Loaders run exactly once, in the order they were queued, before
// any listing or lookup is served.
func (r *Tools) RegisterLazy(loader func(*Tools)) {
	r.enqueueLoader(func() { loader(r) })
}

// Get returns the named tool, or ok=false when absent.
func (r *Tools) Get(name string) (ToolDefinition, bool) {
	return r.get(name)
}

// ListAll returns every tool in registration order.
func (r *Tools) ListAll() []ToolDefinition {
	return r.snapshot()
}

// Len returns the number of registered tools.
func (r *Tools) Len() int { return r.size() }

// List returns one page of tool descriptors. An empty nextCursor means the
// listing is complete.
func (r *Tools) List(ctx context.Context, cursor *string, pageSize int) (tools []mcp.Tool, nextCursor string, err error) {
	defs, next, err := page(r.codec, r.snapshot(), cursor, pageSize, "")
	if err != nil {
		return nil, "", err
	}
	tools = make([]mcp.Tool, len(defs))
	for i, d := range defs {
		tools[i] = d.Descriptor
	}
	return tools, next, nil
}

// SearchQuery is the filter set for Search. All non-zero filters AND
// together.
type SearchQuery struct {
	// Query substring-matches (case-insensitive) against name, description,
	// category and tags.
	Query string
	// Category must equal the tool's category (case-insensitive).
	Category string
	// Tags matches when any query tag intersects the tool's tag set.
	Tags []string
	// ReadOnly, when set, matches tools whose readOnly hint equals the value.
	ReadOnly *bool
}

// fingerprint binds search cursors to the query that minted them, so a cursor
// replayed against different filters is rejected instead of silently slicing
// a different result set.
func (q SearchQuery) fingerprint() string {
	h := fnv.New64a()
	fmt.Fprint(h, strings.ToLower(q.Query), "\x00", strings.ToLower(q.Category), "\x00")
	tags := make([]string, len(q.Tags))
	for i, t := range q.Tags {
		tags[i] = strings.ToLower(t)
	}
	sort.Strings(tags)
	fmt.Fprint(h, strings.Join(tags, ","), "\x00")
	if q.ReadOnly != nil {
		fmt.Fprint(h, *q.ReadOnly)
	}
	return strconv.FormatUint(h.Sum64(), 36)
}

func (q SearchQuery) matches(t mcp.Tool) bool {
	if q.Query != "" {
		needle := strings.ToLower(q.Query)
		haystack := strings.ToLower(t.Name + " " + t.Description + " " + t.Category + " " + strings.Join(t.Tags, " "))
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	if q.Category != "" && !strings.EqualFold(q.Category, t.Category) {
		return false
	}
	if len(q.Tags) > 0 {
		found := false
	outer:
		for _, want := range q.Tags {
			for _, have := range t.Tags {
				if strings.EqualFold(want, have) {
					found = true
					break outer
				}
			}
		}
		if !found {
			return false
		}
	}
	if q.ReadOnly != nil {
		readOnly := t.Annotations != nil && t.Annotations.ReadOnlyHint
		if readOnly != *q.ReadOnly {
			return false
		}
	}
	return true
}

// Search returns the page of tools matching q along with the total number of
// matches before pagination. The pagination contract matches List; the
// returned cursor is only valid for the same query.
func (r *Tools) Search(ctx context.Context, q SearchQuery, cursor *string, pageSize int) (tools []mcp.Tool, total int, nextCursor string, err error) {
	var matched []mcp.Tool
	for _, def := range r.snapshot() {
		if q.matches(def.Descriptor) {
			matched = append(matched, def.Descriptor)
		}
	}
	pageItems, next, err := page(r.codec, matched, cursor, pageSize, q.fingerprint())
	if err != nil {
		return nil, 0, "", err
	}
	return pageItems, len(matched), next, nil
}

// Subscribe returns a channel signaled whenever the tool set changes.
func (r *Tools) Subscribe() <-chan struct{} {
	return r.notifier.Subscribe()
}

func permissiveObjectSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{Type: "object", AdditionalProperties: true}
}
