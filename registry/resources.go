package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hostbridge/mcp-host-go/mcp"
)

// ErrResourceNotFound is returned by Read for a URI with no registration.
var ErrResourceNotFound = errors.New("resource not found")

// ResourceHandler produces the contents of a resource when read. The returned
// value may be a string (served as text), a []byte (served as a base64 blob),
// or any JSON-marshalable value (served as its canonical JSON text).
type ResourceHandler func(ctx context.Context) (any, error)

// ResourceDefinition pairs a resource descriptor with its read handler.
type ResourceDefinition struct {
	Descriptor mcp.Resource
	Handler    ResourceHandler
}

// Resources is the registry of readable resources, keyed by exact URI.
type Resources struct {
	core[ResourceDefinition]
}

// NewResources constructs an empty resource registry.
func NewResources() *Resources {
	return &Resources{}
}

// ResourceOption configures a resource at registration time.
type ResourceOption func(*mcp.Resource)

// WithResourceDescription sets the human description shown in listings.
func WithResourceDescription(desc string) ResourceOption {
	return func(r *mcp.Resource) { r.Description = desc }
}

// WithMimeType declares the media type read results are tagged with.
func WithMimeType(mt string) ResourceOption {
	return func(r *mcp.Resource) { r.MimeType = mt }
}

// WithResourceName sets the display name; it defaults to the URI.
func WithResourceName(name string) ResourceOption {
	return func(r *mcp.Resource) { r.Name = name }
}

// Register adds or overwrites the resource at uri.
func (r *Resources) Register(uri string, handler ResourceHandler, opts ...ResourceOption) {
	desc := mcp.Resource{URI: uri, Name: uri}
	for _, opt := range opts {
		opt(&desc)
	}
	r.put(uri, ResourceDefinition{Descriptor: desc, Handler: handler})
}

// RegisterLazy defers a batch of registrations until the registry is first
// queried; see Tools.RegisterLazy for ordering guarantees.
func (r *Resources) RegisterLazy(loader func(*Resources)) {
	r.enqueueLoader(func() { loader(r) })
}

// Get returns the resource registered at uri, or ok=false when absent.
func (r *Resources) Get(uri string) (ResourceDefinition, bool) {
	return r.get(uri)
}

// ListAll returns every resource in registration order.
func (r *Resources) ListAll() []ResourceDefinition {
	return r.snapshot()
}

// Len returns the number of registered resources.
func (r *Resources) Len() int { return r.size() }

// List returns one page of resource descriptors.
func (r *Resources) List(ctx context.Context, cursor *string, pageSize int) (resources []mcp.Resource, nextCursor string, err error) {
	defs, next, err := page(r.codec, r.snapshot(), cursor, pageSize, "")
	if err != nil {
		return nil, "", err
	}
	resources = make([]mcp.Resource, len(defs))
	for i, d := range defs {
		resources[i] = d.Descriptor
	}
	return resources, next, nil
}

// Read invokes the handler for uri and normalizes its result into resource
// contents tagged with the declared media type.
func (r *Resources) Read(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	def, ok := r.get(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	v, err := def.Handler(ctx)
	if err != nil {
		return nil, err
	}
	return normalizeResourceValue(def.Descriptor, v)
}

// Subscribe returns a channel signaled whenever the resource set changes.
func (r *Resources) Subscribe() <-chan struct{} {
	return r.notifier.Subscribe()
}

func normalizeResourceValue(desc mcp.Resource, v any) ([]mcp.ResourceContents, error) {
	rc := mcp.ResourceContents{URI: desc.URI, MimeType: desc.MimeType}
	switch val := v.(type) {
	case string:
		rc.Text = val
	case []byte:
		rc.Blob = base64.StdEncoding.EncodeToString(val)
	case mcp.ResourceContents:
		return []mcp.ResourceContents{val}, nil
	case []mcp.ResourceContents:
		return val, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encode resource contents: %w", err)
		}
		rc.Text = string(b)
		if rc.MimeType == "" {
			rc.MimeType = "application/json"
		}
	}
	return []mcp.ResourceContents{rc}, nil
}
