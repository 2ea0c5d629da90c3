package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/hostbridge/mcp-host-go/mcp"
)

// ErrPromptNotFound is returned by Render for a name with no registration.
var ErrPromptNotFound = errors.New("prompt not found")

// PromptHandler renders a prompt for the given arguments. The returned value
// may be a string (a single user-role text message), an mcp.PromptMessage, or
// a []mcp.PromptMessage.
type PromptHandler func(ctx context.Context, args map[string]string) (any, error)

// PromptDefinition pairs a prompt descriptor with its handler.
type PromptDefinition struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// Prompts is the registry of prompt templates.
type Prompts struct {
	core[PromptDefinition]
}

// NewPrompts constructs an empty prompt registry.
func NewPrompts() *Prompts {
	return &Prompts{}
}

// PromptOption configures a prompt at registration time.
type PromptOption func(*mcp.Prompt)

// WithPromptDescription sets the human description shown in listings.
func WithPromptDescription(desc string) PromptOption {
	return func(p *mcp.Prompt) { p.Description = desc }
}

// WithPromptArguments declares the arguments the prompt accepts.
func WithPromptArguments(args ...mcp.PromptArgument) PromptOption {
	return func(p *mcp.Prompt) { p.Arguments = args }
}

// Register adds or overwrites the named prompt.
func (r *Prompts) Register(name string, handler PromptHandler, opts ...PromptOption) {
	desc := mcp.Prompt{Name: name}
	for _, opt := range opts {
		opt(&desc)
	}
	r.put(name, PromptDefinition{Descriptor: desc, Handler: handler})
}

// RegisterLazy defers a batch of registrations until the registry is first
// queried; see Tools.RegisterLazy for ordering guarantees.
func (r *Prompts) RegisterLazy(loader func(*Prompts)) {
	r.enqueueLoader(func() { loader(r) })
}

// Get returns the named prompt, or ok=false when absent.
func (r *Prompts) Get(name string) (PromptDefinition, bool) {
	return r.get(name)
}

// ListAll returns every prompt in registration order.
func (r *Prompts) ListAll() []PromptDefinition {
	return r.snapshot()
}

// Len returns the number of registered prompts.
func (r *Prompts) Len() int { return r.size() }

// List returns one page of prompt descriptors.
func (r *Prompts) List(ctx context.Context, cursor *string, pageSize int) (prompts []mcp.Prompt, nextCursor string, err error) {
	defs, next, err := page(r.codec, r.snapshot(), cursor, pageSize, "")
	if err != nil {
		return nil, "", err
	}
	prompts = make([]mcp.Prompt, len(defs))
	for i, d := range defs {
		prompts[i] = d.Descriptor
	}
	return prompts, next, nil
}

// Render invokes the named prompt and normalizes its result into role-tagged
// messages. A bare string becomes a single user-role text message.
func (r *Prompts) Render(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	def, ok := r.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	v, err := def.Handler(ctx, args)
	if err != nil {
		return nil, err
	}

	res := &mcp.GetPromptResult{Description: def.Descriptor.Description}
	switch val := v.(type) {
	case string:
		res.Messages = []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: []mcp.ContentBlock{{Type: "text", Text: val}},
		}}
	case mcp.PromptMessage:
		res.Messages = []mcp.PromptMessage{val}
	case []mcp.PromptMessage:
		res.Messages = val
	default:
		res.Messages = []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf("%v", val)}},
		}}
	}
	return res, nil
}

// Subscribe returns a channel signaled whenever the prompt set changes.
func (r *Prompts) Subscribe() <-chan struct{} {
	return r.notifier.Subscribe()
}
