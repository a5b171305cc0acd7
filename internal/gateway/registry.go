package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownTool is returned when a requested tool is not registered.
var ErrUnknownTool = errors.New("gateway: unknown tool") //nolint:gochecknoglobals // sentinel error

// ToolFunc runs one tool invocation. Implementations must be safe for
// concurrent use; the gateway never serializes calls per tool.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Registry maps tool names to their implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolFunc
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]ToolFunc),
	}
}

// Register adds a tool implementation under the given name.
func (r *Registry) Register(name string, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
}

// Execute runs the named tool with the given arguments.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	fn, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("gateway.Registry.Execute(%q): %w", name, ErrUnknownTool)
	}

	result, err := fn(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("gateway.Registry.Execute(%q): %w", name, err)
	}

	return result, nil
}

// Has reports whether the named tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Available returns registered tool names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}
