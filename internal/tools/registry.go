package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/calder-ai/calder/internal/llm"
)

// Registry holds the tools available to the loop. Tools can be disabled at
// runtime without unregistering; resolving a disabled tool is a policy
// denial, not an unknown tool.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	disabled map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		disabled: make(map[string]bool),
	}
}

// Register adds a tool. Re-registering a name replaces the old tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition().Name] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.disabled, name)
}

// SetEnabled toggles a tool without removing it.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		delete(r.disabled, name)
	} else {
		r.disabled[name] = true
	}
}

// Resolve returns the tool for a call. Unknown or disabled tools return an
// error tagged with the policy failure kind.
func (r *Registry) Resolve(name string) (Tool, *Result) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		res := Failure(FailurePolicyDenied, fmt.Sprintf("unknown tool: %s", name))
		return nil, &res
	}
	if r.disabled[name] {
		res := Failure(FailurePolicyDenied, fmt.Sprintf("tool disabled: %s", name))
		return nil, &res
	}
	return t, nil
}

// Definitions returns schemas for all enabled tools, sorted by name so the
// advertised tool list is stable across calls.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		if r.disabled[name] {
			continue
		}
		out = append(out, t.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
