// Package tools defines the tool registry the assistant exposes to the
// model. Tools are classified read-only or mutating: read-only tools run
// automatically, mutating tools go through the approval flow before any
// side effect happens.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Capability classifies what a tool may do.
type Capability int

const (
	// ReadOnly tools observe state and are safe to auto-execute.
	ReadOnly Capability = iota
	// Mutating tools change external state and require approval.
	Mutating
)

func (c Capability) String() string {
	if c == Mutating {
		return "mutating"
	}
	return "read_only"
}

// Handler executes a tool call and returns a result string for the model.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool describes a callable tool.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object describing the arguments.
	Parameters map[string]any
	Mutating   bool
	Handler    Handler
	// Describe renders a human-readable action for approval prompts.
	// Optional; Display falls back to name plus arguments.
	Describe func(args map[string]any) string
}

// Display returns a human-readable description of a call for approval
// prompts and notifications.
func (t *Tool) Display(args map[string]any) string {
	if t.Describe != nil {
		if s := t.Describe(args); s != "" {
			return s
		}
	}
	if len(args) == 0 {
		return t.Name
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return fmt.Sprintf("%s (%s)", t.Name, strings.Join(parts, ", "))
}

// Registry holds the available tools. Registration happens at startup;
// lookups afterward are read-only, so no locking is needed.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Re-registering a name replaces the old tool.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Classify returns the capability of the named tool. Unknown names
// return *ErrUnknownTool; nothing is ever executed for them.
func (r *Registry) Classify(name string) (Capability, error) {
	t, ok := r.tools[name]
	if !ok {
		return ReadOnly, &ErrUnknownTool{Name: name}
	}
	if t.Mutating {
		return Mutating, nil
	}
	return ReadOnly, nil
}

// Execute runs the named tool with the given arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", &ErrUnknownTool{Name: name}
	}
	result, err := t.Handler(ctx, args)
	if err != nil {
		return "", &ErrToolFailed{Name: name, Err: err}
	}
	return result, nil
}

// Display renders a human-readable action for the named call, falling
// back to the raw name when the tool is unknown.
func (r *Registry) Display(name string, args map[string]any) string {
	if t, ok := r.tools[name]; ok {
		return t.Display(args)
	}
	return name
}

// Schemas returns the tool definitions in OpenAI function format, in
// registration order.
func (r *Registry) Schemas() []map[string]any {
	out := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// EncodeArgs renders arguments as compact JSON for storage.
func EncodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// DecodeArgs parses stored argument JSON.
func DecodeArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}
