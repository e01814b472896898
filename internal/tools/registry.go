package tools

import (
	"context"
	"fmt"
)

// ParamType tags the accepted shape of a tool parameter value.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
	ParamList   ParamType = "list"
	ParamObject ParamType = "object"
)

// ParamSchema describes one tool parameter.
type ParamSchema struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
}

// Definition is a tool's static description: name, parameter schema, and
// free-text description for the planner prompt. It carries no LLM
// dependence of its own.
type Definition struct {
	Name        string
	Description string
	Parameters  []ParamSchema
}

// Invocable is a bound, executable tool. It returns a result map; by
// convention a `"success": false` entry with a `"message"` key signals a
// tool-reported (not thrown) failure.
type Invocable func(ctx context.Context, params map[string]any) (map[string]any, error)

type registeredTool struct {
	def Definition
	fn  Invocable
}

// Registry is a static catalog of tool definitions plus bound invocables.
// It has no LLM dependence — it is purely a name -> (schema, invocable) map.
type Registry struct {
	tools map[string]registeredTool
	order []string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]registeredTool{}}
}

// Register adds a tool. Re-registering a name replaces it in place,
// preserving its original position in GetAllDefinitions order.
func (r *Registry) Register(def Definition, fn Invocable) {
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = registeredTool{def: def, fn: fn}
}

// GetAllDefinitions returns every registered tool's definition, in
// registration order, for rendering into the planner's prompt.
func (r *Registry) GetAllDefinitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Invoke runs the named tool's invocable directly (bypassing the
// Executor's timeout/concurrency wrapping) — used by tests and by the
// Executor itself.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return t.fn(ctx, params)
}
