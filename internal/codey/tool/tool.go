// Package tool defines the Tool contract exposed to the LLM, and the
// Registry that groups tools into named presets (full access, read-only,
// sub-agent) so an Agent can be constrained by construction rather than
// by runtime checks.
package tool

import (
	"codey/internal/codey/pipeline"
)

// Definition is the wire-visible shape a Tool contributes to the LLM's
// tool-use catalog.
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Tool composes a pipeline.Pipeline for a given set of call parameters.
// Composition itself never fails on bad input — a Tool that receives
// unparseable params returns pipeline.ErrorPipeline so the error surfaces
// through the normal Step.Error path instead of a Go panic.
type Tool interface {
	Definition() Definition
	Compose(params map[string]any) *pipeline.Pipeline
}

// Registry is a named, ordered set of Tools available to an Agent.
type Registry struct {
	name  string
	tools map[string]Tool
	order []string
}

func NewRegistry(name string) *Registry {
	return &Registry{name: name, tools: map[string]Tool{}}
}

func (r *Registry) Name() string { return r.name }

func (r *Registry) Register(t Tool) *Registry {
	def := t.Definition()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = t
	return r
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, withBackgroundParam(r.tools[name].Definition()))
	}
	return defs
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// withBackgroundParam adds the background:bool property every tool call
// accepts to def's schema, unless the tool already declares its own
// (spawn_agent documents a more specific meaning for it). This is what
// lets the executor set ToolCall.Background for any tool without every
// Tool's Compose having to parse the flag itself.
func withBackgroundParam(def Definition) Definition {
	schema := def.Schema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	props, _ := schema["properties"].(map[string]any)
	if _, exists := props["background"]; exists {
		return def
	}

	merged := make(map[string]any, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	merged["background"] = map[string]any{
		"type":        "boolean",
		"description": "Run this call in the background instead of blocking the turn. Retrieve the result later with list_tasks/get_task_result.",
	}

	newSchema := make(map[string]any, len(schema))
	for k, v := range schema {
		newSchema[k] = v
	}
	newSchema["properties"] = merged
	def.Schema = newSchema
	return def
}
