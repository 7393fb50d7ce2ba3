// Package tools holds the capabilities crew roles can call: read queries
// against the survey database, answer-code lookups and web search.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/fabfab/survey-agent/llm"
)

// Tool is a capability a role can invoke. Call returns the observation fed
// back to the model; an error means the tool itself could not run.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

type functionTool[Args any] struct {
	name        string
	description string
	schema      map[string]any
	fn          func(context.Context, Args) (string, error)
}

// NewFunction builds a Tool from a typed function. The parameter schema is
// reflected from the json and jsonschema tags of Args.
func NewFunction[Args any](name, description string, fn func(context.Context, Args) (string, error)) (Tool, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	schema, err := reflectSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("generate schema for %s: %w", name, err)
	}
	return &functionTool[Args]{name: name, description: description, schema: schema, fn: fn}, nil
}

func (t *functionTool[Args]) Name() string           { return t.name }
func (t *functionTool[Args]) Description() string    { return t.description }
func (t *functionTool[Args]) Schema() map[string]any { return t.schema }

func (t *functionTool[Args]) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args Args
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", t.name, err)
		}
	}
	return t.fn(ctx, args)
}

func reflectSchema[Args any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	data, err := json.Marshal(reflector.Reflect(new(Args)))
	if err != nil {
		return nil, err
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema, nil
}

// Registry is a name-indexed set of tools.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tools in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subset returns the tools named, failing on the first unknown name.
func (r *Registry) Subset(names []string) ([]Tool, error) {
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

// Definitions converts tools into the function descriptions sent to the model.
func Definitions(ts []Tool) []llm.ToolDef {
	defs := make([]llm.ToolDef, len(ts))
	for i, t := range ts {
		defs[i] = llm.ToolDef{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()}
	}
	return defs
}
