package worker

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/viant/toolrelay"
)

// ToolFunc executes one tool invocation against the host API.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (*toolrelay.Result, error)

// Tool couples a registered handler with its argument schema.
type Tool struct {
	Name   string
	schema *jsonschema.Schema
	fn     ToolFunc
}

// ValidateArgs checks args against the tool's JSON schema. A tool registered
// without a schema accepts any arguments.
func (t *Tool) ValidateArgs(args map[string]interface{}) error {
	if t.schema == nil {
		return nil
	}
	value := args
	if value == nil {
		value = map[string]interface{}{}
	}
	// Args originate from json.Unmarshal, so they already carry the generic
	// shapes the validator expects.
	if err := t.schema.Validate(interface{}(value)); err != nil {
		return fmt.Errorf("invalid arguments for tool %s: %w", t.Name, err)
	}
	return nil
}

// Invoke runs the tool handler.
func (t *Tool) Invoke(ctx context.Context, args map[string]interface{}) (*toolrelay.Result, error) {
	return t.fn(ctx, args)
}

// Registry maps tool names to handlers. An unknown tool yields tool_not_found
// at the executor without dispatching.
type Registry struct {
	mux   sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]*Tool{}}
}

// Register adds a tool. schemaJSON may be nil to skip argument validation;
// otherwise it must be a valid JSON schema document.
func (r *Registry) Register(name string, schemaJSON []byte, fn ToolFunc) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %s has no handler", name)
	}
	tool := &Tool{Name: name, fn: fn}
	if len(schemaJSON) > 0 {
		document, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			return fmt.Errorf("invalid schema for tool %s: %w", name, err)
		}
		compiler := jsonschema.NewCompiler()
		resource := name + ".schema.json"
		if err := compiler.AddResource(resource, document); err != nil {
			return fmt.Errorf("invalid schema for tool %s: %w", name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("failed to compile schema for tool %s: %w", name, err)
		}
		tool.schema = schema
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("tool %s is already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names lists the registered tool names.
func (r *Registry) Names() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
