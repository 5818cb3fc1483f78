// Package tools defines the capability contract every data-retrieval tool
// implements, a name-keyed registry, and schema-validated invocation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

// Schema describes a tool's interface: its name, what it does, and the
// JSON Schemas for its input and output.
type Schema struct {
	Name         string
	Description  string
	InputSchema  map[string]any
	OutputSchema map[string]any
}

// Tool is implemented by every concrete data-retrieval tool.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Schema returns the tool's declared interface.
	Schema() Schema

	// Invoke executes the tool with already-validated parameters.
	Invoke(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Result is the structured outcome of a safe invocation. Result is present
// iff Success.
type Result struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SafeInvoke validates params against the tool's input schema before
// invoking it, and converts any failure into a structured Result so callers
// can distinguish bad input from a broken backend.
func SafeInvoke(ctx context.Context, tool Tool, params map[string]any, logger *zap.Logger) Result {
	if err := validateInput(tool.Schema().InputSchema, params); err != nil {
		logger.Warn("tool input validation failed",
			zap.String("tool", tool.Name()),
			zap.Error(err),
		)
		return Result{Success: false, Error: fmt.Sprintf("validation error: %v", err)}
	}

	result, err := tool.Invoke(ctx, params)
	if err != nil {
		logger.Error("tool execution failed",
			zap.String("tool", tool.Name()),
			zap.Error(err),
		)
		return Result{Success: false, Error: fmt.Sprintf("execution error: %v", err)}
	}

	logger.Debug("tool executed", zap.String("tool", tool.Name()))
	return Result{Success: true, Result: result}
}

func validateInput(schema map[string]any, params map[string]any) error {
	if schema == nil {
		return nil
	}

	// Round-trip through JSON so the compiler sees plain decoded values.
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	var schemaObj any
	if err := json.Unmarshal(schemaBytes, &schemaObj); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaObj); err != nil {
		return fmt.Errorf("schema compile: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("schema compile: %w", err)
	}

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("parameters not serializable: %w", err)
	}
	var paramObj any
	if err := json.Unmarshal(paramBytes, &paramObj); err != nil {
		return fmt.Errorf("parameters not serializable: %w", err)
	}

	return sch.Validate(paramObj)
}

// RequiredFields returns the schema's top-level required field names.
func RequiredFields(schema map[string]any) []string {
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			fields = append(fields, s)
		}
	}
	return fields
}

// EnumValues returns the declared enum of a top-level property, nil if the
// property has no enumeration.
func EnumValues(schema map[string]any, field string) []string {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	prop, ok := props[field].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := prop["enum"].([]any)
	if !ok {
		return nil
	}
	values := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			values = append(values, s)
		}
	}
	return values
}

// Registry holds tools by name. Tools are registered at process start; the
// registry is read-only afterwards, so lookups need no locking.
type Registry struct {
	tools  map[string]Tool
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool. A duplicate name replaces the earlier registration.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
	r.logger.Info("registered tool", zap.String("tool", tool.Name()))
}

// Get returns the tool or nil if unknown.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// List returns the registered schemas sorted by tool name.
func (r *Registry) List() []Schema {
	schemas := make([]Schema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, t.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Close releases resources held by tools that own connections.
func (r *Registry) Close() {
	for name, t := range r.tools {
		if c, ok := t.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				r.logger.Warn("tool close failed", zap.String("tool", name), zap.Error(err))
			}
		}
	}
}
