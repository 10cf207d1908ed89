package domain

import (
	"context"
	"fmt"
)

// ExecType identifies how a tool is executed.
type ExecType string

const (
	// ExecNative runs in-process (default for built-in tools).
	ExecNative ExecType = "native"
	// ExecWasm runs inside the wazero plugin sandbox.
	ExecWasm ExecType = "wasm"
)

// Tool represents a named capability a planner may invoke mid-reasoning.
type Tool struct {
	Name          string
	Description   string
	Parameters    ToolParameters
	Execute       ToolExecutor
	ExecutionType ExecType // "native" or "wasm" (default: native)
}

// ToolParameters defines the JSON-schema object for tool inputs
type ToolParameters struct {
	Type       string                 `json:"type"`       // "object"
	Properties map[string]interface{} `json:"properties"` // param definitions
	Required   []string               `json:"required"`   // required param names
}

// ToolExecutor is the single calling convention for every tool.
// Synchronous tools simply return without blocking on ctx.
type ToolExecutor func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolSchema is the prompt/API facing description of a tool.
type ToolSchema struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Parameters    ToolParameters `json:"parameters"`
	ExecutionType ExecType       `json:"execution_type"`
}

// Schema returns the public description of the tool.
func (t *Tool) Schema() ToolSchema {
	exec := t.ExecutionType
	if exec == "" {
		exec = ExecNative
	}
	return ToolSchema{
		Name:          t.Name,
		Description:   t.Description,
		Parameters:    t.Parameters,
		ExecutionType: exec,
	}
}

// ToolNotFoundError reports an invocation of an unregistered tool.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// Is lets errors.Is(err, ErrToolNotFound) match any ToolNotFoundError.
func (e *ToolNotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// ObjectParams is a shorthand for building a ToolParameters object schema.
func ObjectParams(properties map[string]interface{}, required ...string) ToolParameters {
	if required == nil {
		required = []string{}
	}
	return ToolParameters{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}
