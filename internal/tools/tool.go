package tools

import (
	"context"
)

// Tool is a unit of work the agent can invoke through the LLM tool-calling
// protocol. Parameters returns the JSON schema advertised to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Run(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// ToolError represents an error that occurred during tool execution
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e ToolError) Error() string {
	return e.Message
}

// NewToolError creates a new tool error
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
