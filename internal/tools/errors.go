package tools

import "fmt"

// ErrUnknownTool describes a request for a tool that is not registered.
type ErrUnknownTool struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("Error: unknown tool '%s'.", e.ToolName)
}

// ErrMissingArgument is returned by handlers when a required argument
// is absent or empty.
type ErrMissingArgument struct {
	Name string
}

// Error implements the error interface.
func (e *ErrMissingArgument) Error() string {
	return fmt.Sprintf("missing required argument %q", e.Name)
}
