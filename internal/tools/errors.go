package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool classifies a call to a tool that is not registered.
	// It is recoverable: the loop reports it back as an observation.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrUnavailable means the provider behind a tool cannot be reached
	// or is not configured. It ends the question.
	ErrUnavailable = errors.New("tool provider unavailable")
)

// ErrToolUnavailable is returned when a call targets a tool that is not
// present in the registry. It matches [ErrUnknownTool] under errors.Is.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// Is reports whether target is [ErrUnknownTool].
func (e *ErrToolUnavailable) Is(target error) bool {
	return target == ErrUnknownTool
}
