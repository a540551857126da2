package tools

import "fmt"

// ErrUnknownTool is returned when the model requests a tool that is not
// registered. It is reported per call so the rest of a batch still runs.
type ErrUnknownTool struct {
	Name string
}

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ErrToolFailed wraps a handler error with the tool name for reporting.
type ErrToolFailed struct {
	Name string
	Err  error
}

func (e *ErrToolFailed) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Name, e.Err)
}

func (e *ErrToolFailed) Unwrap() error {
	return e.Err
}
