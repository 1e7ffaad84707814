package tool

import "fmt"

// ErrToolNotFound is returned when a tool call references a tool the set does not hold.
type ErrToolNotFound struct {
	Name string
}

func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool: not found: %s", e.Name)
}

// ErrNoHandler is returned for tools that only carry a schema, such as format-answer.
type ErrNoHandler struct {
	Name string
}

func (e *ErrNoHandler) Error() string {
	return fmt.Sprintf("tool: %s has no handler", e.Name)
}
