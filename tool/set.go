package tool

import (
	"context"

	"github.com/spetersoncode/hanabi"
)

// Descriptor pairs a tool definition with the handler that executes it.
// Source names where the tool came from (an MCP server key or "builtin").
type Descriptor struct {
	Tool    hanabi.Tool
	Handler Handler
	Source  string
}

// Set is an immutable, name-keyed collection of tools handed to the model.
//
// When two descriptors share a name the later one wins but keeps the
// position of the first, so iteration order stays stable across merges.
type Set struct {
	order  []string
	byName map[string]Descriptor
}

// NewSet builds a Set from descriptors.
func NewSet(descs ...Descriptor) *Set {
	s := &Set{byName: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		s.put(d)
	}
	return s
}

// Merge combines sets left to right. Nil sets are skipped.
func Merge(sets ...*Set) *Set {
	out := NewSet()
	for _, set := range sets {
		if set == nil {
			continue
		}
		for _, name := range set.order {
			out.put(set.byName[name])
		}
	}
	return out
}

func (s *Set) put(d Descriptor) {
	if _, ok := s.byName[d.Tool.Name]; !ok {
		s.order = append(s.order, d.Tool.Name)
	}
	s.byName[d.Tool.Name] = d
}

// With returns a copy of the set with descs added on top.
func (s *Set) With(descs ...Descriptor) *Set {
	return Merge(s, NewSet(descs...))
}

// Without returns a copy of the set minus the named tools.
func (s *Set) Without(names ...string) *Set {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := NewSet()
	for _, name := range s.Names() {
		if !drop[name] {
			out.put(s.byName[name])
		}
	}
	return out
}

// Get looks up a descriptor by tool name.
func (s *Set) Get(name string) (Descriptor, bool) {
	if s == nil {
		return Descriptor{}, false
	}
	d, ok := s.byName[name]
	return d, ok
}

// Tools returns the tool definitions in set order.
func (s *Set) Tools() []hanabi.Tool {
	if s == nil {
		return nil
	}
	tools := make([]hanabi.Tool, 0, len(s.order))
	for _, name := range s.order {
		tools = append(tools, s.byName[name].Tool)
	}
	return tools
}

// Names returns the tool names in set order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Len returns the number of tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Execute runs the handler for call. Failures never escape as Go errors:
// they come back as an IsError result so the model can read them and recover.
func (s *Set) Execute(ctx context.Context, call hanabi.ToolCall) hanabi.ToolResult {
	result := hanabi.ToolResult{ToolCallID: call.ID, ToolName: call.Name}

	d, ok := s.Get(call.Name)
	var err error
	switch {
	case !ok:
		err = &ErrToolNotFound{Name: call.Name}
	case d.Handler == nil:
		err = &ErrNoHandler{Name: call.Name}
	default:
		result.Content, err = d.Handler(ctx, call)
	}
	if err != nil {
		result.Content = (&hanabi.ToolInvocationError{Tool: call.Name, Err: err}).Error()
		result.IsError = true
	}
	return result
}
