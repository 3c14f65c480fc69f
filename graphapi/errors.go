package graphapi

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph = errors.New("invalid graph")
	ErrCycle        = errors.New("graph contains a cycle")
	ErrUnknownInput = errors.New("unknown declared input")
)

// GraphError reports a structural problem in a WorkflowGraph. Cycle holds one
// witness path (first node repeated at the end) when Kind is ErrCycle.
type GraphError struct {
	Kind   error
	Msg    string
	NodeID string
	Cycle  []string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(nodeID string, format string, args ...interface{}) error {
	return &GraphError{Kind: ErrInvalidGraph, NodeID: nodeID, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := ""
	if len(path) > 0 {
		msg = strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycle, Msg: msg, Cycle: path}
}
