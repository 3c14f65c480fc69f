package graphapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// NodeObjects is the catalogue of node definitions reported by /object_info.
type NodeObjects struct {
	Objects map[string]*NodeObject
}

// NodeObject represents the metadata that describes how to generate an instance of a node for a graph.
type NodeObject struct {
	Input               *NodeObjectInput    `json:"input"`
	Output              []string            `json:"output"` // output type
	OutputIsList        []bool              `json:"output_is_list"`
	OutputName          []string            `json:"output_name"`
	Name                string              `json:"name"`
	DisplayName         string              `json:"display_name"`
	Description         string              `json:"description"`
	Category            string              `json:"category"`
	OutputNode          bool                `json:"output_node"`
	InputProperties     []Property          `json:"-"`
	InputPropertiesByID map[string]Property `json:"-"`
}

// GetSettableProperties returns the inputs that take literal values, in definition order.
func (n *NodeObject) GetSettableProperties() []Property {
	retv := make([]Property, 0)
	for _, p := range n.InputProperties {
		if p.Settable() {
			retv = append(retv, p)
		}
	}
	return retv
}

// ComboValues returns the allowed values of a combo input, or nil.
func (n *NodeObject) ComboValues(input string) []string {
	if p, ok := n.InputPropertiesByID[input].(*ComboProperty); ok {
		return append([]string(nil), p.Values...)
	}
	return nil
}

type NodeObjectInput struct {
	Required        map[string]interface{} `json:"required"`
	Optional        map[string]interface{} `json:"optional,omitempty"`
	OrderedRequired []string               `json:"-"`
	OrderedOptional []string               `json:"-"`
}

// UnmarshalJSON keeps the declaration order of the inputs, which a plain map loses.
func (noi *NodeObjectInput) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return err
	} // consume opening brace

	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return err
		}

		key, _ := t.(string)
		switch key {
		case "required", "optional":
			if _, err := dec.Token(); err != nil { // consume opening brace of nested object
				return err
			}

			currentMap := make(map[string]interface{})
			currentOrder := make([]string, 0)
			for dec.More() {
				entryKeyToken, err := dec.Token()
				if err != nil {
					return err
				}
				entryKey, _ := entryKeyToken.(string)
				currentOrder = append(currentOrder, entryKey)

				var raw json.RawMessage
				if err := dec.Decode(&raw); err != nil {
					return err
				}
				var i interface{}
				if err := json.Unmarshal(raw, &i); err != nil {
					return err
				}
				currentMap[entryKey] = i
			}

			if _, err := dec.Token(); err != nil { // consume closing brace of nested object
				return err
			}

			if key == "required" {
				noi.Required = currentMap
				noi.OrderedRequired = currentOrder
			} else {
				noi.Optional = currentMap
				noi.OrderedOptional = currentOrder
			}
		default:
			if err := dec.Decode(new(interface{})); err != nil { // consume and ignore non-expected field
				return err
			}
		}
	}

	if _, err := dec.Token(); err != nil { // consume closing brace
		return err
	}
	return nil
}

// ParseNodeObjects decodes an /object_info response.
func ParseNodeObjects(data []byte) (*NodeObjects, error) {
	objects := make(map[string]*NodeObject)
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, err
	}
	retv := &NodeObjects{Objects: objects}
	retv.PopulateInputProperties()
	return retv, nil
}

func (n *NodeObjects) PopulateInputProperties() {
	for key, o := range n.Objects {
		if o.Name == "" {
			o.Name = key
		}
		o.InputPropertiesByID = make(map[string]Property)
		o.InputProperties = make([]Property, 0)
		if o.Input == nil {
			continue
		}

		index := 0
		add := func(k string, optional bool, data interface{}) {
			nprop := NewPropertyFromInput(k, optional, data, index)
			index++
			if nprop == nil {
				slog.Debug("cannot create property", "input", k, "object", o.Name)
				return
			}
			o.InputProperties = append(o.InputProperties, nprop)
			o.InputPropertiesByID[k] = nprop
		}
		for _, k := range o.Input.OrderedRequired {
			add(k, false, o.Input.Required[k])
		}
		for _, k := range o.Input.OrderedOptional {
			add(k, true, o.Input.Optional[k])
		}
	}
}

func (n *NodeObjects) GetNodeObjectByName(name string) *NodeObject {
	val, ok := n.Objects[name]
	if ok {
		return val
	}
	return nil
}

// Names returns the node class names in sorted order.
func (n *NodeObjects) Names() []string {
	return sortedKeys(n.Objects)
}

// ComboValues returns the allowed values of class.input, or nil when either is unknown.
func (n *NodeObjects) ComboValues(class, input string) []string {
	o := n.GetNodeObjectByName(class)
	if o == nil {
		return nil
	}
	return o.ComboValues(input)
}

// DefinitionProblem classifies a DefinitionError.
type DefinitionProblem string

const (
	MissingClass DefinitionProblem = "missing_class"
	MissingInput DefinitionProblem = "missing_input"
	InvalidValue DefinitionProblem = "invalid_value"
)

// DefinitionError is a mismatch between a graph and the server's node definitions.
type DefinitionError struct {
	Problem   DefinitionProblem
	NodeID    string
	ClassType string
	Input     string
	Err       error
}

func (e *DefinitionError) Error() string {
	switch e.Problem {
	case MissingClass:
		return fmt.Sprintf("node %s: class %s is not available on the server", e.NodeID, e.ClassType)
	case MissingInput:
		return fmt.Sprintf("node %s (%s): required input %s is not set", e.NodeID, e.ClassType, e.Input)
	}
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.ClassType, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// CheckGraph verifies that every node class exists, required inputs are set
// and literal values fit their definition. The first problem in execution order
// is returned.
func (n *NodeObjects) CheckGraph(g *WorkflowGraph) error {
	order, err := g.ExecutionOrder()
	if err != nil {
		return err
	}
	for _, id := range order {
		node := g.byID[id]
		o := n.GetNodeObjectByName(node.ClassType)
		if o == nil {
			return &DefinitionError{Problem: MissingClass, NodeID: id, ClassType: node.ClassType}
		}
		for _, p := range o.InputProperties {
			v, ok := node.Inputs[p.Name()]
			if !ok {
				if !p.Optional() {
					return &DefinitionError{Problem: MissingInput, NodeID: id, ClassType: node.ClassType, Input: p.Name()}
				}
				continue
			}
			if err := p.Check(v); err != nil {
				return &DefinitionError{Problem: InvalidValue, NodeID: id, ClassType: node.ClassType, Input: p.Name(), Err: err}
			}
		}
	}
	return nil
}

// sortedObjects is used by Filter to return matches in a stable order.
func (n *NodeObjects) sortedObjects() []*NodeObject {
	retv := make([]*NodeObject, 0, len(n.Objects))
	for _, k := range n.Names() {
		retv = append(retv, n.Objects[k])
	}
	return retv
}
