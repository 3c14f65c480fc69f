package graphapi

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// filterEnv is the variable set a Filter expression sees for each node definition.
func filterEnv(o *NodeObject) map[string]interface{} {
	inputs := make([]string, 0, len(o.InputProperties))
	required := make([]string, 0, len(o.InputProperties))
	for _, p := range o.InputProperties {
		inputs = append(inputs, p.Name())
		if !p.Optional() {
			required = append(required, p.Name())
		}
	}
	outputs := append([]string{}, o.Output...)
	return map[string]interface{}{
		"name":         o.Name,
		"display_name": o.DisplayName,
		"category":     o.Category,
		"description":  o.Description,
		"output_node":  o.OutputNode,
		"inputs":       inputs,
		"required":     required,
		"outputs":      outputs,
	}
}

// Filter returns the node definitions for which the boolean expression holds,
// sorted by name. Example:
//
//	category startsWith "loaders" && "MODEL" in outputs
func (n *NodeObjects) Filter(expression string) ([]*NodeObject, error) {
	program, err := expr.Compile(expression, expr.Env(filterEnv(&NodeObject{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", expression, err)
	}

	retv := make([]*NodeObject, 0)
	for _, o := range n.sortedObjects() {
		result, err := expr.Run(program, filterEnv(o))
		if err != nil {
			return nil, fmt.Errorf("filter %q failed on %s: %w", expression, o.Name, err)
		}
		if ok, _ := result.(bool); ok {
			retv = append(retv, o)
		}
	}
	return retv, nil
}
