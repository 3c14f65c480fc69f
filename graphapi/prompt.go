package graphapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
)

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID  string                 `json:"client_id"`
	Nodes     map[string]PromptNode  `json:"prompt"`
	ExtraData map[string]interface{} `json:"extra_data,omitempty"`
}

type PromptNode struct {
	// Inputs can be one of:
	//	float64, string, bool
	//	Ref, serialized as ["target node id", output index]
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
	Meta      *NodeMeta              `json:"_meta,omitempty"`
}

// ToPrompt renders the graph as the payload for POST /prompt.
func (g *WorkflowGraph) ToPrompt(clientID string) Prompt {
	retv := Prompt{ClientID: clientID, Nodes: make(map[string]PromptNode, len(g.nodes))}
	for _, n := range g.nodes {
		c := n.clone()
		pn := PromptNode{Inputs: c.Inputs, ClassType: c.ClassType}
		if c.Meta.Title != "" {
			meta := c.Meta
			pn.Meta = &meta
		}
		retv.Nodes[c.ID] = pn
	}
	return retv
}

// MarshalJSON encodes the graph in API format, a map of node id to node.
func (g *WorkflowGraph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.ToPrompt("").Nodes)
}

// outputClasses are the node classes whose results are reported as images.
var outputClasses = map[string]bool{
	"SaveImage":    true,
	"PreviewImage": true,
}

// NewGraphBuilderFromPrompt loads an API format graph into a builder so inputs
// and outputs can be declared on it. Both the bare node map and the
// {"prompt": {...}} envelope are accepted. Numeric ids are kept in numeric order.
func NewGraphBuilderFromPrompt(data []byte) (*GraphBuilder, error) {
	nodes, err := decodePromptNodes(data)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, invalidf("", "prompt contains no nodes")
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.Atoi(ids[i])
		b, berr := strconv.Atoi(ids[j])
		switch {
		case aerr == nil && berr == nil:
			return a < b
		case aerr == nil:
			return true
		case berr == nil:
			return false
		}
		return ids[i] < ids[j]
	})

	b := NewGraphBuilder()
	for _, id := range ids {
		pn := nodes[id]
		inputs := make(map[string]interface{}, len(pn.Inputs))
		for k, v := range pn.Inputs {
			if ref, ok := asRef(v); ok {
				inputs[k] = ref
			} else {
				inputs[k] = v
			}
		}
		title := ""
		if pn.Meta != nil {
			title = pn.Meta.Title
		}
		b.addNode(id, pn.ClassType, title, inputs)
	}
	return b, b.err
}

// ParsePrompt loads an API format graph. The first SaveImage or PreviewImage
// node, if any, is declared as the "images" output. No inputs are declared.
func ParsePrompt(data []byte) (*WorkflowGraph, error) {
	b, err := NewGraphBuilderFromPrompt(data)
	if err != nil {
		return nil, err
	}
	for _, n := range b.nodes {
		if outputClasses[n.ClassType] {
			b.DeclareOutput("images", OutputSlot{NodeID: n.ID})
			break
		}
	}
	return b.Build()
}

func decodePromptNodes(data []byte) (map[string]PromptNode, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty prompt")
	}

	var envelope struct {
		Prompt map[string]PromptNode `json:"prompt"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Prompt) > 0 {
		return envelope.Prompt, nil
	}

	var nodes map[string]PromptNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}
