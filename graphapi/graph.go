package graphapi

import (
	"container/heap"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Ref links a node input to an output slot of another node in the same graph.
// On the wire it is the two element array ["nodeId", outputIndex].
type Ref struct {
	NodeID string
	Output int
}

// Link is shorthand for Ref{NodeID: nodeID, Output: output}.
func Link(nodeID string, output int) Ref {
	return Ref{NodeID: nodeID, Output: output}
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.NodeID, r.Output})
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ref, ok := asRef(raw)
	if !ok {
		return fmt.Errorf("not a node link: %s", string(b))
	}
	*r = ref
	return nil
}

// asRef recognises a link among decoded input values.
func asRef(v interface{}) (Ref, bool) {
	switch t := v.(type) {
	case Ref:
		return t, true
	case *Ref:
		if t != nil {
			return *t, true
		}
	case []interface{}:
		if len(t) != 2 {
			return Ref{}, false
		}
		id, ok := t[0].(string)
		if !ok {
			return Ref{}, false
		}
		idx, ok := toInt(t[1])
		if !ok {
			return Ref{}, false
		}
		return Ref{NodeID: id, Output: idx}, true
	}
	return Ref{}, false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

type NodeMeta struct {
	Title string `json:"title,omitempty"`
}

// Node is one operation of a workflow graph. Input values are literals or Refs.
type Node struct {
	ID        string                 `json:"-"`
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
	Meta      NodeMeta               `json:"_meta"`
}

func (n *Node) clone() *Node {
	retv := &Node{ID: n.ID, ClassType: n.ClassType, Meta: n.Meta, Inputs: make(map[string]interface{}, len(n.Inputs))}
	for k, v := range n.Inputs {
		retv.Inputs[k] = cloneValue(v)
	}
	return retv
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		c := make([]interface{}, len(t))
		for i := range t {
			c[i] = cloneValue(t[i])
		}
		return c
	case map[string]interface{}:
		c := make(map[string]interface{}, len(t))
		for k, e := range t {
			c[k] = cloneValue(e)
		}
		return c
	}
	return v
}

// InputPath addresses one input of one node.
type InputPath struct {
	NodeID string
	Input  string
}

// At is shorthand for InputPath{NodeID: nodeID, Input: input}.
func At(nodeID, input string) InputPath {
	return InputPath{NodeID: nodeID, Input: input}
}

func (p InputPath) String() string {
	return p.NodeID + ".inputs." + p.Input
}

// ParseInputPath reads the form produced by InputPath.String.
func ParseInputPath(s string) (InputPath, error) {
	id, input, ok := strings.Cut(s, ".inputs.")
	if !ok || id == "" || input == "" {
		return InputPath{}, fmt.Errorf("malformed input path %q", s)
	}
	return InputPath{NodeID: id, Input: input}, nil
}

// Binding ties a declared input name to the node input that carries it. Mirrors
// are further node inputs that must always hold the same value, e.g. the width
// consumed by both the latent and the model sampling node.
type Binding struct {
	Path    InputPath
	Mirrors []InputPath
}

// Targets returns the primary path followed by the mirrors.
func (b Binding) Targets() []InputPath {
	return append([]InputPath{b.Path}, b.Mirrors...)
}

// OutputSlot names the node output that holds a declared result.
type OutputSlot struct {
	NodeID string `json:"node_id"`
	Output int    `json:"output"`
}

// WorkflowGraph is a validated, immutable node graph with its declared inputs
// and outputs. Use WithInputs to derive a graph with different values.
type WorkflowGraph struct {
	id       string
	nodes    []*Node
	byID     map[string]*Node
	inputs   []string
	bindings map[string]Binding
	outputs  map[string]OutputSlot
}

func (g *WorkflowGraph) ID() string { return g.id }

func (g *WorkflowGraph) Len() int { return len(g.nodes) }

// Nodes returns copies of the nodes in declaration order.
func (g *WorkflowGraph) Nodes() []Node {
	retv := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		retv = append(retv, *n.clone())
	}
	return retv
}

func (g *WorkflowGraph) Node(id string) (Node, bool) {
	n, ok := g.byID[id]
	if !ok {
		return Node{}, false
	}
	return *n.clone(), true
}

// NodesByClass returns the ids of every node of the given class, in declaration order.
func (g *WorkflowGraph) NodesByClass(classType string) []string {
	retv := make([]string, 0)
	for _, n := range g.nodes {
		if n.ClassType == classType {
			retv = append(retv, n.ID)
		}
	}
	return retv
}

func (g *WorkflowGraph) DeclaredInputs() []string {
	return append([]string(nil), g.inputs...)
}

func (g *WorkflowGraph) Binding(name string) (Binding, bool) {
	b, ok := g.bindings[name]
	return b, ok
}

func (g *WorkflowGraph) Bindings() map[string]Binding {
	retv := make(map[string]Binding, len(g.bindings))
	for k, b := range g.bindings {
		retv[k] = Binding{Path: b.Path, Mirrors: append([]InputPath(nil), b.Mirrors...)}
	}
	return retv
}

func (g *WorkflowGraph) DeclaredOutputs() map[string]OutputSlot {
	retv := make(map[string]OutputSlot, len(g.outputs))
	for k, v := range g.outputs {
		retv[k] = v
	}
	return retv
}

func (g *WorkflowGraph) Output(name string) (OutputSlot, bool) {
	s, ok := g.outputs[name]
	return s, ok
}

// InputValue returns the current value of a declared input.
func (g *WorkflowGraph) InputValue(name string) (interface{}, bool) {
	b, ok := g.bindings[name]
	if !ok {
		return nil, false
	}
	n, ok := g.byID[b.Path.NodeID]
	if !ok {
		return nil, false
	}
	v, ok := n.Inputs[b.Path.Input]
	return v, ok
}

// WithInputs returns a copy of the graph with declared inputs rebound to new
// literal values. Mirrors follow their primary binding. The receiver is not
// modified and topology cannot change.
func (g *WorkflowGraph) WithInputs(values map[string]interface{}) (*WorkflowGraph, error) {
	for _, name := range sortedKeys(values) {
		if _, ok := g.bindings[name]; !ok {
			return nil, &GraphError{Kind: ErrUnknownInput, Msg: name}
		}
		if _, isRef := asRef(values[name]); isRef {
			return nil, invalidf("", "declared input %s cannot be bound to a link", name)
		}
	}

	retv := g.clone()
	for name, v := range values {
		for _, p := range retv.bindings[name].Targets() {
			retv.byID[p.NodeID].Inputs[p.Input] = cloneValue(v)
		}
	}
	return retv, nil
}

func (g *WorkflowGraph) clone() *WorkflowGraph {
	retv := &WorkflowGraph{
		id:       g.id,
		nodes:    make([]*Node, 0, len(g.nodes)),
		byID:     make(map[string]*Node, len(g.nodes)),
		inputs:   g.DeclaredInputs(),
		bindings: g.Bindings(),
		outputs:  g.DeclaredOutputs(),
	}
	for _, n := range g.nodes {
		c := n.clone()
		retv.nodes = append(retv.nodes, c)
		retv.byID[c.ID] = c
	}
	return retv
}

// Validate checks that every link resolves, every binding and output targets an
// existing node input, and that the graph is acyclic.
func (g *WorkflowGraph) Validate() error {
	for _, n := range g.nodes {
		if n.ClassType == "" {
			return invalidf(n.ID, "node %s has no class_type", n.ID)
		}
		for _, name := range sortedKeys(n.Inputs) {
			ref, ok := asRef(n.Inputs[name])
			if !ok {
				continue
			}
			if _, ok := g.byID[ref.NodeID]; !ok {
				return invalidf(n.ID, "input %s of node %s references missing node %s", name, n.ID, ref.NodeID)
			}
			if ref.Output < 0 {
				return invalidf(n.ID, "input %s of node %s references negative output %d", name, n.ID, ref.Output)
			}
		}
	}

	for _, name := range g.inputs {
		b, ok := g.bindings[name]
		if !ok {
			return invalidf("", "declared input %s has no binding", name)
		}
		for _, p := range b.Targets() {
			n, ok := g.byID[p.NodeID]
			if !ok {
				return invalidf(p.NodeID, "declared input %s binds missing node %s", name, p.NodeID)
			}
			v, ok := n.Inputs[p.Input]
			if !ok {
				return invalidf(p.NodeID, "declared input %s binds missing input %s", name, p)
			}
			if _, isRef := asRef(v); isRef {
				return invalidf(p.NodeID, "declared input %s binds linked input %s", name, p)
			}
		}
	}

	for _, name := range sortedKeys(g.outputs) {
		slot := g.outputs[name]
		if _, ok := g.byID[slot.NodeID]; !ok {
			return invalidf(slot.NodeID, "declared output %s targets missing node %s", name, slot.NodeID)
		}
		if slot.Output < 0 {
			return invalidf(slot.NodeID, "declared output %s targets negative slot %d", name, slot.Output)
		}
	}

	_, err := g.ExecutionOrder()
	return err
}

type intMinHeap []int

func (h intMinHeap) Len() int            { return len(h) }
func (h intMinHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// edges returns, per node index, the indices of nodes consuming its outputs.
func (g *WorkflowGraph) edges() ([][]int, []int) {
	index := make(map[string]int, len(g.nodes))
	for i, n := range g.nodes {
		index[n.ID] = i
	}
	outgoing := make([][]int, len(g.nodes))
	indeg := make([]int, len(g.nodes))
	for i, n := range g.nodes {
		seen := make(map[int]bool)
		for _, v := range n.Inputs {
			ref, ok := asRef(v)
			if !ok {
				continue
			}
			j, ok := index[ref.NodeID]
			if !ok || seen[j] {
				continue
			}
			seen[j] = true
			outgoing[j] = append(outgoing[j], i)
			indeg[i]++
		}
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
	}
	return outgoing, indeg
}

// ExecutionOrder returns node ids in a dependency respecting order. Ties are
// broken by declaration order so the result is stable.
func (g *WorkflowGraph) ExecutionOrder() ([]string, error) {
	outgoing, indeg := g.edges()

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	retv := make([]string, 0, len(g.nodes))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		retv = append(retv, g.nodes[n].ID)
		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	if len(retv) != len(g.nodes) {
		return nil, cycleError(g.findCycle(outgoing))
	}
	return retv, nil
}

// findCycle walks the graph depth first and returns one cycle, first node
// repeated at the end.
func (g *WorkflowGraph) findCycle(outgoing [][]int) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}

	retv := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		retv = append(retv, g.nodes[cycle[i]].ID)
	}
	return retv
}

// GraphBuilder assembles a WorkflowGraph. Nodes receive the ids "1", "2", ...
// in the order they are added.
type GraphBuilder struct {
	nodes    []*Node
	byID     map[string]*Node
	inputs   []string
	bindings map[string]Binding
	outputs  map[string]OutputSlot
	nextID   int
	err      error
}

func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		byID:     make(map[string]*Node),
		bindings: make(map[string]Binding),
		outputs:  make(map[string]OutputSlot),
		nextID:   1,
	}
}

func (b *GraphBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// AddNode appends a node and returns its id.
func (b *GraphBuilder) AddNode(classType string, title string, inputs map[string]interface{}) string {
	id := strconv.Itoa(b.nextID)
	for b.byID[id] != nil {
		b.nextID++
		id = strconv.Itoa(b.nextID)
	}
	b.nextID++
	b.addNode(id, classType, title, inputs)
	return id
}

func (b *GraphBuilder) addNode(id, classType, title string, inputs map[string]interface{}) {
	if _, dup := b.byID[id]; dup {
		b.fail(invalidf(id, "duplicate node id %s", id))
		return
	}
	n := &Node{ID: id, ClassType: classType, Meta: NodeMeta{Title: title}, Inputs: make(map[string]interface{}, len(inputs))}
	for k, v := range inputs {
		n.Inputs[k] = cloneValue(v)
	}
	b.nodes = append(b.nodes, n)
	b.byID[id] = n
	if i, err := strconv.Atoi(id); err == nil && i >= b.nextID {
		b.nextID = i + 1
	}
}

// SetInput overwrites one input of an already added node.
func (b *GraphBuilder) SetInput(path InputPath, value interface{}) {
	n, ok := b.byID[path.NodeID]
	if !ok {
		b.fail(invalidf(path.NodeID, "cannot set %s: no such node", path))
		return
	}
	n.Inputs[path.Input] = cloneValue(value)
}

// DeclareInput exposes a node input under name and sets it, and every mirror,
// to value.
func (b *GraphBuilder) DeclareInput(name string, value interface{}, path InputPath, mirrors ...InputPath) {
	if _, dup := b.bindings[name]; dup {
		b.fail(invalidf(path.NodeID, "input %s declared twice", name))
		return
	}
	binding := Binding{Path: path, Mirrors: append([]InputPath(nil), mirrors...)}
	for _, p := range binding.Targets() {
		b.SetInput(p, value)
	}
	b.inputs = append(b.inputs, name)
	b.bindings[name] = binding
}

func (b *GraphBuilder) DeclareOutput(name string, slot OutputSlot) {
	if _, dup := b.outputs[name]; dup {
		b.fail(invalidf(slot.NodeID, "output %s declared twice", name))
		return
	}
	b.outputs[name] = slot
}

// Build validates and returns the graph. The builder may keep being used; the
// graph does not share state with it.
func (b *GraphBuilder) Build() (*WorkflowGraph, error) {
	if b.err != nil {
		return nil, b.err
	}
	staged := &WorkflowGraph{
		nodes:    b.nodes,
		byID:     b.byID,
		inputs:   b.inputs,
		bindings: b.bindings,
		outputs:  b.outputs,
	}
	g := staged.clone()
	g.id = uuid.NewString()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func sortedKeys[V any](m map[string]V) []string {
	retv := make([]string, 0, len(m))
	for k := range m {
		retv = append(retv, k)
	}
	sort.Strings(retv)
	return retv
}

// IsGraphError reports whether err is a structural graph problem.
func IsGraphError(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge)
}
