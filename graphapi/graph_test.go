package graphapi

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSimple assembles loader -> latent -> sampler -> save with width and
// height mirrored onto a second node.
func buildSimple(t *testing.T) *WorkflowGraph {
	t.Helper()
	b := NewGraphBuilder()
	loader := b.AddNode("CheckpointLoaderSimple", "Load Checkpoint", map[string]interface{}{"ckpt_name": "model.safetensors"})
	latent := b.AddNode("EmptyLatentImage", "", map[string]interface{}{"batch_size": 1})
	shift := b.AddNode("ModelSamplingFlux", "", map[string]interface{}{"model": Link(loader, 0)})
	sampler := b.AddNode("KSampler", "", map[string]interface{}{
		"model":        Link(shift, 0),
		"latent_image": Link(latent, 0),
	})
	save := b.AddNode("SaveImage", "", map[string]interface{}{"images": Link(sampler, 0)})

	b.DeclareInput("width", 1024, At(latent, "width"), At(shift, "width"))
	b.DeclareInput("height", 768, At(latent, "height"), At(shift, "height"))
	b.DeclareInput("steps", 20, At(sampler, "steps"))
	b.DeclareOutput("images", OutputSlot{NodeID: save})

	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestBuilderAssignsSequentialIDs(t *testing.T) {
	g := buildSimple(t)
	ids := make([]string, 0)
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
	assert.NotEmpty(t, g.ID())
	assert.Equal(t, []string{"width", "height", "steps"}, g.DeclaredInputs())

	out, ok := g.Output("images")
	require.True(t, ok)
	assert.Equal(t, "5", out.NodeID)
}

func TestDeclaredInputsAreBoundEverywhere(t *testing.T) {
	g := buildSimple(t)

	latent, _ := g.Node("2")
	shift, _ := g.Node("3")
	assert.Equal(t, 1024, latent.Inputs["width"])
	assert.Equal(t, 1024, shift.Inputs["width"])

	b, ok := g.Binding("width")
	require.True(t, ok)
	assert.Equal(t, "2.inputs.width", b.Path.String())
	assert.Equal(t, []InputPath{At("3", "width")}, b.Mirrors)
}

func TestWithInputsPropagatesToMirrorsAndKeepsOriginal(t *testing.T) {
	g := buildSimple(t)

	g2, err := g.WithInputs(map[string]interface{}{"width": 512, "steps": 4})
	require.NoError(t, err)

	latent, _ := g2.Node("2")
	shift, _ := g2.Node("3")
	assert.Equal(t, 512, latent.Inputs["width"])
	assert.Equal(t, 512, shift.Inputs["width"])
	v, _ := g2.InputValue("steps")
	assert.Equal(t, 4, v)

	// the source graph is untouched
	orig, _ := g.Node("2")
	assert.Equal(t, 1024, orig.Inputs["width"])
	v, _ = g.InputValue("steps")
	assert.Equal(t, 20, v)
}

func TestWithInputsRejectsUnknownAndLinks(t *testing.T) {
	g := buildSimple(t)

	_, err := g.WithInputs(map[string]interface{}{"nope": 1})
	assert.True(t, errors.Is(err, ErrUnknownInput))

	_, err = g.WithInputs(map[string]interface{}{"width": Link("1", 0)})
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestNodesReturnsCopies(t *testing.T) {
	g := buildSimple(t)
	nodes := g.Nodes()
	nodes[1].Inputs["width"] = 1

	latent, _ := g.Node("2")
	assert.Equal(t, 1024, latent.Inputs["width"])
}

func TestValidateDanglingReference(t *testing.T) {
	b := NewGraphBuilder()
	b.AddNode("VAEDecode", "", map[string]interface{}{"samples": Link("42", 0)})
	_, err := b.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))

	var ge *GraphError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "1", ge.NodeID)
}

func TestValidateBindingTargets(t *testing.T) {
	b := NewGraphBuilder()
	b.AddNode("KSampler", "", map[string]interface{}{})
	b.DeclareInput("steps", 20, At("99", "steps"))
	_, err := b.Build()
	assert.True(t, errors.Is(err, ErrInvalidGraph))

	b = NewGraphBuilder()
	b.AddNode("KSampler", "", map[string]interface{}{})
	b.DeclareOutput("images", OutputSlot{NodeID: "7"})
	_, err = b.Build()
	assert.True(t, errors.Is(err, ErrInvalidGraph))

	b = NewGraphBuilder()
	id := b.AddNode("KSampler", "", map[string]interface{}{})
	b.DeclareInput("steps", 20, At(id, "steps"))
	b.DeclareInput("steps", 30, At(id, "steps"))
	_, err = b.Build()
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestValidateCycle(t *testing.T) {
	b := NewGraphBuilder()
	b.AddNode("A", "", map[string]interface{}{"in": Link("3", 0)})
	b.AddNode("B", "", map[string]interface{}{"in": Link("1", 0)})
	b.AddNode("C", "", map[string]interface{}{"in": Link("2", 0)})
	_, err := b.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycle))

	var ge *GraphError
	require.True(t, errors.As(err, &ge))
	require.Len(t, ge.Cycle, 4)
	assert.Equal(t, ge.Cycle[0], ge.Cycle[3])
	assert.ElementsMatch(t, []string{"1", "2", "3"}, ge.Cycle[:3])
}

func TestExecutionOrderRespectsLinks(t *testing.T) {
	b := NewGraphBuilder()
	b.AddNode("Save", "", map[string]interface{}{"images": Link("3", 0)})
	b.AddNode("Loader", "", nil)
	b.AddNode("Decode", "", map[string]interface{}{"vae": Link("2", 0)})
	g, err := b.Build()
	require.NoError(t, err)

	order, err := g.ExecutionOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "1"}, order)
}

func TestRefJSON(t *testing.T) {
	data, err := json.Marshal(map[string]interface{}{"model": Link("4", 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":["4",1]}`, string(data))

	var r Ref
	require.NoError(t, json.Unmarshal([]byte(`["12", 2]`), &r))
	assert.Equal(t, Ref{NodeID: "12", Output: 2}, r)
	assert.Error(t, json.Unmarshal([]byte(`["12", 2.5]`), &r))
}

func TestParseInputPath(t *testing.T) {
	p, err := ParseInputPath("12.inputs.clip_l")
	require.NoError(t, err)
	assert.Equal(t, At("12", "clip_l"), p)

	_, err = ParseInputPath("12.clip_l")
	assert.Error(t, err)
}
