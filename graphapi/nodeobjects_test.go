package graphapi

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadObjects(t *testing.T) *NodeObjects {
	t.Helper()
	data, err := os.ReadFile("testdata/object_info.json")
	require.NoError(t, err)
	objs, err := ParseNodeObjects(data)
	require.NoError(t, err)
	return objs
}

func TestParseNodeObjectsKeepsInputOrder(t *testing.T) {
	objs := loadObjects(t)
	ks := objs.GetNodeObjectByName("KSampler")
	require.NotNil(t, ks)

	names := make([]string, 0)
	for _, p := range ks.InputProperties {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"model", "seed", "steps", "cfg", "sampler_name", "scheduler", "positive", "negative", "latent_image", "denoise"}, names)

	settable := make([]string, 0)
	for _, p := range ks.GetSettableProperties() {
		settable = append(settable, p.Name())
	}
	assert.Equal(t, []string{"seed", "steps", "cfg", "sampler_name", "scheduler", "denoise"}, settable)
	assert.Nil(t, objs.GetNodeObjectByName("Missing"))
}

func TestPropertyTypes(t *testing.T) {
	objs := loadObjects(t)
	ks := objs.GetNodeObjectByName("KSampler")

	assert.Equal(t, "MODEL", ks.InputPropertiesByID["model"].TypeString())
	assert.Equal(t, "INT", ks.InputPropertiesByID["steps"].TypeString())
	assert.Equal(t, "FLOAT", ks.InputPropertiesByID["cfg"].TypeString())
	assert.Equal(t, "COMBO", ks.InputPropertiesByID["sampler_name"].TypeString())

	// ["COMBO", {"options": [...]}] form
	assert.Equal(t, []string{"normal", "karras", "simple"}, ks.ComboValues("scheduler"))

	steps := ks.InputPropertiesByID["steps"].(*IntProperty)
	assert.Equal(t, int64(20), steps.Default)
	assert.True(t, steps.HasRange())
	assert.Equal(t, int64(1), steps.Min)

	lora := objs.GetNodeObjectByName("LoraLoader")
	enabled := lora.InputPropertiesByID["enabled"].(*BoolProperty)
	assert.True(t, enabled.Optional())
	assert.True(t, enabled.Default)
	assert.Equal(t, "on", enabled.LabelOn)
	assert.Equal(t, "off", enabled.LabelOff)

	assert.Equal(t, []string{"detail_tweaker.safetensors"}, objs.ComboValues("LoraLoader", "lora_name"))
	assert.Nil(t, objs.ComboValues("LoraLoader", "strength_model"))
	assert.Nil(t, objs.ComboValues("Nope", "x"))
}

func TestPropertyCheck(t *testing.T) {
	objs := loadObjects(t)
	ks := objs.GetNodeObjectByName("KSampler")

	steps := ks.InputPropertiesByID["steps"]
	assert.NoError(t, steps.Check(20))
	assert.NoError(t, steps.Check(float64(4)))
	assert.Error(t, steps.Check(0))
	assert.Error(t, steps.Check(2.5))
	assert.Error(t, steps.Check("20"))
	assert.NoError(t, steps.Check(Link("1", 0)))

	cfg := ks.InputPropertiesByID["cfg"]
	assert.NoError(t, cfg.Check(3.5))
	assert.Error(t, cfg.Check(101.0))

	sampler := ks.InputPropertiesByID["sampler_name"]
	assert.NoError(t, sampler.Check("euler"))
	err := sampler.Check("not_a_sampler")
	var cve *ComboValueError
	require.True(t, errors.As(err, &cve))
	assert.Equal(t, "not_a_sampler", cve.Value)

	model := ks.InputPropertiesByID["model"]
	assert.NoError(t, model.Check(Link("4", 0)))
	assert.Error(t, model.Check("model.safetensors"))

	seed := ks.InputPropertiesByID["seed"]
	assert.NoError(t, seed.Check(int64(1<<40)))
}

func TestCheckGraph(t *testing.T) {
	objs := loadObjects(t)
	g, err := ParsePrompt(loadSD15(t))
	require.NoError(t, err)
	assert.NoError(t, objs.CheckGraph(g))

	// model file that is not installed
	bad, err := NewGraphBuilderFromPrompt(loadSD15(t))
	require.NoError(t, err)
	bad.SetInput(At("4", "ckpt_name"), "flux1-dev.safetensors")
	bg, err := bad.Build()
	require.NoError(t, err)
	err = objs.CheckGraph(bg)
	var de *DefinitionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, InvalidValue, de.Problem)
	assert.Equal(t, "4", de.NodeID)
	assert.Equal(t, "ckpt_name", de.Input)
	var cve *ComboValueError
	assert.True(t, errors.As(err, &cve))

	// class unknown to the server
	b := NewGraphBuilder()
	b.AddNode("UnetLoaderGGUF", "", map[string]interface{}{"unet_name": "x.gguf"})
	ug, err := b.Build()
	require.NoError(t, err)
	err = objs.CheckGraph(ug)
	require.True(t, errors.As(err, &de))
	assert.Equal(t, MissingClass, de.Problem)

	// required input absent
	b = NewGraphBuilder()
	b.AddNode("EmptyLatentImage", "", map[string]interface{}{"width": 512, "height": 512})
	lg, err := b.Build()
	require.NoError(t, err)
	err = objs.CheckGraph(lg)
	require.True(t, errors.As(err, &de))
	assert.Equal(t, MissingInput, de.Problem)
	assert.Equal(t, "batch_size", de.Input)
}

func TestFilter(t *testing.T) {
	objs := loadObjects(t)

	loaders, err := objs.Filter(`category == "loaders"`)
	require.NoError(t, err)
	names := make([]string, 0)
	for _, o := range loaders {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"CheckpointLoaderSimple", "LoraLoader"}, names)

	outputs, err := objs.Filter(`output_node`)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "SaveImage", outputs[0].Name)

	latent, err := objs.Filter(`"LATENT" in outputs && "width" in required`)
	require.NoError(t, err)
	require.Len(t, latent, 1)
	assert.Equal(t, "EmptyLatentImage", latent[0].Name)

	_, err = objs.Filter(`category ==`)
	assert.Error(t, err)
	_, err = objs.Filter(`name`)
	assert.Error(t, err, "non boolean expressions are rejected")
}
