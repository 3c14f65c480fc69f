// Package workflows assembles ComfyUI node graphs for each supported model family.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/graphapi"
	"github.com/richinsley/comfyflow/modelregistry"
	"github.com/richinsley/comfyflow/prompt"
	"github.com/richinsley/comfyflow/seed"
)

// names of the inputs every built graph declares
const (
	InputWidth       = "width"
	InputHeight      = "height"
	InputSteps       = "steps"
	InputCFG         = "cfg"
	InputSeed        = "seed"
	InputSamplerName = "samplerName"
	InputScheduler   = "scheduler"

	OutputImages = "images"
)

// DeclaredInputNames lists the declared inputs in declaration order.
var DeclaredInputNames = []string{InputWidth, InputHeight, InputSteps, InputCFG, InputSeed, InputSamplerName, InputScheduler}

// Lora is an optional LoRA applied on top of the base model.
type Lora struct {
	Name          string  `json:"name"`
	StrengthModel float64 `json:"strength_model"`
	StrengthClip  float64 `json:"strength_clip"`
}

// Params is an image generation request. Zero values are replaced by the
// family defaults before validation.
type Params struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Model          string  `json:"model"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	CFG            float64 `json:"cfg,omitempty"`
	SamplerName    string  `json:"sampler_name,omitempty"`
	Scheduler      string  `json:"scheduler,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	BatchSize      int     `json:"batch_size,omitempty"`
	FilenamePrefix string  `json:"filename_prefix,omitempty"`
	Loras          []Lora  `json:"loras,omitempty"`
}

// Seed returns a pointer to v for Params.Seed.
func Seed(v int64) *int64 {
	return &v
}

// Defaults are the per family values used for zero Params fields.
type Defaults struct {
	Width       int
	Height      int
	Steps       int
	CFG         float64
	SamplerName string
	Scheduler   string
}

// WithDefaults fills zero fields of p from d.
func (p Params) WithDefaults(d Defaults) Params {
	if p.Width == 0 {
		p.Width = d.Width
	}
	if p.Height == 0 {
		p.Height = d.Height
	}
	if p.Steps == 0 {
		p.Steps = d.Steps
	}
	if p.CFG == 0 {
		p.CFG = d.CFG
	}
	if p.SamplerName == "" {
		p.SamplerName = d.SamplerName
	}
	if p.Scheduler == "" {
		p.Scheduler = d.Scheduler
	}
	if p.BatchSize == 0 {
		p.BatchSize = 1
	}
	if p.FilenamePrefix == "" {
		p.FilenamePrefix = "comfyflow"
	}
	return p
}

func invalidParam(field string, format string, args ...interface{}) error {
	return comfyerr.NewWorkflowError(comfyerr.ReasonInvalidParams, fmt.Sprintf(format, args...),
		map[string]interface{}{"field": field})
}

// Validate checks a request after defaults have been applied.
func (p Params) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return invalidParam("prompt", "prompt is required")
	}
	for _, d := range []struct {
		name  string
		value int
	}{{"width", p.Width}, {"height", p.Height}} {
		if d.value < 64 || d.value > 8192 {
			return invalidParam(d.name, "%s %d is outside [64, 8192]", d.name, d.value)
		}
		if d.value%8 != 0 {
			return invalidParam(d.name, "%s %d is not a multiple of 8", d.name, d.value)
		}
	}
	if p.Steps < 1 || p.Steps > 10000 {
		return invalidParam("steps", "steps %d is outside [1, 10000]", p.Steps)
	}
	if p.CFG < 0 || p.CFG > 100 {
		return invalidParam("cfg", "cfg %g is outside [0, 100]", p.CFG)
	}
	if p.SamplerName == "" {
		return invalidParam("samplerName", "sampler name is required")
	}
	if p.Scheduler == "" {
		return invalidParam("scheduler", "scheduler is required")
	}
	if p.Seed != nil && *p.Seed < 0 {
		return invalidParam("seed", "seed %d is negative", *p.Seed)
	}
	if p.BatchSize < 1 || p.BatchSize > 64 {
		return invalidParam("batchSize", "batch size %d is outside [1, 64]", p.BatchSize)
	}
	for i, l := range p.Loras {
		if strings.TrimSpace(l.Name) == "" {
			return invalidParam("loras", "lora %d has no name", i)
		}
	}
	return nil
}

// BuildContext carries the collaborators a Builder needs.
type BuildContext struct {
	Resolver *modelregistry.Resolver
	Seeds    seed.Generator
	// Registry is used for precision selection; the resolver's registry when nil.
	Registry *modelregistry.Registry
}

func (bc *BuildContext) registry() *modelregistry.Registry {
	if bc.Registry != nil {
		return bc.Registry
	}
	if bc.Resolver != nil {
		return bc.Resolver.Registry()
	}
	return nil
}

// Builder produces the graph for one model family.
type Builder interface {
	Build(ctx context.Context, model modelregistry.ModelConfig, params Params, bc *BuildContext) (*graphapi.WorkflowGraph, error)
}

// prepared holds everything computed before topology assembly.
type prepared struct {
	params     Params
	model      modelregistry.ModelConfig
	modelFile  string
	components map[modelregistry.ComponentType]string
	full       string
	style      string
	precision  modelregistry.Precision
	seed       int64
}

// prepare runs the steps shared by every family: defaults and validation,
// component resolution, prompt split, precision selection and seed injection.
// Any failure aborts the build.
func prepare(ctx context.Context, model modelregistry.ModelConfig, params Params, bc *BuildContext, defaults Defaults, required ...modelregistry.ComponentType) (*prepared, error) {
	if bc == nil || bc.Resolver == nil {
		return nil, comfyerr.NewWorkflowError(comfyerr.ReasonInvalidConfig, "build context has no resolver", nil)
	}

	params = params.WithDefaults(defaults)
	if err := params.Validate(); err != nil {
		return nil, err
	}

	p := &prepared{
		params:     params,
		model:      model,
		modelFile:  model.Filename,
		components: make(map[modelregistry.ComponentType]string, len(required)),
	}
	if params.Model != "" {
		p.modelFile = params.Model
	}

	for _, ctype := range required {
		name, err := resolve(ctx, bc, ctype, model.Family)
		if err != nil {
			return nil, err
		}
		p.components[ctype] = name
	}

	p.full, p.style = prompt.Split(params.Prompt)
	// modelFile may carry the backend's subfolder, the registry entry does not.
	// Checkpoints embed their dtype, so only UNet loaders take a precision.
	p.precision = modelregistry.PrecisionDefault
	if model.Loader == modelregistry.LoaderUNet {
		key := p.modelFile
		if model.Filename != "" {
			key = model.Filename
		}
		p.precision = modelregistry.SelectPrecision(bc.registry(), key)
	}

	if params.Seed != nil {
		p.seed = *params.Seed
	} else {
		if bc.Seeds == nil {
			return nil, comfyerr.NewWorkflowError(comfyerr.ReasonInvalidConfig, "no seed given and no seed generator configured", nil)
		}
		seeds, err := bc.Seeds.GenerateSeeds(1)
		if err != nil || len(seeds) != 1 {
			return nil, comfyerr.NewWorkflowError(comfyerr.ReasonInvalidConfig, "seed generation failed", nil).Wrap(err)
		}
		p.seed = seeds[0]
	}

	slog.Debug("prepared workflow build",
		"family", model.Family, "variant", model.Variant, "model", p.modelFile,
		"precision", p.precision, "seed", p.seed)
	return p, nil
}

// resolve looks up one component. A missing text encoder is reported as a
// workflow error; transport failures and missing decoders pass through.
func resolve(ctx context.Context, bc *BuildContext, ctype modelregistry.ComponentType, family modelregistry.Family) (string, error) {
	rc, err := bc.Resolver.ResolveComponent(ctx, modelregistry.ComponentRequest{Type: ctype, Family: family})
	if err == nil {
		return rc.Filename, nil
	}
	var de *comfyerr.Error
	if ctype.IsEncoder() && errors.As(err, &de) && de.Reason == comfyerr.ReasonComponentUnavailable {
		details := map[string]interface{}{"component": string(ctype), "family": string(family)}
		for k, v := range de.Details {
			details[k] = v
		}
		return "", comfyerr.NewWorkflowError(comfyerr.ReasonMissingEncoder,
			fmt.Sprintf("no %s text encoder available for %s", ctype, family), details).Wrap(err)
	}
	return "", err
}

// resolveOptional is resolve for components the family can do without.
func resolveOptional(ctx context.Context, bc *BuildContext, ctype modelregistry.ComponentType, family modelregistry.Family) (string, bool, error) {
	name, err := resolve(ctx, bc, ctype, family)
	if err == nil {
		return name, true, nil
	}
	var de *comfyerr.Error
	if errors.As(err, &de) && de.Reason == comfyerr.ReasonComponentUnavailable {
		slog.Debug("optional component unavailable", "component", ctype, "family", family)
		return "", false, nil
	}
	return "", false, err
}

// finish declares the inputs and the images output shared by every family.
func finish(b *graphapi.GraphBuilder, p *prepared, sampler, save string, cfg graphapi.InputPath, cfgMirrors []graphapi.InputPath, width, height []graphapi.InputPath) (*graphapi.WorkflowGraph, error) {
	b.DeclareInput(InputWidth, p.params.Width, width[0], width[1:]...)
	b.DeclareInput(InputHeight, p.params.Height, height[0], height[1:]...)
	b.DeclareInput(InputSteps, p.params.Steps, graphapi.At(sampler, "steps"))
	b.DeclareInput(InputCFG, p.params.CFG, cfg, cfgMirrors...)
	b.DeclareInput(InputSeed, p.seed, graphapi.At(sampler, "seed"))
	b.DeclareInput(InputSamplerName, p.params.SamplerName, graphapi.At(sampler, "sampler_name"))
	b.DeclareInput(InputScheduler, p.params.Scheduler, graphapi.At(sampler, "scheduler"))
	b.DeclareOutput(OutputImages, graphapi.OutputSlot{NodeID: save, Output: 0})

	g, err := b.Build()
	if err != nil {
		return nil, comfyerr.NewWorkflowError(comfyerr.ReasonInvalidConfig, "assembled graph is invalid", nil).Wrap(err)
	}
	return g, nil
}

// applyLoras chains LoRA loaders after the model (and clip when given) and
// returns the final model and clip links.
func applyLoras(b *graphapi.GraphBuilder, loras []Lora, model graphapi.Ref, clip *graphapi.Ref) (graphapi.Ref, *graphapi.Ref) {
	for _, l := range loras {
		if clip == nil {
			id := b.AddNode("LoraLoaderModelOnly", "Load LoRA", map[string]interface{}{
				"model":          model,
				"lora_name":      l.Name,
				"strength_model": l.StrengthModel,
			})
			model = graphapi.Link(id, 0)
			continue
		}
		id := b.AddNode("LoraLoader", "Load LoRA", map[string]interface{}{
			"model":          model,
			"clip":           *clip,
			"lora_name":      l.Name,
			"strength_model": l.StrengthModel,
			"strength_clip":  l.StrengthClip,
		})
		model = graphapi.Link(id, 0)
		c := graphapi.Link(id, 1)
		clip = &c
	}
	return model, clip
}

// addSampler adds the KSampler node; declared values are filled in by finish.
func addSampler(b *graphapi.GraphBuilder, model, positive, negative, latent graphapi.Ref, cfg interface{}) string {
	inputs := map[string]interface{}{
		"model":        model,
		"positive":     positive,
		"negative":     negative,
		"latent_image": latent,
		"denoise":      1.0,
	}
	if cfg != nil {
		inputs["cfg"] = cfg
	}
	return b.AddNode("KSampler", "KSampler", inputs)
}

func addDecodeAndSave(b *graphapi.GraphBuilder, p *prepared, samples, vae graphapi.Ref) string {
	decode := b.AddNode("VAEDecode", "VAE Decode", map[string]interface{}{
		"samples": samples,
		"vae":     vae,
	})
	return b.AddNode("SaveImage", "Save Image", map[string]interface{}{
		"images":          graphapi.Link(decode, 0),
		"filename_prefix": p.params.FilenamePrefix,
	})
}
