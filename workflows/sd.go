package workflows

import (
	"context"

	"github.com/richinsley/comfyflow/graphapi"
	"github.com/richinsley/comfyflow/modelregistry"
)

var (
	SD35Defaults      = Defaults{Width: 1024, Height: 1024, Steps: 28, CFG: 4.5, SamplerName: "euler", Scheduler: "sgm_uniform"}
	SD35TurboDefaults = Defaults{Width: 1024, Height: 1024, Steps: 4, CFG: 1.0, SamplerName: "euler", Scheduler: "sgm_uniform"}
	SDXLDefaults      = Defaults{Width: 1024, Height: 1024, Steps: 25, CFG: 7.0, SamplerName: "euler", Scheduler: "normal"}
	SDXLTurboDefaults = Defaults{Width: 512, Height: 512, Steps: 1, CFG: 1.0, SamplerName: "euler_ancestral", Scheduler: "normal"}
	SD15Defaults      = Defaults{Width: 512, Height: 512, Steps: 20, CFG: 7.0, SamplerName: "euler", Scheduler: "normal"}
)

// SD35Builder builds Stable Diffusion 3.5 graphs: checkpoint weights with the
// three text encoders loaded separately.
type SD35Builder struct {
	Defaults Defaults
}

// SDXLBuilder builds SDXL graphs. The standalone VAE is used when installed,
// the checkpoint's own otherwise.
type SDXLBuilder struct {
	Defaults Defaults
}

// SD15Builder builds Stable Diffusion 1.5 graphs.
type SD15Builder struct {
	Defaults Defaults
}

func addCheckpoint(b *graphapi.GraphBuilder, p *prepared) string {
	return b.AddNode("CheckpointLoaderSimple", "Load Checkpoint", map[string]interface{}{
		"ckpt_name": p.modelFile,
	})
}

func (sb *SD35Builder) Build(ctx context.Context, model modelregistry.ModelConfig, params Params, bc *BuildContext) (*graphapi.WorkflowGraph, error) {
	p, err := prepare(ctx, model, params, bc, sb.Defaults,
		modelregistry.ComponentCLIPL, modelregistry.ComponentCLIPG, modelregistry.ComponentT5)
	if err != nil {
		return nil, err
	}

	b := graphapi.NewGraphBuilder()
	ckpt := addCheckpoint(b, p)
	clip := b.AddNode("TripleCLIPLoader", "TripleCLIPLoader", map[string]interface{}{
		"clip_name1": p.components[modelregistry.ComponentCLIPL],
		"clip_name2": p.components[modelregistry.ComponentCLIPG],
		"clip_name3": p.components[modelregistry.ComponentT5],
	})
	modelRef, clipRef := applyLoras(b, p.params.Loras, graphapi.Link(ckpt, 0), refPtr(graphapi.Link(clip, 0)))

	positive := b.AddNode("CLIPTextEncodeSD3", "Positive", map[string]interface{}{
		"clip":          *clipRef,
		"clip_l":        p.style,
		"clip_g":        p.style,
		"t5xxl":         p.full,
		"empty_padding": "none",
	})
	negative := b.AddNode("CLIPTextEncodeSD3", "Negative", map[string]interface{}{
		"clip":          *clipRef,
		"clip_l":        p.params.NegativePrompt,
		"clip_g":        p.params.NegativePrompt,
		"t5xxl":         p.params.NegativePrompt,
		"empty_padding": "none",
	})
	latent := b.AddNode("EmptySD3LatentImage", "Empty Latent Image", map[string]interface{}{
		"batch_size": p.params.BatchSize,
	})
	sampler := addSampler(b, modelRef, graphapi.Link(positive, 0), graphapi.Link(negative, 0), graphapi.Link(latent, 0), nil)
	save := addDecodeAndSave(b, p, graphapi.Link(sampler, 0), graphapi.Link(ckpt, 2))

	return finish(b, p, sampler, save,
		graphapi.At(sampler, "cfg"), nil,
		[]graphapi.InputPath{graphapi.At(latent, "width")},
		[]graphapi.InputPath{graphapi.At(latent, "height")},
	)
}

func (sb *SDXLBuilder) Build(ctx context.Context, model modelregistry.ModelConfig, params Params, bc *BuildContext) (*graphapi.WorkflowGraph, error) {
	p, err := prepare(ctx, model, params, bc, sb.Defaults)
	if err != nil {
		return nil, err
	}
	vaeName, haveVAE, err := resolveOptional(ctx, bc, modelregistry.ComponentVAE, model.Family)
	if err != nil {
		return nil, err
	}

	b := graphapi.NewGraphBuilder()
	ckpt := addCheckpoint(b, p)
	vae := graphapi.Link(ckpt, 2)
	if haveVAE {
		vae = graphapi.Link(b.AddNode("VAELoader", "Load VAE", map[string]interface{}{"vae_name": vaeName}), 0)
	}
	modelRef, clipRef := applyLoras(b, p.params.Loras, graphapi.Link(ckpt, 0), refPtr(graphapi.Link(ckpt, 1)))

	// text_g carries the full prompt, text_l the style keywords
	encode := func(title, textG, textL string) string {
		return b.AddNode("CLIPTextEncodeSDXL", title, map[string]interface{}{
			"clip":   *clipRef,
			"crop_w": 0,
			"crop_h": 0,
			"text_g": textG,
			"text_l": textL,
		})
	}
	positive := encode("Positive", p.full, p.style)
	negative := encode("Negative", p.params.NegativePrompt, p.params.NegativePrompt)
	latent := b.AddNode("EmptyLatentImage", "Empty Latent Image", map[string]interface{}{
		"batch_size": p.params.BatchSize,
	})
	sampler := addSampler(b, modelRef, graphapi.Link(positive, 0), graphapi.Link(negative, 0), graphapi.Link(latent, 0), nil)
	save := addDecodeAndSave(b, p, graphapi.Link(sampler, 0), vae)

	dims := func(input string) []graphapi.InputPath {
		return []graphapi.InputPath{
			graphapi.At(latent, input),
			graphapi.At(positive, input),
			graphapi.At(positive, "target_"+input),
			graphapi.At(negative, input),
			graphapi.At(negative, "target_"+input),
		}
	}
	return finish(b, p, sampler, save, graphapi.At(sampler, "cfg"), nil, dims("width"), dims("height"))
}

func (sb *SD15Builder) Build(ctx context.Context, model modelregistry.ModelConfig, params Params, bc *BuildContext) (*graphapi.WorkflowGraph, error) {
	p, err := prepare(ctx, model, params, bc, sb.Defaults)
	if err != nil {
		return nil, err
	}
	vaeName, haveVAE, err := resolveOptional(ctx, bc, modelregistry.ComponentVAE, model.Family)
	if err != nil {
		return nil, err
	}

	b := graphapi.NewGraphBuilder()
	ckpt := addCheckpoint(b, p)
	vae := graphapi.Link(ckpt, 2)
	if haveVAE {
		vae = graphapi.Link(b.AddNode("VAELoader", "Load VAE", map[string]interface{}{"vae_name": vaeName}), 0)
	}
	modelRef, clipRef := applyLoras(b, p.params.Loras, graphapi.Link(ckpt, 0), refPtr(graphapi.Link(ckpt, 1)))

	positive := b.AddNode("CLIPTextEncode", "Positive", map[string]interface{}{
		"clip": *clipRef,
		"text": p.full,
	})
	negative := b.AddNode("CLIPTextEncode", "Negative", map[string]interface{}{
		"clip": *clipRef,
		"text": p.params.NegativePrompt,
	})
	latent := b.AddNode("EmptyLatentImage", "Empty Latent Image", map[string]interface{}{
		"batch_size": p.params.BatchSize,
	})
	sampler := addSampler(b, modelRef, graphapi.Link(positive, 0), graphapi.Link(negative, 0), graphapi.Link(latent, 0), nil)
	save := addDecodeAndSave(b, p, graphapi.Link(sampler, 0), vae)

	return finish(b, p, sampler, save,
		graphapi.At(sampler, "cfg"), nil,
		[]graphapi.InputPath{graphapi.At(latent, "width")},
		[]graphapi.InputPath{graphapi.At(latent, "height")},
	)
}

func refPtr(r graphapi.Ref) *graphapi.Ref {
	return &r
}
