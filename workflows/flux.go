package workflows

import (
	"context"

	"github.com/richinsley/comfyflow/graphapi"
	"github.com/richinsley/comfyflow/modelregistry"
)

var (
	FluxDevDefaults = Defaults{Width: 1024, Height: 1024, Steps: 20, CFG: 3.5, SamplerName: "euler", Scheduler: "simple"}
	// schnell is guidance distilled; cfg stays at 1 on the sampler
	FluxSchnellDefaults = Defaults{Width: 1024, Height: 1024, Steps: 4, CFG: 1.0, SamplerName: "euler", Scheduler: "simple"}
)

// FluxDevBuilder builds guidance distilled flux graphs (dev, krea, lite). The
// cfg input drives FluxGuidance; the sampler itself runs at cfg 1.
type FluxDevBuilder struct {
	Defaults Defaults
}

// FluxSchnellBuilder builds flux schnell graphs, where cfg is the sampler cfg.
type FluxSchnellBuilder struct {
	Defaults Defaults
}

type fluxNodes struct {
	model    graphapi.Ref
	vae      graphapi.Ref
	encode   string
	negative graphapi.Ref
	latent   string
}

// addFluxBase adds the loaders, the dual channel text encoder, the zeroed
// negative conditioning and the latent.
func addFluxBase(b *graphapi.GraphBuilder, p *prepared) fluxNodes {
	var unet string
	if modelregistry.IsGGUF(p.modelFile) {
		unet = b.AddNode("UnetLoaderGGUF", "Unet Loader (GGUF)", map[string]interface{}{
			"unet_name": p.modelFile,
		})
	} else {
		unet = b.AddNode("UNETLoader", "Load Diffusion Model", map[string]interface{}{
			"unet_name":    p.modelFile,
			"weight_dtype": string(p.precision),
		})
	}
	clip := b.AddNode("DualCLIPLoader", "DualCLIPLoader", map[string]interface{}{
		"clip_name1": p.components[modelregistry.ComponentT5],
		"clip_name2": p.components[modelregistry.ComponentCLIPL],
		"type":       "flux",
	})
	vae := b.AddNode("VAELoader", "Load VAE", map[string]interface{}{
		"vae_name": p.components[modelregistry.ComponentVAE],
	})

	model, _ := applyLoras(b, p.params.Loras, graphapi.Link(unet, 0), nil)

	encode := b.AddNode("CLIPTextEncodeFlux", "CLIP Text Encode (Flux)", map[string]interface{}{
		"clip":     graphapi.Link(clip, 0),
		"clip_l":   p.style,
		"t5xxl":    p.full,
		"guidance": p.params.CFG,
	})
	negative := b.AddNode("ConditioningZeroOut", "Negative", map[string]interface{}{
		"conditioning": graphapi.Link(encode, 0),
	})
	latent := b.AddNode("EmptySD3LatentImage", "Empty Latent Image", map[string]interface{}{
		"batch_size": p.params.BatchSize,
	})
	return fluxNodes{
		model:    model,
		vae:      graphapi.Link(vae, 0),
		encode:   encode,
		negative: graphapi.Link(negative, 0),
		latent:   latent,
	}
}

var fluxComponents = []modelregistry.ComponentType{
	modelregistry.ComponentT5,
	modelregistry.ComponentCLIPL,
	modelregistry.ComponentVAE,
}

func (fb *FluxDevBuilder) Build(ctx context.Context, model modelregistry.ModelConfig, params Params, bc *BuildContext) (*graphapi.WorkflowGraph, error) {
	p, err := prepare(ctx, model, params, bc, fb.Defaults, fluxComponents...)
	if err != nil {
		return nil, err
	}

	b := graphapi.NewGraphBuilder()
	n := addFluxBase(b, p)

	guidance := b.AddNode("FluxGuidance", "FluxGuidance", map[string]interface{}{
		"conditioning": graphapi.Link(n.encode, 0),
	})
	shift := b.AddNode("ModelSamplingFlux", "ModelSamplingFlux", map[string]interface{}{
		"model":      n.model,
		"max_shift":  1.15,
		"base_shift": 0.5,
	})
	sampler := addSampler(b, graphapi.Link(shift, 0), graphapi.Link(guidance, 0), n.negative, graphapi.Link(n.latent, 0), 1.0)
	save := addDecodeAndSave(b, p, graphapi.Link(sampler, 0), n.vae)

	return finish(b, p, sampler, save,
		graphapi.At(guidance, "guidance"), []graphapi.InputPath{graphapi.At(n.encode, "guidance")},
		[]graphapi.InputPath{graphapi.At(n.latent, "width"), graphapi.At(shift, "width")},
		[]graphapi.InputPath{graphapi.At(n.latent, "height"), graphapi.At(shift, "height")},
	)
}

func (fb *FluxSchnellBuilder) Build(ctx context.Context, model modelregistry.ModelConfig, params Params, bc *BuildContext) (*graphapi.WorkflowGraph, error) {
	p, err := prepare(ctx, model, params, bc, fb.Defaults, fluxComponents...)
	if err != nil {
		return nil, err
	}

	b := graphapi.NewGraphBuilder()
	n := addFluxBase(b, p)
	// schnell ignores guidance; keep the encoder at the distilled default
	b.SetInput(graphapi.At(n.encode, "guidance"), 3.5)

	sampler := addSampler(b, n.model, graphapi.Link(n.encode, 0), n.negative, graphapi.Link(n.latent, 0), nil)
	save := addDecodeAndSave(b, p, graphapi.Link(sampler, 0), n.vae)

	return finish(b, p, sampler, save,
		graphapi.At(sampler, "cfg"), nil,
		[]graphapi.InputPath{graphapi.At(n.latent, "width")},
		[]graphapi.InputPath{graphapi.At(n.latent, "height")},
	)
}
