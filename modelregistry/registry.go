package modelregistry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/richinsley/comfyflow/comfyerr"
)

// Registry is a static, data-driven catalogue of known model artifacts.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	models     []ModelConfig
	modelsByID map[string]ModelConfig
	components []ComponentConfig
}

// NewRegistry builds a registry from explicit entries. Duplicate model filenames
// (compared case-insensitively) are rejected.
func NewRegistry(models []ModelConfig, components []ComponentConfig) (*Registry, error) {
	r := &Registry{
		models:     make([]ModelConfig, 0, len(models)),
		modelsByID: make(map[string]ModelConfig, len(models)),
		components: append([]ComponentConfig(nil), components...),
	}
	for _, m := range models {
		if m.Filename == "" {
			return nil, comfyerr.NewConfigError(comfyerr.ReasonRegistryError, "model entry without filename", nil)
		}
		key := strings.ToLower(m.Filename)
		if _, dup := r.modelsByID[key]; dup {
			return nil, comfyerr.NewConfigError(comfyerr.ReasonRegistryError,
				fmt.Sprintf("duplicate model entry %q", m.Filename), nil)
		}
		if m.RecommendedPrecision == "" {
			m.RecommendedPrecision = PrecisionDefault
		}
		r.models = append(r.models, m)
		r.modelsByID[key] = m
	}
	for _, c := range r.components {
		if c.Filename == "" || c.Type == "" || c.Family == "" {
			return nil, comfyerr.NewConfigError(comfyerr.ReasonRegistryError,
				fmt.Sprintf("incomplete component entry %+v", c), nil)
		}
	}
	return r, nil
}

// NewDefaultRegistry returns a registry with the built-in model catalogue.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(defaultModels, defaultComponents)
	if err != nil {
		panic(err)
	}
	return r
}

// LookupModel finds a model entry by filename. Known path prefixes are stripped
// and comparison is case-insensitive.
func (r *Registry) LookupModel(filename string) (ModelConfig, bool) {
	_, key := normalizeFilename(filename)
	m, ok := r.modelsByID[key]
	return m, ok
}

// Models returns the model entries of a family sorted by priority. An empty family
// returns every model.
func (r *Registry) Models(family Family) []ModelConfig {
	retv := make([]ModelConfig, 0)
	for _, m := range r.models {
		if family == "" || m.Family == family {
			retv = append(retv, m)
		}
	}
	sort.SliceStable(retv, func(i, j int) bool {
		return retv[i].Priority < retv[j].Priority
	})
	return retv
}

// Components returns the component entries matching a request, best first.
func (r *Registry) Components(ctype ComponentType, family Family) []ComponentConfig {
	retv := make([]ComponentConfig, 0)
	for _, c := range r.components {
		if c.Type == ctype && c.Family == family {
			retv = append(retv, c)
		}
	}
	sort.SliceStable(retv, func(i, j int) bool {
		return retv[i].Priority < retv[j].Priority
	})
	return retv
}

var knownPathPrefixes = []string{
	"models/",
	"checkpoints/",
	"diffusion_models/",
	"unet/",
}

// normalizeFilename strips known path prefixes. It returns the stripped name with
// its original case and the lower-cased lookup key.
func normalizeFilename(filename string) (string, string) {
	name := strings.TrimSpace(strings.ReplaceAll(filename, "\\", "/"))
	for {
		stripped := false
		lower := strings.ToLower(name)
		for _, p := range knownPathPrefixes {
			if strings.HasPrefix(lower, p) {
				name = name[len(p):]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	return name, strings.ToLower(name)
}

var defaultModels = []ModelConfig{
	// FLUX.1 dev
	{Filename: "flux1-dev.safetensors", Family: FamilyFlux, Variant: VariantDev, Loader: LoaderUNet, RecommendedPrecision: PrecisionDefault, Priority: 1},
	{Filename: "flux1-dev-fp8.safetensors", Family: FamilyFlux, Variant: VariantDev, Loader: LoaderUNet, RecommendedPrecision: PrecisionFP8E4M3, Priority: 2},
	{Filename: "flux1-dev-fp8-e5m2.safetensors", Family: FamilyFlux, Variant: VariantDev, Loader: LoaderUNet, RecommendedPrecision: PrecisionFP8E5M2, Priority: 3},
	{Filename: "flux1-dev-Q4_K_S.gguf", Family: FamilyFlux, Variant: VariantDev, Loader: LoaderUNet, RecommendedPrecision: PrecisionDefault, Priority: 4},
	{Filename: "flux1-dev-Q8_0.gguf", Family: FamilyFlux, Variant: VariantDev, Loader: LoaderUNet, RecommendedPrecision: PrecisionDefault, Priority: 5},
	{Filename: "flux1-krea-dev.safetensors", Family: FamilyFlux, Variant: VariantKrea, Loader: LoaderUNet, RecommendedPrecision: PrecisionDefault, Priority: 1},
	{Filename: "flux1-krea-dev_fp8_scaled.safetensors", Family: FamilyFlux, Variant: VariantKrea, Loader: LoaderUNet, RecommendedPrecision: PrecisionFP8E4M3, Priority: 2},
	{Filename: "flux.1-lite-8B.safetensors", Family: FamilyFlux, Variant: VariantLite, Loader: LoaderUNet, RecommendedPrecision: PrecisionDefault, Priority: 1},
	// FLUX.1 schnell
	{Filename: "flux1-schnell.safetensors", Family: FamilyFlux, Variant: VariantSchnell, Loader: LoaderUNet, RecommendedPrecision: PrecisionDefault, Priority: 1},
	{Filename: "flux1-schnell-fp8.safetensors", Family: FamilyFlux, Variant: VariantSchnell, Loader: LoaderUNet, RecommendedPrecision: PrecisionFP8E4M3, Priority: 2},
	{Filename: "flux1-schnell-fp8-e5m2.safetensors", Family: FamilyFlux, Variant: VariantSchnell, Loader: LoaderUNet, RecommendedPrecision: PrecisionFP8E5M2, Priority: 3},
	// Stable Diffusion 3.5
	{Filename: "sd3.5_large.safetensors", Family: FamilySD35, Variant: VariantLarge, Loader: LoaderCheckpoint, RecommendedPrecision: PrecisionDefault, Priority: 1},
	{Filename: "sd3.5_large_fp8_scaled.safetensors", Family: FamilySD35, Variant: VariantLarge, Loader: LoaderCheckpoint, RecommendedPrecision: PrecisionFP8E4M3, Priority: 2},
	{Filename: "sd3.5_large_turbo.safetensors", Family: FamilySD35, Variant: VariantTurbo, Loader: LoaderCheckpoint, RecommendedPrecision: PrecisionDefault, Priority: 1},
	{Filename: "sd3.5_medium.safetensors", Family: FamilySD35, Variant: VariantMedium, Loader: LoaderCheckpoint, RecommendedPrecision: PrecisionDefault, Priority: 1},
	// SDXL
	{Filename: "sd_xl_base_1.0.safetensors", Family: FamilySDXL, Variant: VariantBase, Loader: LoaderCheckpoint, RecommendedPrecision: PrecisionDefault, Priority: 1},
	{Filename: "sd_xl_turbo_1.0_fp16.safetensors", Family: FamilySDXL, Variant: VariantTurbo, Loader: LoaderCheckpoint, RecommendedPrecision: PrecisionDefault, Priority: 1},
	// SD 1.5
	{Filename: "v1-5-pruned-emaonly.safetensors", Family: FamilySD15, Variant: VariantBase, Loader: LoaderCheckpoint, RecommendedPrecision: PrecisionDefault, Priority: 1},
	{Filename: "v1-5-pruned-emaonly-fp16.safetensors", Family: FamilySD15, Variant: VariantBase, Loader: LoaderCheckpoint, RecommendedPrecision: PrecisionDefault, Priority: 2},
}

var defaultComponents = []ComponentConfig{
	{Filename: "t5xxl_fp16.safetensors", Type: ComponentT5, Family: FamilyFlux, Priority: 1, Folder: FolderTextEncoders},
	{Filename: "t5xxl_fp8_e4m3fn.safetensors", Type: ComponentT5, Family: FamilyFlux, Priority: 2, Folder: FolderTextEncoders},
	{Filename: "t5xxl_fp8_e4m3fn_scaled.safetensors", Type: ComponentT5, Family: FamilyFlux, Priority: 3, Folder: FolderTextEncoders},
	{Filename: "clip_l.safetensors", Type: ComponentCLIPL, Family: FamilyFlux, Priority: 1, Folder: FolderTextEncoders},
	{Filename: "ae.safetensors", Type: ComponentVAE, Family: FamilyFlux, Priority: 1, Folder: FolderVAE},

	{Filename: "t5xxl_fp16.safetensors", Type: ComponentT5, Family: FamilySD35, Priority: 1, Folder: FolderTextEncoders},
	{Filename: "t5xxl_fp8_e4m3fn.safetensors", Type: ComponentT5, Family: FamilySD35, Priority: 2, Folder: FolderTextEncoders},
	{Filename: "clip_l.safetensors", Type: ComponentCLIPL, Family: FamilySD35, Priority: 1, Folder: FolderTextEncoders},
	{Filename: "clip_g.safetensors", Type: ComponentCLIPG, Family: FamilySD35, Priority: 1, Folder: FolderTextEncoders},

	{Filename: "sdxl_vae.safetensors", Type: ComponentVAE, Family: FamilySDXL, Priority: 1, Folder: FolderVAE},
	{Filename: "vae-ft-mse-840000-ema-pruned.safetensors", Type: ComponentVAE, Family: FamilySD15, Priority: 1, Folder: FolderVAE},
}
