package modelregistry

// Family is a model architecture family.
type Family string

const (
	FamilyFlux Family = "flux"
	FamilySD35 Family = "sd35"
	FamilySDXL Family = "sdxl"
	FamilySD15 Family = "sd15"
)

// Variant distinguishes models inside a family (dev, schnell, large, ...).
type Variant string

const (
	VariantDev     Variant = "dev"
	VariantSchnell Variant = "schnell"
	VariantKrea    Variant = "krea"
	VariantLite    Variant = "lite"
	VariantLarge   Variant = "large"
	VariantMedium  Variant = "medium"
	VariantTurbo   Variant = "turbo"
	VariantBase    Variant = "base"
)

// LoaderKind tells builders how the primary model artifact is loaded.
type LoaderKind string

const (
	// LoaderUNet models are bare diffusion weights in models/diffusion_models.
	LoaderUNet LoaderKind = "unet"
	// LoaderCheckpoint models bundle weights (and usually clip and vae) in models/checkpoints.
	LoaderCheckpoint LoaderKind = "checkpoint"
)

// Precision is the numeric representation a model is loaded with. For UNet
// loaders it is the value of the weight_dtype input.
type Precision string

const (
	PrecisionDefault     Precision = "default"
	PrecisionFP8E4M3     Precision = "fp8_e4m3fn"
	PrecisionFP8E4M3Fast Precision = "fp8_e4m3fn_fast"
	PrecisionFP8E5M2     Precision = "fp8_e5m2"
)

// ComponentType is the role a supporting artifact plays in a workflow.
type ComponentType string

const (
	ComponentT5    ComponentType = "t5"
	ComponentCLIPL ComponentType = "clip_l"
	ComponentCLIPG ComponentType = "clip_g"
	ComponentVAE   ComponentType = "vae"
)

// IsEncoder reports whether the component is a text encoder.
func (c ComponentType) IsEncoder() bool {
	switch c {
	case ComponentT5, ComponentCLIPL, ComponentCLIPG:
		return true
	}
	return false
}

// Folder is a ComfyUI model folder.
type Folder string

const (
	FolderCheckpoints     Folder = "checkpoints"
	FolderDiffusionModels Folder = "diffusion_models"
	FolderTextEncoders    Folder = "text_encoders"
	FolderVAE             Folder = "vae"
	FolderLoras           Folder = "loras"
)

// Folder returns the folder the model's loader reads from.
func (m ModelConfig) Folder() Folder {
	if m.Loader == LoaderCheckpoint {
		return FolderCheckpoints
	}
	return FolderDiffusionModels
}

// ModelConfig is a registry entry for a primary model artifact.
type ModelConfig struct {
	Filename             string
	Family               Family
	Variant              Variant
	Loader               LoaderKind
	// RecommendedPrecision is applied by UNet loaders only; checkpoints load
	// with the dtype stored in the file.
	RecommendedPrecision Precision
	Priority             int
}

// ComponentConfig is a registry entry for a supporting artifact (encoder, vae).
type ComponentConfig struct {
	Filename string
	Type     ComponentType
	Family   Family
	Priority int
	Folder   Folder
}

// ComponentRequest asks for the best artifact of a type for a family.
type ComponentRequest struct {
	Type   ComponentType
	Family Family
}

// ResolvedComponent is the artifact chosen for a ComponentRequest.
type ResolvedComponent struct {
	Filename string
	Config   ComponentConfig
}
