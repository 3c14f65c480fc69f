package modelregistry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPrecisionRegistryExact(t *testing.T) {
	reg := NewDefaultRegistry()

	for _, m := range reg.Models("") {
		assert.Equal(t, m.RecommendedPrecision, SelectPrecision(reg, m.Filename), m.Filename)
		assert.Equal(t, m.RecommendedPrecision, SelectPrecision(reg, strings.ToUpper(m.Filename)), m.Filename)
	}

	assert.Equal(t, PrecisionFP8E4M3, SelectPrecision(reg, "models/unet/FLUX1-DEV-FP8.safetensors"))
	assert.Equal(t, PrecisionFP8E4M3, SelectPrecision(reg, `diffusion_models\flux1-dev-fp8.safetensors`))
}

func TestSelectPrecisionUntrustedNames(t *testing.T) {
	reg := NewDefaultRegistry()
	names := []string{
		"",
		"my-flux-fp8.safetensors",
		"random_fp16_model.safetensors",
		"something-nf4-bnb.safetensors",
		"int4-quantized.safetensors",
		"flux1-dev-fp8.gguf",
		"flux-lite-fp8.safetensors",
		"flux1-dev-enterprise-fp8.safetensors",
	}
	for _, n := range names {
		assert.Equal(t, PrecisionDefault, SelectPrecision(reg, n), n)
	}
	assert.Equal(t, PrecisionDefault, SelectPrecision(nil, "flux1-dev-fp8.safetensors"))
}

func TestLookupModel(t *testing.T) {
	reg := NewDefaultRegistry()

	m, ok := reg.LookupModel("checkpoints/SD_XL_BASE_1.0.safetensors")
	require.True(t, ok)
	assert.Equal(t, FamilySDXL, m.Family)
	assert.Equal(t, LoaderCheckpoint, m.Loader)
	assert.Equal(t, FolderCheckpoints, m.Folder())

	_, ok = reg.LookupModel("unknown.safetensors")
	assert.False(t, ok)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]ModelConfig{
		{Filename: "a.safetensors", Family: FamilyFlux},
		{Filename: "A.safetensors", Family: FamilyFlux},
	}, nil)
	var de *comfyerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, comfyerr.ReasonRegistryError, de.Reason)
}

func TestResolveComponentWithoutInventory(t *testing.T) {
	r := NewResolver(NewDefaultRegistry(), nil)

	rc, err := r.ResolveComponent(context.Background(), ComponentRequest{Type: ComponentT5, Family: FamilyFlux})
	require.NoError(t, err)
	assert.Equal(t, "t5xxl_fp16.safetensors", rc.Filename)

	// repeated calls give the same answer
	again, err := r.ResolveComponent(context.Background(), ComponentRequest{Type: ComponentT5, Family: FamilyFlux})
	require.NoError(t, err)
	assert.Equal(t, rc, again)
}

func TestResolveComponentHardFailure(t *testing.T) {
	r := NewResolver(NewDefaultRegistry(), nil)

	rc, err := r.ResolveComponent(context.Background(), ComponentRequest{Type: ComponentCLIPG, Family: FamilyFlux})
	require.Error(t, err)
	assert.Empty(t, rc.Filename)

	var de *comfyerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, comfyerr.KindModelResolver, de.Kind)
	assert.Equal(t, comfyerr.ReasonComponentUnavailable, de.Reason)
	assert.Equal(t, comfyerr.TypeModelNotFound, comfyerr.TypeOf(comfyerr.Handle(err)))
}

func TestResolveComponentUsesInventory(t *testing.T) {
	calls := 0
	inv := InventoryFunc(func(ctx context.Context, folder Folder) ([]string, error) {
		calls++
		switch folder {
		case FolderTextEncoders:
			return []string{"flux/T5XXL_FP8_E4M3FN.safetensors", "clip_l.safetensors"}, nil
		case FolderVAE:
			return []string{}, nil
		}
		return nil, nil
	})
	r := NewResolver(NewDefaultRegistry(), inv)
	ctx := context.Background()

	rc, err := r.ResolveComponent(ctx, ComponentRequest{Type: ComponentT5, Family: FamilyFlux})
	require.NoError(t, err)
	assert.Equal(t, "flux/T5XXL_FP8_E4M3FN.safetensors", rc.Filename)
	assert.Equal(t, 2, rc.Config.Priority)
	assert.Equal(t, 1, calls, "folder listing is fetched once per resolution")

	_, err = r.ResolveComponent(ctx, ComponentRequest{Type: ComponentVAE, Family: FamilyFlux})
	var de *comfyerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, comfyerr.ReasonComponentUnavailable, de.Reason)
	assert.Equal(t, []string{"ae.safetensors"}, de.Details["candidates"])
}

func TestResolveComponentInventoryFailure(t *testing.T) {
	inv := InventoryFunc(func(ctx context.Context, folder Folder) ([]string, error) {
		return nil, errors.New("connection refused")
	})
	r := NewResolver(NewDefaultRegistry(), inv)

	_, err := r.ResolveComponent(context.Background(), ComponentRequest{Type: ComponentVAE, Family: FamilyFlux})
	var de *comfyerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, comfyerr.ReasonConnectionError, de.Reason)
	assert.Equal(t, comfyerr.TypeServiceUnavailable, comfyerr.TypeOf(comfyerr.Handle(err)))
}

func TestContains(t *testing.T) {
	list := []string{"sub/Flux1-Dev.safetensors", "other.ckpt"}
	actual, ok := Contains(list, "unet/flux1-dev.safetensors")
	assert.True(t, ok)
	assert.Equal(t, "sub/Flux1-Dev.safetensors", actual)

	_, ok = Contains(list, "missing.safetensors")
	assert.False(t, ok)
}
