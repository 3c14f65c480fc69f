package services

import (
	"context"
	"errors"
	"testing"

	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/modelregistry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inventoryOf(lists map[modelregistry.Folder][]string) modelregistry.Inventory {
	return modelregistry.InventoryFunc(func(ctx context.Context, folder modelregistry.Folder) ([]string, error) {
		return lists[folder], nil
	})
}

func TestModelResolverService(t *testing.T) {
	inv := inventoryOf(map[modelregistry.Folder][]string{
		modelregistry.FolderDiffusionModels: {"flux/Flux1-Dev.safetensors"},
		modelregistry.FolderCheckpoints:     {"sd_xl_base_1.0.safetensors"},
	})
	svc := NewModelResolverService(modelregistry.NewDefaultRegistry(), inv)

	t.Run("unet model uses backend spelling", func(t *testing.T) {
		m, err := svc.Resolve(context.Background(), "flux1-dev.safetensors")
		require.NoError(t, err)
		assert.Equal(t, "flux/Flux1-Dev.safetensors", m.Filename)
		assert.Equal(t, modelregistry.FamilyFlux, m.Config.Family)
		assert.Equal(t, modelregistry.VariantDev, m.Config.Variant)
	})

	t.Run("checkpoint model", func(t *testing.T) {
		m, err := svc.Resolve(context.Background(), "sd_xl_base_1.0.safetensors")
		require.NoError(t, err)
		assert.Equal(t, modelregistry.FamilySDXL, m.Config.Family)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := svc.Resolve(context.Background(), "mystery.safetensors")
		var de *comfyerr.Error
		require.True(t, errors.As(err, &de))
		assert.Equal(t, comfyerr.KindWorkflow, de.Kind)
		assert.Equal(t, comfyerr.ReasonUnsupportedModel, de.Reason)
	})

	t.Run("known but not installed", func(t *testing.T) {
		_, err := svc.Resolve(context.Background(), "flux1-schnell.safetensors")
		var de *comfyerr.Error
		require.True(t, errors.As(err, &de))
		assert.Equal(t, comfyerr.KindModelResolver, de.Kind)
		assert.Equal(t, comfyerr.ReasonModelNotFound, de.Reason)
		assert.Equal(t, comfyerr.TypeModelNotFound, comfyerr.TypeOf(comfyerr.Handle(err)))
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := svc.Resolve(context.Background(), "")
		assert.Equal(t, comfyerr.TypeBizError, comfyerr.TypeOf(comfyerr.Handle(err)))
	})
}

func TestModelResolverServiceInventoryFailure(t *testing.T) {
	svc := NewModelResolverService(modelregistry.NewDefaultRegistry(),
		modelregistry.InventoryFunc(func(ctx context.Context, folder modelregistry.Folder) ([]string, error) {
			return nil, errors.New("connection refused")
		}))
	_, err := svc.Resolve(context.Background(), "flux1-dev.safetensors")
	var de *comfyerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, comfyerr.ReasonConnectionError, de.Reason)
	assert.Equal(t, comfyerr.TypeServiceUnavailable, comfyerr.TypeOf(comfyerr.Handle(err)))
}

func TestModelResolverServiceWithoutInventory(t *testing.T) {
	svc := NewModelResolverService(modelregistry.NewDefaultRegistry(), nil)
	m, err := svc.Resolve(context.Background(), "models/checkpoints/v1-5-pruned-emaonly.safetensors")
	require.NoError(t, err)
	assert.Equal(t, "models/checkpoints/v1-5-pruned-emaonly.safetensors", m.Filename)
	assert.Equal(t, modelregistry.FamilySD15, m.Config.Family)
}
