package services

import (
	"context"
	"fmt"

	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/modelregistry"
)

// ResolvedModel is a requested model with its registry entry and the name the
// backend lists it under.
type ResolvedModel struct {
	Config   modelregistry.ModelConfig
	Filename string
}

// ModelResolverService checks that a requested model is both known to the
// registry and installed on the backend.
type ModelResolverService struct {
	registry  *modelregistry.Registry
	inventory modelregistry.Inventory
}

// NewModelResolverService creates the service. With a nil inventory only the
// registry is consulted.
func NewModelResolverService(registry *modelregistry.Registry, inventory modelregistry.Inventory) *ModelResolverService {
	return &ModelResolverService{registry: registry, inventory: inventory}
}

func (s *ModelResolverService) Resolve(ctx context.Context, filename string) (ResolvedModel, error) {
	if filename == "" {
		return ResolvedModel{}, comfyerr.NewServicesError(comfyerr.ReasonInvalidArgs, "model is required", nil)
	}
	model, ok := s.registry.LookupModel(filename)
	if !ok {
		return ResolvedModel{}, comfyerr.NewWorkflowError(comfyerr.ReasonUnsupportedModel,
			fmt.Sprintf("model %q is not supported", filename),
			map[string]interface{}{"model": filename})
	}
	if s.inventory == nil {
		return ResolvedModel{Config: model, Filename: filename}, nil
	}

	folder := model.Folder()
	list, err := s.inventory.Available(ctx, folder)
	if err != nil {
		return ResolvedModel{}, comfyerr.NewModelResolverError(comfyerr.ReasonConnectionError,
			fmt.Sprintf("cannot list %s on backend", folder),
			map[string]interface{}{"folder": string(folder)}).Wrap(err)
	}
	actual, ok := modelregistry.Contains(list, filename)
	if !ok {
		return ResolvedModel{}, comfyerr.NewModelResolverError(comfyerr.ReasonModelNotFound,
			fmt.Sprintf("model %q is not installed in %s", filename, folder),
			map[string]interface{}{"model": filename, "folder": string(folder), "family": string(model.Family)})
	}
	return ResolvedModel{Config: model, Filename: actual}, nil
}
