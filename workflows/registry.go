package workflows

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/graphapi"
	"github.com/richinsley/comfyflow/modelregistry"
)

type builderKey struct {
	family  modelregistry.Family
	variant modelregistry.Variant
}

// BuilderRegistry dispatches a model to the builder of its family and variant.
// A builder registered with an empty variant serves every variant of the family
// that has no specific builder.
type BuilderRegistry struct {
	mu       sync.RWMutex
	builders map[builderKey]Builder
}

func NewBuilderRegistry() *BuilderRegistry {
	return &BuilderRegistry{builders: make(map[builderKey]Builder)}
}

// DefaultBuilders returns a registry with a builder for every built-in family.
func DefaultBuilders() *BuilderRegistry {
	r := NewBuilderRegistry()
	dev := &FluxDevBuilder{Defaults: FluxDevDefaults}
	r.Register(modelregistry.FamilyFlux, "", dev)
	r.Register(modelregistry.FamilyFlux, modelregistry.VariantDev, dev)
	r.Register(modelregistry.FamilyFlux, modelregistry.VariantKrea, dev)
	r.Register(modelregistry.FamilyFlux, modelregistry.VariantLite, dev)
	r.Register(modelregistry.FamilyFlux, modelregistry.VariantSchnell, &FluxSchnellBuilder{Defaults: FluxSchnellDefaults})
	r.Register(modelregistry.FamilySD35, "", &SD35Builder{Defaults: SD35Defaults})
	r.Register(modelregistry.FamilySD35, modelregistry.VariantTurbo, &SD35Builder{Defaults: SD35TurboDefaults})
	r.Register(modelregistry.FamilySDXL, "", &SDXLBuilder{Defaults: SDXLDefaults})
	r.Register(modelregistry.FamilySDXL, modelregistry.VariantTurbo, &SDXLBuilder{Defaults: SDXLTurboDefaults})
	r.Register(modelregistry.FamilySD15, "", &SD15Builder{Defaults: SD15Defaults})
	return r
}

func (r *BuilderRegistry) Register(family modelregistry.Family, variant modelregistry.Variant, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[builderKey{family: family, variant: variant}] = b
}

// Lookup returns the builder for a family and variant.
func (r *BuilderRegistry) Lookup(family modelregistry.Family, variant modelregistry.Variant) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.builders[builderKey{family: family, variant: variant}]; ok {
		return b, nil
	}
	if b, ok := r.builders[builderKey{family: family}]; ok {
		return b, nil
	}
	return nil, comfyerr.NewUtilsError(comfyerr.ReasonNoBuilderFound,
		fmt.Sprintf("no workflow builder for %s/%s", family, variant),
		map[string]interface{}{"family": string(family), "variant": string(variant)})
}

// Families lists the families that have at least one builder.
func (r *BuilderRegistry) Families() []modelregistry.Family {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[modelregistry.Family]bool)
	retv := make([]modelregistry.Family, 0)
	for k := range r.builders {
		if !seen[k.family] {
			seen[k.family] = true
			retv = append(retv, k.family)
		}
	}
	sort.Slice(retv, func(i, j int) bool { return retv[i] < retv[j] })
	return retv
}

// Build looks params.Model up in the registry and runs the matching builder.
func (r *BuilderRegistry) Build(ctx context.Context, params Params, bc *BuildContext) (*graphapi.WorkflowGraph, error) {
	var reg *modelregistry.Registry
	if bc != nil {
		reg = bc.registry()
	}
	if reg == nil {
		return nil, comfyerr.NewWorkflowError(comfyerr.ReasonInvalidConfig, "build context has no model registry", nil)
	}
	model, ok := reg.LookupModel(params.Model)
	if !ok {
		return nil, comfyerr.NewWorkflowError(comfyerr.ReasonUnsupportedModel,
			fmt.Sprintf("model %q is not supported", params.Model),
			map[string]interface{}{"model": params.Model})
	}
	b, err := r.Lookup(model.Family, model.Variant)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, model, params, bc)
}
