package gateway

import (
	"context"
	"log/slog"

	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/graphapi"
	"github.com/richinsley/comfyflow/workflows"
)

// BuildWorkflow turns a generation request into a graph for the requested
// model. The model must be known to the registry and installed on the backend;
// the graph refers to it by the name the backend lists it under.
func (s *Service) BuildWorkflow(ctx context.Context, params workflows.Params) (*graphapi.WorkflowGraph, error) {
	g, err := s.buildWorkflow(ctx, params)
	if err != nil {
		return nil, comfyerr.Handle(err)
	}
	return g, nil
}

func (s *Service) buildWorkflow(ctx context.Context, params workflows.Params) (*graphapi.WorkflowGraph, error) {
	model, err := s.models.Resolve(ctx, params.Model)
	if err != nil {
		return nil, err
	}
	builder, err := s.builders.Lookup(model.Config.Family, model.Config.Variant)
	if err != nil {
		return nil, err
	}
	params.Model = model.Filename
	g, err := builder.Build(ctx, model.Config, params, &workflows.BuildContext{
		Resolver: s.resolver,
		Seeds:    s.seeds,
		Registry: s.registry,
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("built workflow", "model", model.Filename, "family", model.Config.Family,
		"variant", model.Config.Variant, "nodes", g.Len())
	return g, nil
}

// CreateImage builds the graph for params, executes it and fails with an empty
// result error when the backend produced no image.
func (s *Service) CreateImage(ctx context.Context, params workflows.Params, onProgress ProgressFunc) (*ExecutionResult, error) {
	g, err := s.BuildWorkflow(ctx, params)
	if err != nil {
		return nil, err
	}
	result, err := s.ExecuteWorkflow(ctx, g, onProgress)
	if err != nil {
		return nil, err
	}
	if len(result.Images) == 0 {
		return nil, comfyerr.Handle(comfyerr.NewServicesError(comfyerr.ReasonEmptyResult,
			"the backend produced no image", map[string]interface{}{"promptId": result.PromptID}))
	}
	return result, nil
}
