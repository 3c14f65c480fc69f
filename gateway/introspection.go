package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richinsley/comfyflow/cache"
	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/graphapi"
	"github.com/richinsley/comfyflow/modelregistry"
)

type comboSource struct {
	class string
	input string
}

// inventorySources are the loader inputs whose combo values list the files of
// a model folder.
var inventorySources = map[modelregistry.Folder][]comboSource{
	modelregistry.FolderCheckpoints:     {{"CheckpointLoaderSimple", "ckpt_name"}},
	modelregistry.FolderDiffusionModels: {{"UNETLoader", "unet_name"}, {"UnetLoaderGGUF", "unet_name"}},
	modelregistry.FolderTextEncoders:    {{"DualCLIPLoader", "clip_name1"}, {"CLIPLoader", "clip_name"}},
	modelregistry.FolderVAE:             {{"VAELoader", "vae_name"}},
	modelregistry.FolderLoras:           {{"LoraLoader", "lora_name"}, {"LoraLoaderModelOnly", "lora_name"}},
}

// objectInfo returns the cached /object_info response, or the one of a single
// class. It is kept undecoded so node input order survives the cache.
func (s *Service) objectInfo(ctx context.Context, class string) (json.RawMessage, error) {
	key := "object_info"
	if class != "" {
		key += ":" + class
	}
	return cache.Fetch(ctx, s.cache, key, func(ctx context.Context) (json.RawMessage, error) {
		return s.client.GetObjectInfoJSON(ctx, class)
	})
}

func (s *Service) nodeDefinitions(ctx context.Context, class string) (*graphapi.NodeObjects, error) {
	raw, err := s.objectInfo(ctx, class)
	if err != nil {
		return nil, serviceError(err, comfyerr.ReasonConnectionFailed, "cannot read node definitions")
	}
	defs, err := graphapi.ParseNodeObjects(raw)
	if err != nil {
		return nil, comfyerr.NewServicesError(comfyerr.ReasonConnectionFailed, "backend sent unreadable node definitions", nil).Wrap(err)
	}
	return defs, nil
}

// available lists the files of a model folder. It backs the model resolvers.
func (s *Service) available(ctx context.Context, folder modelregistry.Folder) ([]string, error) {
	sources, ok := inventorySources[folder]
	if !ok {
		return nil, comfyerr.NewModelResolverError(comfyerr.ReasonModelFetchFailed,
			fmt.Sprintf("no loader lists the %s folder", folder), map[string]interface{}{"folder": string(folder)})
	}
	return cache.Fetch(ctx, s.cache, "models:"+string(folder), func(ctx context.Context) ([]string, error) {
		defs, err := s.nodeDefinitions(ctx, "")
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		retv := make([]string, 0)
		for _, src := range sources {
			for _, v := range defs.ComboValues(src.class, src.input) {
				if !seen[v] {
					seen[v] = true
					retv = append(retv, v)
				}
			}
		}
		return retv, nil
	})
}

func (s *Service) listFolder(ctx context.Context, folder modelregistry.Folder) ([]string, error) {
	list, err := s.available(ctx, folder)
	if err != nil {
		return nil, comfyerr.Handle(err)
	}
	return list, nil
}

// ListCheckpoints returns the checkpoint files installed on the backend.
func (s *Service) ListCheckpoints(ctx context.Context) ([]string, error) {
	return s.listFolder(ctx, modelregistry.FolderCheckpoints)
}

// ListLoras returns the LoRA files installed on the backend.
func (s *Service) ListLoras(ctx context.Context) ([]string, error) {
	return s.listFolder(ctx, modelregistry.FolderLoras)
}

// ListModels returns the files of any model folder.
func (s *Service) ListModels(ctx context.Context, folder modelregistry.Folder) ([]string, error) {
	return s.listFolder(ctx, folder)
}

// ListNodeDefinitions returns every node definition, or only the one of class
// when it is not empty. An unknown class yields no definitions.
func (s *Service) ListNodeDefinitions(ctx context.Context, class string) (*graphapi.NodeObjects, error) {
	defs, err := s.nodeDefinitions(ctx, class)
	if err != nil {
		return nil, comfyerr.Handle(err)
	}
	return defs, nil
}

// FindNodeDefinitions returns the node definitions matching an expr-lang
// expression such as `category startsWith "loaders"`.
func (s *Service) FindNodeDefinitions(ctx context.Context, expression string) ([]*graphapi.NodeObject, error) {
	defs, err := s.nodeDefinitions(ctx, "")
	if err != nil {
		return nil, comfyerr.Handle(err)
	}
	found, err := defs.Filter(expression)
	if err != nil {
		return nil, comfyerr.Handle(comfyerr.NewServicesError(comfyerr.ReasonInvalidArgs, err.Error(),
			map[string]interface{}{"expression": expression}))
	}
	return found, nil
}

// InvalidateCache drops every cached introspection result, for example after
// models were installed on the backend.
func (s *Service) InvalidateCache(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return comfyerr.Handle(serviceError(err, comfyerr.ReasonConnectionFailed, "cannot clear the cache"))
	}
	return nil
}
