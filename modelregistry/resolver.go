package modelregistry

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/richinsley/comfyflow/comfyerr"
)

// Inventory lists the artifacts a backend actually has installed in a folder.
type Inventory interface {
	Available(ctx context.Context, folder Folder) ([]string, error)
}

// InventoryFunc adapts a function to the Inventory interface.
type InventoryFunc func(ctx context.Context, folder Folder) ([]string, error)

func (f InventoryFunc) Available(ctx context.Context, folder Folder) ([]string, error) {
	return f(ctx, folder)
}

// Resolver picks concrete artifacts for component requests.
type Resolver struct {
	registry  *Registry
	inventory Inventory
}

// NewResolver creates a resolver. With a nil inventory the best registry entry is
// returned without checking the backend.
func NewResolver(registry *Registry, inventory Inventory) *Resolver {
	return &Resolver{registry: registry, inventory: inventory}
}

// Registry returns the registry the resolver reads from.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// ResolveComponent returns the best artifact for a request. It fails with
// COMPONENT_UNAVAILABLE when the registry has no entry for the request, or when
// none of the entries is installed on the backend. It never substitutes a guess.
func (r *Resolver) ResolveComponent(ctx context.Context, req ComponentRequest) (ResolvedComponent, error) {
	candidates := r.registry.Components(req.Type, req.Family)
	if len(candidates) == 0 {
		return ResolvedComponent{}, comfyerr.NewModelResolverError(comfyerr.ReasonComponentUnavailable,
			fmt.Sprintf("no %s component known for model family %s", req.Type, req.Family),
			map[string]interface{}{"componentType": string(req.Type), "modelFamily": string(req.Family)})
	}

	if r.inventory == nil {
		return ResolvedComponent{Filename: candidates[0].Filename, Config: candidates[0]}, nil
	}

	installed := make(map[Folder]map[string]string)
	for _, c := range candidates {
		files, ok := installed[c.Folder]
		if !ok {
			list, err := r.inventory.Available(ctx, c.Folder)
			if err != nil {
				return ResolvedComponent{}, comfyerr.NewModelResolverError(comfyerr.ReasonConnectionError,
					fmt.Sprintf("cannot list %s on backend", c.Folder),
					map[string]interface{}{"folder": string(c.Folder)}).Wrap(err)
			}
			files = indexFiles(list)
			installed[c.Folder] = files
		}
		if actual, ok := files[strings.ToLower(c.Filename)]; ok {
			return ResolvedComponent{Filename: actual, Config: c}, nil
		}
	}

	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Filename)
	}
	return ResolvedComponent{}, comfyerr.NewModelResolverError(comfyerr.ReasonComponentUnavailable,
		fmt.Sprintf("no %s component for model family %s is installed", req.Type, req.Family),
		map[string]interface{}{
			"componentType": string(req.Type),
			"modelFamily":   string(req.Family),
			"candidates":    names,
		})
}

// indexFiles maps lower-cased base names to the name as the backend reports it,
// so files kept in subfolders still match.
func indexFiles(list []string) map[string]string {
	retv := make(map[string]string, len(list)*2)
	for _, f := range list {
		norm := strings.ReplaceAll(f, "\\", "/")
		retv[strings.ToLower(norm)] = f
		base := strings.ToLower(path.Base(norm))
		if _, ok := retv[base]; !ok {
			retv[base] = f
		}
	}
	return retv
}

// Contains reports whether name is present in a backend listing, using the same
// matching rules as component resolution. It returns the backend spelling.
func Contains(list []string, name string) (string, bool) {
	_, key := normalizeFilename(name)
	actual, ok := indexFiles(list)[key]
	return actual, ok
}
