// Package gateway is the entry point of comfyflow: it owns one ComfyUI
// connection and exposes workflow building, execution, uploads and cached
// introspection. Every error it returns is a *comfyerr.NormalizedError.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/richinsley/comfyflow/cache"
	"github.com/richinsley/comfyflow/client"
	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/modelregistry"
	"github.com/richinsley/comfyflow/seed"
	"github.com/richinsley/comfyflow/services"
	"github.com/richinsley/comfyflow/workflows"
)

// Service is one execution gateway. It is safe for concurrent use.
type Service struct {
	cfg      Config
	auth     *services.AuthService
	conn     *services.ConnectionService
	client   *client.ComfyClient
	cache    *cache.Manager
	redis    *cache.RedisStore
	registry *modelregistry.Registry
	builders *workflows.BuilderRegistry
	seeds    seed.Generator
	resolver *modelregistry.Resolver
	models   *services.ModelResolverService
	validate bool
}

// New creates a gateway. No connection is made until the first operation that
// needs one.
func New(cfg Config, opts ...Option) (svc *Service, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("gateway construction panicked", "panic", r)
			svc, err = nil, comfyerr.HandleValue(r)
		}
	}()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if err := cfg.validate(); err != nil {
		return nil, comfyerr.Handle(err)
	}
	auth, err := services.NewAuthService(cfg.Auth)
	if err != nil {
		return nil, comfyerr.Handle(err)
	}

	clientOpts := []client.ClientOption{client.WithHeader(auth.Headers())}
	if cfg.ConnectTimeout > 0 {
		clientOpts = append(clientOpts, client.WithTimeout(cfg.ConnectTimeout))
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(o.httpClient))
	}
	c, err := client.NewComfyClient(cfg.BaseURL, clientOpts...)
	if err != nil {
		return nil, comfyerr.Handle(comfyerr.NewConfigError(comfyerr.ReasonInvalidConfig, err.Error(),
			map[string]interface{}{"field": "baseUrl"}))
	}

	s := &Service{
		cfg:      cfg,
		auth:     auth,
		client:   c,
		conn:     services.NewConnectionService(c, 0),
		registry: o.registry,
		builders: o.builders,
		seeds:    o.seeds,
		validate: cfg.ValidateGraphs,
	}
	if o.validate != nil {
		s.validate = *o.validate
	}
	if s.registry == nil {
		s.registry = modelregistry.NewDefaultRegistry()
	}
	if s.builders == nil {
		s.builders = workflows.DefaultBuilders()
	}
	if s.seeds == nil {
		s.seeds = seed.NewSnowflakeGenerator()
	}

	store := o.store
	if store == nil && cfg.RedisAddr != "" {
		rs, err := cache.NewRedisStore(cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   fmt.Sprintf("comfyflow:%s:", uuid.NewString()),
		})
		if err != nil {
			return nil, comfyerr.Handle(comfyerr.NewServicesError(comfyerr.ReasonConnectionFailed,
				"cannot connect to the cache server", map[string]interface{}{"redisAddr": cfg.RedisAddr}).Wrap(err))
		}
		s.redis = rs
		store = rs
	}
	s.cache = cache.NewManager(store, cfg.CacheTTL)

	inventory := modelregistry.InventoryFunc(s.available)
	s.resolver = modelregistry.NewResolver(s.registry, inventory)
	s.models = services.NewModelResolverService(s.registry, inventory)

	slog.Debug("gateway created", "base_url", c.BaseURL(), "auth", auth.Type(),
		"cache_ttl", s.cache.TTL(), "redis", s.redis != nil, "validate", s.validate)
	return s, nil
}

// Client returns the underlying backend client.
func (s *Service) Client() *client.ComfyClient {
	return s.client
}

// Registry returns the model catalogue the gateway resolves against.
func (s *Service) Registry() *modelregistry.Registry {
	return s.registry
}

// ValidateConnection reports whether the backend answers /system_stats.
func (s *Service) ValidateConnection(ctx context.Context) bool {
	return s.conn.Validate(ctx).Reachable
}

// ConnectionStatus returns the result of the last ValidateConnection call.
func (s *Service) ConnectionStatus() services.Status {
	return s.conn.Last()
}

// UploadAsset stores data in the backend's input folder and returns the name
// to reference it by in a graph, which can differ from name.
func (s *Service) UploadAsset(ctx context.Context, data []byte, name string) (string, error) {
	if len(data) == 0 || name == "" {
		return "", comfyerr.Handle(comfyerr.NewServicesError(comfyerr.ReasonInvalidArgs,
			"upload needs a file name and content", map[string]interface{}{"name": name, "size": len(data)}))
	}
	res, err := s.client.UploadFileFromReader(ctx, bytes.NewReader(data), name, false, client.InputImageType, "")
	if err != nil {
		return "", comfyerr.Handle(serviceError(err, comfyerr.ReasonUploadFailed, "upload of "+name+" failed"))
	}
	remote := res.Name
	if res.Subfolder != "" {
		remote = res.Subfolder + "/" + res.Name
	}
	slog.Debug("uploaded asset", "name", name, "remote", remote)
	return remote, nil
}

// ImageURL returns the download URL of an output. The URL carries no
// credentials.
func (s *Service) ImageURL(output client.DataOutput) string {
	return s.client.ImageURL(output)
}

// FetchImage downloads an output.
func (s *Service) FetchImage(ctx context.Context, output client.DataOutput) ([]byte, error) {
	data, err := s.client.GetImage(ctx, output)
	if err != nil {
		return nil, comfyerr.Handle(serviceError(err, comfyerr.ReasonImageFetchFailed, "cannot fetch "+output.Filename))
	}
	return data, nil
}

// Close drops the backend connection and the cache connection. Executions in
// flight fail.
func (s *Service) Close() error {
	err := s.client.Close()
	if s.redis != nil {
		if rerr := s.redis.Close(); err == nil {
			err = rerr
		}
	}
	if err != nil {
		return comfyerr.Handle(serviceError(err, comfyerr.ReasonConnectionFailed, "close failed"))
	}
	return nil
}
