package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/richinsley/comfyflow/cache"
	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/modelregistry"
	"github.com/richinsley/comfyflow/seed"
	"github.com/richinsley/comfyflow/services"
	"github.com/richinsley/comfyflow/workflows"
)

// DefaultBaseURL is where a locally started ComfyUI listens.
const DefaultBaseURL = "http://127.0.0.1:8188"

// Config holds the settings of one gateway instance.
type Config struct {
	BaseURL string              `json:"baseUrl"`
	Auth    services.AuthConfig `json:"auth"`
	// CacheTTL is the lifetime of every introspection cache entry.
	CacheTTL time.Duration `json:"cacheTtl"`

	// RedisAddr switches the introspection cache to redis when set.
	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDb,omitempty"`

	// ConnectTimeout bounds the websocket connection phase.
	ConnectTimeout time.Duration `json:"connectTimeout"`
	// ValidateGraphs checks graphs against the server's node definitions before
	// they are submitted.
	ValidateGraphs bool `json:"validateGraphs"`
}

func readEnvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := readEnvDefault(key, "")
	if v == "" {
		return def, nil
	}
	// bare numbers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, comfyerr.NewConfigError(comfyerr.ReasonConfigParseError,
			fmt.Sprintf("%s: %q is not a duration", key, v), map[string]interface{}{"variable": key}).Wrap(err)
	}
	return d, nil
}

// ConfigFromEnv reads the configuration from COMFYUI_* environment variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL: readEnvDefault("COMFYUI_BASE_URL", DefaultBaseURL),
		Auth: services.AuthConfig{
			Type:     services.AuthType(readEnvDefault("COMFYUI_AUTH_TYPE", string(services.AuthNone))),
			Username: os.Getenv("COMFYUI_USERNAME"),
			Password: os.Getenv("COMFYUI_PASSWORD"),
			APIKey:   os.Getenv("COMFYUI_API_KEY"),
		},
		RedisAddr:     readEnvDefault("COMFYUI_REDIS_ADDR", ""),
		RedisPassword: os.Getenv("COMFYUI_REDIS_PASSWORD"),
	}

	var err error
	if cfg.CacheTTL, err = parseEnvDuration("COMFYUI_CACHE_TTL", cache.DefaultTTL); err != nil {
		return Config{}, err
	}
	if cfg.ConnectTimeout, err = parseEnvDuration("COMFYUI_CONNECT_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if v := readEnvDefault("COMFYUI_REDIS_DB", ""); v != "" {
		if cfg.RedisDB, err = strconv.Atoi(v); err != nil {
			return Config{}, comfyerr.NewConfigError(comfyerr.ReasonConfigParseError,
				fmt.Sprintf("COMFYUI_REDIS_DB: %q is not a number", v), map[string]interface{}{"variable": "COMFYUI_REDIS_DB"})
		}
	}
	if v := readEnvDefault("COMFYUI_VALIDATE_GRAPHS", ""); v != "" {
		if cfg.ValidateGraphs, err = strconv.ParseBool(v); err != nil {
			return Config{}, comfyerr.NewConfigError(comfyerr.ReasonConfigParseError,
				fmt.Sprintf("COMFYUI_VALIDATE_GRAPHS: %q is not a boolean", v), map[string]interface{}{"variable": "COMFYUI_VALIDATE_GRAPHS"})
		}
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return comfyerr.NewConfigError(comfyerr.ReasonMissingConfig, "base url is required", map[string]interface{}{"field": "baseUrl"})
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return comfyerr.NewConfigError(comfyerr.ReasonInvalidConfig,
			fmt.Sprintf("base url %q must be an absolute http(s) url", c.BaseURL), map[string]interface{}{"field": "baseUrl"})
	}
	if c.CacheTTL < 0 {
		return comfyerr.NewConfigError(comfyerr.ReasonInvalidConfig, "cache ttl must not be negative", map[string]interface{}{"field": "cacheTtl"})
	}
	return nil
}

type options struct {
	registry   *modelregistry.Registry
	builders   *workflows.BuilderRegistry
	seeds      seed.Generator
	store      cache.Store
	httpClient *http.Client
	validate   *bool
}

// Option configures collaborators of a Service that are not plain settings.
type Option func(*options)

// WithRegistry replaces the built-in model catalogue.
func WithRegistry(r *modelregistry.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithBuilders replaces the default workflow builders.
func WithBuilders(b *workflows.BuilderRegistry) Option {
	return func(o *options) {
		o.builders = b
	}
}

func WithSeedGenerator(g seed.Generator) Option {
	return func(o *options) {
		o.seeds = g
	}
}

// WithCacheStore sets the introspection cache store. It takes precedence over
// Config.RedisAddr.
func WithCacheStore(s cache.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithPreSubmitValidation overrides Config.ValidateGraphs.
func WithPreSubmitValidation(enabled bool) Option {
	return func(o *options) {
		o.validate = &enabled
	}
}
