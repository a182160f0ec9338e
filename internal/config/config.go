package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Language   string           `yaml:"language" mapstructure:"language"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Completion CompletionConfig `yaml:"completion" mapstructure:"completion"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// SourcesConfig configures the three knowledge sources.
type SourcesConfig struct {
	Wikipedia         SourceConfig `yaml:"wikipedia" mapstructure:"wikipedia"`
	Wikidata          SourceConfig `yaml:"wikidata" mapstructure:"wikidata"`
	DBpedia           SourceConfig `yaml:"dbpedia" mapstructure:"dbpedia"`
	AdditionalDetails bool         `yaml:"additional_details" mapstructure:"additional_details"`
}

// SourceConfig configures one source.
type SourceConfig struct {
	Enabled      bool     `yaml:"enabled" mapstructure:"enabled"`
	CacheEnabled bool     `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	FallbackURL  string   `yaml:"fallback_url" mapstructure:"fallback_url"`
	Endpoints    []string `yaml:"endpoints" mapstructure:"endpoints"`
}

// RateLimitConfig configures the per-source sliding window and backoff.
type RateLimitConfig struct {
	MaxCalls      int     `yaml:"max_calls" mapstructure:"max_calls"`
	WindowMs      int     `yaml:"window_ms" mapstructure:"window_ms"`
	BackoffBaseMs int     `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int     `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
	BackoffFactor float64 `yaml:"backoff_factor" mapstructure:"backoff_factor"`
	MaxAttempts   int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// Window returns the window length.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// BackoffBase returns the base backoff delay.
func (c RateLimitConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the backoff cap.
func (c RateLimitConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// CacheConfig configures the response cache backend.
type CacheConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	DSN       string `yaml:"dsn" mapstructure:"dsn"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// ResolverConfig configures candidate resolution.
type ResolverConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// DedupConfig configures entity and triple deduplication.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	PredicateThreshold  float64 `yaml:"predicate_threshold" mapstructure:"predicate_threshold"`
	MaxGeoDistanceKm    float64 `yaml:"max_geo_distance_km" mapstructure:"max_geo_distance_km"`
}

// CompletionConfig configures the graph completion loop.
type CompletionConfig struct {
	Rounds         int   `yaml:"rounds" mapstructure:"rounds"`
	MaxTokens      int64 `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxNewEntities int   `yaml:"max_new_entities" mapstructure:"max_new_entities"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml from the working directory, if present, and the
// environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and the environment. An empty path
// falls back to an optional config.yaml in the working directory; an explicit
// path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("ENTITYGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("language", "en")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	for _, s := range []string{"wikipedia", "wikidata", "dbpedia"} {
		v.SetDefault("sources."+s+".enabled", true)
		v.SetDefault("sources."+s+".cache_enabled", true)
	}
	v.SetDefault("sources.wikipedia.base_url", "https://{lang}.wikipedia.org/w/api.php")
	v.SetDefault("sources.wikidata.base_url", "https://www.wikidata.org/w/api.php")
	v.SetDefault("sources.dbpedia.endpoints", []string{"https://dbpedia.org/sparql", "https://dbpedia-live.openlinksw.com/sparql"})
	v.SetDefault("sources.dbpedia.fallback_url", "https://lookup.dbpedia.org/api/search")
	v.SetDefault("sources.additional_details", false)
	v.SetDefault("ratelimit.max_calls", 10)
	v.SetDefault("ratelimit.window_ms", 1000)
	v.SetDefault("ratelimit.backoff_base_ms", 500)
	v.SetDefault("ratelimit.backoff_max_ms", 30000)
	v.SetDefault("ratelimit.backoff_factor", 2.0)
	v.SetDefault("ratelimit.max_attempts", 4)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.dsn", "")
	v.SetDefault("cache.key_prefix", "entitygraph:cache:")
	v.SetDefault("resolver.timeout_secs", 30)
	v.SetDefault("resolver.concurrency", 4)
	v.SetDefault("resolver.user_agent", "entity-graph/1.0 (https://github.com/sells-group/entity-graph)")
	v.SetDefault("dedup.similarity_threshold", 0.9)
	v.SetDefault("dedup.predicate_threshold", 0.85)
	v.SetDefault("dedup.max_geo_distance_km", 100.0)
	v.SetDefault("completion.rounds", 3)
	v.SetDefault("completion.max_tokens", 2000)
	v.SetDefault("completion.max_new_entities", 10)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Read config file (optional unless named)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrapf(err, "config: read file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "resolve", "graph", "complete", "serve" and "cache".
func (c *Config) Validate(mode string) error {
	var errs []error
	switch mode {
	case "resolve", "graph", "complete", "serve", "cache":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Cache.Driver {
	case "", "sqlite", "postgres", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("cache.driver %q must be one of sqlite, postgres, redis, memory", c.Cache.Driver))
	}
	if (c.Cache.Driver == "postgres" || c.Cache.Driver == "redis") && c.Cache.DSN == "" {
		errs = append(errs, fmt.Errorf("cache.dsn is required for driver %s", c.Cache.Driver))
	}

	if mode != "cache" {
		if c.RateLimit.MaxCalls <= 0 {
			errs = append(errs, errors.New("ratelimit.max_calls must be > 0"))
		}
		if c.RateLimit.WindowMs <= 0 {
			errs = append(errs, errors.New("ratelimit.window_ms must be > 0"))
		}
		if c.RateLimit.BackoffBaseMs < 0 || c.RateLimit.BackoffMaxMs < c.RateLimit.BackoffBaseMs {
			errs = append(errs, errors.New("ratelimit.backoff_max_ms must be >= backoff_base_ms >= 0"))
		}
		if c.RateLimit.BackoffFactor < 1 {
			errs = append(errs, errors.New("ratelimit.backoff_factor must be >= 1"))
		}
		if c.RateLimit.MaxAttempts < 1 {
			errs = append(errs, errors.New("ratelimit.max_attempts must be >= 1"))
		}
		if c.Resolver.TimeoutSecs < 0 {
			errs = append(errs, errors.New("resolver.timeout_secs must be >= 0"))
		}
		for name, v := range map[string]float64{
			"dedup.similarity_threshold": c.Dedup.SimilarityThreshold,
			"dedup.predicate_threshold":  c.Dedup.PredicateThreshold,
		} {
			if v < 0 || v > 1 {
				errs = append(errs, fmt.Errorf("%s must be between 0 and 1", name))
			}
		}
	}

	if mode == "complete" {
		if c.Completion.Rounds < 0 {
			errs = append(errs, errors.New("completion.rounds must be >= 0"))
		}
		if c.Anthropic.Key == "" {
			errs = append(errs, errors.New("anthropic.key is required"))
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.Join(errs...), "config: validate "+mode)
	}
	return nil
}

// EnabledSources returns the ids of enabled sources.
func (c *Config) EnabledSources() []string {
	var out []string
	if c.Sources.Wikipedia.Enabled {
		out = append(out, "wikipedia")
	}
	if c.Sources.Wikidata.Enabled {
		out = append(out, "wikidata")
	}
	if c.Sources.DBpedia.Enabled {
		out = append(out, "dbpedia")
	}
	return out
}

// CacheDisabledSources returns the ids of sources that bypass the cache.
func (c *Config) CacheDisabledSources() []string {
	var out []string
	if !c.Sources.Wikipedia.CacheEnabled {
		out = append(out, "wikipedia")
	}
	if !c.Sources.Wikidata.CacheEnabled {
		out = append(out, "wikidata")
	}
	if !c.Sources.DBpedia.CacheEnabled {
		out = append(out, "dbpedia")
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build(zap.Fields(zap.String("service", "entity-graph")))
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
