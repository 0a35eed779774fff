package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Adacracker/MintTrail/internal/blockfrost"
	"github.com/Adacracker/MintTrail/internal/bundle"
	"github.com/Adacracker/MintTrail/internal/ratelimit"
	"github.com/Adacracker/MintTrail/internal/trace"
)

// ProjectIDEnv backs blockfrost.project_id when the file leaves it empty.
const ProjectIDEnv = "BLOCKFROST_PROJECT_ID"

// Config is the root configuration structure for MintTrail.
type Config struct {
	General    GeneralConfig     `yaml:"general"`
	Server     ServerConfig      `yaml:"server"`
	Blockfrost blockfrost.Config `yaml:"blockfrost"`
	RateLimit  ratelimit.Config  `yaml:"rate_limit"`
	Trace      TraceConfig       `yaml:"trace"`
	Bundle     BundleConfig      `yaml:"bundle"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	TrustProxy        bool          `yaml:"trust_proxy"` // key callers by X-Forwarded-For
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	AllowedOrigins    []string      `yaml:"allowed_origins"` // websocket; empty allows any
}

type TraceConfig struct {
	trace.Config `yaml:",inline"`
	KnownTokens  []trace.KnownToken `yaml:"known_tokens"` // merged over the built-in symbols
}

type BundleConfig struct {
	Analyzer bundle.AnalyzerConfig `yaml:"analyzer"`
	Scorer   bundle.ScorerConfig   `yaml:"scorer"`
}

type MetricsConfig struct {
	Enabled           bool          `yaml:"enabled"`
	HealthInterval    time.Duration `yaml:"health_interval"`
	HealthTimeout     time.Duration `yaml:"health_timeout"`
	MaxTrackedCallers int           `yaml:"max_tracked_callers"` // limiter degraded above this
}

// Load reads a .env file if one exists, then reads and parses the YAML
// configuration at path.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{
		Bundle: BundleConfig{Scorer: bundle.DefaultScorerConfig()},
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, used when
// no file is given.
func Default() *Config {
	cfg := &Config{
		Bundle:  BundleConfig{Scorer: bundle.DefaultScorerConfig()},
		Metrics: MetricsConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "minttrail-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3001"
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 10 << 20
	}

	bf := blockfrost.DefaultConfig()
	if cfg.Blockfrost.BaseURL == "" {
		cfg.Blockfrost.BaseURL = bf.BaseURL
	}
	if cfg.Blockfrost.ProjectID == "" {
		cfg.Blockfrost.ProjectID = os.Getenv(ProjectIDEnv)
	}
	if cfg.Blockfrost.Timeout == 0 {
		cfg.Blockfrost.Timeout = bf.Timeout
	}
	if cfg.Blockfrost.MaxAttempts == 0 {
		cfg.Blockfrost.MaxAttempts = bf.MaxAttempts
	}
	if cfg.Blockfrost.BaseBackoff == 0 {
		cfg.Blockfrost.BaseBackoff = bf.BaseBackoff
	}
	if cfg.Blockfrost.MaxBackoff == 0 {
		cfg.Blockfrost.MaxBackoff = bf.MaxBackoff
	}
	if cfg.Blockfrost.Jitter == 0 {
		cfg.Blockfrost.Jitter = bf.Jitter
	}
	if cfg.Blockfrost.RateLimitRPS == 0 {
		cfg.Blockfrost.RateLimitRPS = bf.RateLimitRPS
	}
	if cfg.Blockfrost.CircuitThreshold == 0 {
		cfg.Blockfrost.CircuitThreshold = bf.CircuitThreshold
	}
	if cfg.Blockfrost.CircuitCooldown == 0 {
		cfg.Blockfrost.CircuitCooldown = bf.CircuitCooldown
	}

	rl := ratelimit.DefaultConfig()
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = rl.Window
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = rl.MaxRequests
	}
	if cfg.RateLimit.Shards == 0 {
		cfg.RateLimit.Shards = rl.Shards
	}
	if cfg.RateLimit.EvictInterval == 0 {
		cfg.RateLimit.EvictInterval = rl.EvictInterval
	}

	if cfg.Trace.NextTxLookahead == 0 {
		cfg.Trace.NextTxLookahead = trace.DefaultConfig().NextTxLookahead
	}

	an := bundle.DefaultAnalyzerConfig()
	if cfg.Bundle.Analyzer.HistoryCount == 0 {
		cfg.Bundle.Analyzer.HistoryCount = an.HistoryCount
	}
	if cfg.Bundle.Analyzer.MaxInspectedTxs == 0 {
		cfg.Bundle.Analyzer.MaxInspectedTxs = an.MaxInspectedTxs
	}
	if cfg.Bundle.Analyzer.PacingDelay == 0 {
		cfg.Bundle.Analyzer.PacingDelay = an.PacingDelay
	}

	if cfg.Metrics.HealthInterval == 0 {
		cfg.Metrics.HealthInterval = 30 * time.Second
	}
	if cfg.Metrics.HealthTimeout == 0 {
		cfg.Metrics.HealthTimeout = 5 * time.Second
	}
	if cfg.Metrics.MaxTrackedCallers == 0 {
		cfg.Metrics.MaxTrackedCallers = 100_000
	}
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.General.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("general.log_format: unknown format %q", c.General.LogFormat))
	}
	if c.Blockfrost.MaxAttempts < 1 {
		errs = append(errs, errors.New("blockfrost.max_attempts must be at least 1"))
	}
	if c.Blockfrost.RateLimitRPS < 0 {
		errs = append(errs, errors.New("blockfrost.rate_limit_rps must not be negative"))
	}
	if c.RateLimit.MaxRequests < 1 {
		errs = append(errs, errors.New("rate_limit.max_requests must be at least 1"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.Bundle.Analyzer.MaxInspectedTxs > c.Bundle.Analyzer.HistoryCount {
		errs = append(errs, fmt.Errorf("bundle.analyzer.max_inspected_txs (%d) exceeds history_count (%d)",
			c.Bundle.Analyzer.MaxInspectedTxs, c.Bundle.Analyzer.HistoryCount))
	}
	s := c.Bundle.Scorer
	if !(s.ExtremeShare > s.HighShare && s.HighShare > s.MediumShare) {
		errs = append(errs, errors.New("bundle.scorer: shares must satisfy extreme > high > medium"))
	}
	for i, tok := range c.Trace.KnownTokens {
		if tok.Symbol == "" || len(tok.AssetID) < 56 {
			errs = append(errs, fmt.Errorf("trace.known_tokens[%d]: symbol and a full asset id are required", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
