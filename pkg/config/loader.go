package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// sageYAMLConfig represents the complete sage.yaml file structure. Every
// section is optional; omitted sections keep their built-in defaults.
type sageYAMLConfig struct {
	Server     *ServerConfig     `yaml:"server"`
	Postgres   *PostgresConfig   `yaml:"postgres"`
	Redis      *RedisConfig      `yaml:"redis"`
	LLM        *LLMConfig        `yaml:"llm"`
	Pipeline   *PipelineConfig   `yaml:"pipeline"`
	Cache      *CacheConfig      `yaml:"cache"`
	Guardrails *GuardrailsConfig `yaml:"guardrails"`
	Search     *SearchConfig     `yaml:"search"`
	Dialog     *DialogConfig     `yaml:"dialog"`
	Session    *SessionConfig    `yaml:"session"`
	Ingest     *IngestConfig     `yaml:"ingest"`
	Webhook    *WebhookConfig    `yaml:"webhook"`
	Retention  *RetentionConfig  `yaml:"retention"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load sage.yaml from configDir (missing file = pure defaults)
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML into structs
//  4. Merge user sections over built-in defaults
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"enabled_nodes", stats.EnabledNodes,
		"backoff_steps", stats.BackoffSteps)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	userCfg, err := loader.loadSageYAML()
	if err != nil {
		return nil, NewLoadError("sage.yaml", err)
	}

	cfg := DefaultConfig()
	cfg.configDir = configDir

	// Merge user sections over built-in defaults. Non-zero user values
	// override; unset values keep the defaults. Tri-state booleans use
	// pointers so explicit `false` survives the merge.
	if err := mergeSections(cfg, userCfg); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	return cfg, nil
}

func mergeSections(dst *Config, user *sageYAMLConfig) error {
	if user == nil {
		return nil
	}
	merge := func(name string, dstSec, src any, present bool) error {
		if !present {
			return nil
		}
		if err := mergo.Merge(dstSec, src, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge %s: %w", name, err)
		}
		return nil
	}
	steps := []error{
		merge("server", dst.Server, user.Server, user.Server != nil),
		merge("postgres", dst.Postgres, user.Postgres, user.Postgres != nil),
		merge("redis", dst.Redis, user.Redis, user.Redis != nil),
		merge("llm", dst.LLM, user.LLM, user.LLM != nil),
		merge("cache", dst.Cache, user.Cache, user.Cache != nil),
		merge("guardrails", dst.Guardrails, user.Guardrails, user.Guardrails != nil),
		merge("search", dst.Search, user.Search, user.Search != nil),
		merge("dialog", dst.Dialog, user.Dialog, user.Dialog != nil),
		merge("session", dst.Session, user.Session, user.Session != nil),
		merge("ingest", dst.Ingest, user.Ingest, user.Ingest != nil),
		merge("webhook", dst.Webhook, user.Webhook, user.Webhook != nil),
		merge("retention", dst.Retention, user.Retention, user.Retention != nil),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}

	// Pipeline merges by hand: a user-supplied node order REPLACES the
	// default order rather than element-wise merging into it.
	if user.Pipeline != nil {
		p := dst.Pipeline
		if len(user.Pipeline.NodeOrder) > 0 {
			p.NodeOrder = user.Pipeline.NodeOrder
		}
		if user.Pipeline.StrictContracts != nil {
			p.StrictContracts = user.Pipeline.StrictContracts
		}
		if user.Pipeline.NodeTimeout > 0 {
			p.NodeTimeout = user.Pipeline.NodeTimeout
		}
		for name, nc := range user.Pipeline.Nodes {
			p.Nodes[name] = nc
		}
	}
	return nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution
	// errors, allowing the YAML parser to handle the content (or fail with
	// a clearer error message).
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// loadSageYAML reads sage.yaml. A missing file is not an error: the service
// runs on built-in defaults plus environment variables.
func (l *configLoader) loadSageYAML() (*sageYAMLConfig, error) {
	var config sageYAMLConfig

	if err := l.loadYAML("sage.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("No sage.yaml found, using built-in defaults")
			return &sageYAMLConfig{}, nil
		}
		return nil, err
	}

	return &config, nil
}
