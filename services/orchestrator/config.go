// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/store"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the counsel service.
//
// # Description
//
// Zero values are replaced by defaults in applyConfigDefaults. LoadConfig
// fills a Config from an optional YAML file and then the environment.
//
// # Example
//
//	cfg := orchestrator.Config{
//	    Port:       12310,
//	    LLMBackend: "ollama",
//	    Ollama:     orchestrator.OllamaConfig{BaseURL: "http://localhost:11434"},
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int `yaml:"port" validate:"min=0,max=65535"`

	// LLMBackend selects the model provider: "openai" or "ollama".
	// Default: "ollama"
	LLMBackend string `yaml:"llm_backend" validate:"oneof=openai ollama"`

	// EmbeddingBackend selects the query embedder. Default: LLMBackend
	EmbeddingBackend string `yaml:"embedding_backend" validate:"oneof=openai ollama"`

	OpenAI OpenAIConfig `yaml:"openai"`
	Ollama OllamaConfig `yaml:"ollama"`

	// LLMRequestsPerSecond throttles model calls across all sessions.
	// Zero disables throttling.
	LLMRequestsPerSecond float64 `yaml:"llm_rps" validate:"min=0"`

	// LLMBurst is the limiter burst. Default: 4
	LLMBurst int `yaml:"llm_burst" validate:"min=0"`

	// WeaviateURL locates the legal text index. Empty runs without
	// retrieval; reasoning then reports a configuration error.
	WeaviateURL string `yaml:"weaviate_url"`

	// RedisURL enables the Redis session store. Empty keeps sessions in
	// memory.
	RedisURL string `yaml:"redis_url"`

	// SessionTTL is the idle lifetime of a session. Default: 2h
	SessionTTL time.Duration `yaml:"session_ttl" validate:"min=0"`

	// OTelEndpoint is the OTLP gRPC collector. Empty disables export.
	OTelEndpoint string `yaml:"otel_endpoint"`

	// EnableMetrics registers the Prometheus collectors. Default: true
	EnableMetrics *bool `yaml:"enable_metrics"`

	// DefaultJurisdiction is used for sessions created without one.
	// Default: "usa"
	DefaultJurisdiction string `yaml:"default_jurisdiction" validate:"jurisdiction"`

	// ExtractionStrategy selects follow-up re-extraction: "full" or
	// "incremental". Default: "full"
	ExtractionStrategy string `yaml:"extraction_strategy" validate:"oneof=full incremental"`

	// MaxFollowupRounds caps follow-up turns. Default: 6
	MaxFollowupRounds int `yaml:"max_followup_rounds" validate:"min=0"`

	// MaxFollowupChars bounds re-extraction input. Default: 1500
	MaxFollowupChars int `yaml:"max_followup_chars" validate:"min=0"`

	// ExtractionConcurrency bounds in-flight extraction calls per turn.
	// Default: 4
	ExtractionConcurrency int `yaml:"extraction_concurrency" validate:"min=0"`

	// ReasoningConcurrency bounds in-flight domains while reasoning.
	// Default: 4
	ReasoningConcurrency int `yaml:"reasoning_concurrency" validate:"min=0"`

	// RetrievalTopK is the number of passages per domain. Default: 5
	RetrievalTopK int `yaml:"retrieval_top_k" validate:"min=0"`

	// CatalogPath overrides the embedded domain catalog.
	CatalogPath string `yaml:"catalog_path"`

	// RedactionPatternsPath overrides the embedded PII patterns.
	RedactionPatternsPath string `yaml:"redaction_patterns_path"`

	// DisableRedaction turns off PII redaction of user text.
	DisableRedaction bool `yaml:"disable_redaction"`

	// AuditLog writes one structured audit line per turn.
	AuditLog bool `yaml:"audit_log"`

	// APITokens maps client names to bearer tokens for the /v1 API. Empty
	// leaves the API open.
	APITokens map[string]string `yaml:"api_tokens"`

	// GinMode is passed to gin.SetMode when set.
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`

	// LogLevel and LogDir configure the process logger.
	LogLevel string `yaml:"log_level"`
	LogDir   string `yaml:"log_dir"`
}

// OpenAIConfig configures the OpenAI (or compatible) backend.
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	BaseURL        string `yaml:"base_url"`
}

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
}

const defaultPort = 12310

// applyConfigDefaults fills zero values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	cfg.LLMBackend = strings.ToLower(strings.TrimSpace(cfg.LLMBackend))
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	cfg.EmbeddingBackend = strings.ToLower(strings.TrimSpace(cfg.EmbeddingBackend))
	if cfg.EmbeddingBackend == "" {
		cfg.EmbeddingBackend = cfg.LLMBackend
	}
	if cfg.LLMBurst == 0 {
		cfg.LLMBurst = 4
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = store.DefaultSessionTTL
	}
	if cfg.EnableMetrics == nil {
		enabled := true
		cfg.EnableMetrics = &enabled
	}
	cfg.DefaultJurisdiction = strings.ToLower(strings.TrimSpace(cfg.DefaultJurisdiction))
	if cfg.DefaultJurisdiction == "" {
		cfg.DefaultJurisdiction = datatypes.DefaultJurisdiction
	}
	cfg.ExtractionStrategy = strings.ToLower(strings.TrimSpace(cfg.ExtractionStrategy))
	if cfg.ExtractionStrategy == "" {
		cfg.ExtractionStrategy = pipeline.StrategyFull
	}
	if cfg.ExtractionConcurrency == 0 {
		cfg.ExtractionConcurrency = 4
	}
	if cfg.ReasoningConcurrency == 0 {
		cfg.ReasoningConcurrency = pipeline.DefaultReasoningConcurrency
	}
	if cfg.RetrievalTopK == 0 {
		cfg.RetrievalTopK = pipeline.DefaultTopK
	}
	cfg.WeaviateURL = strings.Trim(cfg.WeaviateURL, "\"' ")
	return cfg
}

// Validate checks a defaulted config.
func (c Config) Validate() error {
	if err := datatypes.Validator().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// =============================================================================
// Loading
// =============================================================================

// LoadConfig reads the YAML file at path, when path is non-empty, and then
// applies environment overrides. Variables from a .env file in the working
// directory are loaded first; they never override the real environment.
//
// # Inputs
//
//   - path: Optional YAML file. A missing file is an error.
//
// # Outputs
//
//   - Config: Not yet defaulted; New applies defaults.
//   - error: Unreadable or malformed file, or a malformed numeric variable.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []string
	num := func(key string, set func(string) error) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			if err := set(strings.TrimSpace(v)); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			}
		}
	}

	num("COUNSEL_PORT", func(v string) (err error) { cfg.Port, err = strconv.Atoi(v); return })
	str("LLM_BACKEND_TYPE", &cfg.LLMBackend)
	str("EMBEDDING_BACKEND", &cfg.EmbeddingBackend)
	str("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	str("OPENAI_MODEL", &cfg.OpenAI.Model)
	str("OPENAI_EMBEDDING_MODEL", &cfg.OpenAI.EmbeddingModel)
	str("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	str("OLLAMA_BASE_URL", &cfg.Ollama.BaseURL)
	str("OLLAMA_MODEL", &cfg.Ollama.Model)
	str("OLLAMA_EMBED_MODEL", &cfg.Ollama.EmbedModel)
	str("WEAVIATE_SERVICE_URL", &cfg.WeaviateURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTelEndpoint)
	str("COUNSEL_DEFAULT_JURISDICTION", &cfg.DefaultJurisdiction)
	str("COUNSEL_EXTRACTION_STRATEGY", &cfg.ExtractionStrategy)
	num("COUNSEL_LLM_RPS", func(v string) (err error) { cfg.LLMRequestsPerSecond, err = strconv.ParseFloat(v, 64); return })
	num("COUNSEL_SESSION_TTL", func(v string) (err error) { cfg.SessionTTL, err = time.ParseDuration(v); return })
	if v, ok := lookup("COUNSEL_API_TOKENS"); ok && strings.TrimSpace(v) != "" {
		tokens, err := parseTokenList(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("COUNSEL_API_TOKENS: %v", err))
		} else {
			cfg.APITokens = tokens
		}
	}
	str("COUNSEL_LOG_LEVEL", &cfg.LogLevel)
	str("COUNSEL_LOG_DIR", &cfg.LogDir)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// parseTokenList parses "name=token,name2=token2".
func parseTokenList(v string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, token, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(token) == "" {
			return nil, fmt.Errorf("expected name=token, got %q", pair)
		}
		tokens[strings.TrimSpace(name)] = strings.TrimSpace(token)
	}
	return tokens, nil
}
