package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateAnalysis(&cfg.Analysis)
	v.validateProvider(&cfg.Provider)
	v.validateSearch(&cfg.Search)
	v.validateCheckpoint(&cfg.Checkpoint)
	v.validateServer(&cfg.Server)
	v.validateTelemetry(&cfg.Telemetry)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateAnalysis(cfg *AnalysisConfig) {
	if cfg.NumberOfQueries < 1 {
		v.addError("analysis.number_of_queries", cfg.NumberOfQueries, "must be at least 1")
	}
	if cfg.MaxSearchDepth < 1 {
		v.addError("analysis.max_search_depth", cfg.MaxSearchDepth, "must be at least 1")
	}
	if cfg.MaxParallelCategories < 1 {
		v.addError("analysis.max_parallel_categories", cfg.MaxParallelCategories, "must be at least 1")
	}
	if strings.TrimSpace(cfg.AnalysisStructure) == "" {
		v.addError("analysis.analysis_structure", cfg.AnalysisStructure, "required")
	}
	if cfg.MaxWitnesses < 0 {
		v.addError("analysis.max_witnesses", cfg.MaxWitnesses, "must not be negative")
	}
	if cfg.SearchLimit < 1 {
		v.addError("analysis.search_limit", cfg.SearchLimit, "must be at least 1")
	}
	if cfg.SearchThreshold < 0 || cfg.SearchThreshold > 1 {
		v.addError("analysis.search_threshold", cfg.SearchThreshold, "must be between 0 and 1")
	}
}

func (v *Validator) validateProvider(cfg *ProviderConfig) {
	if cfg.BaseURL == "" {
		v.addError("provider.base_url", cfg.BaseURL, "required")
	} else if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		v.addError("provider.base_url", cfg.BaseURL, "must be an absolute URL")
	}
	if cfg.Model == "" {
		v.addError("provider.model", cfg.Model, "required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError("provider.temperature", cfg.Temperature, "must be between 0 and 2")
	}
	if cfg.CallTimeout <= 0 {
		v.addError("provider.call_timeout", cfg.CallTimeout, "must be positive")
	}
	if cfg.MaxRetries < 0 {
		v.addError("provider.max_retries", cfg.MaxRetries, "must not be negative")
	}
	if cfg.RequestsPerMinute < 0 {
		v.addError("provider.requests_per_minute", cfg.RequestsPerMinute, "must not be negative")
	}
}

func (v *Validator) validateSearch(cfg *SearchConfig) {
	if cfg.IndexPath == "" {
		v.addError("search.index_path", cfg.IndexPath, "required")
	} else if !isValidPath(cfg.IndexPath) {
		v.addError("search.index_path", cfg.IndexPath, "invalid file path")
	}
	if cfg.CacheTTL < 0 {
		v.addError("search.cache_ttl", cfg.CacheTTL, "must not be negative")
	}
}

func (v *Validator) validateCheckpoint(cfg *CheckpointConfig) {
	switch cfg.Backend {
	case "sqlite", "json":
		if cfg.Path == "" {
			v.addError("checkpoint.path", cfg.Path, "required for "+cfg.Backend+" backend")
		} else if !isValidPath(cfg.Path) {
			v.addError("checkpoint.path", cfg.Path, "invalid path")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			v.addError("checkpoint.redis.addr", cfg.Redis.Addr, "required for redis backend")
		}
	case "memory":
	default:
		v.addError("checkpoint.backend", cfg.Backend, "must be one of: sqlite, json, redis, memory")
	}
	if cfg.LockTTL <= 0 {
		v.addError("checkpoint.lock_ttl", cfg.LockTTL, "must be positive")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "required")
	}
}

func (v *Validator) validateTelemetry(cfg *TelemetryConfig) {
	switch cfg.Exporter {
	case "none", "stdout":
	case "otlp":
		if cfg.Endpoint == "" {
			v.addError("telemetry.endpoint", cfg.Endpoint, "required for otlp exporter")
		}
	default:
		v.addError("telemetry.exporter", cfg.Exporter, "must be one of: none, stdout, otlp")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
