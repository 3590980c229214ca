package config

import (
	"time"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Search     SearchConfig     `mapstructure:"search"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Server     ServerConfig     `mapstructure:"server"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// AnalysisConfig holds the default per-thread analysis options.
type AnalysisConfig struct {
	NumberOfQueries            int     `mapstructure:"number_of_queries"`
	MaxSearchDepth             int     `mapstructure:"max_search_depth"`
	MaxParallelCategories      int     `mapstructure:"max_parallel_categories"`
	AnalysisStructure          string  `mapstructure:"analysis_structure"`
	IncludeDepositionQuestions bool    `mapstructure:"include_deposition_questions"`
	MaxWitnesses               int     `mapstructure:"max_witnesses"`
	SearchLimit                int     `mapstructure:"search_limit"`
	SearchThreshold            float64 `mapstructure:"search_threshold"`
}

// Options converts the section into per-thread analysis options.
func (a AnalysisConfig) Options() core.AnalysisOptions {
	return core.AnalysisOptions{
		NumberOfQueries:            a.NumberOfQueries,
		MaxSearchDepth:             a.MaxSearchDepth,
		AnalysisStructure:          a.AnalysisStructure,
		IncludeDepositionQuestions: a.IncludeDepositionQuestions,
		MaxWitnesses:               a.MaxWitnesses,
		SearchLimit:                a.SearchLimit,
		SearchThreshold:            a.SearchThreshold,
	}
}

// ProviderConfig configures the completion provider.
type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	PlannerModel      string        `mapstructure:"planner_model"`
	Temperature       float64       `mapstructure:"temperature"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// SearchConfig configures the document index.
type SearchConfig struct {
	IndexPath string        `mapstructure:"index_path"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	Backend string        `mapstructure:"backend"`
	Path    string        `mapstructure:"path"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the Redis checkpoint backend and lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	Exporter    string `mapstructure:"exporter"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}
