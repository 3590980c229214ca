package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// EnvPrefix is the prefix for environment overrides (CASEWORK_*).
const EnvPrefix = "CASEWORK"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: EnvPrefix,
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (CASEWORK_*)
// 3. Project config (.casework.yaml in current directory)
// 4. User config (~/.config/casework/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".casework")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "casework"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	defaults := core.DefaultAnalysisOptions()

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("analysis.number_of_queries", defaults.NumberOfQueries)
	l.v.SetDefault("analysis.max_search_depth", defaults.MaxSearchDepth)
	l.v.SetDefault("analysis.max_parallel_categories", 4)
	l.v.SetDefault("analysis.analysis_structure", defaults.AnalysisStructure)
	l.v.SetDefault("analysis.include_deposition_questions", defaults.IncludeDepositionQuestions)
	l.v.SetDefault("analysis.max_witnesses", defaults.MaxWitnesses)
	l.v.SetDefault("analysis.search_limit", defaults.SearchLimit)
	l.v.SetDefault("analysis.search_threshold", defaults.SearchThreshold)

	l.v.SetDefault("provider.base_url", "https://api.openai.com/v1")
	l.v.SetDefault("provider.model", "gpt-4o-mini")
	l.v.SetDefault("provider.planner_model", "")
	l.v.SetDefault("provider.temperature", 0.2)
	l.v.SetDefault("provider.call_timeout", "2m")
	l.v.SetDefault("provider.max_retries", 3)
	l.v.SetDefault("provider.requests_per_minute", 60)

	l.v.SetDefault("search.index_path", ".casework/documents.db")
	l.v.SetDefault("search.cache_ttl", "10m")

	l.v.SetDefault("checkpoint.backend", "sqlite")
	l.v.SetDefault("checkpoint.path", ".casework/checkpoints.db")
	l.v.SetDefault("checkpoint.lock_ttl", "30s")
	l.v.SetDefault("checkpoint.redis.addr", "localhost:6379")
	l.v.SetDefault("checkpoint.redis.db", 0)
	l.v.SetDefault("checkpoint.redis.prefix", "casework:")

	l.v.SetDefault("server.addr", "127.0.0.1:8088")
	l.v.SetDefault("server.cors_origins", []string{})

	l.v.SetDefault("telemetry.exporter", "none")
	l.v.SetDefault("telemetry.service_name", "casework")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}
