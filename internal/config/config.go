// Package config handles configuration loading for kubepilot. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for kubepilot.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Guardrail GuardrailConfig `mapstructure:"guardrail"`
	Feedback  FeedbackConfig  `mapstructure:"feedback"`
	History   HistoryConfig   `mapstructure:"history"`
	Kubectl   KubectlConfig   `mapstructure:"kubectl"`
	LogLevel  string          `mapstructure:"log_level"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// PlannerConfig holds decomposition settings.
type PlannerConfig struct {
	// Timeout bounds the reasoning provider call before falling back.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxSteps caps the tasks accepted per plan.
	MaxSteps int `mapstructure:"max_steps"`
	// DisableProvider forces template-only decomposition.
	DisableProvider bool `mapstructure:"disable_provider"`
}

// SchedulerConfig holds execution settings.
type SchedulerConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MaxRetries     int           `mapstructure:"max_retries"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	Role           string        `mapstructure:"role"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
}

// GuardrailConfig points at the guardrail policy file.
type GuardrailConfig struct {
	// ConfigPath is the guardrail YAML; empty uses built-in defaults.
	ConfigPath string `mapstructure:"config_path"`
	// Watch reloads the policy when the file changes.
	Watch bool `mapstructure:"watch"`
}

// FeedbackConfig holds feedback loop settings.
type FeedbackConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Mode                string `mapstructure:"mode"`
	RetryOnNoResponse   bool   `mapstructure:"retry_on_no_response"`
	AutoLearnOnPositive bool   `mapstructure:"auto_learn_on_positive"`
	AutoLearnOnNegative bool   `mapstructure:"auto_learn_on_negative"`
	// AllowAnonymous accepts feedback without an operator identity. When
	// false, collection is skipped if the operator cannot be determined.
	AllowAnonymous bool `mapstructure:"allow_anonymous"`
	// MetadataToStore lists the run attributes persisted with each record.
	MetadataToStore []string `mapstructure:"metadata_to_store"`
	DBPath          string   `mapstructure:"db_path"`
}

// HistoryConfig holds run history settings.
type HistoryConfig struct {
	DBPath    string        `mapstructure:"db_path"`
	Retention time.Duration `mapstructure:"retention"`
}

// KubectlConfig holds kubectl invocation settings.
type KubectlConfig struct {
	Bin     string `mapstructure:"bin"`
	Context string `mapstructure:"context"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, KUBEPILOT_*)
// 2. Project config (.kubepilot.yaml in current directory or a parent)
// 3. User config (~/.config/kubepilot/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("KUBEPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")

	v.SetDefault("planner.timeout", "30s")
	v.SetDefault("planner.max_steps", 10)
	v.SetDefault("planner.disable_provider", false)

	v.SetDefault("scheduler.max_concurrency", 3)
	v.SetDefault("scheduler.max_retries", 2)
	v.SetDefault("scheduler.task_timeout", "60s")
	v.SetDefault("scheduler.retry_base_delay", "1s")
	v.SetDefault("scheduler.retry_max_delay", "30s")
	v.SetDefault("scheduler.role", "viewer")
	v.SetDefault("scheduler.metrics_addr", "")

	v.SetDefault("guardrail.config_path", "")
	v.SetDefault("guardrail.watch", false)

	v.SetDefault("feedback.enabled", true)
	v.SetDefault("feedback.mode", "thumbs")
	v.SetDefault("feedback.retry_on_no_response", false)
	v.SetDefault("feedback.auto_learn_on_positive", true)
	v.SetDefault("feedback.auto_learn_on_negative", true)
	v.SetDefault("feedback.allow_anonymous", true)
	v.SetDefault("feedback.metadata_to_store", []string{"category", "namespace", "plan_status"})
	v.SetDefault("feedback.db_path", "")

	v.SetDefault("history.db_path", "")
	v.SetDefault("history.retention", "168h")

	v.SetDefault("kubectl.bin", "kubectl")
	v.SetDefault("kubectl.context", "")

	v.SetDefault("log_level", "info")
}

// getUserConfigDir returns the XDG config directory for kubepilot.
func getUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kubepilot")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "kubepilot")
}

// findProjectConfig walks up from the working directory looking for
// .kubepilot.yaml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".kubepilot.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a value.
func expandEnv(value string) string {
	if strings.Contains(value, "${") {
		return os.ExpandEnv(value)
	}
	return value
}
