package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kranthiB/kubepilot/internal/config"
	"github.com/kranthiB/kubepilot/internal/decompose"
	"github.com/kranthiB/kubepilot/internal/guardrail"
	"github.com/kranthiB/kubepilot/internal/logger"
	"github.com/kranthiB/kubepilot/internal/metrics"
	"github.com/kranthiB/kubepilot/internal/state"
)

func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	return logger.New(level)
}

// buildGuardrails loads the policy file (or built-in defaults when no path
// is configured) and compiles the engine. The watcher is non-nil only when
// watching is enabled and a file path is set.
func buildGuardrails(cfg *config.Config, log *slog.Logger) (*guardrail.Engine, *guardrail.Watcher, error) {
	if cfg.Guardrail.ConfigPath == "" {
		engine, err := guardrail.NewEngine(guardrail.DefaultConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("compile guardrails: %w", err)
		}
		return engine, nil, nil
	}

	if cfg.Guardrail.Watch {
		w, err := guardrail.NewWatcher(cfg.Guardrail.ConfigPath, log, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("load guardrails: %w", err)
		}
		return w.Engine(), w, nil
	}

	gcfg, err := guardrail.LoadConfig(cfg.Guardrail.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load guardrails: %w", err)
	}
	engine, err := guardrail.NewEngine(gcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("compile guardrails: %w", err)
	}
	return engine, nil, nil
}

func buildDecomposer(cfg *config.Config, templates *decompose.TemplateStore, m *metrics.Registry, log *slog.Logger) (*decompose.Decomposer, error) {
	var provider decompose.Provider
	if !cfg.Planner.DisableProvider && cfg.Anthropic.APIKey != "" {
		p, err := decompose.NewAnthropicProvider(decompose.AnthropicConfig{
			APIKey: cfg.Anthropic.APIKey,
			Model:  cfg.Anthropic.Model,
		}, m)
		if err != nil {
			return nil, err
		}
		provider = p
	}
	return decompose.New(provider, templates, m, log, decompose.Config{
		Timeout:  cfg.Planner.Timeout,
		MaxSteps: cfg.Planner.MaxSteps,
	}), nil
}

func historyDBPath(cfg *config.Config) string {
	if cfg.History.DBPath != "" {
		return cfg.History.DBPath
	}
	return state.DefaultDBPath()
}

func feedbackDBPath(cfg *config.Config) string {
	if cfg.Feedback.DBPath != "" {
		return cfg.Feedback.DBPath
	}
	return filepath.Join(filepath.Dir(state.DefaultDBPath()), "feedback.db")
}
