package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"flame_academy/internal/agent"
	"flame_academy/internal/domain"
	"flame_academy/internal/scoring"
)

type Config struct {
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Logging      LoggingConfig      `toml:"logging"`
	Scoring      scoring.Weights    `toml:"scoring"`
	Agents       []AgentConfig      `toml:"agents" validate:"dive"`
	Raw          map[string]any     `toml:"-"`
	Path         string             `toml:"-"`
}

type OrchestratorConfig struct {
	Addr              string `toml:"addr" validate:"required"`
	DBPath            string `toml:"db_path" validate:"required"`
	ExportDir         string `toml:"export_dir" validate:"required"`
	ConcurrentBatches bool   `toml:"concurrent_batches"`
	MaxBatchWorkers   int    `toml:"max_batch_workers" validate:"gte=0,lte=64"`
	DefaultTaskType   string `toml:"default_task_type" validate:"omitempty,tasktype"`
}

type LoggingConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=json console"`
}

// AgentConfig declares an extra agent in [[agents]].
type AgentConfig struct {
	ID           string              `toml:"id" validate:"required"`
	Name         string              `toml:"name" validate:"required"`
	Subject      string              `toml:"subject" validate:"required"`
	Description  string              `toml:"description"`
	Capabilities []domain.Capability `toml:"capabilities" validate:"dive,capability"`
	MinAge       int                 `toml:"min_age" validate:"gte=0"`
	MaxAge       int                 `toml:"max_age" validate:"gtefield=MinAge"`
	Topics       []string            `toml:"topics"`
	Keywords     []string            `toml:"keywords"`
}

func (a AgentConfig) Spec() agent.Spec {
	return agent.Spec{
		Descriptor: domain.AgentDescriptor{
			ID:           a.ID,
			Name:         a.Name,
			Subject:      a.Subject,
			Description:  a.Description,
			Capabilities: a.Capabilities,
			MinAge:       a.MinAge,
			MaxAge:       a.MaxAge,
		},
		Topics:   a.Topics,
		Keywords: a.Keywords,
	}
}

func Default() Config {
	return Config{
		Orchestrator: OrchestratorConfig{
			Addr:            "127.0.0.1:8787",
			DBPath:          "~/.flame_academy/academy.db",
			ExportDir:       "~/.flame_academy/exports",
			MaxBatchWorkers: 4,
			DefaultTaskType: string(domain.TaskTypeLesson),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Scoring: scoring.DefaultWeights(),
	}
}

// Load reads the TOML file at path over Default(). An empty path uses the
// default location, and a missing default file is not an error.
func Load(path string) (Config, error) {
	explicit := path != ""
	resolved := path
	if !explicit {
		resolved = defaultConfigPath()
	}
	resolved, err := ExpandHome(resolved)
	if err != nil {
		return Config{}, err
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.Path = resolved
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	cfg.Path = resolved
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := domain.Validator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(p, "~")
	trimmed = strings.TrimPrefix(trimmed, "\\")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(home, trimmed), nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flame_academy/config.toml"
	}
	return filepath.Join(home, ".flame_academy", "config.toml")
}
