package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Models  ModelsConfig  `koanf:"models"`
	Budget  BudgetConfig  `koanf:"budget"`
	Engine  EngineConfig  `koanf:"engine"`
	Sandbox SandboxConfig `koanf:"sandbox"`
	Retry   RetryConfig   `koanf:"retry"`
	Pool    PoolConfig    `koanf:"pool"`
}

type ServerConfig struct {
	BindAddr        string `koanf:"bind_addr"`
	LogLevel        string `koanf:"log_level"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type ModelsConfig struct {
	Default  string          `koanf:"default"`
	Sub      string          `koanf:"sub"`
	Registry []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name     string `koanf:"name"`
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type BudgetConfig struct {
	RootTokens int64 `koanf:"root_tokens"`
	SubTokens  int64 `koanf:"sub_tokens"`
}

type EngineConfig struct {
	MaxIterations       int     `koanf:"max_iterations"`
	MaxDepth            int     `koanf:"max_depth"`
	CompactionEnabled   bool    `koanf:"compaction_enabled"`
	CompactionThreshold float64 `koanf:"compaction_threshold"`
	MaxOutputBytes      int     `koanf:"max_output_bytes"`
}

type SandboxConfig struct {
	ExecTimeout string `koanf:"exec_timeout"`
	MaxSteps    uint64 `koanf:"max_steps"`
	Persistent  bool   `koanf:"persistent"`
}

type RetryConfig struct {
	MaxAttempts int    `koanf:"max_attempts"`
	BaseBackoff string `koanf:"base_backoff"`
	MaxBackoff  string `koanf:"max_backoff"`
}

type PoolConfig struct {
	IdleTTL string `koanf:"idle_ttl"`
	MaxIdle int    `koanf:"max_idle"`
}

const (
	DefaultServerBindAddr           = "127.0.0.1:0"
	DefaultServerLogLevel           = "info"
	DefaultServerShutdownTimeout    = "5s"
	DefaultModelDefault             = "gpt-4o"
	DefaultModelSub                 = "gpt-4o-mini"
	DefaultOpenAIBaseURL            = "https://api.openai.com/v1"
	DefaultBudgetRootTokens         = int64(0)
	DefaultBudgetSubTokens          = int64(0)
	DefaultEngineMaxIterations      = 10
	DefaultEngineMaxDepth           = 2
	DefaultEngineCompactionEnabled  = true
	DefaultEngineCompactionFraction = 0.8
	DefaultEngineMaxOutputBytes     = 2000
	DefaultSandboxExecTimeout       = "30s"
	DefaultSandboxMaxSteps          = uint64(10_000_000)
	DefaultSandboxPersistent        = false
	DefaultRetryMaxAttempts         = 3
	DefaultRetryBaseBackoff         = "250ms"
	DefaultRetryMaxBackoff          = "5s"
	DefaultPoolIdleTTL              = "60s"
	DefaultPoolMaxIdle              = 8
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.bind_addr":           DefaultServerBindAddr,
		"server.log_level":           DefaultServerLogLevel,
		"server.shutdown_timeout":    DefaultServerShutdownTimeout,
		"models.default":             DefaultModelDefault,
		"models.sub":                 DefaultModelSub,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: DefaultModelSub, Provider: "openai"},
		},
		"budget.root_tokens":         DefaultBudgetRootTokens,
		"budget.sub_tokens":          DefaultBudgetSubTokens,
		"engine.max_iterations":      DefaultEngineMaxIterations,
		"engine.max_depth":           DefaultEngineMaxDepth,
		"engine.compaction_enabled":  DefaultEngineCompactionEnabled,
		"engine.compaction_threshold": DefaultEngineCompactionFraction,
		"engine.max_output_bytes":    DefaultEngineMaxOutputBytes,
		"sandbox.exec_timeout":       DefaultSandboxExecTimeout,
		"sandbox.max_steps":          DefaultSandboxMaxSteps,
		"sandbox.persistent":         DefaultSandboxPersistent,
		"retry.max_attempts":         DefaultRetryMaxAttempts,
		"retry.base_backoff":         DefaultRetryBaseBackoff,
		"retry.max_backoff":          DefaultRetryMaxBackoff,
		"pool.idle_ttl":              DefaultPoolIdleTTL,
		"pool.max_idle":              DefaultPoolMaxIdle,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".rekur", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("REKUR_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "REKUR_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	// Post-Process: Inject standard Env Vars if missing
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openai" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}

	return &cfg, nil
}
