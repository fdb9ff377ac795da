package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rekurlabs/rekur/internal/broker"
	"github.com/rekurlabs/rekur/internal/config"
	"github.com/rekurlabs/rekur/internal/engine"
	"github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/model"
	anthropicProvider "github.com/rekurlabs/rekur/internal/model/providers/anthropic"
	geminiProvider "github.com/rekurlabs/rekur/internal/model/providers/gemini"
	openaiProvider "github.com/rekurlabs/rekur/internal/model/providers/openai"
	"github.com/rekurlabs/rekur/internal/retry"
	"github.com/rekurlabs/rekur/internal/sandbox"
)

// createBackend builds a client for one registry entry.
func createBackend(entry config.ModelRegistry) (model.BackendClient, error) {
	switch entry.Provider {
	case "openai":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}

		if entry.APIKey == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("API key required for OpenAI model %s", entry.Name))
		}

		return openaiProvider.New(entry.APIKey, baseURL, entry.Name), nil

	case "anthropic":
		if entry.APIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("API key required for Anthropic model %s", entry.Name))
		}

		return anthropicProvider.New(entry.APIKey, entry.Name), nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("API key required for Gemini model %s", entry.Name))
		}

		return geminiProvider.New(entry.APIKey, entry.Name)

	case "stub":
		return model.NewStubClient(entry.Name), nil

	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unknown provider %q for model %s", entry.Provider, entry.Name))
	}
}

func buildRegistry(cfg *config.Config) (*broker.Registry, error) {
	registry := broker.NewRegistry()
	for _, entry := range cfg.Models.Registry {
		client, err := createBackend(entry)
		if err != nil {
			return nil, err
		}
		registry.Register(client)
	}

	if cfg.Models.Default != "" {
		if err := registry.SetDefault(cfg.Models.Default); err != nil {
			return nil, err
		}
	}
	if cfg.Models.Sub != "" {
		if err := registry.SetSub(cfg.Models.Sub); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func retryPolicy(cfg *config.Config) (retry.Policy, error) {
	base, err := config.DurationOrDefault(cfg.Retry.BaseBackoff, config.DefaultRetryBaseBackoff)
	if err != nil {
		return retry.Policy{}, err
	}
	max, err := config.DurationOrDefault(cfg.Retry.MaxBackoff, config.DefaultRetryMaxBackoff)
	if err != nil {
		return retry.Policy{}, err
	}
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: base,
		MaxBackoff:  max,
	}, nil
}

func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	policy, err := retryPolicy(cfg)
	if err != nil {
		return nil, err
	}
	shutdown, err := config.DurationOrDefault(cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return nil, err
	}
	sandboxOpts, err := sandboxOptions(cfg)
	if err != nil {
		return nil, err
	}

	guard := broker.NewBudgetGuard(cfg.Budget.RootTokens, cfg.Budget.SubTokens)
	return engine.New(registry, guard, engine.Config{
		MaxIterations:      cfg.Engine.MaxIterations,
		MaxDepth:           cfg.Engine.MaxDepth,
		CompactionEnabled:  cfg.Engine.CompactionEnabled,
		CompactionFraction: cfg.Engine.CompactionThreshold,
		MaxOutputBytes:     cfg.Engine.MaxOutputBytes,
		BrokerBindAddr:     cfg.Server.BindAddr,
		ShutdownTimeout:    shutdown,
		RetryPolicy:        policy,
		Sandbox:            sandboxOpts,
	}), nil
}

func sandboxOptions(cfg *config.Config) (sandbox.Options, error) {
	execTimeout, err := config.DurationOrDefault(cfg.Sandbox.ExecTimeout, config.DefaultSandboxExecTimeout)
	if err != nil {
		return sandbox.Options{}, err
	}
	return sandbox.Options{
		ExecTimeout: execTimeout,
		MaxSteps:    cfg.Sandbox.MaxSteps,
	}, nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	d, err := config.DurationOrDefault(cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		d, _ = time.ParseDuration(config.DefaultServerShutdownTimeout)
	}
	return d
}
