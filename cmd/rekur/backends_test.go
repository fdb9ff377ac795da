package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rekurlabs/rekur/internal/config"
	"github.com/rekurlabs/rekur/internal/protocol"
)

func TestCreateBackendStub(t *testing.T) {
	client, err := createBackend(config.ModelRegistry{Name: "test-model", Provider: "stub"})
	require.NoError(t, err)
	assert.Equal(t, "test-model", client.ModelName())
}

func TestCreateBackendUnknownProvider(t *testing.T) {
	_, err := createBackend(config.ModelRegistry{Name: "m", Provider: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestCreateBackendOpenAIRequiresKey(t *testing.T) {
	_, err := createBackend(config.ModelRegistry{Name: "gpt-4o", Provider: "openai"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestBuildRegistryWiresDefaultAndSub(t *testing.T) {
	cfg := &config.Config{
		Models: config.ModelsConfig{
			Default: "big",
			Sub:     "small",
			Registry: []config.ModelRegistry{
				{Name: "big", Provider: "stub"},
				{Name: "small", Provider: "stub"},
			},
		},
	}

	registry, err := buildRegistry(cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"big", "small"}, registry.Names())

	// Depth >= 1 routes to the sub model.
	client, err := registry.Resolve(&protocol.CompletionRequest{Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, "small", client.ModelName())

	client, err = registry.Resolve(&protocol.CompletionRequest{Depth: 0})
	require.NoError(t, err)
	assert.Equal(t, "big", client.ModelName())
}

func TestBuildRegistryUnknownDefault(t *testing.T) {
	cfg := &config.Config{
		Models: config.ModelsConfig{
			Default:  "missing",
			Registry: []config.ModelRegistry{{Name: "big", Provider: "stub"}},
		},
	}
	_, err := buildRegistry(cfg)
	assert.Error(t, err)
}
