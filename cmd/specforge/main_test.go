package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/specforge/internal/config"
	"github.com/p-blackswan/specforge/internal/llm"
)

func TestNewProvider(t *testing.T) {
	p := newProvider(&config.Config{LLMProvider: "anthropic", AnthropicAPIKey: "k"}, zerolog.Nop())
	assert.IsType(t, &llm.AnthropicProvider{}, p)

	p = newProvider(&config.Config{LLMProvider: "chat", LLMBaseURL: "http://localhost:1234/v1"}, zerolog.Nop())
	assert.IsType(t, &llm.ChatProvider{}, p)
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "user", "token"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestMigrateAndUserCreate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(dir, "specforge.db"))
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--env-file", filepath.Join(dir, "missing.env"), "migrate"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "schema version")

	out.Reset()
	rootCmd.SetArgs([]string{"--env-file", filepath.Join(dir, "missing.env"), "user", "create", "--email", "Dev@Example.com", "--tier", "pro"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), `"email": "dev@example.com"`)
	assert.Contains(t, out.String(), `"tier": "pro"`)
}
