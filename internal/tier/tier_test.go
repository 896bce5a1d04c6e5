package tier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/specforge/internal/models"
)

func TestResolve_Defaults(t *testing.T) {
	r := NewRouter(nil)

	assert.Equal(t, GenerationConfig{ModelID: "deepseek-chat", MaxTokens: 2048, ContextWindow: 16000}, r.Resolve(models.TierFree))
	assert.Equal(t, "gemini-2.5", r.Resolve(models.TierPro).ModelID)
	assert.Equal(t, 4096, r.Resolve(models.TierPro).MaxTokens)
	assert.Equal(t, 8192, r.Resolve(models.TierPremium).MaxTokens)
}

func TestResolve_UnknownFallsBackToFree(t *testing.T) {
	r := NewRouter(nil)
	assert.Equal(t, r.Resolve(models.TierFree), r.Resolve("enterprise"))
	assert.Equal(t, r.Resolve(models.TierFree), r.Resolve(""))
}

func TestNewRouter_OverridesOnlyGivenTiers(t *testing.T) {
	r := NewRouter(Table{models.TierPro: {ModelID: "custom", MaxTokens: 1000}})
	assert.Equal(t, "custom", r.Resolve(models.TierPro).ModelID)
	assert.Equal(t, "deepseek-chat", r.Resolve(models.TierFree).ModelID)

	tbl := r.Table()
	tbl[models.TierFree] = GenerationConfig{ModelID: "mutated"}
	assert.Equal(t, "deepseek-chat", r.Resolve(models.TierFree).ModelID, "Table must return a copy")
}

func TestLoadTable(t *testing.T) {
	t.Setenv("PREMIUM_MODEL", "claude-sonnet")
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	data := `
tiers:
  premium:
    model_id: ${PREMIUM_MODEL}
    max_tokens: 16000
  Free:
    model_id: small
    max_tokens: 512
    context_window: 4000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	tbl, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, GenerationConfig{ModelID: "claude-sonnet", MaxTokens: 16000, ContextWindow: 128000}, tbl[models.TierPremium])
	assert.Equal(t, GenerationConfig{ModelID: "small", MaxTokens: 512, ContextWindow: 4000}, tbl[models.TierFree])
	_, hasPro := tbl[models.TierPro]
	assert.False(t, hasPro)
}

func TestParseTable_Errors(t *testing.T) {
	_, err := ParseTable([]byte("tiers:\n  gold:\n    model_id: x\n    max_tokens: 1\n"))
	assert.Error(t, err)

	_, err = ParseTable([]byte("tiers:\n  pro:\n    max_tokens: 1\n"))
	assert.ErrorContains(t, err, "model_id")

	_, err = ParseTable([]byte("tiers:\n  pro:\n    model_id: x\n"))
	assert.ErrorContains(t, err, "max_tokens")

	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
