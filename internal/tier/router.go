// Package tier maps subscription tiers to generation settings.
package tier

import (
	"github.com/p-blackswan/specforge/internal/models"
)

// GenerationConfig selects the model and token budget for one generation call.
type GenerationConfig struct {
	ModelID       string `yaml:"model_id" json:"model_id"`
	MaxTokens     int    `yaml:"max_tokens" json:"max_tokens"`
	ContextWindow int    `yaml:"context_window" json:"context_window"`
}

// Table is the full tier → config mapping.
type Table map[models.Tier]GenerationConfig

// DefaultTable returns the built-in tier settings.
func DefaultTable() Table {
	return Table{
		models.TierFree:    {ModelID: "deepseek-chat", MaxTokens: 2048, ContextWindow: 16000},
		models.TierPro:     {ModelID: "gemini-2.5", MaxTokens: 4096, ContextWindow: 64000},
		models.TierPremium: {ModelID: "gemini-2.5", MaxTokens: 8192, ContextWindow: 128000},
	}
}

// Router resolves tiers against a fixed table. It is safe for concurrent use
// because the table is never mutated after construction.
type Router struct {
	table Table
}

// NewRouter copies table into a router. Tiers missing from table keep
// their defaults.
func NewRouter(table Table) *Router {
	t := DefaultTable()
	for k, v := range table {
		t[k] = v
	}
	return &Router{table: t}
}

// Resolve returns the config for tier. Unknown tiers get the free config.
func (r *Router) Resolve(tier models.Tier) GenerationConfig {
	if cfg, ok := r.table[tier]; ok {
		return cfg
	}
	return r.table[models.TierFree]
}

// Table returns a copy of the active table.
func (r *Router) Table() Table {
	out := make(Table, len(r.table))
	for k, v := range r.table {
		out[k] = v
	}
	return out
}
