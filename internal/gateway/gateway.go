// Package gateway turns a task description into generated files by calling
// a tier-selected code generation backend.
package gateway

import (
	"context"

	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/tier"
)

// Request is one generation call.
type Request struct {
	Config      tier.GenerationConfig
	Capability  models.Capability
	Description string
	Context     models.TaskContext
}

// Result is what the backend produced. Files maps relative path to content.
type Result struct {
	Files     map[string]string
	Reasoning string
}

// Gateway generates code for a request. Implementations must honour ctx
// cancellation; a deadline expiry should surface as an error wrapping
// errors.ErrTimeout.
type Gateway interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a plain function to Gateway.
type Func func(ctx context.Context, req Request) (*Result, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
