package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/specforge/internal/llm"
	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/tier"
)

type fakeProvider struct {
	text string
	err  error
	got  llm.CompletionRequest
}

func (f *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.text}, nil
}

const twoFiles = "Here you go.\n" +
	"### FILE: screens/Login.js\n" +
	"```javascript\n" +
	"export default function Login() {}\n" +
	"```\n" +
	"### FILE: `services/auth.js`\n" +
	"```js\n" +
	"export const login = () => {};\n" +
	"```\n" +
	"### REASONING\n" +
	"Added a login screen and an auth service.\n"

func TestParseOutput_FileSections(t *testing.T) {
	res, err := ParseOutput(twoFiles, "fallback.js")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"screens/Login.js": "export default function Login() {}",
		"services/auth.js": "export const login = () => {};",
	}, res.Files)
	assert.Equal(t, "Added a login screen and an auth service.", res.Reasoning)
}

func TestParseOutput_FallbackPath(t *testing.T) {
	res, err := ParseOutput("const x = 1;", "components/GeneratedComponent.js")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"components/GeneratedComponent.js": "const x = 1;"}, res.Files)

	res, err = ParseOutput("Sure:\n```js\nconst y = 2;\n```\nDone.", "a.js")
	require.NoError(t, err)
	assert.Equal(t, "const y = 2;", res.Files["a.js"])
}

func TestParseOutput_UnfencedSection(t *testing.T) {
	text := "### FILE: src/auth.js\n" +
		"export const login = () => {};\n" +
		"\n" +
		"### REASONING\n" +
		"adds login\n"
	res, err := ParseOutput(text, "fallback.js")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"src/auth.js": "export const login = () => {};"}, res.Files)
	assert.Equal(t, "adds login", res.Reasoning)
}

func TestParseOutput_MixedSections(t *testing.T) {
	text := "### FILE: a.js\n" +
		"Here is a.js:\n" +
		"```js\n" +
		"const a = 1;\n" +
		"```\n" +
		"That is all for a.js.\n" +
		"### FILE: b.js\n" +
		"const b = 2;\n" +
		"### FILE: empty.js\n" +
		"### FILE: c.js\n" +
		"```js\n" +
		"const c = 3;\n"
	res, err := ParseOutput(text, "fallback.js")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"a.js": "const a = 1;",
		"b.js": "const b = 2;",
		"c.js": "const c = 3;",
	}, res.Files)
	for _, content := range res.Files {
		assert.NotContains(t, content, "### ")
	}
}

func TestParseOutput_ReasoningOnly(t *testing.T) {
	_, err := ParseOutput("### REASONING\nnothing to change\n", "a.js")
	assert.Error(t, err)

	res, err := ParseOutput("Sure:\n```js\nconst z = 3;", "a.js")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.js": "const z = 3;"}, res.Files)
}

func TestParseOutput_Empty(t *testing.T) {
	_, err := ParseOutput("  \n", "a.js")
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	req := Request{
		Config:      tier.GenerationConfig{ContextWindow: 5},
		Capability:  models.CapabilityDesign,
		Description: "add login",
		Context: models.TaskContext{
			ProjectName:    "Todo App",
			Tier:           models.TierFree,
			Specs:          map[models.DocType]string{models.DocDesign: "abcdefgh", models.DocTasks: "zzz"},
			Feedback:       "use blue",
			OriginFilePath: "screens/Login.js",
		},
	}
	p := BuildPrompt(req)
	assert.Contains(t, p, "Project: Todo App")
	assert.Contains(t, p, "## design spec\nabcde\n")
	assert.NotContains(t, p, "zzz", "budget is exhausted by the first excerpt")
	assert.Contains(t, p, "Task: add login")
	assert.Contains(t, p, "Reviewer feedback: use blue")
	assert.Contains(t, p, "to screens/Login.js")
	assert.Contains(t, p, fileMarker)
}

func TestLLMGateway_Generate(t *testing.T) {
	fp := &fakeProvider{text: "plain code"}
	g := NewLLMGateway(fp, zerolog.Nop())

	res, err := g.Generate(context.Background(), Request{
		Config:      tier.GenerationConfig{ModelID: "deepseek-chat", MaxTokens: 2048},
		Capability:  models.CapabilityBackend,
		Description: "users endpoint",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"api/generated_endpoints.py": "plain code"}, res.Files)
	assert.Contains(t, res.Reasoning, "users endpoint")
	assert.Equal(t, "deepseek-chat", fp.got.Model)
	assert.Equal(t, 2048, fp.got.MaxTokens)
	assert.Contains(t, fp.got.SystemPrompt, "backend")
}

func TestLLMGateway_OriginPathIsFallback(t *testing.T) {
	g := NewLLMGateway(&fakeProvider{text: "v2"}, zerolog.Nop())
	res, err := g.Generate(context.Background(), Request{
		Capability: models.CapabilityDesign,
		Context:    models.TaskContext{OriginFilePath: "screens/Login.js"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"screens/Login.js": "v2"}, res.Files)
}

func TestLLMGateway_ProviderError(t *testing.T) {
	boom := errors.New("boom")
	g := NewLLMGateway(&fakeProvider{err: boom}, zerolog.Nop())
	_, err := g.Generate(context.Background(), Request{Capability: models.CapabilityTesting})
	assert.ErrorIs(t, err, boom)
}

func TestFunc(t *testing.T) {
	var g Gateway = Func(func(_ context.Context, req Request) (*Result, error) {
		return &Result{Files: map[string]string{"x": req.Description}}, nil
	})
	res, err := g.Generate(context.Background(), Request{Description: "y"})
	require.NoError(t, err)
	assert.Equal(t, "y", res.Files["x"])
}
