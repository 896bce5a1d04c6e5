package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/specforge/internal/llm"
	"github.com/p-blackswan/specforge/internal/models"
)

const (
	fileMarker      = "### FILE:"
	reasoningMarker = "### REASONING"
)

var systemPrompts = map[models.Capability]string{
	models.CapabilityDesign: "You are an expert UI/UX designer and React Native developer. " +
		"You create components that are visually appealing, accessible and highly functional.",
	models.CapabilityBackend: "You are a senior backend developer with expertise in FastAPI, Supabase " +
		"and modern API design. You write secure, well documented services for mobile apps.",
	models.CapabilityTesting: "You are a quality assurance engineer who practises test-driven development. " +
		"You write unit and integration test suites with proper setup, teardown and assertions.",
}

var taskInstructions = map[models.Capability]string{
	models.CapabilityDesign:  "Create a React Native component that implements the requested functionality.",
	models.CapabilityBackend: "Create backend code (API endpoints, database schemas, services) for the requested functionality. Use FastAPI and Supabase.",
	models.CapabilityTesting: "Create comprehensive test suites for the requested functionality, including any necessary mocking.",
}

var tierGuidance = map[models.Tier]string{
	models.TierFree:    "Keep it basic and functional.",
	models.TierPro:     "Add animations and advanced features where they help.",
	models.TierPremium: "Include custom hooks, animations and full accessibility support.",
}

// LLMGateway generates code through an llm.Provider. Output files are read
// from "### FILE: <path>" headers followed by a fenced code block.
type LLMGateway struct {
	provider llm.Provider
	logger   zerolog.Logger
}

// NewLLMGateway creates a gateway backed by provider.
func NewLLMGateway(provider llm.Provider, logger zerolog.Logger) *LLMGateway {
	return &LLMGateway{
		provider: provider,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// Generate implements Gateway.
func (g *LLMGateway) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompts[req.Capability],
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: BuildPrompt(req)}},
		Model:        req.Config.ModelID,
		MaxTokens:    req.Config.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	fallback := req.Context.OriginFilePath
	if fallback == "" {
		fallback = req.Capability.DefaultOutputPath()
	}
	res, err := ParseOutput(resp.Text, fallback)
	if err != nil {
		return nil, err
	}
	if res.Reasoning == "" {
		res.Reasoning = fmt.Sprintf("Generated %s code for: %s", req.Capability, req.Description)
	}

	g.logger.Info().
		Str("capability", string(req.Capability)).
		Str("model", req.Config.ModelID).
		Int("files", len(res.Files)).
		Int("out_tokens", resp.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("generation finished")
	return res, nil
}

// BuildPrompt renders the user prompt for a request. Spec excerpts are
// included in a stable order and cut to fit the tier's context window.
func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("Project: " + req.Context.ProjectName + "\n")
	if len(req.Context.Specs) > 0 {
		types := make([]string, 0, len(req.Context.Specs))
		for t := range req.Context.Specs {
			types = append(types, string(t))
		}
		sort.Strings(types)

		limited := req.Config.ContextWindow > 0
		budget := req.Config.ContextWindow
		for _, t := range types {
			excerpt := req.Context.Specs[models.DocType(t)]
			if limited {
				r := []rune(excerpt)
				if len(r) > budget {
					excerpt = string(r[:budget])
				}
				budget -= len([]rune(excerpt))
			}
			if excerpt == "" {
				continue
			}
			b.WriteString("\n## " + t + " spec\n" + excerpt + "\n")
		}
	}

	b.WriteString("\nTask: " + req.Description + "\n\n")
	b.WriteString(taskInstructions[req.Capability] + "\n")
	if g, ok := tierGuidance[req.Context.Tier]; ok {
		b.WriteString(g + "\n")
	}

	if req.Context.Feedback != "" {
		b.WriteString("\nThis is a revision of a previously proposed change")
		if req.Context.OriginFilePath != "" {
			b.WriteString(" to " + req.Context.OriginFilePath)
		}
		b.WriteString(". Reviewer feedback: " + req.Context.Feedback + "\n")
	}

	b.WriteString("\nRespond with one section per file, each starting with a line \"" + fileMarker +
		" <relative path>\" followed by the complete file in a fenced code block. " +
		"Finish with a \"" + reasoningMarker + "\" section explaining the change.\n")
	return b.String()
}

// ParseOutput extracts files and reasoning from model text. A file section
// runs from its header to the next header. Its content is the first fenced
// block in the section, or the section's unfenced lines when it has none.
// Text without any file header becomes a single file at fallbackPath, using
// the first fenced block when there is one. Marker lines never end up in a
// file.
func ParseOutput(text, fallbackPath string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("generation returned no content")
	}

	res := &Result{Files: make(map[string]string)}

	var (
		path      string // active file section
		done      bool   // active section already has its fenced block
		inFence   bool
		inReason  bool
		fenced    []string
		unfenced  []string
		reasoning []string
		loose     []string // fenced blocks outside any file section
		plain     []string // unfenced lines outside any section
	)

	flush := func() {
		if path != "" && !done {
			if content := strings.TrimSpace(strings.Join(unfenced, "\n")); content != "" {
				res.Files[path] = content
			}
		}
		path, done, unfenced = "", false, nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inFence && strings.HasPrefix(trimmed, fileMarker):
			flush()
			path = strings.Trim(strings.TrimSpace(strings.TrimPrefix(trimmed, fileMarker)), "`")
			inReason = false
		case !inFence && strings.HasPrefix(trimmed, reasoningMarker):
			flush()
			inReason = true
		case strings.HasPrefix(trimmed, "```"):
			if !inFence {
				inFence = true
				continue
			}
			inFence = false
			content := strings.Join(fenced, "\n")
			fenced = nil
			switch {
			case path != "" && !done:
				res.Files[path] = content
				done = true
			case path == "" && !inReason:
				loose = append(loose, content)
			}
		case inFence:
			fenced = append(fenced, line)
		case inReason:
			reasoning = append(reasoning, line)
		case path != "":
			if !done {
				unfenced = append(unfenced, line)
			}
		default:
			plain = append(plain, line)
		}
	}
	// Unterminated fence: keep what was streamed.
	if inFence {
		content := strings.Join(fenced, "\n")
		switch {
		case path != "" && !done:
			res.Files[path] = content
			done = true
		case path == "" && !inReason:
			loose = append(loose, content)
		}
	}
	flush()

	res.Reasoning = strings.TrimSpace(strings.Join(reasoning, "\n"))

	if len(res.Files) == 0 {
		content := strings.TrimSpace(strings.Join(plain, "\n"))
		if len(loose) > 0 {
			content = loose[0]
		}
		if content == "" {
			return nil, fmt.Errorf("generation returned no file content")
		}
		res.Files[fallbackPath] = content
	}
	return res, nil
}
