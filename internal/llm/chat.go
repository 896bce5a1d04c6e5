package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/specforge/internal/errors"
)

// ChatProvider implements Provider against any OpenAI-compatible
// /chat/completions endpoint. The model is chosen per request, so one
// provider serves every tier.
type ChatProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// NewChatProvider constructs a provider for baseURL (e.g. "https://openrouter.ai/api/v1").
func NewChatProvider(baseURL, apiKey string, opts ...Option) *ChatProvider {
	o := buildOptions(baseURL, "", opts)
	return &ChatProvider{
		apiKey:    apiKey,
		baseURL:   strings.TrimSuffix(o.baseURL, "/"),
		model:     o.model,
		maxTokens: o.maxTokens,
		client:    o.client,
		logger:    o.logger.With().Str("component", "llm").Str("provider", "chat").Logger(),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends a blocking chat completion request.
func (p *ChatProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	if model == "" {
		return nil, fmt.Errorf("chat provider: no model selected")
	}
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}

	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	msgs = append(msgs, req.Messages...)

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTok,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError("chat", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("chat", err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.StatusCode >= 300 || out.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, perrors.NewAPIError("chat", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 {
		return nil, perrors.NewAPIError("chat", resp.StatusCode, "response has no choices")
	}

	cr := &CompletionResponse{
		Text:         out.Choices[0].Message.Content,
		StopReason:   normaliseFinish(out.Choices[0].FinishReason),
		Model:        out.Model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}

	p.logger.Debug().
		Str("model", model).
		Str("stop_reason", cr.StopReason).
		Int("in_tokens", cr.InputTokens).
		Int("out_tokens", cr.OutputTokens).
		Msg("chat complete")
	return cr, nil
}

func normaliseFinish(reason string) string {
	switch reason {
	case "length":
		return StopReasonMaxTokens
	case "", "stop":
		return StopReasonEndTurn
	}
	return reason
}
