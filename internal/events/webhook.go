package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/retry"
)

const webhookUserAgent = "specforge-webhook/1.0"

// WebhookPublisher POSTs each event as JSON to a fixed URL.
type WebhookPublisher struct {
	url    string
	client *http.Client
	retry  retry.Config
	logger zerolog.Logger
}

// NewWebhookPublisher creates a webhook publisher. retries is the number of
// extra attempts after the first one.
func NewWebhookPublisher(url string, timeout time.Duration, retries int, logger zerolog.Logger) *WebhookPublisher {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = retries + 1
	cfg.BaseDelay = time.Second

	p := &WebhookPublisher{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry:  cfg,
		logger: logger.With().Str("component", "webhook").Logger(),
	}
	p.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		p.logger.Warn().Err(err).
			Str("url", p.url).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("webhook delivery failed")
	}
	return p
}

func (p *WebhookPublisher) Name() string { return "webhook" }

// Publish delivers ev, retrying transport errors and retryable statuses.
func (p *WebhookPublisher) Publish(ctx context.Context, ev models.ChangeApproved) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	err = retry.Do(ctx, p.retry, func(ctx context.Context) error {
		return p.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("webhook delivery to %s failed: %w", p.url, err)
	}

	p.logger.Info().
		Str("url", p.url).
		Str("change_id", ev.ChangeID).
		Msg("webhook delivered")
	return nil
}

func (p *WebhookPublisher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return perrors.NewAPIError("webhook", resp.StatusCode, string(bytes.TrimSpace(msg)))
}
