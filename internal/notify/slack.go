package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const warnPrefix = "🚨 "

type Config struct {
	InfoWebhook string
	WarnWebhook string
	// WarnMention is a Slack member id tagged on warnings.
	WarnMention string
	Timeout     time.Duration
}

// Slack posts run notices to incoming webhooks. A channel without a webhook
// URL is silently skipped.
type Slack struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

type message struct {
	Text string `json:"text"`
}

func NewSlack(cfg Config, logger *slog.Logger) *Slack {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Slack{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (s *Slack) Info(ctx context.Context, msg string) error {
	return s.post(ctx, s.cfg.InfoWebhook, msg)
}

func (s *Slack) Warn(ctx context.Context, msg string) error {
	prefix := warnPrefix
	if s.cfg.WarnMention != "" {
		prefix += "<@" + s.cfg.WarnMention + "> "
	}
	return s.post(ctx, s.cfg.WarnWebhook, prefix+msg)
}

func (s *Slack) post(ctx context.Context, url, text string) error {
	if url == "" {
		s.logger.Debug("slack webhook not configured, skipping")
		return nil
	}

	body, err := json.Marshal(message{Text: text})
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
