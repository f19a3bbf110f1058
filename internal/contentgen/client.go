package contentgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/queue"
)

// Config holds the content generation service settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls an external text generation service to pre-fill post drafts.
// Generated text is treated like any other author-supplied content.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		logger:     logger.With("component", "contentgen"),
	}
}

type generateRequest struct {
	Topic    string `json:"topic"`
	Tone     string `json:"tone,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type generateResponse struct {
	Text string `json:"text"`
}

func (c *Client) Generate(ctx context.Context, params queue.GenerateParams) (string, error) {
	raw, err := json.Marshal(generateRequest{
		Topic:    params.Topic,
		Tone:     params.Tone,
		Platform: string(params.Platform),
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.Wrap(domain.KindTransientNetwork, err, "call generator")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", domain.E(domain.KindAuth, "generator rejected credentials: %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", domain.E(domain.KindPlatformServer, "generator error: %d", resp.StatusCode)
	default:
		return "", domain.E(domain.KindValidation, "generator rejected request: %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Text == "" {
		return "", domain.E(domain.KindValidation, "generator returned empty text")
	}

	c.logger.Debug("content generated", "topic", params.Topic, "chars", len(out.Text))
	return out.Text, nil
}
