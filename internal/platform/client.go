package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"post_orchestrator/internal/domain"
)

// Config holds the shared HTTP client settings for one platform API.
type Config struct {
	BaseURL   string
	UploadURL string
	Timeout   time.Duration
}

type client struct {
	httpClient *http.Client
	baseURL    string
	uploadURL  string
	logger     *slog.Logger
}

func newClient(cfg Config, platform domain.Platform, logger *slog.Logger) client {
	return client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		uploadURL:  cfg.UploadURL,
		logger:     logger.With("platform", string(platform)),
	}
}

// doJSON issues a JSON request and decodes the response into out. Transport
// failures and response statuses are mapped onto the orchestrator's error
// taxonomy so the state machine can classify them without knowing HTTP.
func (c *client) doJSON(ctx context.Context, method, url, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "PostOrchestrator/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindTransientNetwork, err, "%s %s", method, url)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.Wrap(domain.KindTransientNetwork, err, "decode response from %s", url)
		}
	}
	return nil
}

// classifyStatus maps an HTTP response onto the error taxonomy. 2xx passes.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.E(domain.KindAuth, "platform rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.RateLimitedError(retryAfter(resp), "platform rate limit hit (status 429)")
	case resp.StatusCode >= 500:
		return domain.E(domain.KindPlatformServer, "platform server error (status %d)", resp.StatusCode)
	default:
		msg := readErrorBody(resp.Body)
		return domain.E(domain.KindValidation, "platform rejected request (status %d): %s", resp.StatusCode, msg)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}

func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no detail"
	}
	return string(raw)
}
