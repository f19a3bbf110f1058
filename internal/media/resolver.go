package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"post_orchestrator/internal/domain"
)

// Config holds the fetcher's HTTP settings.
type Config struct {
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Resolver fetches media bytes from their source URL. Post media is stored
// by reference; bytes are pulled only when a platform needs them uploaded.
type Resolver struct {
	httpClient     *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Resolver {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	return &Resolver{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "media_resolver"),
	}
}

// Resolve downloads the referenced media. Transient fetch failures are
// retried in place; a definitive miss (404, 410) is reported immediately
// as unavailable.
func (r *Resolver) Resolve(ctx context.Context, ref domain.MediaItem) ([]byte, error) {
	var data []byte
	var err error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		data, err = r.fetch(ctx, ref.URL)
		if err == nil {
			return data, nil
		}
		if domain.KindOf(err) == domain.KindMediaUnavailable {
			return nil, err
		}
		if attempt == r.maxAttempts {
			break
		}

		backoff := r.calculateBackoff(attempt)
		r.logger.Warn("media fetch failed, retrying",
			"url", ref.URL,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", r.maxAttempts, err)
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransientNetwork, err, "fetch media")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, domain.E(domain.KindMediaUnavailable, "media not found: %s", url)
	default:
		return nil, domain.E(domain.KindTransientNetwork, "unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransientNetwork, err, "read media body")
	}
	return data, nil
}

func (r *Resolver) calculateBackoff(attempt int) time.Duration {
	backoff := r.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > r.maxBackoff {
		backoff = r.maxBackoff
	}
	return backoff
}
