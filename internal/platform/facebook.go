package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/transform"
)

// Facebook publishes to a Page with a single Graph API call. The adapted
// payload already carries the endpoint variant (feed, photos, videos,
// albums).
type Facebook struct {
	client
	pageID string
}

func NewFacebook(cfg Config, pageID string, logger *slog.Logger) *Facebook {
	return &Facebook{client: newClient(cfg, domain.PlatformFacebook, logger), pageID: pageID}
}

type facebookResponse struct {
	ID string `json:"id"`
}

func (f *Facebook) Publish(ctx context.Context, token string, payload *transform.Payload, _ []string) (string, error) {
	var body map[string]any
	if err := json.Unmarshal(payload.Body, &body); err != nil {
		return "", fmt.Errorf("decode cached payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s%s", f.baseURL, f.pageID, payload.Endpoint)
	var resp facebookResponse
	if err := f.doJSON(ctx, http.MethodPost, endpoint, token, body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}
