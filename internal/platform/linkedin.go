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

// LinkedIn publishes UGC posts with a single call. The author URN is
// stamped in from the configured member id at publish time.
type LinkedIn struct {
	client
	personID string
}

func NewLinkedIn(cfg Config, personID string, logger *slog.Logger) *LinkedIn {
	return &LinkedIn{client: newClient(cfg, domain.PlatformLinkedIn, logger), personID: personID}
}

type linkedInResponse struct {
	ID string `json:"id"`
}

func (l *LinkedIn) Publish(ctx context.Context, token string, payload *transform.Payload, _ []string) (string, error) {
	var body map[string]any
	if err := json.Unmarshal(payload.Body, &body); err != nil {
		return "", fmt.Errorf("decode cached payload: %w", err)
	}
	body["author"] = fmt.Sprintf("urn:li:person:%s", l.personID)

	var resp linkedInResponse
	if err := l.doJSON(ctx, http.MethodPost, l.baseURL+payload.Endpoint, token, body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}
