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

// Instagram drives the Graph API container flow: create a media container,
// wait for asynchronous processing, then publish it.
type Instagram struct {
	client
	userID string
}

func NewInstagram(cfg Config, userID string, logger *slog.Logger) *Instagram {
	return &Instagram{client: newClient(cfg, domain.PlatformInstagram, logger), userID: userID}
}

type containerResponse struct {
	ID string `json:"id"`
}

// CreateContainer registers the draft content container and returns its id.
func (i *Instagram) CreateContainer(ctx context.Context, token string, payload *transform.Payload) (string, error) {
	var body map[string]any
	if err := json.Unmarshal(payload.Body, &body); err != nil {
		return "", fmt.Errorf("decode cached payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/media", i.baseURL, i.userID)
	var resp containerResponse
	if err := i.doJSON(ctx, http.MethodPost, endpoint, token, body, &resp); err != nil {
		return "", err
	}
	i.logger.Debug("container created", "container_id", resp.ID)
	return resp.ID, nil
}

type containerStatusResponse struct {
	StatusCode string `json:"status_code"`
}

// ContainerStatus reports processing progress: FINISHED, IN_PROGRESS or
// ERROR.
func (i *Instagram) ContainerStatus(ctx context.Context, token, containerID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=status_code", i.baseURL, containerID)
	var resp containerStatusResponse
	if err := i.doJSON(ctx, http.MethodGet, endpoint, token, nil, &resp); err != nil {
		return "", err
	}
	return resp.StatusCode, nil
}

// PublishContainer makes the processed container live and returns the
// platform post id.
func (i *Instagram) PublishContainer(ctx context.Context, token, containerID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media_publish", i.baseURL, i.userID)
	req := map[string]any{"creation_id": containerID}
	var resp containerResponse
	if err := i.doJSON(ctx, http.MethodPost, endpoint, token, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}
