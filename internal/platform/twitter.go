package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/transform"
)

// Twitter drives the v2 tweet endpoint plus the three-phase chunked media
// upload (INIT, APPEND, FINALIZE) with STATUS polling for video transcoding.
// Appends are resumable: a retried attempt continues from the last
// acknowledged segment.
type Twitter struct {
	client
}

func NewTwitter(cfg Config, logger *slog.Logger) *Twitter {
	return &Twitter{client: newClient(cfg, domain.PlatformTwitter, logger)}
}

func (t *Twitter) Resumable() bool { return true }

type tweetRequest struct {
	Text          string      `json:"text"`
	ReplySettings string      `json:"reply_settings,omitempty"`
	Media         *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Publish posts the tweet, injecting any previously uploaded media ids.
func (t *Twitter) Publish(ctx context.Context, token string, payload *transform.Payload, mediaIDs []string) (string, error) {
	var req tweetRequest
	if err := json.Unmarshal(payload.Body, &req); err != nil {
		return "", fmt.Errorf("decode cached payload: %w", err)
	}
	if len(mediaIDs) > 0 {
		req.Media = &tweetMedia{MediaIDs: mediaIDs}
	}

	var resp tweetResponse
	if err := t.doJSON(ctx, http.MethodPost, t.baseURL+payload.Endpoint, token, req, &resp); err != nil {
		return "", err
	}
	return resp.Data.ID, nil
}

type uploadInitResponse struct {
	MediaIDString string `json:"media_id_string"`
}

// InitUpload opens an upload session and returns the platform session id.
func (t *Twitter) InitUpload(ctx context.Context, token string, item domain.MediaItem, totalBytes int64) (string, error) {
	category := "tweet_image"
	if item.Kind() == domain.MediaVideo {
		category = "tweet_video"
	}

	form := url.Values{}
	form.Set("command", "INIT")
	form.Set("total_bytes", strconv.FormatInt(totalBytes, 10))
	form.Set("media_type", item.MimeType)
	form.Set("media_category", category)

	resp, err := t.postForm(ctx, token, form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return "", err
	}

	var out uploadInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.Wrap(domain.KindTransientNetwork, err, "decode INIT response")
	}
	t.logger.Debug("upload session opened", "media_id", out.MediaIDString, "total_bytes", totalBytes)
	return out.MediaIDString, nil
}

// AppendChunk transfers one segment. Each call is an independent retriable
// unit; the caller checkpoints acknowledged bytes.
func (t *Twitter) AppendChunk(ctx context.Context, token, mediaID string, segment int, chunk []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("command", "APPEND")
	_ = w.WriteField("media_id", mediaID)
	_ = w.WriteField("segment_index", strconv.Itoa(segment))
	part, err := w.CreateFormFile("media", "chunk")
	if err != nil {
		return fmt.Errorf("build chunk form: %w", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return fmt.Errorf("build chunk form: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("build chunk form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.uploadURL+"/1.1/media/upload.json", &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindTransientNetwork, err, "APPEND segment %d", segment)
	}
	defer resp.Body.Close()
	return classifyStatus(resp)
}

type uploadFinalizeResponse struct {
	MediaIDString  string `json:"media_id_string"`
	ProcessingInfo *struct {
		State         string `json:"state"`
		CheckAfterSec int    `json:"check_after_secs"`
	} `json:"processing_info"`
}

// FinalizeUpload closes the session. Videos usually enter asynchronous
// processing; the returned flag tells the caller to poll.
func (t *Twitter) FinalizeUpload(ctx context.Context, token, mediaID string) (bool, error) {
	form := url.Values{}
	form.Set("command", "FINALIZE")
	form.Set("media_id", mediaID)

	resp, err := t.postForm(ctx, token, form)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return false, err
	}

	var out uploadFinalizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, domain.Wrap(domain.KindTransientNetwork, err, "decode FINALIZE response")
	}
	return out.ProcessingInfo != nil, nil
}

type uploadStatusResponse struct {
	ProcessingInfo struct {
		State         string `json:"state"`
		CheckAfterSec int    `json:"check_after_secs"`
	} `json:"processing_info"`
}

// UploadStatus polls media processing. State is one of pending,
// in_progress, succeeded, failed.
func (t *Twitter) UploadStatus(ctx context.Context, token, mediaID string) (string, time.Duration, error) {
	statusURL := fmt.Sprintf("%s/1.1/media/upload.json?command=STATUS&media_id=%s", t.uploadURL, url.QueryEscape(mediaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", 0, domain.Wrap(domain.KindTransientNetwork, err, "STATUS poll")
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return "", 0, err
	}

	var out uploadStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, domain.Wrap(domain.KindTransientNetwork, err, "decode STATUS response")
	}
	return out.ProcessingInfo.State, time.Duration(out.ProcessingInfo.CheckAfterSec) * time.Second, nil
}

func (t *Twitter) postForm(ctx context.Context, token string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.uploadURL+"/1.1/media/upload.json", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransientNetwork, err, "%s", form.Get("command"))
	}
	return resp, nil
}
