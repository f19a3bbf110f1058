package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/queue"
	"post_orchestrator/internal/transform"
)

// Orchestrator is the slice of queue behavior the HTTP layer drives.
type Orchestrator interface {
	Submit(ctx context.Context, post *domain.UnifiedPost, priority domain.Priority) (*queue.SubmitResult, error)
	Cancel(ctx context.Context, postID string) (int64, error)
}

// Handler exposes the orchestrator over HTTP.
type Handler struct {
	orch      Orchestrator
	posts     queue.PostStore
	jobs      queue.JobStore
	registry  *transform.Registry
	generator queue.ContentGenerator
	logger    *slog.Logger
}

func NewHandler(
	orch Orchestrator,
	posts queue.PostStore,
	jobs queue.JobStore,
	registry *transform.Registry,
	generator queue.ContentGenerator,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		orch:      orch,
		posts:     posts,
		jobs:      jobs,
		registry:  registry,
		generator: generator,
		logger:    logger.With("component", "api"),
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.health)

	g := r.Group("/orchestrator")
	g.POST("/posts", h.submitPost)
	g.GET("/posts/:id/status", h.postStatus)
	g.POST("/posts/:id/cancel", h.cancelPost)
	g.GET("/posts/:id/preview", h.previewPost)
	g.POST("/generate", h.generate)
}

type mediaRequest struct {
	URL         string `json:"url" binding:"required"`
	MimeType    string `json:"mime_type" binding:"required"`
	AltText     string `json:"alt_text"`
	SizeBytes   int64  `json:"size_bytes"`
	DurationSec int    `json:"duration_sec"`
}

type utmRequest struct {
	Source   string `json:"source"`
	Medium   string `json:"medium"`
	Campaign string `json:"campaign"`
	Content  string `json:"content"`
}

type submitRequest struct {
	PostID      string         `json:"post_id"`
	AccountID   string         `json:"account_id" binding:"required"`
	Title       string         `json:"title"`
	Body        string         `json:"body" binding:"required"`
	Summary     string         `json:"summary"`
	Media       []mediaRequest `json:"media"`
	Platforms   []string       `json:"platforms" binding:"required,min=1"`
	Tags        []string       `json:"tags"`
	Mentions    []string       `json:"mentions"`
	Links       []string       `json:"links"`
	ScheduledAt *time.Time     `json:"scheduled_at"`
	UTM         *utmRequest    `json:"utm"`
	Priority    string         `json:"priority"`
}

type jobResponse struct {
	ID             int64  `json:"id"`
	Platform       string `json:"platform"`
	State          string `json:"state"`
	Attempts       int    `json:"attempts"`
	PlatformPostID string `json:"platform_post_id,omitempty"`
	LastErrorKind  string `json:"last_error_kind,omitempty"`
	LastErrorMsg   string `json:"last_error,omitempty"`
}

type submitResponse struct {
	PostID       string        `json:"post_id"`
	Status       string        `json:"status"`
	Deduplicated bool          `json:"deduplicated"`
	Jobs         []jobResponse `json:"jobs"`
}

func (h *Handler) submitPost(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post := &domain.UnifiedPost{
		ID:          req.PostID,
		AccountID:   req.AccountID,
		Title:       req.Title,
		Body:        req.Body,
		Summary:     req.Summary,
		Tags:        req.Tags,
		Mentions:    req.Mentions,
		Links:       req.Links,
		ScheduledAt: req.ScheduledAt,
	}
	for _, m := range req.Media {
		post.MediaItems = append(post.MediaItems, domain.MediaItem{
			URL:         m.URL,
			MimeType:    m.MimeType,
			AltText:     m.AltText,
			SizeBytes:   m.SizeBytes,
			DurationSec: m.DurationSec,
		})
	}
	for _, p := range req.Platforms {
		platform := domain.Platform(p)
		if !platform.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform: " + p})
			return
		}
		post.TargetPlatforms = append(post.TargetPlatforms, platform)
	}
	if req.UTM != nil {
		post.UTM = &domain.UTMParams{
			Source:   req.UTM.Source,
			Medium:   req.UTM.Medium,
			Campaign: req.UTM.Campaign,
			Content:  req.UTM.Content,
		}
	}

	result, err := h.orch.Submit(c.Request.Context(), post, domain.ParsePriority(req.Priority))
	if err != nil {
		h.renderError(c, err)
		return
	}

	status := domain.PostStatusQueued
	if stored, err := h.posts.Get(c.Request.Context(), result.PostID); err == nil {
		status = stored.Status
	}

	resp := submitResponse{
		PostID:       result.PostID,
		Status:       string(status),
		Deduplicated: result.Existed,
	}
	for _, job := range result.Jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}
	c.JSON(http.StatusAccepted, resp)
}

type statusResponse struct {
	PostID string        `json:"post_id"`
	Status string        `json:"status"`
	Jobs   []jobResponse `json:"jobs"`
}

func (h *Handler) postStatus(c *gin.Context) {
	id := c.Param("id")

	post, err := h.posts.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
			return
		}
		h.renderError(c, err)
		return
	}

	jobs, err := h.jobs.GetByPost(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	resp := statusResponse{PostID: id, Status: string(post.Status)}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) cancelPost(c *gin.Context) {
	id := c.Param("id")

	if _, err := h.posts.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
			return
		}
		h.renderError(c, err)
		return
	}

	n, err := h.orch.Cancel(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"post_id": id, "jobs_cancelled": n})
}

type previewEntry struct {
	Platform   string                `json:"platform"`
	Text       string                `json:"text,omitempty"`
	Endpoint   string                `json:"endpoint,omitempty"`
	Violations []transform.Violation `json:"violations,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// previewPost adapts the stored post for each target platform without
// touching the queue, so authors can see truncation and constraint
// violations before anything publishes.
func (h *Handler) previewPost(c *gin.Context) {
	id := c.Param("id")

	post, err := h.posts.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
			return
		}
		h.renderError(c, err)
		return
	}

	platforms := post.TargetPlatforms
	if p := c.Query("platform"); p != "" {
		platforms = []domain.Platform{domain.Platform(p)}
	}

	entries := make([]previewEntry, 0, len(platforms))
	for _, platform := range platforms {
		entry := previewEntry{Platform: string(platform)}
		t, err := h.registry.For(platform)
		if err != nil {
			entry.Error = err.Error()
			entries = append(entries, entry)
			continue
		}
		payload, err := t.Adapt(post)
		if err != nil {
			entry.Error = err.Error()
			entries = append(entries, entry)
			continue
		}
		entry.Text = payload.Text
		entry.Endpoint = payload.Endpoint
		entry.Violations = t.Validate(payload)
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, gin.H{"post_id": id, "previews": entries})
}

type generateRequest struct {
	Topic    string `json:"topic" binding:"required"`
	Tone     string `json:"tone"`
	Platform string `json:"platform"`
}

func (h *Handler) generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	text, err := h.generator.Generate(c.Request.Context(), queue.GenerateParams{
		Topic:    req.Topic,
		Tone:     req.Tone,
		Platform: domain.Platform(req.Platform),
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindValidation, domain.KindUnsupportedContent:
		status = http.StatusBadRequest
	case domain.KindAuth:
		status = http.StatusUnauthorized
	case domain.KindRateLimited:
		status = http.StatusTooManyRequests
	case domain.KindMediaUnavailable:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	body := gin.H{"error": err.Error()}
	if kind != "" {
		body["kind"] = string(kind)
	}
	c.JSON(status, body)
}

func toJobResponse(job *domain.PublishJob) jobResponse {
	return jobResponse{
		ID:             job.ID,
		Platform:       string(job.Platform),
		State:          string(job.State),
		Attempts:       job.Attempts,
		PlatformPostID: job.PlatformPostID,
		LastErrorKind:  string(job.LastErrorKind),
		LastErrorMsg:   job.LastErrorMsg,
	}
}
