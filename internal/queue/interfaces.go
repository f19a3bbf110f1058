package queue

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"post_orchestrator/internal/domain"
)

// ErrDuplicatePost reports a first submission that lost the posts
// primary-key race to a concurrent request with the same id. Submit
// recovers by returning the winner's rows.
var ErrDuplicatePost = errors.New("post already exists")

type PostStore interface {
	Insert(ctx context.Context, post *domain.UnifiedPost) error
	Get(ctx context.Context, id string) (*domain.UnifiedPost, error)
	UpdateStatus(ctx context.Context, id string, status domain.PostStatus) error
}

type JobStore interface {
	// InsertIfAbsent writes the job unless one with the same idempotency
	// key already exists. The returned job is the stored row either way.
	InsertIfAbsent(ctx context.Context, job *domain.PublishJob) (created bool, stored *domain.PublishJob, err error)
	Get(ctx context.Context, id int64) (*domain.PublishJob, error)
	GetByPost(ctx context.Context, postID string) ([]*domain.PublishJob, error)
	// AcquireNext leases the highest-priority eligible job, FIFO within a
	// tier. Returns nil when nothing is eligible.
	AcquireNext(ctx context.Context, owner string, leaseTTL time.Duration) (*domain.PublishJob, error)
	Update(ctx context.Context, job *domain.PublishJob) error
	// CancelPending marks every not-yet-started job of the post cancelled.
	CancelPending(ctx context.Context, postID string) (int64, error)
	// ReapExpiredLeases releases leases whose owner disappeared.
	ReapExpiredLeases(ctx context.Context) (int64, error)
}

// Transactor runs fn atomically. Store calls made with the context passed
// to fn join the same transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// CredentialStore is the external token-lookup capability. A missing or
// expired token surfaces as an AuthError, terminal for the affected job.
type CredentialStore interface {
	GetToken(ctx context.Context, account string, platform domain.Platform) (string, error)
}

// NotificationSink receives post-level status transitions, fire-and-forget.
type NotificationSink interface {
	PublishStatusChanged(ctx context.Context, postID string, status domain.PostStatus) error
}

// GenerateParams describes an optional content pre-fill request.
type GenerateParams struct {
	Topic    string
	Tone     string
	Platform domain.Platform
}

// ContentGenerator is the external AI content producer; its output is
// treated as ordinary post content.
type ContentGenerator interface {
	Generate(ctx context.Context, params GenerateParams) (string, error)
}

// StatusReporter recomputes and publishes the post-level aggregate after a
// job reaches a terminal state.
type StatusReporter interface {
	OnJobTerminal(ctx context.Context, postID string) error
}
