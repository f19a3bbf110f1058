package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// JobState is the per-platform publish lifecycle state.
type JobState string

const (
	JobPending    JobState = "pending"
	JobUploading  JobState = "uploading"
	JobProcessing JobState = "processing"
	JobPublishing JobState = "publishing"
	JobRetrying   JobState = "retrying"
	JobPublished  JobState = "published"
	JobFailed     JobState = "failed"
	JobCancelled  JobState = "cancelled"
)

// Terminal reports whether no further work will happen on the job.
func (s JobState) Terminal() bool {
	return s == JobPublished || s == JobFailed || s == JobCancelled
}

// Priority orders jobs within the queue. Higher wins.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// UploadSession checkpoints a staged media transfer so a retried attempt
// can resume instead of restarting. It lives on the job for the duration
// of the upload and is discarded on completion.
type UploadSession struct {
	RemoteID           string    `json:"remote_id,omitempty"`
	MediaIndex         int       `json:"media_index"`
	MediaKind          MediaKind `json:"media_kind,omitempty"`
	TotalBytes         int64     `json:"total_bytes"`
	BytesSent          int64     `json:"bytes_sent"`
	SegmentIndex       int       `json:"segment_index"`
	MediaIDs           []string  `json:"media_ids,omitempty"`
	ContainerID        string    `json:"container_id,omitempty"`
	ProcessingStatus   string    `json:"processing_status,omitempty"`
	ProcessingDeadline time.Time `json:"processing_deadline,omitempty"`
}

// PublishJob is one unit of delivery work for a (post, platform) pair.
// The idempotency key guarantees at most one live job per pair. A job is
// only ever mutated by the worker holding its lease.
type PublishJob struct {
	ID             int64
	PostID         string
	AccountID      string
	Platform       Platform
	IdempotencyKey string
	Priority       Priority
	State          JobState
	ResumeState    JobState
	Attempts       int
	MaxAttempts    int
	NextEligibleAt time.Time
	Payload        []byte
	Session        *UploadSession
	PlatformPostID string
	LastErrorKind  ErrorKind
	LastErrorMsg   string
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IdempotencyKey derives the deterministic fingerprint for a
// (post, platform) pair. Re-submitting the same post can therefore never
// mint a second job for a platform.
func IdempotencyKey(postID string, platform Platform) string {
	sum := sha256.Sum256([]byte(postID + ":" + string(platform)))
	return hex.EncodeToString(sum[:])[:16]
}

// NewPublishJob builds the initial job record for one target platform.
func NewPublishJob(post *UnifiedPost, platform Platform, priority Priority, maxAttempts int) *PublishJob {
	eligible := time.Now().UTC()
	if post.ScheduledAt != nil && post.ScheduledAt.After(eligible) {
		eligible = post.ScheduledAt.UTC()
	}
	return &PublishJob{
		PostID:         post.ID,
		AccountID:      post.AccountID,
		Platform:       platform,
		IdempotencyKey: IdempotencyKey(post.ID, platform),
		Priority:       priority,
		State:          JobPending,
		MaxAttempts:    maxAttempts,
		NextEligibleAt: eligible,
	}
}
