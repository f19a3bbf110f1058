package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/publish"
	"post_orchestrator/internal/transform"
)

// Config tunes scheduling and retry behavior.
type Config struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	BackoffJitter  float64
	LeaseTTL       time.Duration
	ReaperInterval time.Duration
}

// SubmitResult is what a submission (or re-submission) hands back to the
// API layer.
type SubmitResult struct {
	PostID  string
	Jobs    []*domain.PublishJob
	Existed bool
}

// Orchestrator owns the PublishJob lifecycle: idempotent admission,
// prioritized dispatch, retry scheduling, and cancellation. Idempotency is
// enforced at insertion time by the job store's unique key, so concurrent
// duplicate submissions race safely to a single winner.
type Orchestrator struct {
	posts    PostStore
	jobs     JobStore
	tx       Transactor
	resolver domain.MediaResolver
	registry *transform.Registry
	reporter StatusReporter
	backoff  Backoff
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(
	posts PostStore,
	jobs JobStore,
	tx Transactor,
	resolver domain.MediaResolver,
	registry *transform.Registry,
	reporter StatusReporter,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}
	if cfg.BackoffJitter <= 0 {
		cfg.BackoffJitter = 0.25
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = 30 * time.Second
	}
	return &Orchestrator{
		posts:    posts,
		jobs:     jobs,
		tx:       tx,
		resolver: resolver,
		registry: registry,
		reporter: reporter,
		backoff:  NewBackoff(cfg.BackoffBase, cfg.BackoffCap, cfg.BackoffJitter),
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
		now:      time.Now,
	}
}

// Submit validates the post and enqueues one job per target platform.
// Re-submitting a post that was already accepted is a no-op returning the
// existing jobs, so the same logical request can never publish twice.
func (o *Orchestrator) Submit(ctx context.Context, post *domain.UnifiedPost, priority domain.Priority) (*SubmitResult, error) {
	if post.ID != "" {
		if existing, err := o.posts.Get(ctx, post.ID); err == nil && existing != nil {
			jobs, err := o.jobs.GetByPost(ctx, post.ID)
			if err != nil {
				return nil, err
			}
			o.logger.Info("post already submitted", "post_id", post.ID, "jobs", len(jobs))
			return &SubmitResult{PostID: post.ID, Jobs: jobs, Existed: true}, nil
		}
	} else {
		post.ID = uuid.NewString()
	}

	if err := domain.ValidatePost(ctx, post, o.resolver); err != nil {
		return nil, err
	}
	for _, platform := range post.TargetPlatforms {
		if _, err := o.registry.For(platform); err != nil {
			return nil, err
		}
	}

	now := o.now().UTC()
	post.Status = domain.PostStatusQueued
	if post.ScheduledAt != nil && post.ScheduledAt.After(now) {
		post.Status = domain.PostStatusScheduled
	}
	post.CreatedAt = now
	post.UpdatedAt = now

	// The post row and its jobs land atomically so a crash mid-submission
	// cannot leave a post without delivery work.
	result := &SubmitResult{PostID: post.ID}
	err := o.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := o.posts.Insert(ctx, post); err != nil {
			return err
		}
		for _, platform := range post.TargetPlatforms {
			created, job, err := o.jobs.InsertIfAbsent(ctx,
				domain.NewPublishJob(post, platform, priority, o.cfg.MaxAttempts))
			if err != nil {
				return err
			}
			result.Jobs = append(result.Jobs, job)
			o.logger.Info("job enqueued",
				"post_id", post.ID,
				"platform", string(platform),
				"job_id", job.ID,
				"idempotency_key", job.IdempotencyKey,
				"deduplicated", !created,
			)
		}
		return nil
	})
	if errors.Is(err, ErrDuplicatePost) {
		// Lost the creation race to a concurrent submission with the same
		// id; the winner's rows are the authoritative result.
		jobs, jerr := o.jobs.GetByPost(ctx, post.ID)
		if jerr != nil {
			return nil, jerr
		}
		o.logger.Info("post already submitted", "post_id", post.ID, "jobs", len(jobs))
		return &SubmitResult{PostID: post.ID, Jobs: jobs, Existed: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Dequeue leases the next eligible job for a worker. A leased Retrying job
// re-enters the state it was interrupted in.
func (o *Orchestrator) Dequeue(ctx context.Context, owner string) (*domain.PublishJob, error) {
	job, err := o.jobs.AcquireNext(ctx, owner, o.cfg.LeaseTTL)
	if err != nil || job == nil {
		return nil, err
	}
	if job.State == domain.JobRetrying {
		if job.ResumeState != "" {
			job.State = job.ResumeState
		} else {
			job.State = domain.JobPending
		}
	}
	return job, nil
}

// CachePayload persists the lazily adapted platform payload on the job so
// later attempts reuse identical bytes.
func (o *Orchestrator) CachePayload(ctx context.Context, job *domain.PublishJob, payload []byte) error {
	job.Payload = payload
	return o.jobs.Update(ctx, job)
}

// Apply records the outcome of one state-machine step and schedules what
// happens next: advance, park for polling, retry with backoff, or settle
// in a terminal state. The lease is released in every path.
func (o *Orchestrator) Apply(ctx context.Context, job *domain.PublishJob, out publish.Outcome) error {
	now := o.now().UTC()
	job.UpdatedAt = now
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil

	switch {
	case out.Err != nil && out.State == domain.JobFailed:
		o.failJob(job, out.Err)
	case out.Err != nil && domain.KindOf(out.Err) == domain.KindRateLimited:
		// Admission-layer signal: reschedule without spending an attempt.
		delay := domain.RetryAfterOf(out.Err)
		if delay <= 0 {
			delay = o.cfg.BackoffBase
		}
		job.ResumeState = out.State
		job.State = domain.JobRetrying
		job.NextEligibleAt = now.Add(delay)
		job.LastErrorKind = domain.KindRateLimited
		job.LastErrorMsg = out.Err.Error()
		o.logger.Info("job rescheduled by platform rate limit",
			"job_id", job.ID, "retry_after", delay)
	case out.Err != nil:
		job.Attempts++
		job.LastErrorKind = domain.KindOf(out.Err)
		job.LastErrorMsg = out.Err.Error()
		if job.Attempts >= job.MaxAttempts {
			o.failJob(job, domain.Wrap(domain.KindRetriesExhausted, out.Err,
				"gave up after %d attempts", job.Attempts))
		} else {
			delay := o.backoff.Delay(job.Attempts)
			job.ResumeState = out.State
			job.State = domain.JobRetrying
			job.NextEligibleAt = now.Add(delay)
			o.logger.Warn("job retry scheduled",
				"job_id", job.ID,
				"attempt", job.Attempts,
				"max_attempts", job.MaxAttempts,
				"delay", delay,
				"error", out.Err,
			)
		}
	case out.State == domain.JobPublished:
		job.State = domain.JobPublished
		job.PlatformPostID = out.PlatformPostID
		job.Session = nil
		job.LastErrorKind = ""
		job.LastErrorMsg = ""
		o.logger.Info("job published",
			"job_id", job.ID, "platform", string(job.Platform), "platform_post_id", out.PlatformPostID)
	case out.Requeue > 0:
		job.State = out.State
		job.ResumeState = ""
		job.NextEligibleAt = now.Add(out.Requeue)
	default:
		job.State = out.State
	}

	if err := o.jobs.Update(ctx, job); err != nil {
		return err
	}
	if job.State.Terminal() {
		if err := o.reporter.OnJobTerminal(ctx, job.PostID); err != nil {
			o.logger.Error("status aggregation failed", "post_id", job.PostID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) failJob(job *domain.PublishJob, err error) {
	job.State = domain.JobFailed
	job.ResumeState = ""
	job.LastErrorKind = domain.KindOf(err)
	job.LastErrorMsg = err.Error()
	o.logger.Error("job failed",
		"job_id", job.ID,
		"platform", string(job.Platform),
		"kind", string(job.LastErrorKind),
		"error", err,
	)
}

// Park releases a job untouched with a future eligible time. Used when the
// local rate limiter denies admission before any platform call was made.
func (o *Orchestrator) Park(ctx context.Context, job *domain.PublishJob, retryAfter time.Duration) error {
	now := o.now().UTC()
	if job.State != domain.JobPending {
		job.ResumeState = job.State
		job.State = domain.JobRetrying
	}
	job.NextEligibleAt = now.Add(retryAfter)
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = now
	return o.jobs.Update(ctx, job)
}

// Cancel marks every not-yet-started job of the post cancelled. Jobs
// mid-flight finish on their own and are reported, not rolled back.
func (o *Orchestrator) Cancel(ctx context.Context, postID string) (int64, error) {
	n, err := o.jobs.CancelPending(ctx, postID)
	if err != nil {
		return 0, err
	}
	o.logger.Info("post cancellation requested", "post_id", postID, "jobs_cancelled", n)
	if n > 0 {
		if err := o.reporter.OnJobTerminal(ctx, postID); err != nil {
			o.logger.Error("status aggregation failed", "post_id", postID, "error", err)
		}
	}
	return n, nil
}

// StartReaper periodically returns expired leases to the eligible pool so
// jobs owned by crashed workers are picked up again.
func (o *Orchestrator) StartReaper(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.jobs.ReapExpiredLeases(ctx)
			if err != nil {
				o.logger.Error("lease reap failed", "error", err)
				continue
			}
			if n > 0 {
				o.logger.Warn("reaped expired leases", "count", n)
			}
		}
	}
}
