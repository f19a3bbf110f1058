package report

import (
	"context"
	"log/slog"

	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/queue"
)

// Reporter folds per-platform job outcomes into the post-level status and
// emits one notification per transition.
type Reporter struct {
	posts  queue.PostStore
	jobs   queue.JobStore
	sink   queue.NotificationSink
	logger *slog.Logger
}

func NewReporter(posts queue.PostStore, jobs queue.JobStore, sink queue.NotificationSink, logger *slog.Logger) *Reporter {
	return &Reporter{posts: posts, jobs: jobs, sink: sink, logger: logger.With("component", "reporter")}
}

// Resolve applies the deterministic aggregation rule:
// published only when every job published; partially_published when at
// least one published and at least one terminally failed; failed when all
// failed. Anything still in flight leaves the post in its current state.
func Resolve(current domain.PostStatus, jobs []*domain.PublishJob) domain.PostStatus {
	if len(jobs) == 0 {
		return current
	}
	published, failed, cancelled := 0, 0, 0
	for _, j := range jobs {
		switch j.State {
		case domain.JobPublished:
			published++
		case domain.JobFailed:
			failed++
		case domain.JobCancelled:
			cancelled++
		default:
			return current
		}
	}
	switch {
	case published == len(jobs):
		return domain.PostStatusPublished
	case cancelled == len(jobs):
		return domain.PostStatusCancelled
	case published > 0:
		return domain.PostStatusPartiallyPublished
	default:
		return domain.PostStatusFailed
	}
}

// OnJobTerminal recomputes the aggregate after a job settled and, when the
// post-level status changed, persists it and notifies the external
// collaborator. Notification failures are logged, never propagated.
func (r *Reporter) OnJobTerminal(ctx context.Context, postID string) error {
	post, err := r.posts.Get(ctx, postID)
	if err != nil {
		return err
	}
	jobs, err := r.jobs.GetByPost(ctx, postID)
	if err != nil {
		return err
	}

	next := Resolve(post.Status, jobs)
	if next == post.Status {
		return nil
	}
	if err := r.posts.UpdateStatus(ctx, postID, next); err != nil {
		return err
	}
	r.logger.Info("post status changed",
		"post_id", postID,
		"from", string(post.Status),
		"to", string(next),
	)
	if err := r.sink.PublishStatusChanged(ctx, postID, next); err != nil {
		r.logger.Warn("status notification dropped", "post_id", postID, "error", err)
	}
	return nil
}
