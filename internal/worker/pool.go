package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/publish"
	"post_orchestrator/internal/queue"
	"post_orchestrator/internal/ratelimit"
	"post_orchestrator/internal/transform"
)

// Config sizes the pool.
type Config struct {
	Workers      int
	IdleInterval time.Duration
}

// Pool runs a fixed number of workers against the orchestrator's queue.
// Each leased job is processed end to end by exactly one worker; long
// waits (media processing, backoff) park the job instead of the worker.
type Pool struct {
	orch     *queue.Orchestrator
	engine   *publish.Engine
	registry *transform.Registry
	limiter  *ratelimit.Limiter
	creds    queue.CredentialStore
	posts    queue.PostStore
	cfg      Config
	logger   *slog.Logger
}

func NewPool(
	orch *queue.Orchestrator,
	engine *publish.Engine,
	registry *transform.Registry,
	limiter *ratelimit.Limiter,
	creds queue.CredentialStore,
	posts queue.PostStore,
	cfg Config,
	logger *slog.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = time.Second
	}
	return &Pool{
		orch:     orch,
		engine:   engine,
		registry: registry,
		limiter:  limiter,
		creds:    creds,
		posts:    posts,
		cfg:      cfg,
		logger:   logger.With("component", "worker"),
	}
}

// Run blocks until the context is cancelled and all workers drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, fmt.Sprintf("worker-%d", id))
		}(i)
	}
	p.logger.Info("worker pool started", "workers", p.cfg.Workers)
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, owner string) {
	for {
		job, err := p.orch.Dequeue(ctx, owner)
		if err != nil {
			p.logger.Error("dequeue failed", "owner", owner, "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.IdleInterval):
			}
			continue
		}
		p.process(ctx, job)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// process drives one leased job: token lookup, admission, lazy payload
// adaptation, then state-machine steps until the job parks or settles.
func (p *Pool) process(ctx context.Context, job *domain.PublishJob) {
	token, err := p.creds.GetToken(ctx, job.AccountID, job.Platform)
	if err != nil {
		p.applyOutcome(ctx, job, publish.Outcome{
			State: domain.JobFailed,
			Err:   domain.Wrap(domain.KindAuth, err, "no credentials for account %s on %s", job.AccountID, job.Platform),
		})
		return
	}

	if decision := p.limiter.TryAcquire(job.AccountID, job.Platform, 1); !decision.Admitted {
		if err := p.orch.Park(ctx, job, decision.RetryAfter); err != nil {
			p.logger.Error("park failed", "job_id", job.ID, "error", err)
		}
		return
	}

	payload, err := p.payloadFor(ctx, job)
	if err != nil {
		// Adaptation failures never enter the retry path.
		p.applyOutcome(ctx, job, publish.Outcome{State: domain.JobFailed, Err: err})
		return
	}

	for {
		out := p.engine.Step(ctx, job, payload, token)
		if out.Err != nil || out.Requeue > 0 || out.State.Terminal() {
			p.applyOutcome(ctx, job, out)
			return
		}
		job.State = out.State
	}
}

// payloadFor returns the cached platform payload, adapting and caching it
// on first use. Adaptation is deterministic, so the cache only saves work.
func (p *Pool) payloadFor(ctx context.Context, job *domain.PublishJob) (*transform.Payload, error) {
	if len(job.Payload) > 0 {
		return transform.Decode(job.Payload)
	}
	post, err := p.posts.Get(ctx, job.PostID)
	if err != nil {
		return nil, domain.Wrap(domain.KindValidation, err, "load post %s", job.PostID)
	}
	payload, err := p.registry.Adapt(post, job.Platform)
	if err != nil {
		return nil, err
	}
	raw, err := payload.Encode()
	if err != nil {
		return nil, err
	}
	if err := p.orch.CachePayload(ctx, job, raw); err != nil {
		p.logger.Warn("payload cache write failed", "job_id", job.ID, "error", err)
	}
	return payload, nil
}

func (p *Pool) applyOutcome(ctx context.Context, job *domain.PublishJob, out publish.Outcome) {
	if err := p.orch.Apply(ctx, job, out); err != nil {
		p.logger.Error("outcome apply failed", "job_id", job.ID, "error", err)
	}
}
