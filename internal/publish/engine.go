package publish

import (
	"context"
	"log/slog"
	"time"

	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/transform"
)

// SingleCallPublisher makes content live in one round trip. Media ids from
// a preceding staged upload are injected here; platforms without staged
// uploads ignore them.
type SingleCallPublisher interface {
	Publish(ctx context.Context, token string, payload *transform.Payload, mediaIDs []string) (string, error)
}

// ChunkedUploader is the three-phase staged media transfer (init, append,
// finalize) with asynchronous processing polled afterwards.
type ChunkedUploader interface {
	InitUpload(ctx context.Context, token string, item domain.MediaItem, totalBytes int64) (string, error)
	AppendChunk(ctx context.Context, token, sessionID string, segment int, chunk []byte) error
	FinalizeUpload(ctx context.Context, token, sessionID string) (processing bool, err error)
	UploadStatus(ctx context.Context, token, sessionID string) (state string, checkAfter time.Duration, err error)
	Resumable() bool
}

// ContainerPublisher is the two-step container flow: create a draft
// container, wait for processing, then publish it.
type ContainerPublisher interface {
	CreateContainer(ctx context.Context, token string, payload *transform.Payload) (string, error)
	ContainerStatus(ctx context.Context, token, containerID string) (string, error)
	PublishContainer(ctx context.Context, token, containerID string) (string, error)
}

// Outcome reports the result of one state-machine step. Requeue > 0 means
// the job must be parked with a future eligible time so the worker is
// freed; Err is set when the step hit a classified failure.
type Outcome struct {
	State          domain.JobState
	Requeue        time.Duration
	PlatformPostID string
	Err            error
}

// Config bounds the engine's transfer and polling behavior.
type Config struct {
	ChunkSize    int64
	PollInterval time.Duration
	PollCeiling  time.Duration
}

// Engine drives a single job from payload-ready to a terminal outcome. It
// owns no job state between calls: every checkpoint lives on the job's
// upload session, which the orchestrator persists.
type Engine struct {
	drivers  map[domain.Platform]any
	resolver domain.MediaResolver
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(drivers map[domain.Platform]any, resolver domain.MediaResolver, cfg Config, logger *slog.Logger) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024 * 1024
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollCeiling <= 0 {
		cfg.PollCeiling = 10 * time.Minute
	}
	return &Engine{
		drivers:  drivers,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Step executes the work of the job's current state and returns the next
// transition. The caller applies the outcome and loops while no requeue,
// error, or terminal state was reached.
func (e *Engine) Step(ctx context.Context, job *domain.PublishJob, payload *transform.Payload, token string) Outcome {
	driver, ok := e.drivers[job.Platform]
	if !ok {
		return Outcome{State: domain.JobFailed,
			Err: domain.E(domain.KindValidation, "no publish driver for platform %q", job.Platform)}
	}

	switch job.State {
	case domain.JobPending:
		return e.stepPending(job, payload, driver)
	case domain.JobUploading:
		return e.stepUploading(ctx, job, payload, token, driver)
	case domain.JobProcessing:
		return e.stepProcessing(ctx, job, payload, token, driver)
	case domain.JobPublishing:
		return e.stepPublishing(ctx, job, payload, token, driver)
	default:
		return Outcome{State: job.State,
			Err: domain.E(domain.KindValidation, "job %d stepped in unexpected state %q", job.ID, job.State)}
	}
}

func (e *Engine) stepPending(job *domain.PublishJob, payload *transform.Payload, driver any) Outcome {
	switch {
	case payload.RequiresUpload && len(payload.Media) > 0:
		if _, ok := driver.(ChunkedUploader); !ok {
			return Outcome{State: domain.JobFailed,
				Err: domain.E(domain.KindUnsupportedContent, "platform %q cannot stage media uploads", job.Platform)}
		}
		job.Session = &domain.UploadSession{}
		return Outcome{State: domain.JobUploading}
	case payload.RequiresContainer:
		if _, ok := driver.(ContainerPublisher); !ok {
			return Outcome{State: domain.JobFailed,
				Err: domain.E(domain.KindUnsupportedContent, "platform %q has no container flow", job.Platform)}
		}
		job.Session = &domain.UploadSession{}
		return Outcome{State: domain.JobUploading}
	default:
		return Outcome{State: domain.JobPublishing}
	}
}

func (e *Engine) stepUploading(ctx context.Context, job *domain.PublishJob, payload *transform.Payload, token string, driver any) Outcome {
	if payload.RequiresContainer {
		return e.createContainer(ctx, job, payload, token, driver.(ContainerPublisher))
	}
	return e.uploadMedia(ctx, job, payload, token, driver.(ChunkedUploader))
}

func (e *Engine) createContainer(ctx context.Context, job *domain.PublishJob, payload *transform.Payload, token string, cp ContainerPublisher) Outcome {
	containerID, err := cp.CreateContainer(ctx, token, payload)
	if err != nil {
		return e.classify(domain.JobUploading, err)
	}
	job.Session.ContainerID = containerID
	job.Session.ProcessingStatus = "pending"
	job.Session.ProcessingDeadline = e.now().Add(e.cfg.PollCeiling)
	return Outcome{State: domain.JobProcessing, Requeue: e.cfg.PollInterval}
}

// uploadMedia transfers the current media item chunk by chunk, resuming
// from the persisted byte checkpoint when the platform supports it.
func (e *Engine) uploadMedia(ctx context.Context, job *domain.PublishJob, payload *transform.Payload, token string, up ChunkedUploader) Outcome {
	session := job.Session
	item := payload.Media[session.MediaIndex]

	data, err := e.resolver.Resolve(ctx, item)
	if err != nil {
		return Outcome{State: domain.JobFailed,
			Err: domain.Wrap(domain.KindMediaUnavailable, err, "resolve media %s", item.URL)}
	}

	if session.RemoteID == "" {
		remoteID, err := up.InitUpload(ctx, token, item, int64(len(data)))
		if err != nil {
			return e.classify(domain.JobUploading, err)
		}
		session.RemoteID = remoteID
		session.MediaKind = item.Kind()
		session.TotalBytes = int64(len(data))
		session.BytesSent = 0
		session.SegmentIndex = 0
	}

	for session.BytesSent < session.TotalBytes {
		end := session.BytesSent + e.cfg.ChunkSize
		if end > session.TotalBytes {
			end = session.TotalBytes
		}
		chunk := data[session.BytesSent:end]

		if err := up.AppendChunk(ctx, token, session.RemoteID, session.SegmentIndex, chunk); err != nil {
			if domain.IsRetriable(err) && !up.Resumable() {
				// A retry restarts the whole transfer on this platform.
				e.logger.Warn("upload not resumable, retry restarts transfer",
					"job_id", job.ID, "platform", string(job.Platform), "bytes_sent", session.BytesSent)
				session.RemoteID = ""
				session.BytesSent = 0
				session.SegmentIndex = 0
			}
			return e.classify(domain.JobUploading, err)
		}
		session.BytesSent = end
		session.SegmentIndex++
	}

	processing, err := up.FinalizeUpload(ctx, token, session.RemoteID)
	if err != nil {
		return e.classify(domain.JobUploading, err)
	}
	if processing {
		session.ProcessingStatus = "pending"
		session.ProcessingDeadline = e.now().Add(e.cfg.PollCeiling)
		return Outcome{State: domain.JobProcessing, Requeue: e.cfg.PollInterval}
	}
	return e.mediaUploaded(job, payload)
}

// mediaUploaded records the finished item and either moves to the next one
// or advances to the publish call.
func (e *Engine) mediaUploaded(job *domain.PublishJob, payload *transform.Payload) Outcome {
	session := job.Session
	session.MediaIDs = append(session.MediaIDs, session.RemoteID)
	session.MediaIndex++
	session.RemoteID = ""
	session.BytesSent = 0
	session.SegmentIndex = 0
	session.ProcessingStatus = ""
	if session.MediaIndex < len(payload.Media) {
		return Outcome{State: domain.JobUploading}
	}
	return Outcome{State: domain.JobPublishing}
}

func (e *Engine) stepProcessing(ctx context.Context, job *domain.PublishJob, payload *transform.Payload, token string, driver any) Outcome {
	session := job.Session
	if !session.ProcessingDeadline.IsZero() && e.now().After(session.ProcessingDeadline) {
		return Outcome{State: domain.JobFailed,
			Err: domain.E(domain.KindProcessingTimeout, "media processing exceeded %s ceiling", e.cfg.PollCeiling)}
	}

	if cp, ok := driver.(ContainerPublisher); ok && session.ContainerID != "" {
		status, err := cp.ContainerStatus(ctx, token, session.ContainerID)
		if err != nil {
			return e.classify(domain.JobProcessing, err)
		}
		session.ProcessingStatus = status
		switch status {
		case "FINISHED":
			return Outcome{State: domain.JobPublishing}
		case "ERROR":
			return Outcome{State: domain.JobFailed,
				Err: domain.E(domain.KindUnsupportedContent, "platform rejected container %s during processing", session.ContainerID)}
		default:
			return Outcome{State: domain.JobProcessing, Requeue: e.cfg.PollInterval}
		}
	}

	up := driver.(ChunkedUploader)
	state, checkAfter, err := up.UploadStatus(ctx, token, session.RemoteID)
	if err != nil {
		return e.classify(domain.JobProcessing, err)
	}
	session.ProcessingStatus = state
	switch state {
	case "succeeded":
		return e.mediaUploaded(job, payload)
	case "failed":
		return Outcome{State: domain.JobFailed,
			Err: domain.E(domain.KindUnsupportedContent, "platform failed processing media %s", session.RemoteID)}
	default:
		wait := e.cfg.PollInterval
		if checkAfter > 0 {
			wait = checkAfter
		}
		return Outcome{State: domain.JobProcessing, Requeue: wait}
	}
}

func (e *Engine) stepPublishing(ctx context.Context, job *domain.PublishJob, payload *transform.Payload, token string, driver any) Outcome {
	if payload.RequiresContainer {
		cp := driver.(ContainerPublisher)
		postID, err := cp.PublishContainer(ctx, token, job.Session.ContainerID)
		if err != nil {
			return e.classify(domain.JobPublishing, err)
		}
		return Outcome{State: domain.JobPublished, PlatformPostID: postID}
	}

	pub, ok := driver.(SingleCallPublisher)
	if !ok {
		return Outcome{State: domain.JobFailed,
			Err: domain.E(domain.KindValidation, "platform %q driver cannot publish", job.Platform)}
	}
	var mediaIDs []string
	if job.Session != nil {
		mediaIDs = job.Session.MediaIDs
	}
	postID, err := pub.Publish(ctx, token, payload, mediaIDs)
	if err != nil {
		return e.classify(domain.JobPublishing, err)
	}
	return Outcome{State: domain.JobPublished, PlatformPostID: postID}
}

// classify turns a step failure into either a retry of the same state or a
// terminal failure. Rate limiting surfaces as a retry without attempt
// spend; the orchestrator reads the kind off the error.
func (e *Engine) classify(state domain.JobState, err error) Outcome {
	if domain.IsRetriable(err) || domain.KindOf(err) == domain.KindRateLimited {
		return Outcome{State: state, Err: err}
	}
	return Outcome{State: domain.JobFailed, Err: err}
}
