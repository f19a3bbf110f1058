package publish

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/transform"
)

type fakeResolver struct {
	size int
}

func (r fakeResolver) Resolve(ctx context.Context, ref domain.MediaItem) ([]byte, error) {
	return bytes.Repeat([]byte("x"), r.size), nil
}

type fakePublisher struct {
	postID      string
	err         error
	gotMediaIDs []string
}

func (p *fakePublisher) Publish(ctx context.Context, token string, payload *transform.Payload, mediaIDs []string) (string, error) {
	p.gotMediaIDs = mediaIDs
	return p.postID, p.err
}

type appendCall struct {
	segment int
	size    int
}

type fakeUploader struct {
	fakePublisher

	resumable bool
	initID    string
	initErr   error
	initCalls int

	appendErrAt map[int]error // keyed by segment index
	appends     []appendCall

	finalizeProcessing bool
	finalizeErr        error

	statusState string
	checkAfter  time.Duration
	statusErr   error
}

func (u *fakeUploader) InitUpload(ctx context.Context, token string, item domain.MediaItem, totalBytes int64) (string, error) {
	u.initCalls++
	return u.initID, u.initErr
}

func (u *fakeUploader) AppendChunk(ctx context.Context, token, sessionID string, segment int, chunk []byte) error {
	if err, ok := u.appendErrAt[segment]; ok {
		delete(u.appendErrAt, segment)
		return err
	}
	u.appends = append(u.appends, appendCall{segment: segment, size: len(chunk)})
	return nil
}

func (u *fakeUploader) FinalizeUpload(ctx context.Context, token, sessionID string) (bool, error) {
	return u.finalizeProcessing, u.finalizeErr
}

func (u *fakeUploader) UploadStatus(ctx context.Context, token, sessionID string) (string, time.Duration, error) {
	return u.statusState, u.checkAfter, u.statusErr
}

func (u *fakeUploader) Resumable() bool { return u.resumable }

type fakeContainerPublisher struct {
	containerID string
	createErr   error
	status      string
	statusErr   error
	postID      string
	publishErr  error
}

func (c *fakeContainerPublisher) CreateContainer(ctx context.Context, token string, payload *transform.Payload) (string, error) {
	return c.containerID, c.createErr
}

func (c *fakeContainerPublisher) ContainerStatus(ctx context.Context, token, containerID string) (string, error) {
	return c.status, c.statusErr
}

func (c *fakeContainerPublisher) PublishContainer(ctx context.Context, token, containerID string) (string, error) {
	return c.postID, c.publishErr
}

func newTestEngine(t *testing.T, driver any, resolverSize int) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	e := NewEngine(
		map[domain.Platform]any{
			domain.PlatformTwitter:   driver,
			domain.PlatformInstagram: driver,
			domain.PlatformLinkedIn:  driver,
		},
		fakeResolver{size: resolverSize},
		Config{ChunkSize: 10, PollInterval: 5 * time.Second, PollCeiling: 10 * time.Minute},
		logger,
	)
	return e
}

func textPayload(platform domain.Platform) *transform.Payload {
	return &transform.Payload{Platform: platform, Endpoint: "/post", Method: "POST", Text: "hello"}
}

func uploadPayload(mediaCount int) *transform.Payload {
	p := &transform.Payload{Platform: domain.PlatformTwitter, RequiresUpload: true, Text: "hello"}
	for i := 0; i < mediaCount; i++ {
		p.Media = append(p.Media, domain.MediaItem{
			URL: "https://cdn.example.com/a.mp4", MimeType: "video/mp4",
		})
	}
	return p
}

func containerPayload() *transform.Payload {
	return &transform.Payload{
		Platform:          domain.PlatformInstagram,
		RequiresContainer: true,
		Media:             []domain.MediaItem{{URL: "https://cdn.example.com/a.jpg", MimeType: "image/jpeg"}},
	}
}

func TestStep_TextOnlyGoesStraightToPublishing(t *testing.T) {
	pub := &fakePublisher{postID: "urn:li:share:9"}
	e := newTestEngine(t, pub, 0)
	job := &domain.PublishJob{ID: 1, Platform: domain.PlatformLinkedIn, State: domain.JobPending}

	out := e.Step(context.Background(), job, textPayload(domain.PlatformLinkedIn), "tok")
	require.NoError(t, out.Err)
	require.Equal(t, domain.JobPublishing, out.State)

	job.State = out.State
	out = e.Step(context.Background(), job, textPayload(domain.PlatformLinkedIn), "tok")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobPublished, out.State)
	assert.Equal(t, "urn:li:share:9", out.PlatformPostID)
}

func TestStep_MissingDriverFails(t *testing.T) {
	e := newTestEngine(t, &fakePublisher{}, 0)
	job := &domain.PublishJob{ID: 1, Platform: domain.PlatformFacebook, State: domain.JobPending}

	out := e.Step(context.Background(), job, textPayload(domain.PlatformFacebook), "tok")
	assert.Equal(t, domain.JobFailed, out.State)
	assert.Equal(t, domain.KindValidation, domain.KindOf(out.Err))
}

func TestStep_PendingWithMediaOpensUploadSession(t *testing.T) {
	up := &fakeUploader{initID: "media-1", resumable: true}
	e := newTestEngine(t, up, 25)
	job := &domain.PublishJob{ID: 1, Platform: domain.PlatformTwitter, State: domain.JobPending}

	out := e.Step(context.Background(), job, uploadPayload(1), "tok")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobUploading, out.State)
	require.NotNil(t, job.Session)
}

func TestStep_ChunkedUploadCompletes(t *testing.T) {
	up := &fakeUploader{initID: "media-1", resumable: true}
	e := newTestEngine(t, up, 25)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobUploading,
		Session: &domain.UploadSession{},
	}

	out := e.Step(context.Background(), job, uploadPayload(1), "tok")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobPublishing, out.State)

	// 25 bytes in 10-byte chunks: segments 0, 1, 2 sized 10, 10, 5.
	require.Len(t, up.appends, 3)
	assert.Equal(t, appendCall{segment: 0, size: 10}, up.appends[0])
	assert.Equal(t, appendCall{segment: 2, size: 5}, up.appends[2])
	assert.Equal(t, []string{"media-1"}, job.Session.MediaIDs)
}

func TestStep_ResumableUploadContinuesFromCheckpoint(t *testing.T) {
	up := &fakeUploader{initID: "media-1", resumable: true}
	e := newTestEngine(t, up, 50)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobUploading,
		Session: &domain.UploadSession{
			RemoteID:     "media-1",
			TotalBytes:   50,
			BytesSent:    30,
			SegmentIndex: 3,
		},
	}

	out := e.Step(context.Background(), job, uploadPayload(1), "tok")
	require.NoError(t, out.Err)

	// Only the remaining 20 bytes move, picking up at segment 3.
	assert.Zero(t, up.initCalls, "resume must not re-init the session")
	require.Len(t, up.appends, 2)
	assert.Equal(t, appendCall{segment: 3, size: 10}, up.appends[0])
	assert.Equal(t, appendCall{segment: 4, size: 10}, up.appends[1])
}

func TestStep_RetriableAppendKeepsCheckpointWhenResumable(t *testing.T) {
	up := &fakeUploader{
		initID:      "media-1",
		resumable:   true,
		appendErrAt: map[int]error{2: domain.E(domain.KindTransientNetwork, "reset")},
	}
	e := newTestEngine(t, up, 50)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobUploading,
		Session: &domain.UploadSession{},
	}

	out := e.Step(context.Background(), job, uploadPayload(1), "tok")
	require.Error(t, out.Err)
	assert.Equal(t, domain.JobUploading, out.State, "retriable error re-enters the same state")
	assert.Equal(t, "media-1", job.Session.RemoteID)
	assert.Equal(t, int64(20), job.Session.BytesSent)
	assert.Equal(t, 2, job.Session.SegmentIndex)
}

func TestStep_RetriableAppendResetsWhenNotResumable(t *testing.T) {
	up := &fakeUploader{
		initID:      "media-1",
		resumable:   false,
		appendErrAt: map[int]error{2: domain.E(domain.KindTransientNetwork, "reset")},
	}
	e := newTestEngine(t, up, 50)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobUploading,
		Session: &domain.UploadSession{},
	}

	out := e.Step(context.Background(), job, uploadPayload(1), "tok")
	require.Error(t, out.Err)
	assert.Equal(t, domain.JobUploading, out.State)
	assert.Empty(t, job.Session.RemoteID, "next attempt restarts the transfer")
	assert.Zero(t, job.Session.BytesSent)
}

func TestStep_FinalizeWithProcessingParksJob(t *testing.T) {
	up := &fakeUploader{initID: "media-1", resumable: true, finalizeProcessing: true}
	e := newTestEngine(t, up, 25)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobUploading,
		Session: &domain.UploadSession{},
	}

	out := e.Step(context.Background(), job, uploadPayload(1), "tok")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobProcessing, out.State)
	assert.Equal(t, 5*time.Second, out.Requeue, "worker is freed while the platform processes")
	assert.Equal(t, now.Add(10*time.Minute), job.Session.ProcessingDeadline)
}

func TestStep_ProcessingHonorsCheckAfter(t *testing.T) {
	up := &fakeUploader{statusState: "in_progress", checkAfter: 7 * time.Second}
	e := newTestEngine(t, up, 25)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobProcessing,
		Session: &domain.UploadSession{RemoteID: "media-1", ProcessingDeadline: time.Now().Add(time.Hour)},
	}

	out := e.Step(context.Background(), job, uploadPayload(1), "tok")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobProcessing, out.State)
	assert.Equal(t, 7*time.Second, out.Requeue)
}

func TestStep_ProcessingSucceededAdvancesToPublish(t *testing.T) {
	up := &fakeUploader{statusState: "succeeded"}
	e := newTestEngine(t, up, 25)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobProcessing,
		Session: &domain.UploadSession{RemoteID: "media-1", ProcessingDeadline: time.Now().Add(time.Hour)},
	}

	out := e.Step(context.Background(), job, uploadPayload(1), "tok")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobPublishing, out.State)
	assert.Equal(t, []string{"media-1"}, job.Session.MediaIDs)
}

func TestStep_ProcessingSucceededMovesToNextMedia(t *testing.T) {
	up := &fakeUploader{statusState: "succeeded"}
	e := newTestEngine(t, up, 25)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobProcessing,
		Session: &domain.UploadSession{RemoteID: "media-1", ProcessingDeadline: time.Now().Add(time.Hour)},
	}

	out := e.Step(context.Background(), job, uploadPayload(2), "tok")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobUploading, out.State)
	assert.Equal(t, 1, job.Session.MediaIndex)
	assert.Empty(t, job.Session.RemoteID)
}

func TestStep_ProcessingDeadlineExceeded(t *testing.T) {
	up := &fakeUploader{statusState: "in_progress"}
	e := newTestEngine(t, up, 25)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobProcessing,
		Session: &domain.UploadSession{RemoteID: "media-1", ProcessingDeadline: time.Now().Add(-time.Second)},
	}

	out := e.Step(context.Background(), job, uploadPayload(1), "tok")
	assert.Equal(t, domain.JobFailed, out.State)
	assert.Equal(t, domain.KindProcessingTimeout, domain.KindOf(out.Err))
}

func TestStep_ProcessingFailedIsTerminal(t *testing.T) {
	up := &fakeUploader{statusState: "failed"}
	e := newTestEngine(t, up, 25)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobProcessing,
		Session: &domain.UploadSession{RemoteID: "media-1", ProcessingDeadline: time.Now().Add(time.Hour)},
	}

	out := e.Step(context.Background(), job, uploadPayload(1), "tok")
	assert.Equal(t, domain.JobFailed, out.State)
	assert.Equal(t, domain.KindUnsupportedContent, domain.KindOf(out.Err))
}

func TestStep_PublishInjectsUploadedMediaIDs(t *testing.T) {
	up := &fakeUploader{fakePublisher: fakePublisher{postID: "tweet-1"}}
	e := newTestEngine(t, up, 25)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformTwitter, State: domain.JobPublishing,
		Session: &domain.UploadSession{MediaIDs: []string{"media-1", "media-2"}},
	}

	out := e.Step(context.Background(), job, uploadPayload(2), "tok")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobPublished, out.State)
	assert.Equal(t, []string{"media-1", "media-2"}, up.gotMediaIDs)
}

func TestStep_ContainerFlow(t *testing.T) {
	cp := &fakeContainerPublisher{containerID: "cont-1", status: "IN_PROGRESS", postID: "ig-media-1"}
	e := newTestEngine(t, cp, 25)
	job := &domain.PublishJob{ID: 1, Platform: domain.PlatformInstagram, State: domain.JobPending}
	payload := containerPayload()

	out := e.Step(context.Background(), job, payload, "tok")
	require.Equal(t, domain.JobUploading, out.State)
	job.State = out.State

	out = e.Step(context.Background(), job, payload, "tok")
	require.NoError(t, out.Err)
	require.Equal(t, domain.JobProcessing, out.State)
	assert.Equal(t, "cont-1", job.Session.ContainerID)
	assert.Equal(t, 5*time.Second, out.Requeue)
	job.State = out.State

	out = e.Step(context.Background(), job, payload, "tok")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobProcessing, out.State, "container still processing requeues")

	cp.status = "FINISHED"
	out = e.Step(context.Background(), job, payload, "tok")
	require.NoError(t, out.Err)
	require.Equal(t, domain.JobPublishing, out.State)
	job.State = out.State

	out = e.Step(context.Background(), job, payload, "tok")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobPublished, out.State)
	assert.Equal(t, "ig-media-1", out.PlatformPostID)
}

func TestStep_ContainerProcessingError(t *testing.T) {
	cp := &fakeContainerPublisher{status: "ERROR"}
	e := newTestEngine(t, cp, 25)
	job := &domain.PublishJob{
		ID: 1, Platform: domain.PlatformInstagram, State: domain.JobProcessing,
		Session: &domain.UploadSession{ContainerID: "cont-1", ProcessingDeadline: time.Now().Add(time.Hour)},
	}

	out := e.Step(context.Background(), job, containerPayload(), "tok")
	assert.Equal(t, domain.JobFailed, out.State)
	assert.Equal(t, domain.KindUnsupportedContent, domain.KindOf(out.Err))
}

func TestClassify(t *testing.T) {
	e := newTestEngine(t, &fakePublisher{}, 0)

	tests := []struct {
		name      string
		err       error
		wantState domain.JobState
	}{
		{"transient network retries in place", domain.E(domain.KindTransientNetwork, "reset"), domain.JobPublishing},
		{"server error retries in place", domain.E(domain.KindPlatformServer, "502"), domain.JobPublishing},
		{"rate limited re-enters state", domain.RateLimitedError(time.Minute, "quota"), domain.JobPublishing},
		{"auth is terminal", domain.E(domain.KindAuth, "401"), domain.JobFailed},
		{"validation is terminal", domain.E(domain.KindValidation, "400"), domain.JobFailed},
		{"unsupported content is terminal", domain.E(domain.KindUnsupportedContent, "too big"), domain.JobFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.classify(domain.JobPublishing, tt.err)
			assert.Equal(t, tt.wantState, out.State)
			assert.Error(t, out.Err)
		})
	}
}

func TestStep_PublishValidationErrorIsTerminal(t *testing.T) {
	pub := &fakePublisher{err: domain.E(domain.KindValidation, "duplicate content rejected")}
	e := newTestEngine(t, pub, 0)
	job := &domain.PublishJob{ID: 1, Platform: domain.PlatformTwitter, State: domain.JobPublishing}

	out := e.Step(context.Background(), job, textPayload(domain.PlatformTwitter), "tok")
	assert.Equal(t, domain.JobFailed, out.State)
	assert.Equal(t, domain.KindValidation, domain.KindOf(out.Err))
}
