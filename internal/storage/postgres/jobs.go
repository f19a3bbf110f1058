package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"post_orchestrator/internal/domain"
)

type JobStore struct {
	db *sqlx.DB
}

func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

type jobRow struct {
	ID             int64          `db:"id"`
	PostID         string         `db:"post_id"`
	AccountID      string         `db:"account_id"`
	Platform       string         `db:"platform"`
	IdempotencyKey string         `db:"idempotency_key"`
	Priority       int            `db:"priority"`
	State          string         `db:"state"`
	ResumeState    string         `db:"resume_state"`
	Attempts       int            `db:"attempts"`
	MaxAttempts    int            `db:"max_attempts"`
	NextEligibleAt time.Time      `db:"next_eligible_at"`
	Payload        []byte         `db:"payload"`
	Session        []byte         `db:"upload_session"`
	PlatformPostID string         `db:"platform_post_id"`
	LastErrorKind  string         `db:"last_error_kind"`
	LastErrorMsg   string         `db:"last_error_msg"`
	LeaseOwner     sql.NullString `db:"lease_owner"`
	LeaseExpiresAt sql.NullTime   `db:"lease_expires_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *jobRow) toDomain() (*domain.PublishJob, error) {
	job := &domain.PublishJob{
		ID:             r.ID,
		PostID:         r.PostID,
		AccountID:      r.AccountID,
		Platform:       domain.Platform(r.Platform),
		IdempotencyKey: r.IdempotencyKey,
		Priority:       domain.Priority(r.Priority),
		State:          domain.JobState(r.State),
		ResumeState:    domain.JobState(r.ResumeState),
		Attempts:       r.Attempts,
		MaxAttempts:    r.MaxAttempts,
		NextEligibleAt: r.NextEligibleAt,
		Payload:        r.Payload,
		PlatformPostID: r.PlatformPostID,
		LastErrorKind:  domain.ErrorKind(r.LastErrorKind),
		LastErrorMsg:   r.LastErrorMsg,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LeaseOwner.Valid {
		job.LeaseOwner = r.LeaseOwner.String
	}
	if r.LeaseExpiresAt.Valid {
		t := r.LeaseExpiresAt.Time
		job.LeaseExpiresAt = &t
	}
	if len(r.Session) > 0 {
		if err := json.Unmarshal(r.Session, &job.Session); err != nil {
			return nil, err
		}
	}
	return job, nil
}

const jobColumns = `
	id, post_id, account_id, platform, idempotency_key, priority,
	state, resume_state, attempts, max_attempts, next_eligible_at,
	payload, upload_session, platform_post_id, last_error_kind,
	last_error_msg, lease_owner, lease_expires_at, created_at, updated_at`

func (s *JobStore) InsertIfAbsent(ctx context.Context, job *domain.PublishJob) (bool, *domain.PublishJob, error) {
	session, err := marshalSession(job.Session)
	if err != nil {
		return false, nil, err
	}

	query := `
		INSERT INTO publish_jobs (
			post_id, account_id, platform, idempotency_key, priority,
			state, resume_state, attempts, max_attempts, next_eligible_at,
			payload, upload_session, platform_post_id, last_error_kind,
			last_error_msg
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING` + jobColumns

	var row jobRow
	err = sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query,
		job.PostID, job.AccountID, string(job.Platform),
		job.IdempotencyKey, int(job.Priority), string(job.State),
		string(job.ResumeState), job.Attempts, job.MaxAttempts,
		job.NextEligibleAt, job.Payload, session, job.PlatformPostID,
		string(job.LastErrorKind), job.LastErrorMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the insert race or a re-submission: hand back the winner.
		existing, err := s.getByKey(ctx, job.IdempotencyKey)
		if err != nil {
			return false, nil, err
		}
		return false, existing, nil
	}
	if err != nil {
		return false, nil, err
	}
	inserted, err := row.toDomain()
	if err != nil {
		return false, nil, err
	}
	return true, inserted, nil
}

func (s *JobStore) getByKey(ctx context.Context, key string) (*domain.PublishJob, error) {
	var row jobRow
	query := `SELECT` + jobColumns + ` FROM publish_jobs WHERE idempotency_key = $1`
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, key); err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (s *JobStore) Get(ctx context.Context, id int64) (*domain.PublishJob, error) {
	var row jobRow
	query := `SELECT` + jobColumns + ` FROM publish_jobs WHERE id = $1`
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, id); err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (s *JobStore) GetByPost(ctx context.Context, postID string) ([]*domain.PublishJob, error) {
	var rows []jobRow
	query := `SELECT` + jobColumns + ` FROM publish_jobs WHERE post_id = $1 ORDER BY platform`
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, postID); err != nil {
		return nil, err
	}
	jobs := make([]*domain.PublishJob, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// AcquireNext leases the next eligible non-terminal job to owner: highest
// priority first, FIFO within a tier. Live leases are skipped, expired ones
// taken over. Returns nil when nothing is eligible.
func (s *JobStore) AcquireNext(ctx context.Context, owner string, leaseTTL time.Duration) (*domain.PublishJob, error) {
	query := `
		UPDATE publish_jobs
		SET lease_owner = $1, lease_expires_at = $2, updated_at = now()
		WHERE id = (
			SELECT id FROM publish_jobs
			WHERE state NOT IN ('published', 'failed', 'cancelled')
			  AND next_eligible_at <= now()
			  AND (lease_owner IS NULL OR lease_expires_at < now())
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + jobColumns

	var row jobRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query,
		owner, time.Now().UTC().Add(leaseTTL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (s *JobStore) Update(ctx context.Context, job *domain.PublishJob) error {
	session, err := marshalSession(job.Session)
	if err != nil {
		return err
	}
	var leaseOwner sql.NullString
	if job.LeaseOwner != "" {
		leaseOwner = sql.NullString{String: job.LeaseOwner, Valid: true}
	}
	var leaseExpires sql.NullTime
	if job.LeaseExpiresAt != nil {
		leaseExpires = sql.NullTime{Time: *job.LeaseExpiresAt, Valid: true}
	}

	query := `
		UPDATE publish_jobs
		SET state = $2,
		    resume_state = $3,
		    attempts = $4,
		    next_eligible_at = $5,
		    payload = $6,
		    upload_session = $7,
		    platform_post_id = $8,
		    last_error_kind = $9,
		    last_error_msg = $10,
		    lease_owner = $11,
		    lease_expires_at = $12,
		    updated_at = now()
		WHERE id = $1`

	_, err = GetExecutor(ctx, s.db).ExecContext(ctx, query,
		job.ID, string(job.State), string(job.ResumeState), job.Attempts,
		job.NextEligibleAt, job.Payload, session, job.PlatformPostID,
		string(job.LastErrorKind), job.LastErrorMsg, leaseOwner, leaseExpires,
	)
	return err
}

// CancelPending cancels the post's jobs that no worker has started on.
func (s *JobStore) CancelPending(ctx context.Context, postID string) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE publish_jobs
		SET state = 'cancelled', resume_state = '', updated_at = now()
		WHERE post_id = $1
		  AND state IN ('pending', 'retrying')
		  AND (lease_owner IS NULL OR lease_expires_at < now())`,
		postID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReapExpiredLeases returns jobs of crashed workers to the eligible pool.
func (s *JobStore) ReapExpiredLeases(ctx context.Context) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE publish_jobs
		SET lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE lease_expires_at < now()
		  AND state NOT IN ('published', 'failed', 'cancelled')`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func marshalSession(session *domain.UploadSession) ([]byte, error) {
	if session == nil {
		return nil, nil
	}
	return json.Marshal(session)
}
