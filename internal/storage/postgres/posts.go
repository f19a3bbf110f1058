package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/queue"
)

type PostStore struct {
	db *sqlx.DB
}

func NewPostStore(db *sqlx.DB) *PostStore {
	return &PostStore{db: db}
}

type postRow struct {
	ID          string         `db:"id"`
	AccountID   string         `db:"account_id"`
	Title       string         `db:"title"`
	Body        string         `db:"body"`
	Summary     string         `db:"summary"`
	MediaItems  []byte         `db:"media_items"`
	Platforms   pq.StringArray `db:"target_platforms"`
	Tags        pq.StringArray `db:"tags"`
	Mentions    pq.StringArray `db:"mentions"`
	Links       pq.StringArray `db:"links"`
	ScheduledAt sql.NullTime   `db:"scheduled_at"`
	UTM         []byte         `db:"utm"`
	Status      string         `db:"status"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *postRow) toDomain() (*domain.UnifiedPost, error) {
	post := &domain.UnifiedPost{
		ID:        r.ID,
		AccountID: r.AccountID,
		Title:     r.Title,
		Body:      r.Body,
		Summary:   r.Summary,
		Tags:      r.Tags,
		Mentions:  r.Mentions,
		Links:     r.Links,
		Status:    domain.PostStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, p := range r.Platforms {
		post.TargetPlatforms = append(post.TargetPlatforms, domain.Platform(p))
	}
	if r.ScheduledAt.Valid {
		t := r.ScheduledAt.Time
		post.ScheduledAt = &t
	}
	if len(r.MediaItems) > 0 {
		if err := json.Unmarshal(r.MediaItems, &post.MediaItems); err != nil {
			return nil, err
		}
	}
	if len(r.UTM) > 0 {
		if err := json.Unmarshal(r.UTM, &post.UTM); err != nil {
			return nil, err
		}
	}
	return post, nil
}

func (s *PostStore) Insert(ctx context.Context, post *domain.UnifiedPost) error {
	media, err := json.Marshal(post.MediaItems)
	if err != nil {
		return err
	}
	var utm []byte
	if post.UTM != nil {
		if utm, err = json.Marshal(post.UTM); err != nil {
			return err
		}
	}
	platforms := make(pq.StringArray, len(post.TargetPlatforms))
	for i, p := range post.TargetPlatforms {
		platforms[i] = string(p)
	}

	query := `
		INSERT INTO posts (
			id, account_id, title, body, summary, media_items,
			target_platforms, tags, mentions, links, scheduled_at, utm,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err = GetExecutor(ctx, s.db).ExecContext(ctx, query,
		post.ID,
		post.AccountID,
		post.Title,
		post.Body,
		post.Summary,
		media,
		platforms,
		pq.StringArray(post.Tags),
		pq.StringArray(post.Mentions),
		pq.StringArray(post.Links),
		post.ScheduledAt,
		utm,
		string(post.Status),
		post.CreatedAt,
		post.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", queue.ErrDuplicatePost, post.ID)
	}
	return err
}

func (s *PostStore) Get(ctx context.Context, id string) (*domain.UnifiedPost, error) {
	var row postRow
	query := `
		SELECT id, account_id, title, body, summary, media_items,
		       target_platforms, tags, mentions, links, scheduled_at, utm,
		       status, created_at, updated_at
		FROM posts
		WHERE id = $1`

	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, id); err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (s *PostStore) UpdateStatus(ctx context.Context, id string, status domain.PostStatus) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE posts SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	return err
}
