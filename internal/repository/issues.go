package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// IssuesRepository defines persistence for the newsletter_issues table.
type IssuesRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, issue model.Issue) error
	// Get returns nil, nil when the issue does not exist.
	Get(ctx context.Context, id string) (*model.Issue, error)
	List(ctx context.Context, limit, offset int) ([]model.Issue, error)
	// IncrementDelivered / IncrementFailed record one terminal task outcome.
	IncrementDelivered(ctx context.Context, id string) error
	IncrementFailed(ctx context.Context, id string) error
}

type IssuesRepositoryImpl struct {
	db *sqlx.DB
}

func NewIssuesRepository(db *sqlx.DB) *IssuesRepositoryImpl {
	return &IssuesRepositoryImpl{db: db}
}

var _ IssuesRepository = (*IssuesRepositoryImpl)(nil)

func (r *IssuesRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *IssuesRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, issue model.Issue) error {
	const q = `
		INSERT INTO newsletter_issues
		    (id, title, text_content, html_content, published_at,
		     num_subscribers, num_delivered, num_failed)
		VALUES
		    (?, ?, ?, ?, NOW(), ?, 0, 0)
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			issue.ID, issue.Title, issue.TextContent, issue.HTMLContent, issue.NumSubscribers,
		)
		return err
	})
}

func (r *IssuesRepositoryImpl) Get(ctx context.Context, id string) (*model.Issue, error) {
	var issue model.Issue
	err := r.db.GetContext(ctx, &issue, `
		SELECT id, title, text_content, html_content, published_at,
		       num_subscribers, num_delivered, num_failed
		  FROM newsletter_issues
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (r *IssuesRepositoryImpl) List(ctx context.Context, limit, offset int) ([]model.Issue, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var issues []model.Issue
	err := r.db.SelectContext(ctx, &issues, `
		SELECT id, title, text_content, html_content, published_at,
		       num_subscribers, num_delivered, num_failed
		  FROM newsletter_issues
		 ORDER BY published_at DESC
		 LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return issues, nil
}

func (r *IssuesRepositoryImpl) IncrementDelivered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE newsletter_issues SET num_delivered = num_delivered + 1 WHERE id = ?`, id)
	return err
}

func (r *IssuesRepositoryImpl) IncrementFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE newsletter_issues SET num_failed = num_failed + 1 WHERE id = ?`, id)
	return err
}
