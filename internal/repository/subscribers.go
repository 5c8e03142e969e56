package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// SubscribersRepository defines persistence for the subscriptions table.
type SubscribersRepository interface {
	// Insert writes a new pending subscriber. Returns ErrDuplicate when the
	// email is already subscribed.
	Insert(ctx context.Context, tx *sqlx.Tx, s model.Subscriber) error
	// GetByEmail returns nil, nil when no subscriber exists for the email.
	GetByEmail(ctx context.Context, email string) (*model.Subscriber, error)
	// GetByToken returns nil, nil when no subscriber holds the token.
	GetByToken(ctx context.Context, token string) (*model.Subscriber, error)
	// Confirm flips a pending subscriber to confirmed. Reports whether a row
	// matched the token; confirming an already-confirmed subscriber is a no-op
	// that still reports true.
	Confirm(ctx context.Context, token string) (bool, error)
	// DeleteByToken removes the subscriber. Queue rows referencing the email
	// are left in place; the worker resolves them as success-without-send.
	DeleteByToken(ctx context.Context, token string) (bool, error)
	// ListConfirmedEmails snapshots the confirmed audience, inside the publish
	// transaction when tx is non-nil.
	ListConfirmedEmails(ctx context.Context, tx *sqlx.Tx) ([]string, error)
}

type SubscribersRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubscribersRepository(db *sqlx.DB) *SubscribersRepositoryImpl {
	return &SubscribersRepositoryImpl{db: db}
}

var _ SubscribersRepository = (*SubscribersRepositoryImpl)(nil)

func (r *SubscribersRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *SubscribersRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, s model.Subscriber) error {
	const q = `
		INSERT INTO subscriptions
		    (email, name, status, token, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, NOW(), NOW())
	`
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, s.Email, s.Name, s.Status.String(), s.Token)
		return err
	})
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (r *SubscribersRepositoryImpl) GetByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	var s model.Subscriber
	err := r.db.GetContext(ctx, &s, `
		SELECT email, name, status, token, created_at, updated_at
		  FROM subscriptions
		 WHERE email = ? LIMIT 1
	`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscribersRepositoryImpl) GetByToken(ctx context.Context, token string) (*model.Subscriber, error) {
	var s model.Subscriber
	err := r.db.GetContext(ctx, &s, `
		SELECT email, name, status, token, created_at, updated_at
		  FROM subscriptions
		 WHERE token = ? LIMIT 1
	`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscribersRepositoryImpl) Confirm(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		   SET status = ?, updated_at = NOW()
		 WHERE token = ?
	`, model.StatusConfirmed.String(), token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// UPDATE reports zero rows both for an unknown token and for a confirmed
	// subscriber clicking the link twice; only the former is a miss.
	s, err := r.GetByToken(ctx, token)
	if err != nil {
		return false, err
	}
	return s != nil, nil
}

func (r *SubscribersRepositoryImpl) DeleteByToken(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE token = ?`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SubscribersRepositoryImpl) ListConfirmedEmails(ctx context.Context, tx *sqlx.Tx) ([]string, error) {
	const q = `SELECT email FROM subscriptions WHERE status = ?`

	var emails []string
	if tx != nil {
		if err := tx.SelectContext(ctx, &emails, q, model.StatusConfirmed.String()); err != nil {
			return nil, err
		}
		return emails, nil
	}
	if err := r.db.SelectContext(ctx, &emails, q, model.StatusConfirmed.String()); err != nil {
		return nil, err
	}
	return emails, nil
}
