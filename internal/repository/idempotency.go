package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// IdempotencyRepository defines persistence for the idempotency table.
//
// The publish flow inserts a placeholder row first; a duplicate-key error
// there means another request with the same key either committed or is about
// to. Because the conflicting insert blocks on the winner's row lock until it
// commits, a plain Get after ErrDuplicate sees the saved response.
type IdempotencyRepository interface {
	// InsertPlaceholder reserves (adminID, key) inside the publish transaction.
	// Returns ErrDuplicate when the key is already taken.
	InsertPlaceholder(ctx context.Context, tx *sqlx.Tx, adminID int64, key string) error
	// SaveResponse completes the placeholder with the response to replay.
	SaveResponse(ctx context.Context, tx *sqlx.Tx, adminID int64, key string, status int, body []byte) error
	// Get returns nil, nil when no record exists for the key.
	Get(ctx context.Context, adminID int64, key string) (*model.IdempotencyRecord, error)
	// DeleteOutlived drops records older than lifetime and reports how many.
	DeleteOutlived(ctx context.Context, lifetime time.Duration) (int64, error)
}

type IdempotencyRepositoryImpl struct {
	db *sqlx.DB
}

func NewIdempotencyRepository(db *sqlx.DB) *IdempotencyRepositoryImpl {
	return &IdempotencyRepositoryImpl{db: db}
}

var _ IdempotencyRepository = (*IdempotencyRepositoryImpl)(nil)

func (r *IdempotencyRepositoryImpl) InsertPlaceholder(ctx context.Context, tx *sqlx.Tx, adminID int64, key string) error {
	const q = `
		INSERT INTO idempotency (admin_id, idempotency_key, response_status, response_body, created_at)
		VALUES (?, ?, 0, NULL, NOW())
	`
	_, err := tx.ExecContext(ctx, q, adminID, key)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (r *IdempotencyRepositoryImpl) SaveResponse(ctx context.Context, tx *sqlx.Tx, adminID int64, key string, status int, body []byte) error {
	const q = `
		UPDATE idempotency
		   SET response_status = ?, response_body = ?
		 WHERE admin_id = ? AND idempotency_key = ?
	`
	_, err := tx.ExecContext(ctx, q, status, body, adminID, key)
	return err
}

func (r *IdempotencyRepositoryImpl) Get(ctx context.Context, adminID int64, key string) (*model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT admin_id, idempotency_key, response_status, response_body, created_at
		  FROM idempotency
		 WHERE admin_id = ? AND idempotency_key = ? LIMIT 1
	`, adminID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *IdempotencyRepositoryImpl) DeleteOutlived(ctx context.Context, lifetime time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency WHERE created_at < NOW() - INTERVAL ? SECOND`,
		intervalSeconds(lifetime),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
