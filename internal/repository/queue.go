package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmehdipour/newsletter-gateway/internal/retry"
	"github.com/jmoiron/sqlx"
)

// DeliveryQueueRepository defines persistence for issue_delivery_queue.
//
// The claim discipline: ClaimOne opens a transaction and locks exactly one
// eligible row with FOR UPDATE SKIP LOCKED. The open transaction is the lease —
// concurrent workers skip the locked row, and a crashed worker's lease is
// released by the server the moment its connection dies. The caller must
// resolve the claim (Succeed or Fail) to commit the transaction.
type DeliveryQueueRepository interface {
	// BulkEnqueue inserts one task per email with n_retries = 0 and
	// execute_after = NOW(), inside the caller's (publish) transaction.
	BulkEnqueue(ctx context.Context, tx *sqlx.Tx, issueID string, emails []string) error
	// ClaimOne returns nil, nil when no task is eligible.
	ClaimOne(ctx context.Context) (ClaimedTask, error)
	// CountPending counts live rows, including those still in backoff.
	CountPending(ctx context.Context) (int64, error)
	ListDeadLettered(ctx context.Context, limit, offset int) ([]model.DeliveryTask, error)
}

// ClaimedTask is an exclusive lease on one delivery task. Exactly one of
// Succeed, Fail or Release must be called; all three end the lease.
type ClaimedTask interface {
	Task() model.DeliveryTask
	// Succeed deletes the task.
	Succeed(ctx context.Context) error
	// Fail bumps n_retries and either reschedules the task with backoff or,
	// once the policy is exhausted, dead-letters it. Reports which happened.
	Fail(ctx context.Context, cause error) (deadLettered bool, err error)
	// Release aborts the claim without touching the task, leaving it eligible
	// for the next claimer.
	Release() error
}

type DeliveryQueueRepositoryImpl struct {
	db     *sqlx.DB
	policy retry.Policy
}

func NewDeliveryQueueRepository(db *sqlx.DB, policy retry.Policy) *DeliveryQueueRepositoryImpl {
	return &DeliveryQueueRepositoryImpl{db: db, policy: policy}
}

var _ DeliveryQueueRepository = (*DeliveryQueueRepositoryImpl)(nil)

// enqueueChunk bounds the placeholders per statement; MySQL allows 65535, and
// two per row would cap the audience around 32k without chunking.
const enqueueChunk = 1000

func (r *DeliveryQueueRepositoryImpl) BulkEnqueue(ctx context.Context, tx *sqlx.Tx, issueID string, emails []string) error {
	for start := 0; start < len(emails); start += enqueueChunk {
		end := start + enqueueChunk
		if end > len(emails) {
			end = len(emails)
		}

		q, args := buildEnqueueStmt(issueID, emails[start:end])
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicate
			}
			return err
		}
	}
	return nil
}

func buildEnqueueStmt(issueID string, emails []string) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(emails)*2)

	sb.WriteString(`INSERT INTO issue_delivery_queue (issue_id, subscriber_email, n_retries, execute_after, created_at) VALUES `)
	for i, email := range emails {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, 0, NOW(), NOW())")
		args = append(args, issueID, email)
	}
	return sb.String(), args
}

func (r *DeliveryQueueRepositoryImpl) ClaimOne(ctx context.Context) (ClaimedTask, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	const q = `
		SELECT issue_id, subscriber_email, n_retries, execute_after,
		       dead_lettered, dead_lettered_at, last_error, created_at
		  FROM issue_delivery_queue
		 WHERE dead_lettered = 0
		   AND execute_after <= NOW()
		 ORDER BY execute_after
		 LIMIT 1
		   FOR UPDATE SKIP LOCKED
	`
	var task model.DeliveryTask
	if err := tx.GetContext(ctx, &task, q); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &claimedTask{tx: tx, task: task, policy: r.policy}, nil
}

func (r *DeliveryQueueRepositoryImpl) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM issue_delivery_queue WHERE dead_lettered = 0`)
	return n, err
}

func (r *DeliveryQueueRepositoryImpl) ListDeadLettered(ctx context.Context, limit, offset int) ([]model.DeliveryTask, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var tasks []model.DeliveryTask
	err := r.db.SelectContext(ctx, &tasks, `
		SELECT issue_id, subscriber_email, n_retries, execute_after,
		       dead_lettered, dead_lettered_at, last_error, created_at
		  FROM issue_delivery_queue
		 WHERE dead_lettered = 1
		 ORDER BY dead_lettered_at DESC
		 LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

type claimedTask struct {
	tx     *sqlx.Tx
	task   model.DeliveryTask
	policy retry.Policy
}

func (c *claimedTask) Task() model.DeliveryTask { return c.task }

func (c *claimedTask) Succeed(ctx context.Context) error {
	_, err := c.tx.ExecContext(ctx, `
		DELETE FROM issue_delivery_queue
		 WHERE issue_id = ? AND subscriber_email = ?
	`, c.task.IssueID, c.task.SubscriberEmail)
	if err != nil {
		_ = c.tx.Rollback()
		return err
	}
	return c.tx.Commit()
}

func (c *claimedTask) Fail(ctx context.Context, cause error) (bool, error) {
	n := c.task.NRetries + 1
	lastErr := truncateError(cause)

	if c.policy.Exhausted(n) {
		_, err := c.tx.ExecContext(ctx, `
			UPDATE issue_delivery_queue
			   SET n_retries = ?, dead_lettered = 1, dead_lettered_at = NOW(), last_error = ?
			 WHERE issue_id = ? AND subscriber_email = ?
		`, n, lastErr, c.task.IssueID, c.task.SubscriberEmail)
		if err != nil {
			_ = c.tx.Rollback()
			return false, err
		}
		return true, c.tx.Commit()
	}

	// Reschedule in the server's clock domain: the claim predicate compares
	// execute_after against NOW(), so a client-side timestamp would skew the
	// backoff window by the server's UTC offset.
	_, err := c.tx.ExecContext(ctx, `
		UPDATE issue_delivery_queue
		   SET n_retries = ?, execute_after = NOW() + INTERVAL ? SECOND, last_error = ?
		 WHERE issue_id = ? AND subscriber_email = ?
	`, n, intervalSeconds(c.policy.NextDelay(n)), lastErr, c.task.IssueID, c.task.SubscriberEmail)
	if err != nil {
		_ = c.tx.Rollback()
		return false, err
	}
	return false, c.tx.Commit()
}

func (c *claimedTask) Release() error {
	return c.tx.Rollback()
}

// intervalSeconds renders a backoff duration for INTERVAL ? SECOND; never
// zero, so a rescheduled task cannot be immediately eligible again.
func intervalSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// last_error column is VARCHAR(512); cut on a rune boundary so the UPDATE
// cannot be rejected for a broken utf8 sequence.
func truncateError(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) <= 512 {
		return s
	}
	cut := 512
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
