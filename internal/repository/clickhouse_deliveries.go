package repository

import (
	"context"

	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeliveryEventsRepository appends and reads delivery attempts in ClickHouse.
// Writes are best-effort from the worker's point of view; the MySQL queue row
// is the source of truth for a task's fate.
type DeliveryEventsRepository interface {
	Insert(ctx context.Context, ev model.DeliveryEvent) error
	List(ctx context.Context, issueID string, outcome model.DeliveryOutcome, limit, offset int) ([]model.DeliveryEvent, error)
}

type deliveryEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewDeliveryEventsRepository(ch *sqlx.DB) DeliveryEventsRepository {
	return &deliveryEventsRepository{ch: ch}
}

func (r *deliveryEventsRepository) Insert(ctx context.Context, ev model.DeliveryEvent) error {
	const q = `
		INSERT INTO newsletter.delivery_events
		    (issue_id, subscriber_email, outcome, attempt, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		ev.IssueID, ev.SubscriberEmail, ev.Outcome.String(), ev.Attempt, ev.Detail, ev.OccurredAt,
	)
	return err
}

func (r *deliveryEventsRepository) List(ctx context.Context, issueID string, outcome model.DeliveryOutcome, limit, offset int) ([]model.DeliveryEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT issue_id, subscriber_email, outcome, attempt, detail, occurred_at
		FROM newsletter.delivery_events
		WHERE 1 = 1
	`
	args := []any{}

	if issueID != "" {
		q += " AND issue_id = ?"
		args = append(args, issueID)
	}
	if outcome != "" {
		q += " AND outcome = ?"
		args = append(args, outcome.String())
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.DeliveryEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
