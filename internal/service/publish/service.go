// Package publish implements the transactional publish flow: one committed
// transaction produces the issue row, one delivery task per confirmed
// subscriber, and the idempotency record replayed on retried requests.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/jmehdipour/newsletter-gateway/internal/metrics"
	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	"github.com/jmehdipour/newsletter-gateway/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrInvalidIdempotencyKey means the Idempotency-Key header is missing or not
// a UUID.
var ErrInvalidIdempotencyKey = errors.New("idempotency key must be a UUID")

// IssueInput is the publish payload after HTTP binding.
type IssueInput struct {
	Title       string `json:"title"`
	TextContent string `json:"text_content"`
	HTMLContent string `json:"html_content"`
}

func (in IssueInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 500)),
		validation.Field(&in.TextContent,
			validation.Required.When(in.HTMLContent == "").Error("either text_content or html_content is required")),
	)
}

// Result is what the HTTP layer turns into a response. Body is the exact JSON
// saved in the ledger, so replays are byte-identical to the first response.
type Result struct {
	StatusCode int
	Body       []byte
	Replayed   bool
}

// ResponseBody is the JSON shape stored in (and replayed from) the ledger.
type ResponseBody struct {
	IssueID  string `json:"issue_id"`
	Enqueued int    `json:"enqueued"`
}

// Service is the publish coordinator.
type Service struct {
	db     *sqlx.DB
	issues repository.IssuesRepository
	subs   repository.SubscribersRepository
	queue  repository.DeliveryQueueRepository
	idem   repository.IdempotencyRepository
	log    *zap.Logger
}

func New(
	db *sqlx.DB,
	issuesRepo repository.IssuesRepository,
	subscribersRepo repository.SubscribersRepository,
	queueRepo repository.DeliveryQueueRepository,
	idemRepo repository.IdempotencyRepository,
	log *zap.Logger,
) *Service {
	return &Service{
		db:     db,
		issues: issuesRepo,
		subs:   subscribersRepo,
		queue:  queueRepo,
		idem:   idemRepo,
		log:    log,
	}
}

// Publish runs the whole flow in one transaction. Retried requests with the
// same key get the saved response; the issue and its tasks are created at most
// once no matter how many times the client retries.
func (s *Service) Publish(ctx context.Context, adminID int64, idempotencyKey string, input IssueInput) (Result, error) {
	if err := input.Validate(); err != nil {
		return Result{}, err
	}
	if _, err := uuid.Parse(idempotencyKey); err != nil {
		return Result{}, ErrInvalidIdempotencyKey
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin publish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Reserving the key first makes the same-key race explicit: the loser's
	// insert blocks on the winner's row lock, gets a duplicate-key error once
	// the winner commits, and falls back to replaying the saved response.
	if err := s.idem.InsertPlaceholder(ctx, tx, adminID, idempotencyKey); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			_ = tx.Rollback()
			return s.replay(ctx, adminID, idempotencyKey)
		}
		return Result{}, fmt.Errorf("reserve idempotency key: %w", err)
	}

	emails, err := s.subs.ListConfirmedEmails(ctx, tx)
	if err != nil {
		return Result{}, fmt.Errorf("list confirmed subscribers: %w", err)
	}

	issue := model.Issue{
		ID:             util.New(),
		Title:          input.Title,
		TextContent:    input.TextContent,
		HTMLContent:    input.HTMLContent,
		NumSubscribers: len(emails),
	}
	if err := s.issues.Insert(ctx, tx, issue); err != nil {
		return Result{}, fmt.Errorf("insert issue: %w", err)
	}

	if err := s.queue.BulkEnqueue(ctx, tx, issue.ID, emails); err != nil {
		return Result{}, fmt.Errorf("enqueue delivery tasks: %w", err)
	}

	body, err := json.Marshal(ResponseBody{IssueID: issue.ID, Enqueued: len(emails)})
	if err != nil {
		return Result{}, fmt.Errorf("marshal response: %w", err)
	}
	if err := s.idem.SaveResponse(ctx, tx, adminID, idempotencyKey, http.StatusAccepted, body); err != nil {
		return Result{}, fmt.Errorf("save idempotency response: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit publish tx: %w", err)
	}

	metrics.IssuesPublishedTotal.Inc()
	s.log.Info("issue published",
		zap.String("issue_id", issue.ID),
		zap.Int("enqueued", len(emails)),
	)

	return Result{StatusCode: http.StatusAccepted, Body: body}, nil
}

func (s *Service) replay(ctx context.Context, adminID int64, key string) (Result, error) {
	rec, err := s.idem.Get(ctx, adminID, key)
	if err != nil {
		return Result{}, fmt.Errorf("load saved response: %w", err)
	}
	if rec == nil || rec.StatusCode == 0 {
		// The winner rolled back after reserving the key, or the record was
		// cleaned up mid-request. Nothing to replay.
		return Result{}, fmt.Errorf("idempotency record for key %s has no saved response", key)
	}

	s.log.Info("replaying saved publish response",
		zap.Int64("admin_id", adminID),
		zap.String("idempotency_key", key),
	)

	return Result{StatusCode: rec.StatusCode, Body: rec.Body, Replayed: true}, nil
}
