// Package subscription implements the double-opt-in lifecycle: subscribe as
// pending, confirm via emailed token, unsubscribe via emailed token.
package subscription

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/jmehdipour/newsletter-gateway/internal/email"
	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	"github.com/jmehdipour/newsletter-gateway/internal/template"
	"github.com/jmehdipour/newsletter-gateway/internal/util"
	"go.uber.org/zap"
)

// ErrUnknownToken means no subscriber holds the presented token.
var ErrUnknownToken = errors.New("unknown subscription token")

// SubscribeInput is the signup payload after HTTP binding.
type SubscribeInput struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (in SubscribeInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Name, validation.Length(0, 256)),
	)
}

type Service struct {
	subs     repository.SubscribersRepository
	sender   email.Sender
	renderer *template.Renderer
	log      *zap.Logger
}

func New(
	subscribersRepo repository.SubscribersRepository,
	sender email.Sender,
	renderer *template.Renderer,
	log *zap.Logger,
) *Service {
	return &Service{
		subs:     subscribersRepo,
		sender:   sender,
		renderer: renderer,
		log:      log,
	}
}

// Subscribe registers a pending subscriber and sends the confirmation email.
// Signing up again is safe: a confirmed subscriber gets a silent no-op, a
// pending one gets the original token re-sent.
func (s *Service) Subscribe(ctx context.Context, input SubscribeInput) error {
	if err := input.Validate(); err != nil {
		return err
	}

	sub := model.Subscriber{
		Email:  util.NormalizeEmail(input.Email),
		Name:   input.Name,
		Status: model.StatusPendingConfirmation,
		Token:  util.NewToken(),
	}

	err := s.subs.Insert(ctx, nil, sub)
	if errors.Is(err, repository.ErrDuplicate) {
		existing, gerr := s.subs.GetByEmail(ctx, sub.Email)
		if gerr != nil {
			return fmt.Errorf("load existing subscriber: %w", gerr)
		}
		if existing == nil {
			// unsubscribed between the conflict and the read; retryable
			return fmt.Errorf("subscriber vanished during signup: %w", err)
		}
		if existing.Status == model.StatusConfirmed {
			return nil
		}
		sub = *existing
	} else if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}

	subject, textBody, htmlBody, err := s.renderer.Confirmation(sub)
	if err != nil {
		return fmt.Errorf("render confirmation email: %w", err)
	}
	if err := s.sender.Send(ctx, email.Message{
		To:       sub.Email,
		Subject:  subject,
		TextBody: textBody,
		HTMLBody: htmlBody,
	}); err != nil {
		// The row is committed; the subscriber can sign up again to get the
		// token re-sent.
		s.log.Warn("confirmation email failed",
			zap.String("email", sub.Email),
			zap.Error(err),
		)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	return nil
}

// Confirm transitions a pending subscriber to confirmed. Idempotent: a second
// click on the link succeeds without changing anything.
func (s *Service) Confirm(ctx context.Context, token string) error {
	ok, err := s.subs.Confirm(ctx, token)
	if err != nil {
		return fmt.Errorf("confirm subscriber: %w", err)
	}
	if !ok {
		return ErrUnknownToken
	}
	return nil
}

// Unsubscribe deletes the subscriber. Delivery tasks already enqueued for the
// email resolve as success-without-send when a worker claims them.
func (s *Service) Unsubscribe(ctx context.Context, token string) error {
	ok, err := s.subs.DeleteByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if !ok {
		return ErrUnknownToken
	}
	return nil
}
