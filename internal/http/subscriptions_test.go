package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmehdipour/newsletter-gateway/internal/email"
	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	"github.com/jmehdipour/newsletter-gateway/internal/service/subscription"
	"github.com/jmehdipour/newsletter-gateway/internal/template"
	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSubscribers struct {
	byEmail map[string]*model.Subscriber
}

func (s *stubSubscribers) Insert(_ context.Context, _ *sqlx.Tx, sub model.Subscriber) error {
	if _, ok := s.byEmail[sub.Email]; ok {
		return repository.ErrDuplicate
	}
	cp := sub
	s.byEmail[sub.Email] = &cp
	return nil
}

func (s *stubSubscribers) GetByEmail(_ context.Context, email string) (*model.Subscriber, error) {
	return s.byEmail[email], nil
}

func (s *stubSubscribers) GetByToken(_ context.Context, token string) (*model.Subscriber, error) {
	for _, sub := range s.byEmail {
		if sub.Token == token {
			return sub, nil
		}
	}
	return nil, nil
}

func (s *stubSubscribers) Confirm(_ context.Context, token string) (bool, error) {
	for _, sub := range s.byEmail {
		if sub.Token == token {
			sub.Status = model.StatusConfirmed
			return true, nil
		}
	}
	return false, nil
}

func (s *stubSubscribers) DeleteByToken(_ context.Context, token string) (bool, error) {
	for email, sub := range s.byEmail {
		if sub.Token == token {
			delete(s.byEmail, email)
			return true, nil
		}
	}
	return false, nil
}

func (s *stubSubscribers) ListConfirmedEmails(context.Context, *sqlx.Tx) ([]string, error) {
	return nil, nil
}

type stubSender struct{ sent int }

func (s *stubSender) Send(context.Context, email.Message) error {
	s.sent++
	return nil
}

func newSubscriptionService() (*subscription.Service, *stubSubscribers) {
	subs := &stubSubscribers{byEmail: map[string]*model.Subscriber{}}
	svc := subscription.New(subs, &stubSender{}, template.NewRenderer("https://news.example.com"), zap.NewNop())
	return svc, subs
}

func doRequest(h echo.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	e := echo.New()
	rec := httptest.NewRecorder()
	_ = h(e.NewContext(req, rec))
	return rec
}

func TestSubscribeHandler(t *testing.T) {
	svc, subs := newSubscriptionService()
	h := subscribeHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions",
		strings.NewReader(`{"email": "alice@example.com", "name": "Alice"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := doRequest(h, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "pending_confirmation")
	assert.NotNil(t, subs.byEmail["alice@example.com"])
}

func TestSubscribeHandlerRejectsInvalidEmail(t *testing.T) {
	svc, subs := newSubscriptionService()
	h := subscribeHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions",
		strings.NewReader(`{"email": "not-an-email"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := doRequest(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, subs.byEmail)
}

func TestConfirmHandler(t *testing.T) {
	svc, subs := newSubscriptionService()
	subs.byEmail["alice@example.com"] = &model.Subscriber{
		Email:  "alice@example.com",
		Status: model.StatusPendingConfirmation,
		Token:  "tok123",
	}

	h := confirmHandler(svc)

	rec := doRequest(h, httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?token=tok123", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusConfirmed, subs.byEmail["alice@example.com"].Status)

	rec = doRequest(h, httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?token=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(h, httptest.NewRequest(http.MethodGet, "/subscriptions/confirm", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnsubscribeHandler(t *testing.T) {
	svc, subs := newSubscriptionService()
	subs.byEmail["alice@example.com"] = &model.Subscriber{
		Email:  "alice@example.com",
		Status: model.StatusConfirmed,
		Token:  "tok123",
	}

	h := unsubscribeHandler(svc)

	rec := doRequest(h, httptest.NewRequest(http.MethodGet, "/subscriptions/unsubscribe?token=tok123", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, subs.byEmail)

	rec = doRequest(h, httptest.NewRequest(http.MethodGet, "/subscriptions/unsubscribe?token=tok123", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPagination(t *testing.T) {
	e := echo.New()

	mk := func(target string) echo.Context {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		return e.NewContext(req, httptest.NewRecorder())
	}

	limit, offset := pagination(mk("/x"))
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)

	limit, offset = pagination(mk("/x?limit=10&offset=20"))
	assert.Equal(t, 10, limit)
	assert.Equal(t, 20, offset)

	// out-of-range values fall back to defaults
	limit, offset = pagination(mk("/x?limit=9999&offset=-1"))
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)
}
