package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name  string
	fail  bool
	calls int
}

func (p *fakeProvider) Name() string  { return p.name }
func (p *fakeProvider) Ready() bool   { return true }
func (p *fakeProvider) Acquire() bool { return true }
func (p *fakeProvider) Send(ctx context.Context, msg Message) error {
	p.calls++
	if p.fail {
		return errors.New("boom")
	}
	return nil
}

func TestDispatcherRoundRobin(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	d := NewDispatcher([]Provider{a, b}, 1)

	for i := 0; i < 4; i++ {
		require.NoError(t, d.Send(context.Background(), Message{To: "x@example.com"}))
	}

	assert.Equal(t, 2, a.calls)
	assert.Equal(t, 2, b.calls)
}

func TestDispatcherFailsOverWithinAttemptBudget(t *testing.T) {
	bad := &fakeProvider{name: "bad", fail: true}
	good := &fakeProvider{name: "good"}
	d := NewDispatcher([]Provider{bad, good}, 2)

	assert.NoError(t, d.Send(context.Background(), Message{To: "x@example.com"}))
}

func TestDispatcherAllFailing(t *testing.T) {
	bad := &fakeProvider{name: "bad", fail: true}
	d := NewDispatcher([]Provider{bad}, 3)

	err := d.Send(context.Background(), Message{To: "x@example.com"})
	assert.Error(t, err)
	assert.Equal(t, 3, bad.calls)
}

func TestDispatcherNoProviders(t *testing.T) {
	d := NewDispatcher(nil, 2)

	err := d.Send(context.Background(), Message{To: "x@example.com"})
	assert.ErrorIs(t, err, ErrNoHealthy)
}

func TestMicroBreakerOpensAfterThreshold(t *testing.T) {
	br := NewMicroBreaker(2, time.Hour)

	assert.True(t, br.Ready())
	br.OnFailure()
	assert.True(t, br.Ready())
	br.OnFailure()
	assert.False(t, br.Ready())
	assert.False(t, br.TryAcquire())
}

func TestMicroBreakerHalfOpenProbe(t *testing.T) {
	br := NewMicroBreaker(1, time.Millisecond)

	br.OnFailure()
	assert.False(t, br.TryAcquire())

	time.Sleep(5 * time.Millisecond)

	// one probe allowed, second caller blocked
	assert.True(t, br.TryAcquire())
	assert.False(t, br.TryAcquire())

	br.OnSuccess()
	assert.True(t, br.Ready())
	assert.True(t, br.TryAcquire())
}

func TestMicroBreakerReopensOnFailedProbe(t *testing.T) {
	br := NewMicroBreaker(1, time.Millisecond)

	br.OnFailure()
	time.Sleep(5 * time.Millisecond)
	require.True(t, br.TryAcquire())

	br.OnFailure()
	assert.False(t, br.TryAcquire())
}
