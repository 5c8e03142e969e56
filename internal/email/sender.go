// Package email delivers rendered newsletter emails through HTTP email-API
// providers. The dispatcher round-robins across healthy providers; a
// per-provider circuit breaker takes flapping providers out of rotation.
package email

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Message is one fully rendered email.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
	HTMLBody string `json:"html_body"`
}

// Sender is what the delivery worker and the subscription flow depend on.
// Any error is treated as retryable at the task level; providers do not retry
// on their own beyond the dispatcher's attempt budget.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var (
	ErrNoHealthy = fmt.Errorf("no healthy providers")
	ErrNoAcquire = fmt.Errorf("provider not acquired")
)

// Dispatcher fans a send out to one of several providers, round-robin over
// the healthy subset, retrying up to maxAttempts across providers.
type Dispatcher struct {
	providers   []Provider
	rr          atomic.Uint64
	maxAttempts int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

var _ Sender = (*Dispatcher)(nil)

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.rr.Add(1)
	return healthy[int((x-1)%uint64(len(healthy)))], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, msg Message) error {
	p, err := d.selectProvider()
	if err != nil {
		return err
	}

	if !p.Acquire() {
		return ErrNoAcquire
	}

	return p.Send(ctx, msg)
}

func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		if err := d.tryOnce(ctx, msg); err == nil {
			return nil
		} else {
			last = err
		}
	}

	if last == nil {
		last = fmt.Errorf("send failed")
	}

	return last
}
