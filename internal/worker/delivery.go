// Package worker runs the background loops: the delivery worker pool that
// drains the issue delivery queue, and the idempotency-key cleanup loop.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/newsletter-gateway/internal/email"
	"github.com/jmehdipour/newsletter-gateway/internal/metrics"
	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	"github.com/jmehdipour/newsletter-gateway/internal/template"
	"go.uber.org/zap"
)

// Delivery drains the issue delivery queue with a pool of polling goroutines.
// Workers coordinate only through the queue's row locks: each claims one task,
// sends one email, resolves the claim, and polls again.
type Delivery struct {
	// Dependencies
	Queue       repository.DeliveryQueueRepository
	Subscribers repository.SubscribersRepository
	Issues      repository.IssuesRepository
	Sender      email.Sender
	Renderer    *template.Renderer
	Events      repository.DeliveryEventsRepository // optional
	Log         *zap.Logger

	// Behavior
	Workers      int           // concurrent claim loops
	IdleInterval time.Duration // sleep when the queue has nothing eligible
}

func NewDelivery(
	queueRepo repository.DeliveryQueueRepository,
	subscribersRepo repository.SubscribersRepository,
	issuesRepo repository.IssuesRepository,
	sender email.Sender,
	renderer *template.Renderer,
	log *zap.Logger,
) *Delivery {
	return &Delivery{
		Queue:        queueRepo,
		Subscribers:  subscribersRepo,
		Issues:       issuesRepo,
		Sender:       sender,
		Renderer:     renderer,
		Log:          log,
		Workers:      4,
		IdleInterval: 5 * time.Second,
	}
}

// Run blocks until ctx is cancelled. Each worker finishes (and resolves) its
// in-flight task before returning, so no claim outlives the pool.
func (d *Delivery) Run(ctx context.Context) error {
	if d.Workers <= 0 {
		d.Workers = 4
	}
	if d.IdleInterval <= 0 {
		d.IdleInterval = 5 * time.Second
	}

	var wg sync.WaitGroup
	for i := 0; i < d.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.runLoop(ctx, id)
		}(i)
	}

	go d.runDepthGauge(ctx)

	wg.Wait()
	return ctx.Err()
}

func (d *Delivery) runLoop(ctx context.Context, id int) {
	log := d.Log.With(zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := d.ProcessOne(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("delivery attempt errored", zap.Error(err))
			// transient storage trouble; back off briefly before polling again
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}
		if !claimed {
			if !sleepCtx(ctx, d.IdleInterval) {
				return
			}
		}
	}
}

// ProcessOne claims and resolves at most one task. It reports whether a task
// was claimed; false means the queue had nothing eligible. Task-level send and
// render failures are resolved into the task (retry or dead-letter) and do not
// surface as errors here.
func (d *Delivery) ProcessOne(ctx context.Context) (bool, error) {
	claim, err := d.Queue.ClaimOne(ctx)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	if claim == nil {
		return false, nil
	}

	task := claim.Task()
	log := d.Log.With(
		zap.String("issue_id", task.IssueID),
		zap.String("subscriber_email", task.SubscriberEmail),
		zap.Int("n_retries", task.NRetries),
	)

	sub, err := d.Subscribers.GetByEmail(ctx, task.SubscriberEmail)
	if err != nil {
		_ = claim.Release()
		return true, fmt.Errorf("load subscriber: %w", err)
	}
	if sub == nil {
		// Unsubscribed after enqueue: resolve without sending anything.
		if err := claim.Succeed(ctx); err != nil {
			return true, fmt.Errorf("resolve stale task: %w", err)
		}
		metrics.DeliveriesTotal.WithLabelValues(model.OutcomeSkipped.String()).Inc()
		d.recordEvent(ctx, task, model.OutcomeSkipped, "subscriber no longer exists")
		log.Info("skipped task for missing subscriber")
		return true, nil
	}

	issue, err := d.Issues.Get(ctx, task.IssueID)
	if err != nil {
		_ = claim.Release()
		return true, fmt.Errorf("load issue: %w", err)
	}
	if issue == nil {
		// Should be impossible given the FK, but a stale task must never wedge
		// the queue.
		if err := claim.Succeed(ctx); err != nil {
			return true, fmt.Errorf("resolve orphan task: %w", err)
		}
		metrics.DeliveriesTotal.WithLabelValues(model.OutcomeSkipped.String()).Inc()
		log.Warn("skipped task for missing issue")
		return true, nil
	}

	sendErr := d.renderAndSend(ctx, *issue, *sub)
	if sendErr == nil {
		if err := claim.Succeed(ctx); err != nil {
			return true, fmt.Errorf("resolve delivered task: %w", err)
		}
		metrics.DeliveriesTotal.WithLabelValues(model.OutcomeSent.String()).Inc()
		d.recordEvent(ctx, task, model.OutcomeSent, "")
		if err := d.Issues.IncrementDelivered(ctx, task.IssueID); err != nil {
			log.Warn("delivered counter update failed", zap.Error(err))
		}
		return true, nil
	}

	deadLettered, err := claim.Fail(ctx, sendErr)
	if err != nil {
		return true, fmt.Errorf("resolve failed task: %w", err)
	}
	if deadLettered {
		metrics.DeliveriesTotal.WithLabelValues(model.OutcomeDeadLettered.String()).Inc()
		d.recordEvent(ctx, task, model.OutcomeDeadLettered, sendErr.Error())
		if err := d.Issues.IncrementFailed(ctx, task.IssueID); err != nil {
			log.Warn("failed counter update failed", zap.Error(err))
		}
		log.Error("task dead-lettered", zap.Error(sendErr))
	} else {
		metrics.DeliveriesTotal.WithLabelValues(model.OutcomeRetried.String()).Inc()
		d.recordEvent(ctx, task, model.OutcomeRetried, sendErr.Error())
		log.Warn("task rescheduled", zap.Error(sendErr))
	}
	return true, nil
}

func (d *Delivery) renderAndSend(ctx context.Context, issue model.Issue, sub model.Subscriber) error {
	textBody, htmlBody, err := d.Renderer.Issue(issue, sub)
	if err != nil {
		return fmt.Errorf("render issue: %w", err)
	}

	return d.Sender.Send(ctx, email.Message{
		To:       sub.Email,
		Subject:  issue.Title,
		TextBody: textBody,
		HTMLBody: htmlBody,
	})
}

func (d *Delivery) recordEvent(ctx context.Context, task model.DeliveryTask, outcome model.DeliveryOutcome, detail string) {
	if d.Events == nil {
		return
	}
	ev := model.DeliveryEvent{
		IssueID:         task.IssueID,
		SubscriberEmail: task.SubscriberEmail,
		Outcome:         outcome,
		Attempt:         task.NRetries + 1,
		Detail:          detail,
		OccurredAt:      time.Now().UTC(),
	}
	if err := d.Events.Insert(ctx, ev); err != nil {
		d.Log.Warn("delivery event insert failed", zap.Error(err))
	}
}

func (d *Delivery) runDepthGauge(ctx context.Context) {
	tick := time.NewTicker(30 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := d.Queue.CountPending(ctx)
			if err != nil {
				d.Log.Warn("queue depth probe failed", zap.Error(err))
				continue
			}
			metrics.QueueDepth.Set(float64(n))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
