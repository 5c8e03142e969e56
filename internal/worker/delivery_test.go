package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/newsletter-gateway/internal/email"
	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	"github.com/jmehdipour/newsletter-gateway/internal/retry"
	"github.com/jmehdipour/newsletter-gateway/internal/template"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memQueue mimics the claim discipline of the SQL queue: a claimed task is
// invisible to other claimers until resolved or released.
type memQueue struct {
	mu     sync.Mutex
	tasks  []*memTask
	policy retry.Policy
}

type memTask struct {
	task    model.DeliveryTask
	claimed bool
}

func newMemQueue(policy retry.Policy) *memQueue {
	return &memQueue{policy: policy}
}

func (q *memQueue) add(issueID, email string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, &memTask{task: model.DeliveryTask{
		IssueID:         issueID,
		SubscriberEmail: email,
		ExecuteAfter:    time.Now(),
		CreatedAt:       time.Now(),
	}})
}

func (q *memQueue) BulkEnqueue(_ context.Context, _ *sqlx.Tx, issueID string, emails []string) error {
	for _, e := range emails {
		q.add(issueID, e)
	}
	return nil
}

func (q *memQueue) ClaimOne(context.Context) (repository.ClaimedTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for _, t := range q.tasks {
		if t.claimed || t.task.DeadLettered || t.task.ExecuteAfter.After(now) {
			continue
		}
		t.claimed = true
		return &memClaim{q: q, t: t}, nil
	}
	return nil, nil
}

func (q *memQueue) CountPending(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, t := range q.tasks {
		if !t.task.DeadLettered {
			n++
		}
	}
	return n, nil
}

func (q *memQueue) ListDeadLettered(context.Context, int, int) ([]model.DeliveryTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.DeliveryTask
	for _, t := range q.tasks {
		if t.task.DeadLettered {
			out = append(out, t.task)
		}
	}
	return out, nil
}

type memClaim struct {
	q *memQueue
	t *memTask
}

func (c *memClaim) Task() model.DeliveryTask { return c.t.task }

func (c *memClaim) Succeed(context.Context) error {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	for i, t := range c.q.tasks {
		if t == c.t {
			c.q.tasks = append(c.q.tasks[:i], c.q.tasks[i+1:]...)
			break
		}
	}
	return nil
}

func (c *memClaim) Fail(_ context.Context, cause error) (bool, error) {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	c.t.task.NRetries++
	c.t.task.LastError = cause.Error()
	c.t.claimed = false
	if c.q.policy.Exhausted(c.t.task.NRetries) {
		now := time.Now()
		c.t.task.DeadLettered = true
		c.t.task.DeadLetteredAt = &now
		return true, nil
	}
	c.t.task.ExecuteAfter = time.Now().Add(c.q.policy.NextDelay(c.t.task.NRetries))
	return false, nil
}

func (c *memClaim) Release() error {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	c.t.claimed = false
	return nil
}

type memSubscribers struct {
	mu      sync.Mutex
	byEmail map[string]model.Subscriber
}

func newMemSubscribers() *memSubscribers {
	return &memSubscribers{byEmail: map[string]model.Subscriber{}}
}

func (m *memSubscribers) add(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEmail[addr] = model.Subscriber{
		Email:  addr,
		Status: model.StatusConfirmed,
		Token:  "tok-" + addr,
	}
}

func (m *memSubscribers) Insert(context.Context, *sqlx.Tx, model.Subscriber) error { return nil }

func (m *memSubscribers) GetByEmail(_ context.Context, addr string) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byEmail[addr]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSubscribers) GetByToken(context.Context, string) (*model.Subscriber, error) {
	return nil, nil
}
func (m *memSubscribers) Confirm(context.Context, string) (bool, error)       { return false, nil }
func (m *memSubscribers) DeleteByToken(context.Context, string) (bool, error) { return false, nil }
func (m *memSubscribers) ListConfirmedEmails(context.Context, *sqlx.Tx) ([]string, error) {
	return nil, nil
}

type memIssues struct {
	mu        sync.Mutex
	byID      map[string]model.Issue
	delivered map[string]int
	failed    map[string]int
}

func newMemIssues() *memIssues {
	return &memIssues{
		byID:      map[string]model.Issue{},
		delivered: map[string]int{},
		failed:    map[string]int{},
	}
}

func (m *memIssues) add(issue model.Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[issue.ID] = issue
}

func (m *memIssues) Insert(context.Context, *sqlx.Tx, model.Issue) error { return nil }

func (m *memIssues) Get(_ context.Context, id string) (*model.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &issue, nil
}

func (m *memIssues) List(context.Context, int, int) ([]model.Issue, error) { return nil, nil }

func (m *memIssues) IncrementDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[id]++
	return nil
}

func (m *memIssues) IncrementFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id]++
	return nil
}

// countingSender records sends per recipient and fails addresses listed in
// failing.
type countingSender struct {
	mu      sync.Mutex
	sends   map[string]int
	failing map[string]bool
}

func newCountingSender() *countingSender {
	return &countingSender{sends: map[string]int{}, failing: map[string]bool{}}
}

func (s *countingSender) Send(_ context.Context, msg email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[msg.To] {
		return fmt.Errorf("mailbox unavailable for %s", msg.To)
	}
	s.sends[msg.To]++
	return nil
}

func (s *countingSender) sentTo(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[addr]
}

type deliveryFixture struct {
	d      *Delivery
	queue  *memQueue
	subs   *memSubscribers
	issues *memIssues
	sender *countingSender
}

// zero backoff keeps retried tasks immediately eligible in tests
func newDeliveryFixture(maxRetries int) *deliveryFixture {
	f := &deliveryFixture{
		queue:  newMemQueue(retry.Policy{MaxRetries: maxRetries}),
		subs:   newMemSubscribers(),
		issues: newMemIssues(),
		sender: newCountingSender(),
	}
	f.d = NewDelivery(f.queue, f.subs, f.issues, f.sender,
		template.NewRenderer("https://news.example.com"), zap.NewNop())
	return f
}

func (f *deliveryFixture) seedIssue(id string, emails ...string) {
	f.issues.add(model.Issue{ID: id, Title: "Issue " + id, TextContent: "hello"})
	for _, e := range emails {
		f.subs.add(e)
		f.queue.add(id, e)
	}
}

func TestProcessOneDeliversAndRemovesTask(t *testing.T) {
	f := newDeliveryFixture(3)
	f.seedIssue("iss-1", "alice@example.com")

	claimed, err := f.d.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.Equal(t, 1, f.sender.sentTo("alice@example.com"))
	n, _ := f.queue.CountPending(context.Background())
	assert.Zero(t, n)
	assert.Equal(t, 1, f.issues.delivered["iss-1"])
}

func TestProcessOneEmptyQueue(t *testing.T) {
	f := newDeliveryFixture(3)

	claimed, err := f.d.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestProcessOneSkipsUnsubscribed(t *testing.T) {
	f := newDeliveryFixture(3)
	f.issues.add(model.Issue{ID: "iss-1", Title: "Issue", TextContent: "hello"})
	// task enqueued, then the subscriber unsubscribed
	f.queue.add("iss-1", "gone@example.com")

	claimed, err := f.d.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.Zero(t, f.sender.sentTo("gone@example.com"))
	n, _ := f.queue.CountPending(context.Background())
	assert.Zero(t, n, "stale task must be resolved, not retried")
	assert.Zero(t, f.issues.delivered["iss-1"])
}

func TestFailingTaskRetriesThenDeadLetters(t *testing.T) {
	const maxRetries = 3
	f := newDeliveryFixture(maxRetries)
	f.seedIssue("iss-1", "alice@example.com")
	f.sender.failing["alice@example.com"] = true

	ctx := context.Background()
	for i := 0; i < maxRetries; i++ {
		claimed, err := f.d.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, claimed, "attempt %d should claim the task", i+1)
	}

	// exhausted: the task is parked, not retried forever
	claimed, err := f.d.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, claimed, "dead-lettered task must not be claimable")

	dead, err := f.queue.ListDeadLettered(ctx, 50, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, maxRetries, dead[0].NRetries)
	assert.Contains(t, dead[0].LastError, "mailbox unavailable")
	assert.NotNil(t, dead[0].DeadLetteredAt)

	assert.Equal(t, 1, f.issues.failed["iss-1"])
	assert.Zero(t, f.sender.sentTo("alice@example.com"))
}

func TestOneBadRecipientDoesNotBlockOthers(t *testing.T) {
	f := newDeliveryFixture(2)
	f.seedIssue("iss-1", "alice@example.com", "bob@example.com", "carol@example.com")
	f.sender.failing["bob@example.com"] = true

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := f.d.ProcessOne(ctx); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	assert.Equal(t, 1, f.sender.sentTo("alice@example.com"))
	assert.Equal(t, 1, f.sender.sentTo("carol@example.com"))
	assert.Equal(t, 2, f.issues.delivered["iss-1"])

	dead, err := f.queue.ListDeadLettered(ctx, 50, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "bob@example.com", dead[0].SubscriberEmail)
}

func TestConcurrentWorkersSendEachTaskOnce(t *testing.T) {
	f := newDeliveryFixture(3)

	const n = 200
	emails := make([]string, n)
	for i := range emails {
		emails[i] = fmt.Sprintf("sub%03d@example.com", i)
	}
	f.seedIssue("iss-1", emails...)

	ctx := context.Background()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := f.d.ProcessOne(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				if !claimed {
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, addr := range emails {
		assert.Equal(t, 1, f.sender.sentTo(addr), "recipient %s", addr)
	}
	pending, _ := f.queue.CountPending(ctx)
	assert.Zero(t, pending)
	assert.Equal(t, n, f.issues.delivered["iss-1"])
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newDeliveryFixture(3)
	f.d.IdleInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
