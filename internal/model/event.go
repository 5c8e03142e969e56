package model

import "time"

type DeliveryOutcome string

const (
	OutcomeSent         DeliveryOutcome = "sent"
	OutcomeRetried      DeliveryOutcome = "retried"
	OutcomeDeadLettered DeliveryOutcome = "dead_lettered"
	OutcomeSkipped      DeliveryOutcome = "skipped" // subscriber gone, nothing sent
)

func (o DeliveryOutcome) String() string { return string(o) }

// DeliveryEvent is one delivery attempt appended to ClickHouse for reporting.
// Events are best-effort: losing one never changes a task's fate.
type DeliveryEvent struct {
	IssueID         string          `db:"issue_id" json:"issue_id"`
	SubscriberEmail string          `db:"subscriber_email" json:"subscriber_email"`
	Outcome         DeliveryOutcome `db:"outcome" json:"outcome"`
	Attempt         int             `db:"attempt" json:"attempt"`
	Detail          string          `db:"detail" json:"detail,omitempty"`
	OccurredAt      time.Time       `db:"occurred_at" json:"occurred_at"`
}
