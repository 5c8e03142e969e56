package model

import "time"

// DeliveryTask is one row of issue_delivery_queue: "send this issue to this
// subscriber". (IssueID, SubscriberEmail) is the unique pair; a successful
// delivery deletes the row, a dead-lettered one is retained for inspection.
type DeliveryTask struct {
	IssueID         string     `db:"issue_id" json:"issue_id"`
	SubscriberEmail string     `db:"subscriber_email" json:"subscriber_email"`
	NRetries        int        `db:"n_retries" json:"n_retries"`
	ExecuteAfter    time.Time  `db:"execute_after" json:"execute_after"`
	DeadLettered    bool       `db:"dead_lettered" json:"dead_lettered"`
	DeadLetteredAt  *time.Time `db:"dead_lettered_at" json:"dead_lettered_at,omitempty"`
	LastError       string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}
