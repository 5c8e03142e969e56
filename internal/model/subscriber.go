package model

import "time"

type SubscriberStatus string

const (
	StatusPendingConfirmation SubscriberStatus = "pending_confirmation"
	StatusConfirmed           SubscriberStatus = "confirmed"
)

func (s SubscriberStatus) String() string {
	return string(s)
}

func (s SubscriberStatus) Valid() bool {
	return s == StatusPendingConfirmation || s == StatusConfirmed
}

// Subscriber is the DB entity persisted in the subscriptions table.
// Token authenticates confirm/unsubscribe links and never changes after signup.
type Subscriber struct {
	Email     string           `db:"email" json:"email"`
	Name      string           `db:"name" json:"name"`
	Status    SubscriberStatus `db:"status" json:"status"`
	Token     string           `db:"token" json:"-"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}
