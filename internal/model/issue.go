package model

import "time"

// Issue is one published newsletter broadcast. Content is immutable once the
// publish transaction commits; only the delivery counters move afterwards.
type Issue struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	TextContent string    `db:"text_content" json:"text_content"`
	HTMLContent string    `db:"html_content" json:"html_content"`
	PublishedAt time.Time `db:"published_at" json:"published_at"`

	// Snapshot of the confirmed audience at publish time, plus terminal
	// delivery outcomes recorded by the worker.
	NumSubscribers int `db:"num_subscribers" json:"num_subscribers"`
	NumDelivered   int `db:"num_delivered" json:"num_delivered"`
	NumFailed      int `db:"num_failed" json:"num_failed"`
}
