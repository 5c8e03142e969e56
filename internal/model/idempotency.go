package model

import "time"

// IdempotencyRecord maps (admin_id, key) to the response the first request
// produced. The row is inserted as a placeholder at the start of the publish
// transaction and completed with the response before commit, so a committed
// record always carries a replayable response.
type IdempotencyRecord struct {
	AdminID    int64     `db:"admin_id"`
	Key        string    `db:"idempotency_key"`
	StatusCode int       `db:"response_status"`
	Body       []byte    `db:"response_body"`
	CreatedAt  time.Time `db:"created_at"`
}
