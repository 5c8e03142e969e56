package model

import "time"

// Admin is an editor account allowed to publish issues, authenticated by API key.
type Admin struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	APIKey    string    `db:"api_key"`
	Status    string    `db:"status"` // active | suspended
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
