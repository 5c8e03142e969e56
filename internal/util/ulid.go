package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string, used for issue IDs.
func New() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewToken generates a subscription token. Same alphabet as ULIDs, which keeps
// tokens URL-safe without extra escaping.
func NewToken() string {
	return New()
}
