package util

import "strings"

// NormalizeEmail lowercases and trims an address. The domain part of an email
// is case-insensitive and treating the local part the same avoids duplicate
// subscriptions that differ only in case.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
