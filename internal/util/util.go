// Package util contains small internal helpers shared across packages.
package util

import "github.com/google/uuid"

// NewID returns a new UUID string.
func NewID() string { return uuid.NewString() }

// Truncate shortens s to at most n runes, appending an ellipsis marker when
// something was cut. Used to keep log lines bounded.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
