// Package utils provides utility functions for the application.
package utils

import (
	"strconv"
	"strings"
)

func ToPtr[T any](v T) *T {
	return &v
}

func IsTrue(b *bool) bool {
	return b != nil && *b
}

// ValueOr dereferences p, falling back to def when p is nil
func ValueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// ParseUint parses a positive decimal identifier taken from a path parameter
func ParseUint(raw string) (uint, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// NaturalKey joins the claim id and document number that identify an assignment
func NaturalKey(claimID, documentNumber string) string {
	return strings.TrimSpace(claimID) + ":" + strings.TrimSpace(documentNumber)
}
