// Package domain holds the shared error taxonomy and input validation for
// the retrieval engine.
package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxQueryLength bounds free-text queries; longer input is rejected rather
// than truncated so callers notice.
const MaxQueryLength = 500

// ValidateQuery checks a free-text search query. Empty (after trimming) or
// oversized queries fail with ErrInvalidInput.
func ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return NewValidationError("query", query, ErrInvalidInput)
	}
	if utf8.RuneCountInString(trimmed) > MaxQueryLength {
		return NewValidationError("query", string([]rune(trimmed)[:32])+"...", ErrInvalidInput)
	}
	return nil
}
