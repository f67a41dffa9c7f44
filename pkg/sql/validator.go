// Package sql provides query text validation, parameter templating, and
// SELECT-list analysis for the query engine.
package sql

import (
	"regexp"
	"strings"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
)

// modifyingCTEPattern matches CTEs that contain data-modifying operations,
// e.g. WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted.
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE)\b`)

// ValidateReadOnly normalizes query text and rejects anything other than a
// single read-only projection. It returns the normalized text (trailing
// semicolon stripped) or a positional ValidationError.
//
// Rejected at parse time: multiple statements, any mutation (INSERT, UPDATE,
// DELETE, MERGE, data-modifying CTEs), schema definition (CREATE, ALTER,
// DROP, TRUNCATE), transaction control, and anything unrecognized.
func ValidateReadOnly(queryText string) (string, error) {
	normalized := stripTrailingSemicolon(strings.TrimSpace(queryText))
	if normalized == "" {
		return "", apperrors.NewValidationError("", "query text is empty")
	}

	if pos := semicolonOutsideStrings(normalized); pos >= 0 {
		return "", &apperrors.ValidationError{
			Position: pos,
			Message:  "multiple statements are not allowed",
		}
	}

	upper := strings.ToUpper(normalized)
	switch {
	case strings.HasPrefix(upper, "SELECT"):
		// ok
	case strings.HasPrefix(upper, "WITH"):
		if loc := modifyingCTEPattern.FindStringIndex(normalized); loc != nil {
			return "", &apperrors.ValidationError{
				Position: loc[0],
				Message:  "data-modifying common table expressions are not allowed",
			}
		}
	default:
		keyword := firstWord(normalized)
		return "", &apperrors.ValidationError{
			Position:   0,
			Identifier: keyword,
			Message:    "only read-only SELECT queries are allowed",
		}
	}

	return normalized, nil
}

// semicolonOutsideStrings returns the byte offset of the first semicolon
// outside string literals, or -1. Both backslash escapes and SQL doubled
// quotes are handled.
func semicolonOutsideStrings(queryText string) int {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prev := rune(0)

	for i, ch := range queryText {
		switch state {
		case stateNormal:
			switch ch {
			case ';':
				return i
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if ch == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' && prev != '\\' {
				state = stateNormal
			}
		}
		prev = ch
	}
	return -1
}

func stripTrailingSemicolon(queryText string) string {
	queryText = strings.TrimRight(queryText, " \t\n\r")
	if strings.HasSuffix(queryText, ";") {
		queryText = strings.TrimRight(strings.TrimSuffix(queryText, ";"), " \t\n\r")
	}
	return queryText
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
