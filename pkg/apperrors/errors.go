// Package apperrors defines the error taxonomy shared across the engine.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrDataSourceDeleted   = errors.New("data source is deleted")
	ErrExecutionTimeout    = errors.New("query execution exceeded time budget")
	ErrConcurrentEdit      = errors.New("another edit to this data source is in flight")
	ErrPrefixNamespaceFull = errors.New("type prefix namespace exhausted")
)

// ValidationError reports a query authoring problem. Position is the byte
// offset of the offending token in the query text, or -1 when the error is
// not positional (e.g. a structured-path problem). Suggestion carries the
// nearest valid identifier when one exists.
type ValidationError struct {
	Position   int
	Identifier string
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Identifier != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.Identifier)
	}
	if e.Position >= 0 {
		msg = fmt.Sprintf("%s (at offset %d)", msg, e.Position)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s; did you mean %q?", msg, e.Suggestion)
	}
	return msg
}

// NewValidationError builds a non-positional validation error.
func NewValidationError(identifier, message string) *ValidationError {
	return &ValidationError{Position: -1, Identifier: identifier, Message: message}
}

// PermissionError reports a principal lacking access to an entity type or a
// specific record.
type PermissionError struct {
	Principal  string
	EntityType string
	EntityID   string
	Action     string
}

func (e *PermissionError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("principal %s may not %s %s record %s", e.Principal, e.Action, e.EntityType, e.EntityID)
	}
	return fmt.Sprintf("principal %s may not %s entity type %s", e.Principal, e.Action, e.EntityType)
}

// EditCondition identifies which trace-back permit condition failed.
type EditCondition string

const (
	EditConditionSourceUnknown     EditCondition = "source_unknown"
	EditConditionNotDirectField    EditCondition = "not_direct_field"
	EditConditionTypeNotEditable   EditCondition = "type_not_editable"
	EditConditionNoIdentifier      EditCondition = "identifier_column_missing"
	EditConditionNoWritePermission EditCondition = "no_write_permission"
	EditConditionForcedReadOnly    EditCondition = "forced_read_only"
	EditConditionAggregate         EditCondition = "aggregate_column"
)

// EditNotAllowed reports a rejected cell edit and the first permit condition
// that failed.
type EditNotAllowed struct {
	Column    string
	Condition EditCondition
}

func (e *EditNotAllowed) Error() string {
	return fmt.Sprintf("edit not allowed on column %q: %s", e.Column, e.Condition)
}

// StaleReference reports a preview override, sort, or filter that names a
// column no longer present in the column registry.
type StaleReference struct {
	Kind   string // "preview_override", "sort", "filter"
	Column string
}

func (e *StaleReference) Error() string {
	return fmt.Sprintf("stale %s reference: column %q is no longer in the registry", e.Kind, e.Column)
}

// RegistrationError reports a failed entity type prefix registration.
type RegistrationError struct {
	TypeName string
	Reason   string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("cannot register type %q: %s", e.TypeName, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
