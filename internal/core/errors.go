package core

import (
	"errors"
	"fmt"
)

// SchemaError is returned when an upload lacks a structurally required field.
// The upload is rejected and no snapshot is touched.
type SchemaError struct {
	File   string
	Field  Field
	Reason string
}

func (e *SchemaError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "missing required column"
	}
	if e.File == "" {
		return fmt.Sprintf("schema error: %s %s", reason, e.Field)
	}
	return fmt.Sprintf("schema error: file %q: %s %s", e.File, reason, e.Field)
}

// FileCountError is returned when the number of uploaded files does not
// match what the analysis mode requires.
type FileCountError struct {
	Mode AnalysisMode
	Want int
	Got  int
}

func (e *FileCountError) Error() string {
	return fmt.Sprintf("invalid file count for %s mode: want %d, got %d", e.Mode, e.Want, e.Got)
}

// UnknownRoleError indicates a broken mode-to-role mapping or a bad role name.
type UnknownRoleError struct {
	Role Role
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown snapshot role %q", string(e.Role))
}

// UnknownModeError is returned for an unrecognized analysis mode string.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown analysis mode %q", e.Mode)
}

// UnknownFieldError is returned when a query names a field that does not exist.
type UnknownFieldError struct {
	Field Field
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", string(e.Field))
}

// UnsupportedFieldError is returned when a query uses an extended field on a
// snapshot that does not store extended fields.
type UnsupportedFieldError struct {
	Field Field
	Role  Role
}

func (e *UnsupportedFieldError) Error() string {
	return fmt.Sprintf("field %s is not stored by snapshot %s", e.Field, e.Role)
}

// IsClientError reports whether err was caused by the caller's input
// rather than by the service or its storage.
func IsClientError(err error) bool {
	var (
		schemaErr *SchemaError
		countErr  *FileCountError
		modeErr   *UnknownModeError
	)
	return errors.As(err, &schemaErr) || errors.As(err, &countErr) || errors.As(err, &modeErr)
}
