// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # Snapshot Errors (SNAP001-SNAP099)
//
// Errors raised while classifying and storing an upload batch:
//
//	SNAP001 - Schema error: An uploaded file lacks a required column
//	          Action: Make sure every file has an academic year column with values
//	          Patterns: "schema error"
//
//	SNAP002 - File count: Wrong number of files for the analysis mode
//	          Action: Upload the number of files the selected mode requires
//	          Patterns: "invalid file count"
//
//	SNAP003 - Unknown mode: The analysis mode is not recognized
//	          Action: Choose default, yoy_comparison, census_day or census_yoy
//	          Patterns: "unknown analysis mode"
//
//	SNAP004 - Unknown snapshot: Internal snapshot mapping error
//	          Action: Please contact support
//	          Patterns: "unknown snapshot role"
//
// # Report Errors (RPT001-RPT099)
//
//	RPT001 - Invalid term: The requested census term is not recognized
//	         Action: Use one of the listed census terms
//	         Patterns: "invalid term"
//
//	RPT002 - Snapshot field: The snapshot does not store this field
//	         Action: Use a report supported by the loaded snapshots
//	         Patterns: "is not stored by snapshot"
//
// # Database Errors (DB001-DB099)
//
// Errors related to database connectivity:
//
//	DB001 - Connection refused: Unable to connect to database
//	        Action: Please try again in a few moments
//	        Patterns: "connection refused"
//
//	DB002 - Connection reset: Database connection was interrupted
//	        Action: Please try again
//	        Patterns: "connection reset"
//
//	DB003 - Timeout: Operation timed out
//	        Action: Try uploading a smaller file or try again later
//	        Patterns: "timeout"
//
//	DB004 - Deadlock: Database was busy with conflicting operations
//	        Action: Please try again
//	        Patterns: "deadlock"
//
// # File Errors (FILE001-FILE099)
//
// Errors related to file handling and parsing:
//
//	FILE001 - File too large: File exceeds maximum upload size
//	          Action: Remove unused columns or split the extract
//	          Patterns: "file too large"
//
//	FILE002 - Invalid CSV: File is not a valid CSV
//	          Action: Ensure file is comma-separated with consistent columns
//	          Patterns: "invalid csv"
//
//	FILE004 - No file: No file was selected
//	          Action: Please select a CSV or XLSX file to upload
//	          Patterns: "no file provided"
//
//	FILE005 - Empty file: The uploaded file is empty
//	          Action: Please upload a file with a header row and data rows
//	          Patterns: "empty file"
//
//	FILE006 - Unsupported format: Only .csv and .xlsx files are accepted
//	          Action: Save the extract as CSV or XLSX
//	          Patterns: "unsupported file format"
//
//	FILE007 - Unreadable file: The file could not be parsed
//	          Action: Save the file again as CSV or XLSX
//	          Patterns: "malformed file"
//
// # Upload Errors (UPL001-UPL099)
//
// Errors related to the upload process:
//
//	UPL001 - System busy: Too many uploads in progress
//	         Action: Please wait a moment and try again
//	         Patterns: "too many concurrent uploads"
//
//	UPL002 - Request cancelled: Request was cancelled
//	         Action: Please try again
//	         Patterns: "context canceled"
//
//	UPL003 - Request timeout: Request timed out
//	         Action: Try uploading a smaller file or check your connection
//	         Patterns: "context deadline exceeded"
//
// # Rate Limiting (RATE001-RATE099)
//
// Errors related to request throttling:
//
//	RATE001 - Rate limited: Too many requests
//	          Action: Please wait a moment before trying again
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns should be
// defined before general ones. Snapshot errors come first because their
// messages quote file names.
//
// # For Support Staff
//
// When a user reports an error code:
//  1. Look up the code in this reference
//  2. Check the associated patterns to understand what triggered it
//  3. Review the suggested action to guide the user
//  4. If ERR000, check application logs for the original technical error

package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// Patterns are matched using strings.Contains, so partial matches work.
// The first matching pattern wins, so order matters:
//   - More specific patterns should come before general ones
//   - Multiple patterns can map to the same error code
//
// To add a new error pattern:
//  1. Choose the appropriate category and code range
//  2. Add the pattern in the correct position (specific before general)
//  3. Update the package documentation at the top of this file
var errorPatterns = []errorPattern{
	// =========================================================================
	// Snapshot Errors (SNAP001-SNAP004)
	// Checked first: their messages embed file names that could contain
	// words matched by the generic patterns below.
	// =========================================================================
	{
		pattern: "schema error",
		msg: UserMessage{
			Message: "An uploaded file is missing required data",
			Action:  "Make sure every file has an academic year column with values",
			Code:    "SNAP001",
		},
	},
	{
		pattern: "invalid file count",
		msg: UserMessage{
			Message: "Wrong number of files for the selected analysis mode",
			Action:  "Upload 1 file for default, 2 for yoy_comparison or census_day, 3 for census_yoy",
			Code:    "SNAP002",
		},
	},
	{
		pattern: "unknown analysis mode",
		msg: UserMessage{
			Message: "The analysis mode is not recognized",
			Action:  "Choose default, yoy_comparison, census_day or census_yoy",
			Code:    "SNAP003",
		},
	},
	{
		pattern: "unknown snapshot role",
		msg: UserMessage{
			Message: "Snapshot mapping error",
			Action:  "Please contact support",
			Code:    "SNAP004",
		},
	},

	// =========================================================================
	// Report Errors (RPT001-RPT002)
	// =========================================================================
	{
		pattern: "invalid term",
		msg: UserMessage{
			Message: "The requested census term is not recognized",
			Action:  "Use one of the listed census terms",
			Code:    "RPT001",
		},
	},
	{
		pattern: "is not stored by snapshot",
		msg: UserMessage{
			Message: "The snapshot does not store this field",
			Action:  "Use a report supported by the loaded snapshots",
			Code:    "RPT002",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB004)
	// These errors occur when database connectivity is disrupted.
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try uploading a smaller file or try again later",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE007)
	// These errors occur when processing uploaded files.
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum upload size",
			Action:  "Remove unused columns or split the extract",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with consistent columns",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV or XLSX file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with a header row and data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "unsupported file format",
		msg: UserMessage{
			Message: "Only .csv and .xlsx files are accepted",
			Action:  "Save the extract as CSV or XLSX and upload again",
			Code:    "FILE006",
		},
	},
	{
		pattern: "malformed file",
		msg: UserMessage{
			Message: "The file could not be read",
			Action:  "Open the file, save it again as CSV or XLSX and re-upload",
			Code:    "FILE007",
		},
	},

	// =========================================================================
	// Upload Errors (UPL001-UPL003)
	// These errors occur during the upload process and session management.
	// =========================================================================
	{
		pattern: "too many concurrent uploads",
		msg: UserMessage{
			Message: "System is busy processing other uploads",
			Action:  "Please wait a moment and try again",
			Code:    "UPL001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try uploading a smaller file or check your connection",
			Code:    "UPL003",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// These errors occur when request limits are exceeded.
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
// This is the fallback for unexpected errors. Support staff should check
// application logs for the original technical error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	err := &FileCountError{Mode: ModeCensusYoY, Want: 3, Got: 2}
//	msg := MapError(err)
//	// msg.Code == "SNAP002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
//
// Example output: "The analysis mode is not recognized (Code: SNAP003). Choose default, yoy_comparison, census_day or census_yoy"
//
// This is the primary function for displaying errors to end users.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error matches a known pattern and should be shown to users.
// Returns true if the error matches a specific pattern (not the generic ERR000 fallback).
// Use this to decide whether to show the raw error or the mapped user message.
//
// Example:
//
//	if IsUserFacing(err) {
//	    showToUser(FormatUserError(err))
//	} else {
//	    log.Error(err) // Log technical error
//	    showToUser("An error occurred. Please try again.")
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging while providing a clean message for users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error to a user-friendly message.
// The returned UserError preserves the original technical error for logging via Unwrap(),
// while providing a clean user message via Error().
//
// Returns nil if err is nil.
//
// Example:
//
//	ue := NewUserError(err)
//	log.Error(ue.Technical)   // Log original error
//	fmt.Println(ue.Error())    // Show "An uploaded file is missing required data"
//	fmt.Println(ue.User.Code)  // Show "SNAP001"
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
