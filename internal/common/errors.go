// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/chatfin/internal/model"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Pipeline errors. Most are carried as model.Issue values and only become
	// errors at the edges.
	ErrParseFailure          = errors.New("could not determine intent")
	ErrStructuringAmbiguity  = errors.New("document totals do not reconcile")
	ErrLowConfidenceCategory = errors.New("category confidence below threshold")
	ErrInvalidNumericInput   = errors.New("invalid numeric input")
	ErrSessionTimeout        = errors.New("conversation exceeded maximum turns")

	// Collaborator errors.
	ErrOCRUnavailable = errors.New("ocr provider unavailable")
	ErrEmptyDocument  = errors.New("document has no text")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

var issueSentinels = map[model.IssueCode]error{
	model.IssueParseFailure:          ErrParseFailure,
	model.IssueStructuringAmbiguity:  ErrStructuringAmbiguity,
	model.IssueMissingTotal:          ErrStructuringAmbiguity,
	model.IssueItemMismatch:          ErrStructuringAmbiguity,
	model.IssueLowConfidenceCategory: ErrLowConfidenceCategory,
	model.IssueInvalidNumericInput:   ErrInvalidNumericInput,
	model.IssueSessionTimeout:        ErrSessionTimeout,
}

// IssueError converts an issue into an error that matches its sentinel with errors.Is.
func IssueError(issue model.Issue) error {
	sentinel, ok := issueSentinels[issue.Code]
	if !ok {
		return errors.New(issue.String())
	}
	if issue.Message == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, issue.Message)
}

// IssuesError joins all issues into a single error, or nil if there are none.
func IssuesError(issues []model.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	errs := make([]error, 0, len(issues))
	for _, issue := range issues {
		errs = append(errs, IssueError(issue))
	}
	return errors.Join(errs...)
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrOCRUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
