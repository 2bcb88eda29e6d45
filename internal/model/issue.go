package model

import "fmt"

// IssueCode identifies a non-fatal condition raised while processing input.
type IssueCode string

// Issue codes.
const (
	IssueParseFailure          IssueCode = "parse_failure"
	IssueStructuringAmbiguity  IssueCode = "structuring_ambiguity"
	IssueLowConfidenceCategory IssueCode = "low_confidence_category"
	IssueInvalidNumericInput   IssueCode = "invalid_numeric_input"
	IssueSessionTimeout        IssueCode = "session_timeout"
	IssueMissingTotal          IssueCode = "missing_total"
	IssueItemMismatch          IssueCode = "item_mismatch"
)

// Issue describes a recoverable problem attached to a result instead of failing it.
type Issue struct {
	Code    IssueCode
	Field   string
	Message string
	Score   float64
}

func (i Issue) String() string {
	if i.Field != "" {
		return fmt.Sprintf("%s (%s): %s", i.Code, i.Field, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// HasIssue reports whether issues contains the given code.
func HasIssue(issues []Issue, code IssueCode) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}
