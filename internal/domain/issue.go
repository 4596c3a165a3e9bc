package domain

import "strings"

// Severity grades a review finding
type Severity string

const (
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeveritySuggestion Severity = "suggestion"
)

// ParseSeverity maps a free-text severity to a known value.
// Returns false for anything unrecognized.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return SeverityError, true
	case "warning", "warn":
		return SeverityWarning, true
	case "suggestion", "info", "note":
		return SeveritySuggestion, true
	default:
		return "", false
	}
}

// Issue is a structured finding extracted from review output
type Issue struct {
	Severity    Severity `json:"severity"`
	File        string   `json:"file"`
	Description string   `json:"description"`
}

// CheckOutcome is the result of running one configured shell check
type CheckOutcome struct {
	Name    string
	Command string
	Passed  bool
	Stdout  string
	Stderr  string
}
