package review

import (
	"strings"

	"github.com/hochfrequenz/gba/internal/domain"
)

// ParseIssues extracts issues from review output. The block layout
//
//	- severity: error
//	  file: main.go
//	  description: missing error check
//
// is tried first; only when it yields nothing are inline lines of the form
// "- [error] main.go: missing error check" considered.
func ParseIssues(output string) []domain.Issue {
	if issues := parseBlocks(output); len(issues) > 0 {
		return issues
	}

	var issues []domain.Issue
	for _, line := range strings.Split(output, "\n") {
		if issue, ok := parseInline(strings.TrimSpace(line)); ok {
			issues = append(issues, issue)
		}
	}
	return issues
}

func parseBlocks(output string) []domain.Issue {
	var (
		issues      []domain.Issue
		severity    domain.Severity
		hasSeverity bool
		file        string
		description string
	)
	flush := func() {
		if hasSeverity && file != "" && description != "" {
			issues = append(issues, domain.Issue{Severity: severity, File: file, Description: description})
		}
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)

		if rest, ok := cutSeverity(trimmed); ok {
			flush()
			severity, hasSeverity = domain.ParseSeverity(rest)
			file, description = "", ""
			continue
		}
		if rest, ok := strings.CutPrefix(trimmed, "file:"); ok {
			file = strings.TrimSpace(rest)
			continue
		}
		if rest, ok := strings.CutPrefix(trimmed, "description:"); ok {
			description = strings.TrimSpace(rest)
		}
	}
	flush()

	return issues
}

func cutSeverity(line string) (string, bool) {
	if rest, ok := strings.CutPrefix(line, "severity:"); ok {
		return rest, true
	}
	return strings.CutPrefix(line, "- severity:")
}

func parseInline(line string) (domain.Issue, bool) {
	content, ok := strings.CutPrefix(line, "-")
	if !ok {
		return domain.Issue{}, false
	}
	content, ok = strings.CutPrefix(strings.TrimSpace(content), "[")
	if !ok {
		return domain.Issue{}, false
	}
	sev, rest, ok := strings.Cut(content, "]")
	if !ok {
		return domain.Issue{}, false
	}
	severity, ok := domain.ParseSeverity(sev)
	if !ok {
		return domain.Issue{}, false
	}
	file, description, ok := strings.Cut(strings.TrimSpace(rest), ":")
	if !ok {
		return domain.Issue{}, false
	}
	file, description = strings.TrimSpace(file), strings.TrimSpace(description)
	if file == "" || description == "" {
		return domain.Issue{}, false
	}
	return domain.Issue{Severity: severity, File: file, Description: description}, true
}
