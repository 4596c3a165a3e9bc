package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/observer"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	stageStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

// formatEvent renders one run event as a single terminal line
func formatEvent(e domain.Event) string {
	switch ev := e.(type) {
	case domain.Started:
		return titleStyle.Render(fmt.Sprintf("▶ %s", ev.Feature)) +
			dimStyle.Render(fmt.Sprintf(" (%d phases)", ev.TotalPhases))
	case domain.PhaseStarted:
		return stageStyle.Render(fmt.Sprintf("Phase %d: %s", ev.Index+1, ev.Name))
	case domain.CheckResult:
		if ev.Passed {
			return "  " + passStyle.Render("✓ "+ev.Name)
		}
		return "  " + failStyle.Render("✗ "+ev.Name)
	case domain.PhaseCommitted:
		return "  " + dimStyle.Render(fmt.Sprintf("committed phase %d: %s", ev.Index+1, ev.Commit))
	case domain.ReviewStarted:
		return stageStyle.Render("Review")
	case domain.ReviewCompleted:
		return "  " + dimStyle.Render(fmt.Sprintf("%d issues found", ev.IssueCount))
	case domain.VerificationStarted:
		return stageStyle.Render("Verification")
	case domain.VerificationCompleted:
		if ev.Passed {
			return "  " + passStyle.Render("✓ "+ev.Details)
		}
		return "  " + warningStyle.Render("! "+ev.Details)
	case domain.ChangeRequestCreated:
		return passStyle.Render("Pull request: ") + ev.URL
	case domain.Finished:
		return passStyle.Bold(true).Render("✓ Finished")
	case domain.ErrorEvent:
		if ev.Fatal {
			return failStyle.Bold(true).Render("✗ " + ev.Detail)
		}
		return warningStyle.Render("! " + ev.Detail)
	default:
		return dimStyle.Render(e.EventType())
	}
}

// formatPlan renders the phase list of a plan
func formatPlan(slug string, plan *domain.Plan) string {
	var b strings.Builder
	s := observer.Summarize(plan)
	b.WriteString(titleStyle.Render(plan.Feature))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" [%s] %d/%d completed", slug, s.Completed, s.Total)))
	b.WriteString("\n")

	for i, p := range plan.Phases {
		status, style := domain.StatusPending, dimStyle
		var detail string
		if p.Result != nil {
			status = p.Result.Status
			detail = fmt.Sprintf(" turns=%d", p.Result.Turns)
			if p.Result.Commit != nil {
				detail += " commit=" + *p.Result.Commit
			}
			switch status {
			case domain.StatusCompleted:
				style = passStyle
			case domain.StatusFailed:
				style = failStyle
			}
		}
		fmt.Fprintf(&b, "  %d. %s %s%s\n", i+1, style.Render(fmt.Sprintf("%-10s", status)), p.Name, dimStyle.Render(detail))
	}

	if ex := plan.Execution; ex != nil {
		fmt.Fprintf(&b, "  run %s, %d turns, %d review issues", ex.Status, ex.TotalTurns, ex.Review.IssuesFound)
		if ex.PR != nil {
			b.WriteString(", PR " + *ex.PR)
		}
		b.WriteString("\n")
	}
	return b.String()
}
