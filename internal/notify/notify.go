// Package notify tells the user when a run ends.
package notify

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Slug    string // Optional feature reference
	PRURL   string // Optional PR URL
	Summary RunSummary
}

// RunSummary is what a run got done before it ended
type RunSummary struct {
	Feature     string
	TotalPhases int
	// Committed counts the phases completed by this run
	Committed    int
	FailedPhase  string
	Reviewed     bool
	ReviewIssues uint32
	// Verification is "passed", "failed" or empty when it did not run
	Verification string
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// RunNotifier turns the events of one run into notifications: one when the
// run finishes and one when it aborts.
type RunNotifier struct {
	notifier Notifier
	slug     string
	prURL    string
	phase    string
	summary  RunSummary
	logger   *zap.Logger
}

// NewRunNotifier creates a RunNotifier for slug
func NewRunNotifier(n Notifier, slug string, logger *zap.Logger) *RunNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunNotifier{notifier: n, slug: slug, logger: logger.Named("notify")}
}

// Observe inspects one event. Send failures are logged, never returned.
func (r *RunNotifier) Observe(e domain.Event) {
	var n Notification
	switch ev := e.(type) {
	case domain.Started:
		r.summary.Feature = ev.Feature
		r.summary.TotalPhases = ev.TotalPhases
		return
	case domain.PhaseStarted:
		r.phase = ev.Name
		return
	case domain.PhaseCommitted:
		r.summary.Committed++
		r.phase = ""
		return
	case domain.ReviewCompleted:
		r.summary.Reviewed = true
		r.summary.ReviewIssues = ev.IssueCount
		return
	case domain.VerificationCompleted:
		r.summary.Verification = "failed"
		if ev.Passed {
			r.summary.Verification = "passed"
		}
		return
	case domain.ChangeRequestCreated:
		r.prURL = ev.URL
		return
	case domain.Finished:
		msg := "All phases completed."
		if r.prURL != "" {
			msg = "Pull request: " + r.prURL
		}
		n = Notification{
			Title:   fmt.Sprintf("gba: %s finished", r.slug),
			Message: msg,
			Type:    NotifySuccess,
			PRURL:   r.prURL,
		}
	case domain.ErrorEvent:
		if !ev.Fatal {
			return
		}
		n = Notification{
			Title:   fmt.Sprintf("gba: %s failed", r.slug),
			Message: ev.Detail,
			Type:    NotifyError,
		}
		r.summary.FailedPhase = r.phase
	default:
		return
	}
	n.Slug = r.slug
	n.Summary = r.summary

	if err := r.notifier.Send(n); err != nil {
		r.logger.Warn("failed to send notification", zap.String("slug", r.slug), zap.Error(err))
	}
}
