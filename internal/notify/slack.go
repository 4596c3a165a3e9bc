package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// SlackNotifier posts run outcomes to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries the run details below the headline
type SlackAttachment struct {
	Fallback  string       `json:"fallback"`
	Color     string       `json:"color"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
}

// SlackField is one short key/value cell of an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a new Slack notifier. An empty webhook disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SlackColor returns the attachment color for a notification type
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// slackMessage lays out a run notification: the feature links to its pull
// request and the run summary becomes attachment fields.
func slackMessage(n Notification) SlackMessage {
	att := SlackAttachment{
		Fallback:  n.Title + ": " + n.Message,
		Color:     SlackColor(n.Type),
		Title:     n.Slug,
		TitleLink: n.PRURL,
		Text:      n.Message,
		Footer:    "gba",
	}

	s := n.Summary
	if s.Feature != "" {
		att.Title = fmt.Sprintf("%s (%s)", s.Feature, n.Slug)
	}
	if s.TotalPhases > 0 {
		att.Fields = append(att.Fields, SlackField{
			Title: "Phases",
			Value: fmt.Sprintf("%d/%d committed this run", s.Committed, s.TotalPhases),
			Short: true,
		})
	}
	if s.FailedPhase != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Stopped in", Value: s.FailedPhase, Short: true})
	}
	if s.Reviewed {
		att.Fields = append(att.Fields, SlackField{Title: "Review issues", Value: strconv.FormatUint(uint64(s.ReviewIssues), 10), Short: true})
	}
	if s.Verification != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Verification", Value: s.Verification, Short: true})
	}

	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

// Send posts n to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(slackMessage(n))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
