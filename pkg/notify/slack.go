// Package notify posts operator-facing alerts about failed tasks to Slack.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const slackHTTPTimeout = 10 * time.Second

// Severity is the alert's urgency level, used to pick a Slack attachment
// color and emoji.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single task-failure notification.
type Alert struct {
	TaskID   string
	Device   int
	Severity Severity
	Kind     string // apierr.Kind of the failure, e.g. "engine", "worker_transport"
	Message  string
	FiredAt  time.Time
}

// SlackNotifier posts Alerts to a configured Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	HTTPClient *http.Client
}

// NewSlackNotifier builds a notifier for webhookURL. An empty URL is
// allowed; Send becomes a no-op in that case so callers don't need to
// branch on whether notifications are configured.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: slackHTTPTimeout},
	}
}

type slackMessage struct {
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color     string             `json:"color"`
	Title     string             `json:"title"`
	Text      string             `json:"text,omitempty"`
	Fields    []slackAttachField `json:"fields,omitempty"`
	Footer    string             `json:"footer,omitempty"`
	Timestamp int64              `json:"ts,omitempty"`
}

type slackAttachField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Send posts alert to Slack. A zero WebhookURL makes this a no-op so the
// caller doesn't need to guard every call site on whether Slack is
// configured.
func (s *SlackNotifier) Send(alert Alert) error {
	if s.WebhookURL == "" {
		return nil
	}

	msg := slackMessage{
		Username:  "Dispatch Gateway",
		IconEmoji: severityEmoji(alert.Severity),
		Text:      fmt.Sprintf("*%s* task failure", alert.Severity),
		Attachments: []slackAttachment{
			{
				Color: severityColor(alert.Severity),
				Title: fmt.Sprintf("Task %s failed", alert.TaskID),
				Text:  alert.Message,
				Fields: []slackAttachField{
					{Title: "Device", Value: fmt.Sprintf("%d", alert.Device), Short: true},
					{Title: "Error kind", Value: alert.Kind, Short: true},
				},
				Footer:    "Dispatch Gateway",
				Timestamp: alert.FiredAt.Unix(),
			},
		},
	}

	return s.post(msg)
}

func (s *SlackNotifier) post(msg slackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.WebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}
	return nil
}

func severityColor(sev Severity) string {
	switch sev {
	case SeverityCritical:
		return "danger"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "good"
	default:
		return "#808080"
	}
}

func severityEmoji(sev Severity) string {
	switch sev {
	case SeverityCritical:
		return ":rotating_light:"
	case SeverityWarning:
		return ":warning:"
	case SeverityInfo:
		return ":information_source:"
	default:
		return ":bell:"
	}
}
