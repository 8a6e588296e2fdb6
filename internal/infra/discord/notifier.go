package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"horizon-apply-service/internal/domain"
)

// Notifier delivers review decisions to a Discord webhook. It also serves
// as the notification health probe: a GET of a webhook URL returns the
// webhook object without posting anything, which makes a cheap
// reachability check.
type Notifier struct {
	client     *resty.Client
	webhookURL string
}

func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		client:     resty.New().SetTimeout(10 * time.Second),
		webhookURL: webhookURL,
	}
}

type webhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []webhookEmbed `json:"embeds,omitempty"`
}

type webhookEmbed struct {
	Title  string         `json:"title"`
	Fields []webhookField `json:"fields,omitempty"`
}

type webhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Probe checks that the webhook is reachable and still exists.
func (n *Notifier) Probe(ctx context.Context) error {
	resp, err := n.client.R().SetContext(ctx).Get(n.webhookURL)
	if err != nil {
		return fmt.Errorf("webhook probe: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook probe: status %d", resp.StatusCode())
	}
	return nil
}

// Notify posts the decision to the webhook. Failures are the caller's to
// log; the review transition has already happened.
func (n *Notifier) Notify(ctx context.Context, event string, sub domain.Submission) error {
	fields := []webhookField{
		{Name: "Applicant", Value: sub.Username, Inline: true},
		{Name: "Application", Value: sub.QuizTitle, Inline: true},
		{Name: "Status", Value: string(sub.Status), Inline: true},
		{Name: "Reviewer", Value: sub.AdminUsername, Inline: true},
	}
	if sub.Reason != "" {
		fields = append(fields, webhookField{Name: "Reason", Value: sub.Reason})
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookPayload{
			Embeds: []webhookEmbed{{Title: event, Fields: fields}},
		}).
		Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("webhook notify: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook notify: status %d", resp.StatusCode())
	}
	return nil
}
