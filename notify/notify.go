// Package notify fans accepted posts out to external channels.
//
// Notification is strictly best-effort: a failure is logged and dropped,
// never propagated back into the request path, and never rolls back a
// stored post.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier delivers a notification about one accepted post.
type Notifier interface {
	Notify(ctx context.Context, boardID, pseudoID, content string) error
}

// FormatPost renders the notification line for a post, truncating the
// pseudonym to a short handle.
func FormatPost(boardID, pseudoID, content string) string {
	handle := pseudoID
	if len(handle) > 10 {
		handle = handle[:10]
	}
	return fmt.Sprintf("[#%s] %s: %s", boardID, handle, content)
}

// DiscordWebhook posts notifications to a Discord webhook URL.
type DiscordWebhook struct {
	URL    string
	Client *http.Client
}

// NewDiscordWebhook returns a webhook notifier with a bounded HTTP client.
func NewDiscordWebhook(url string) *DiscordWebhook {
	return &DiscordWebhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify implements Notifier.
func (d *DiscordWebhook) Notify(ctx context.Context, boardID, pseudoID, content string) error {
	payload, err := json.Marshal(map[string]string{
		"content": FormatPost(boardID, pseudoID, content),
	})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Nop is a Notifier that does nothing, used when no channel is configured.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, string, string) error { return nil }
