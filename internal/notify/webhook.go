package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Webhook posts each notification as JSON to an external endpoint, e.g. a
// chat bot relaying storefront events to staff.
type Webhook struct {
	url    string
	source string
	client *http.Client
}

func NewWebhook(url, source string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:    url,
		source: source,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	ID      string    `json:"id"`
	Source  string    `json:"source"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

func (w *Webhook) Notify(ctx context.Context, level Level, message string) error {
	if w.url == "" || message == "" {
		return nil
	}
	payload := webhookPayload{
		ID:      uuid.NewString(),
		Source:  w.source,
		Level:   level,
		Message: message,
		SentAt:  time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-ID", payload.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}
