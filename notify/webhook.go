package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
)

// webhookBackend POSTs the notification to the scope's configured URL.
// One immediate retry on failure; beyond that the emitter logs and moves on.
type webhookBackend struct {
	httpClient *http.Client
}

func NewWebhookBackend() backend {
	return &webhookBackend{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *webhookBackend) Name() string {
	return models.NotifyBackendWebhook
}

func (b *webhookBackend) Deliver(ctx context.Context, cfg *models.ScopeConfig, notification *models.Notification, event *TransitionEvent) error {
	if cfg == nil || cfg.WebhookURL == "" {
		return errors.New("webhook backend selected but no webhook_url configured")
	}

	payload := map[string]interface{}{
		"event_id":     notification.EventId,
		"scope_id":     notification.ScopeId,
		"order_id":     notification.OrderId,
		"level":        notification.Level,
		"title":        notification.Title,
		"body":         notification.Body,
		"delivered_at": time.Now().UTC().Format(time.RFC3339),
	}
	if event != nil {
		payload["transition"] = event
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr = b.post(ctx, cfg.WebhookURL, body); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (b *webhookBackend) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
