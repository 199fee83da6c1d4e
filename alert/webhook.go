package alert

import (
	"context"

	"outlet-watcher/internal/types"
	"outlet-watcher/utils"
)

// WebhookNotifier POSTs alert payloads as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *utils.HTTPClient
	logger types.Logger
}

// NewWebhookNotifier creates a notifier for the given webhook URL.
func NewWebhookNotifier(url string, client *utils.HTTPClient, logger types.Logger) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client, logger: logger}
}

// Notify delivers one payload.
func (w *WebhookNotifier) Notify(ctx context.Context, payload Payload) error {
	w.logger.Debugf("delivering %s alert for %s to webhook", payload.Reason, payload.HashKey)
	return w.client.PostJSON(ctx, w.url, payload)
}
