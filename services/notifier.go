package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"competition-engine/logger"
	"competition-engine/models"
	"competition-engine/utils"

	"go.uber.org/zap"
)

// Notifier delivers alerts to people. Delivery errors are reported to the
// caller but never stop competition processing.
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, alert models.Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("alert_type", alert.Type),
		zap.String("severity", string(alert.Severity)),
		zap.Any("metadata", alert.Metadata),
	}
	if alert.Severity == models.SeverityCritical {
		logger.Error(alert.Message, fields...)
	} else {
		logger.Warn(alert.Message, fields...)
	}
	return nil
}

// WebhookNotifier POSTs alerts as JSON to URL.
type WebhookNotifier struct {
	URL        string
	HTTPClient *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, HTTPClient: utils.HTTPClient}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("alert webhook returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
