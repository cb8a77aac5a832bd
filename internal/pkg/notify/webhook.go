package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier 将通知以 JSON POST 到外部告警服务。
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier 创建 webhook 通知器。url 为空时 Send 直接跳过。
func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type webhookPayload struct {
	OwnerID string `json:"ownerId"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Send 推送一条通知，非 2xx 响应视为失败。
func (n *WebhookNotifier) Send(ctx context.Context, ownerID string, subject string, message string) error {
	if n.url == "" {
		n.logger.Warn("webhook url missing, skip notification")
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		OwnerID: ownerID,
		Subject: subject,
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}

	n.logger.Info("webhook notification sent", slog.String("owner", ownerID), slog.String("subject", subject))
	return nil
}
