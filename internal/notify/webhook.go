package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillm/liquidity/internal/domain"
)

// WebhookClient отправляет события во внешний вебхук
type WebhookClient struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookClient создает клиента вебхука; client == nil - http.DefaultClient
func NewWebhookClient(url, secret string, client *http.Client) *WebhookClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookClient{url: url, secret: secret, client: client}
}

// Send отправляет событие одним POST; не-2xx ответ считается ошибкой доставки
func (c *WebhookClient) Send(ctx context.Context, event domain.NotificationEvent) error {
	body, err := json.Marshal(BuildPayload(event))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Idempotency-Key", event.IdempotencyKey)
	if sig, ok := Sign(body, c.secret); ok {
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook: %v", domain.ErrChannelDelivery, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned %d", domain.ErrChannelDelivery, resp.StatusCode)
	}
	return nil
}
