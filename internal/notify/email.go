package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillm/liquidity/internal/domain"
)

// DefaultEmailAPI адрес почтового API по умолчанию
const DefaultEmailAPI = "https://api.resend.com"

// Email письмо для отправки
type Email struct {
	To      []string
	Subject string
	Text    string
}

// EmailClient отправляет письма через HTTP API в формате Resend: POST {base}/emails
type EmailClient struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
}

// NewEmailClient создает почтового клиента
func NewEmailClient(baseURL, apiKey, from string, client *http.Client) *EmailClient {
	if baseURL == "" {
		baseURL = DefaultEmailAPI
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &EmailClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		from:    from,
		client:  client,
	}
}

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
}

type sendEmailError struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Send отправляет письмо
func (c *EmailClient) Send(ctx context.Context, msg Email) error {
	body, err := json.Marshal(sendEmailRequest{
		From:    c.from,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: email: %v", domain.ErrChannelDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var apiErr sendEmailError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		return fmt.Errorf("%w: email API %d: %s", domain.ErrChannelDelivery, resp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: email API returned %d", domain.ErrChannelDelivery, resp.StatusCode)
}
