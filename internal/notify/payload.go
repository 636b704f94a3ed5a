package notify

import (
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/shopspring/decimal"
)

// WebhookPayload тело исходящего вебхука
type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	Data      WebhookData `json:"data"`
}

// WebhookData поля корреляции; email-адреса и секреты сюда не попадают
type WebhookData struct {
	RequestID            string `json:"request_id,omitempty"`
	RequestNumber        string `json:"request_number,omitempty"`
	OfferingID           string `json:"offering_id,omitempty"`
	Status               string `json:"status,omitempty"`
	Quantity             string `json:"quantity,omitempty"`
	GrossValue           string `json:"gross_value,omitempty"`
	FeeAmount            string `json:"fee_amount,omitempty"`
	NetPayout            string `json:"net_payout,omitempty"`
	DenialReason         string `json:"denial_reason,omitempty"`
	PayoutReference      string `json:"payout_reference,omitempty"`
	ReserveBalance       string `json:"reserve_balance,omitempty"`
	ReserveTarget        string `json:"reserve_target,omitempty"`
	PendingRequestsCount *int   `json:"pending_requests_count,omitempty"`
}

// BuildPayload собирает тело вебхука из события
func BuildPayload(event domain.NotificationEvent) WebhookPayload {
	d := event.Data
	data := WebhookData{
		RequestID:            d.RequestID,
		RequestNumber:        d.RequestNumber,
		OfferingID:           d.OfferingID,
		Status:               d.Status,
		GrossValue:           amount(d.GrossValue),
		FeeAmount:            amount(d.FeeAmount),
		NetPayout:            amount(d.NetPayout),
		DenialReason:         d.DenialReason,
		PayoutReference:      d.PayoutReference,
		ReserveBalance:       amount(d.ReserveBalance),
		ReserveTarget:        amount(d.ReserveTarget),
		PendingRequestsCount: d.PendingRequestsCount,
	}
	if d.Quantity != nil {
		data.Quantity = d.Quantity.String()
	}

	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	return WebhookPayload{
		Event:     event.Type,
		Timestamp: at.UTC().Format(time.RFC3339),
		Data:      data,
	}
}

func amount(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}
