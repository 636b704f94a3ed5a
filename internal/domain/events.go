package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventData данные события для рассылки уведомлений
type EventData struct {
	RequestID            string           `json:"request_id,omitempty"`
	RequestNumber        string           `json:"request_number,omitempty"`
	InvestorID           string           `json:"investor_id,omitempty"`
	InvestorEmail        string           `json:"investor_email,omitempty"`
	OfferingID           string           `json:"offering_id,omitempty"`
	PropertyName         string           `json:"property_name,omitempty"`
	Quantity             *decimal.Decimal `json:"quantity,omitempty"`
	GrossValue           *decimal.Decimal `json:"gross_value,omitempty"`
	FeeAmount            *decimal.Decimal `json:"fee_amount,omitempty"`
	NetPayout            *decimal.Decimal `json:"net_payout,omitempty"`
	Status               string           `json:"status,omitempty"`
	DenialReason         string           `json:"denial_reason,omitempty"`
	PayoutReference      string           `json:"payout_reference,omitempty"`
	ReserveBalance       *decimal.Decimal `json:"reserve_balance,omitempty"`
	ReserveTarget        *decimal.Decimal `json:"reserve_target,omitempty"`
	PendingRequestsCount *int             `json:"pending_requests_count,omitempty"`
	AdminEmails          []string         `json:"admin_emails,omitempty"`
	SponsorEmail         string           `json:"sponsor_email,omitempty"`
	MonthlyRedemptions   *int             `json:"monthly_redemptions,omitempty"`
	MonthlyAmount        *decimal.Decimal `json:"monthly_amount,omitempty"`
}

// NotificationEvent событие, создаваемое один раз на переход и не изменяемое после рассылки
type NotificationEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Data           EventData `json:"data"`
	IdempotencyKey string    `json:"idempotency_key"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// IsInvestorLifecycle проверяет относится ли событие к жизненному циклу заявки
func IsInvestorLifecycle(eventType string) bool {
	switch eventType {
	case EventRedemptionSubmitted, EventRedemptionApproved, EventRedemptionDenied,
		EventRedemptionProcessing, EventRedemptionCompleted, EventRedemptionCancelled:
		return true
	}
	return false
}

// IsAdminEvent проверяет адресовано ли событие администраторам
func IsAdminEvent(eventType string) bool {
	return eventType == EventAdminNewRequest || eventType == EventReserveLowWarning
}

// DeliveryOutcome результат доставки по одному каналу и получателю
type DeliveryOutcome struct {
	Channel   string        `json:"channel"`
	Recipient string        `json:"recipient,omitempty"`
	Status    string        `json:"status"` // "sent", "failed", "skipped"
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// DeliveryReport отчет о рассылке события
type DeliveryReport struct {
	EventID        string            `json:"event_id"`
	EventType      string            `json:"event_type"`
	IdempotencyKey string            `json:"idempotency_key"`
	Outcomes       []DeliveryOutcome `json:"outcomes"`
}

// Count считает исходы с заданным статусом
func (r DeliveryReport) Count(status string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// ChannelStatus возвращает статусы исходов канала
func (r DeliveryReport) ChannelStatus(channel string) []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Channel == channel {
			out = append(out, o.Status)
		}
	}
	return out
}
