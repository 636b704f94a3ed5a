package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kirillm/liquidity/internal/domain"
	"github.com/shopspring/decimal"
)

func money(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return "$" + d.StringFixed(2)
}

func property(d domain.EventData) string {
	if d.PropertyName != "" {
		return d.PropertyName
	}
	return d.OfferingID
}

func quantity(d domain.EventData) string {
	if d.Quantity == nil {
		return "-"
	}
	return d.Quantity.String()
}

// RenderEmail выбирает тему и текст письма по типу события
func RenderEmail(event domain.NotificationEvent) (subject, body string, ok bool) {
	d := event.Data
	var b strings.Builder

	switch event.Type {
	case domain.EventRedemptionSubmitted:
		subject = fmt.Sprintf("Redemption request %s received", d.RequestNumber)
		fmt.Fprintf(&b, "We received your request to redeem %s tokens of %s.\n\n", quantity(d), property(d))
		fmt.Fprintf(&b, "Gross value: %s\nRedemption fee: %s\nNet payout: %s\n\n", money(d.GrossValue), money(d.FeeAmount), money(d.NetPayout))
		b.WriteString("The amount is reserved for you. We will let you know once the request has been reviewed.")

	case domain.EventRedemptionApproved:
		subject = fmt.Sprintf("Redemption request %s approved", d.RequestNumber)
		fmt.Fprintf(&b, "Your redemption request %s for %s has been approved.\n", d.RequestNumber, property(d))
		fmt.Fprintf(&b, "Net payout: %s\n\nThe payout will be scheduled shortly.", money(d.NetPayout))

	case domain.EventRedemptionDenied:
		subject = fmt.Sprintf("Redemption request %s denied", d.RequestNumber)
		fmt.Fprintf(&b, "Your redemption request %s for %s has been denied.\n", d.RequestNumber, property(d))
		if d.DenialReason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", d.DenialReason)
		}
		b.WriteString("\nYour tokens remain in your account.")

	case domain.EventRedemptionProcessing:
		subject = fmt.Sprintf("Redemption payout %s is being processed", d.RequestNumber)
		fmt.Fprintf(&b, "The payout of %s for request %s is being processed.", money(d.NetPayout), d.RequestNumber)

	case domain.EventRedemptionCompleted:
		subject = fmt.Sprintf("Redemption payout %s completed", d.RequestNumber)
		fmt.Fprintf(&b, "The payout of %s for request %s has been sent.\n", money(d.NetPayout), d.RequestNumber)
		if d.PayoutReference != "" {
			fmt.Fprintf(&b, "Payout reference: %s\n", d.PayoutReference)
		}

	case domain.EventRedemptionCancelled:
		subject = fmt.Sprintf("Redemption request %s cancelled", d.RequestNumber)
		fmt.Fprintf(&b, "Your redemption request %s for %s has been cancelled. The reserved amount was returned to the pool.", d.RequestNumber, property(d))

	case domain.EventAdminNewRequest:
		subject = fmt.Sprintf("New redemption request %s", d.RequestNumber)
		fmt.Fprintf(&b, "Offering: %s\nInvestor: %s\nQuantity: %s\nNet payout: %s\n", property(d), d.InvestorID, quantity(d), money(d.NetPayout))
		fmt.Fprintf(&b, "Reserve balance: %s of %s\n", money(d.ReserveBalance), money(d.ReserveTarget))
		if d.PendingRequestsCount != nil {
			fmt.Fprintf(&b, "Pending requests: %d\n", *d.PendingRequestsCount)
		}

	case domain.EventReserveLowWarning:
		subject = fmt.Sprintf("Liquidity reserve low for %s", property(d))
		fmt.Fprintf(&b, "The liquidity reserve for %s dropped below 20%% of its target.\n\n", property(d))
		fmt.Fprintf(&b, "Balance: %s\nTarget: %s\n", money(d.ReserveBalance), money(d.ReserveTarget))
		if d.PendingRequestsCount != nil {
			fmt.Fprintf(&b, "Pending requests: %d\n", *d.PendingRequestsCount)
		}
		b.WriteString("\nPlease top up the reserve.")

	case domain.EventSponsorMonthlyReport:
		subject = fmt.Sprintf("Monthly redemption report for %s", property(d))
		count := 0
		if d.MonthlyRedemptions != nil {
			count = *d.MonthlyRedemptions
		}
		fmt.Fprintf(&b, "Completed redemptions this month: %d\nTotal paid out: %s\n", count, money(d.MonthlyAmount))

	default:
		return "", "", false
	}

	return subject, b.String(), true
}

// inAppSubtype тип in-app уведомления: liquidity_submitted, liquidity_approved ...
func inAppSubtype(eventType string) string {
	return domain.InAppTypePrefix + strings.TrimPrefix(eventType, "redemption_")
}

// BuildInApp собирает запись уведомления в кабинете инвестора
func BuildInApp(event domain.NotificationEvent) *domain.InAppNotification {
	d := event.Data

	var title, message string
	switch event.Type {
	case domain.EventRedemptionSubmitted:
		title = "Redemption request submitted"
		message = fmt.Sprintf("Request %s for %s tokens of %s was submitted. Net payout %s.", d.RequestNumber, quantity(d), property(d), money(d.NetPayout))
	case domain.EventRedemptionApproved:
		title = "Redemption request approved"
		message = fmt.Sprintf("Request %s was approved.", d.RequestNumber)
	case domain.EventRedemptionDenied:
		title = "Redemption request denied"
		message = fmt.Sprintf("Request %s was denied.", d.RequestNumber)
		if d.DenialReason != "" {
			message += " Reason: " + d.DenialReason
		}
	case domain.EventRedemptionProcessing:
		title = "Redemption payout in progress"
		message = fmt.Sprintf("Payout of %s for request %s is being processed.", money(d.NetPayout), d.RequestNumber)
	case domain.EventRedemptionCompleted:
		title = "Redemption payout completed"
		message = fmt.Sprintf("Payout of %s for request %s was sent.", money(d.NetPayout), d.RequestNumber)
	case domain.EventRedemptionCancelled:
		title = "Redemption request cancelled"
		message = fmt.Sprintf("Request %s was cancelled.", d.RequestNumber)
	default:
		return nil
	}

	data, _ := json.Marshal(map[string]string{
		"request_id":     d.RequestID,
		"request_number": d.RequestNumber,
		"offering_id":    d.OfferingID,
		"status":         d.Status,
		"net_payout":     amount(d.NetPayout),
	})

	return &domain.InAppNotification{
		ID:        uuid.NewString(),
		UserID:    d.InvestorID,
		Type:      inAppSubtype(event.Type),
		Title:     title,
		Message:   message,
		Data:      string(data),
		CreatedAt: event.OccurredAt,
	}
}
