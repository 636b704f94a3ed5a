package domain

// Redemption statuses
const (
	StatusSubmitted  = "submitted"
	StatusApproved   = "approved"
	StatusDenied     = "denied"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Reservation statuses
const (
	ReservationActive   = "active"
	ReservationReleased = "released"
	ReservationSettled  = "settled"
)

// Event types
const (
	EventRedemptionSubmitted  = "redemption_submitted"
	EventRedemptionApproved   = "redemption_approved"
	EventRedemptionDenied     = "redemption_denied"
	EventRedemptionProcessing = "redemption_processing"
	EventRedemptionCompleted  = "redemption_completed"
	EventRedemptionCancelled  = "redemption_cancelled"
	EventAdminNewRequest      = "admin_new_request"
	EventReserveLowWarning    = "reserve_low_warning"
	EventSponsorMonthlyReport = "sponsor_monthly_report"
)

// Delivery channels
const (
	ChannelEmail    = "email"
	ChannelInApp    = "in_app"
	ChannelWebhook  = "webhook"
	ChannelTelegram = "telegram"
	ChannelBus      = "bus"
)

// Delivery outcomes
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// Audit actions
const (
	AuditSubmit          = "SUBMIT"
	AuditApprove         = "APPROVE"
	AuditDeny            = "DENY"
	AuditBeginProcessing = "BEGIN_PROCESSING"
	AuditComplete        = "COMPLETE"
	AuditCancel          = "CANCEL"
)

// InAppTypePrefix префикс типа in-app уведомления
const InAppTypePrefix = "liquidity_"

// Log levels
const (
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
)
