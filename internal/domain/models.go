package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeTier описывает диапазон срока владения и комиссию за выкуп
type FeeTier struct {
	MinMonths  int             `json:"min_months"`
	MaxMonths  *int            `json:"max_months"` // nil - верхний неограниченный диапазон
	FeePercent decimal.Decimal `json:"fee_percent"`
}

// Contains проверяет попадает ли срок владения в диапазон
func (t FeeTier) Contains(months int) bool {
	if months < t.MinMonths {
		return false
	}
	return t.MaxMonths == nil || months < *t.MaxMonths
}

// Payout разбивка выплаты по заявке
type Payout struct {
	GrossValue  decimal.Decimal `json:"gross_value"`
	FeeAmount   decimal.Decimal `json:"fee_amount"`
	NetPayout   decimal.Decimal `json:"net_payout"`
	TierApplied FeeTier         `json:"tier_applied"`
}

// RedemptionRequest представляет заявку на гарантированный выкуп токенов
type RedemptionRequest struct {
	ID              string          `db:"id" json:"id"`
	RequestNumber   string          `db:"request_number" json:"request_number"`
	OfferingID      string          `db:"offering_id" json:"offering_id"`
	InvestorID      string          `db:"investor_id" json:"investor_id"`
	InvestorEmail   string          `db:"investor_email" json:"-"`
	PropertyName    string          `db:"property_name" json:"property_name,omitempty"`
	Quantity        decimal.Decimal `db:"quantity" json:"quantity"`
	TokenPrice      decimal.Decimal `db:"token_price" json:"token_price"`
	HoldingMonths   int             `db:"holding_months" json:"holding_months"`
	GrossValue      decimal.Decimal `db:"gross_value" json:"gross_value"`
	FeePercent      decimal.Decimal `db:"fee_percent" json:"fee_percent"`
	FeeAmount       decimal.Decimal `db:"fee_amount" json:"fee_amount"`
	NetPayout       decimal.Decimal `db:"net_payout" json:"net_payout"`
	Status          string          `db:"status" json:"status"`
	ReservationID   string          `db:"reservation_id" json:"reservation_id"`
	PayoutReference string          `db:"payout_reference" json:"payout_reference,omitempty"`
	DenialReason    string          `db:"denial_reason" json:"denial_reason,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	ApprovedAt      *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	DeniedAt        *time.Time      `db:"denied_at" json:"denied_at,omitempty"`
	ProcessingAt    *time.Time      `db:"processing_at" json:"processing_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt     *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// Transition описывает смену статуса заявки (compare-and-set)
type Transition struct {
	From            []string
	To              string
	At              time.Time
	PayoutReference string
	DenialReason    string
}

// RedemptionFilter фильтр списка заявок
type RedemptionFilter struct {
	OfferingID string
	InvestorID string
	Status     string
	Limit      int
}

// ReserveAccount резерв оферты для гарантированного выкупа
type ReserveAccount struct {
	OfferingID      string          `db:"offering_id" json:"offering_id"`
	Balance         decimal.Decimal `db:"balance" json:"balance"`
	Target          decimal.Decimal `db:"target" json:"target"`
	PendingReserved decimal.Decimal `db:"pending_reserved" json:"pending_reserved"`
	LowBalance      bool            `db:"low_balance" json:"low_balance"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Headroom свободный остаток резерва
func (a ReserveAccount) Headroom() decimal.Decimal {
	return a.Balance.Sub(a.PendingReserved)
}

// Ratio отношение баланса к целевому значению
func (a ReserveAccount) Ratio() decimal.Decimal {
	if !a.Target.IsPositive() {
		return decimal.Zero
	}
	return a.Balance.DivRound(a.Target, 4)
}

// Reservation резервирование суммы выплаты под заявку
type Reservation struct {
	ID         string          `db:"id" json:"id"`
	OfferingID string          `db:"offering_id" json:"offering_id"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Status     string          `db:"status" json:"status"` // "active", "released", "settled"
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// ReserveSnapshot состояние резерва на момент срабатывания алерта
type ReserveSnapshot struct {
	OfferingID      string          `json:"offering_id"`
	Balance         decimal.Decimal `json:"balance"`
	Target          decimal.Decimal `json:"target"`
	PendingReserved decimal.Decimal `json:"pending_reserved"`
	Ratio           decimal.Decimal `json:"ratio"`
	TakenAt         time.Time       `json:"taken_at"`
}

// InAppNotification уведомление в личном кабинете инвестора
type InAppNotification struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Type       string    `db:"type" json:"type"`
	Title      string    `db:"title" json:"title"`
	Message    string    `db:"message" json:"message"`
	Data       string    `db:"data" json:"data"` // JSON
	IsRead     bool      `db:"is_read" json:"is_read"`
	IsArchived bool      `db:"is_archived" json:"is_archived"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditEntry запись журнала переходов заявки
type AuditEntry struct {
	ID         int64     `db:"id"`
	RequestID  string    `db:"request_id"`
	Action     string    `db:"action"`
	FromStatus string    `db:"from_status"`
	ToStatus   string    `db:"to_status"`
	Data       string    `db:"data"` // JSON
	CreatedAt  time.Time `db:"created_at"`
}

// MonthlyTotals итоги выкупов оферты за месяц
type MonthlyTotals struct {
	OfferingID  string          `json:"offering_id"`
	Month       time.Time       `json:"month"`
	Redemptions int             `json:"redemptions"`
	Amount      decimal.Decimal `json:"amount"`
}

// IntakePause событие остановки приема заявок
type IntakePause struct {
	ID        int64      `db:"id" json:"id"`
	Reason    string     `db:"reason" json:"reason"`
	PausedAt  time.Time  `db:"paused_at" json:"paused_at"`
	ResumedAt *time.Time `db:"resumed_at" json:"resumed_at,omitempty"`
}
