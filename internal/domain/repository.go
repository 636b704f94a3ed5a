package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RedemptionRepository определяет интерфейс для работы с заявками на выкуп
type RedemptionRepository interface {
	Create(ctx context.Context, req *RedemptionRequest) error
	Get(ctx context.Context, id string) (*RedemptionRequest, error)
	GetByNumber(ctx context.Context, number string) (*RedemptionRequest, error)
	List(ctx context.Context, filter RedemptionFilter) ([]RedemptionRequest, error)
	// Transition атомарно меняет статус если текущий входит в t.From, иначе ErrInvalidTransition
	Transition(ctx context.Context, id string, t Transition) (*RedemptionRequest, error)
	CountPending(ctx context.Context, offeringID string) (int, error)
	MonthlyTotals(ctx context.Context, offeringID string, from, to time.Time) (*MonthlyTotals, error)
}

// SequenceRepository определяет интерфейс персистентных счетчиков
type SequenceRepository interface {
	Next(ctx context.Context, scope string) (int64, error)
}

// ReserveRepository определяет интерфейс для работы с резервами оферт
type ReserveRepository interface {
	Get(ctx context.Context, offeringID string) (*ReserveAccount, error)
	Open(ctx context.Context, offeringID string, balance, target decimal.Decimal) (*ReserveAccount, error)
	Deposit(ctx context.Context, offeringID string, amount decimal.Decimal) (*ReserveAccount, error)
	// Reserve атомарно резервирует сумму, если хватает свободного остатка, иначе ErrInsufficientReserve
	Reserve(ctx context.Context, reservation *Reservation) (*ReserveAccount, error)
	Release(ctx context.Context, reservationID string) (*ReserveAccount, error)
	Settle(ctx context.Context, reservationID string) (*ReserveAccount, error)
	GetReservation(ctx context.Context, reservationID string) (*Reservation, error)
	// SetLowBalance меняет флаг и сообщает, изменился ли он
	SetLowBalance(ctx context.Context, offeringID string, low bool) (bool, error)
}

// NotificationRepository определяет интерфейс для in-app уведомлений
type NotificationRepository interface {
	Insert(ctx context.Context, n *InAppNotification) error
}

// AuditRepository определяет интерфейс журнала переходов
type AuditRepository interface {
	Save(ctx context.Context, entry *AuditEntry) error
	ListByRequest(ctx context.Context, requestID string) ([]AuditEntry, error)
}

// IntakeRepository определяет интерфейс истории остановок приема заявок
type IntakeRepository interface {
	SavePause(ctx context.Context, p *IntakePause) error
	Resume(ctx context.Context, at time.Time) error
	// Active возвращает действующую остановку или nil
	Active(ctx context.Context) (*IntakePause, error)
}
