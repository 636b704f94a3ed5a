package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/metrics"
	"github.com/kirillm/liquidity/pkg/utils"
	"github.com/shopspring/decimal"
)

// DefaultLowBalanceRatio порог баланс/цель, ниже которого резерв считается низким
var DefaultLowBalanceRatio = decimal.RequireFromString("0.20")

// LowBalanceSignaler получает сигнал о пересечении порога вниз
type LowBalanceSignaler interface {
	RouteReserveWarning(ctx context.Context, offeringID string, snapshot domain.ReserveSnapshot) error
}

// Health состояние резерва оферты
type Health struct {
	OfferingID      string          `json:"offering_id"`
	Balance         decimal.Decimal `json:"balance"`
	Target          decimal.Decimal `json:"target"`
	PendingReserved decimal.Decimal `json:"pending_reserved"`
	Headroom        decimal.Decimal `json:"headroom"`
	Ratio           decimal.Decimal `json:"ratio"`
	LowBalance      bool            `json:"low_balance"`
}

// Ledger учет резервов оферт: резервирование, освобождение и списание выплат
type Ledger struct {
	store     domain.ReserveRepository
	signaler  LowBalanceSignaler
	logger    *utils.Logger
	threshold decimal.Decimal
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option настраивает Ledger
type Option func(*Ledger)

// WithThreshold переопределяет порог низкого баланса
func WithThreshold(ratio decimal.Decimal) Option {
	return func(l *Ledger) { l.threshold = ratio }
}

// WithClock подменяет часы, для тестов
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger создает новый ledger
func NewLedger(store domain.ReserveRepository, signaler LowBalanceSignaler, logger *utils.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		signaler:  signaler,
		logger:    logger.With("ledger"),
		threshold: DefaultLowBalanceRatio,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lockOffering сериализует операции одной оферты внутри процесса;
// между процессами атомарность обеспечивает условный UPDATE в хранилище
func (l *Ledger) lockOffering(offeringID string) func() {
	l.mu.Lock()
	m, ok := l.locks[offeringID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[offeringID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Open создает резерв оферты или обновляет его цель
func (l *Ledger) Open(ctx context.Context, offeringID string, balance, target decimal.Decimal) (*Health, error) {
	offeringID = strings.TrimSpace(offeringID)
	if offeringID == "" {
		return nil, fmt.Errorf("%w: offering id is required", domain.ErrInvalidInput)
	}
	balance, target = balance.Round(2), target.Round(2)
	if balance.IsNegative() {
		return nil, fmt.Errorf("%w: balance must not be negative", domain.ErrInvalidInput)
	}
	if !target.IsPositive() {
		return nil, fmt.Errorf("%w: target must be positive", domain.ErrInvalidInput)
	}

	unlock := l.lockOffering(offeringID)
	acct, err := l.store.Open(ctx, offeringID, balance, target)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("open reserve %s: %w", offeringID, err)
	}
	snap := l.evaluate(ctx, acct)
	unlock()

	l.signal(ctx, snap)
	return l.health(acct), nil
}

// Deposit пополняет резерв оферты
func (l *Ledger) Deposit(ctx context.Context, offeringID string, amount decimal.Decimal) (*Health, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit must be positive", domain.ErrInvalidInput)
	}

	unlock := l.lockOffering(offeringID)
	acct, err := l.store.Deposit(ctx, offeringID, amount)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("deposit to %s: %w", offeringID, err)
	}
	snap := l.evaluate(ctx, acct)
	unlock()

	l.logger.Info("Reserve %s topped up by %s, balance %s", offeringID, amount.StringFixed(2), acct.Balance.StringFixed(2))
	l.signal(ctx, snap)
	return l.health(acct), nil
}

// Authorize резервирует сумму под заявку, если хватает свободного остатка
func (l *Ledger) Authorize(ctx context.Context, offeringID string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}

	now := l.now().UTC()
	reservation := &domain.Reservation{
		ID:         uuid.NewString(),
		OfferingID: offeringID,
		Amount:     amount,
		Status:     domain.ReservationActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	unlock := l.lockOffering(offeringID)
	acct, err := l.store.Reserve(ctx, reservation)
	if err != nil {
		unlock()
		metrics.ReserveOperations.WithLabelValues("authorize", "rejected").Inc()
		return "", err
	}
	snap := l.evaluate(ctx, acct)
	unlock()

	metrics.ReserveOperations.WithLabelValues("authorize", "ok").Inc()
	l.logger.Debug("Reserved %s on %s (headroom %s)", amount.StringFixed(2), offeringID, acct.Headroom().StringFixed(2))
	l.signal(ctx, snap)
	return reservation.ID, nil
}

// Release возвращает зарезервированную сумму в свободный остаток
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	res, err := l.store.GetReservation(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("release %s: %w", reservationID, err)
	}

	unlock := l.lockOffering(res.OfferingID)
	defer unlock()

	if _, err := l.store.Release(ctx, reservationID); err != nil {
		metrics.ReserveOperations.WithLabelValues("release", "error").Inc()
		return fmt.Errorf("release %s: %w", reservationID, err)
	}
	metrics.ReserveOperations.WithLabelValues("release", "ok").Inc()
	return nil
}

// Settle окончательно списывает зарезервированную сумму с баланса
func (l *Ledger) Settle(ctx context.Context, reservationID string) error {
	res, err := l.store.GetReservation(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("settle %s: %w", reservationID, err)
	}

	unlock := l.lockOffering(res.OfferingID)
	acct, err := l.store.Settle(ctx, reservationID)
	if err != nil {
		unlock()
		metrics.ReserveOperations.WithLabelValues("settle", "error").Inc()
		return fmt.Errorf("settle %s: %w", reservationID, err)
	}
	snap := l.evaluate(ctx, acct)
	unlock()

	metrics.ReserveOperations.WithLabelValues("settle", "ok").Inc()
	l.signal(ctx, snap)
	return nil
}

// QueryHealth возвращает баланс, цель и отношение баланса к цели
func (l *Ledger) QueryHealth(ctx context.Context, offeringID string) (*Health, error) {
	acct, err := l.store.Get(ctx, offeringID)
	if err != nil {
		return nil, err
	}
	return l.health(acct), nil
}

func (l *Ledger) health(acct *domain.ReserveAccount) *Health {
	return &Health{
		OfferingID:      acct.OfferingID,
		Balance:         acct.Balance,
		Target:          acct.Target,
		PendingReserved: acct.PendingReserved,
		Headroom:        acct.Headroom(),
		Ratio:           acct.Ratio(),
		LowBalance:      l.isLow(acct),
	}
}

func (l *Ledger) isLow(acct *domain.ReserveAccount) bool {
	if !acct.Target.IsPositive() {
		return false
	}
	// сравнение без деления: balance < target * threshold
	return acct.Balance.LessThan(acct.Target.Mul(l.threshold))
}

// evaluate пересчитывает отношение и переключает флаг низкого баланса.
// Снимок возвращается только при переключении false -> true.
func (l *Ledger) evaluate(ctx context.Context, acct *domain.ReserveAccount) *domain.ReserveSnapshot {
	ratio, _ := acct.Ratio().Float64()
	metrics.ReserveRatio.WithLabelValues(acct.OfferingID).Set(ratio)

	low := l.isLow(acct)
	if low == acct.LowBalance {
		return nil
	}

	changed, err := l.store.SetLowBalance(ctx, acct.OfferingID, low)
	if err != nil {
		l.logger.Error("Failed to update low balance flag for %s: %v", acct.OfferingID, err)
		return nil
	}
	if !changed {
		return nil
	}

	if !low {
		l.logger.Info("Reserve %s recovered: ratio %s", acct.OfferingID, acct.Ratio().String())
		return nil
	}

	l.logger.Warn("Reserve %s dropped below threshold: ratio %s", acct.OfferingID, acct.Ratio().String())
	metrics.LowBalanceAlerts.WithLabelValues(acct.OfferingID).Inc()

	return &domain.ReserveSnapshot{
		OfferingID:      acct.OfferingID,
		Balance:         acct.Balance,
		Target:          acct.Target,
		PendingReserved: acct.PendingReserved,
		Ratio:           acct.Ratio(),
		TakenAt:         l.now().UTC(),
	}
}

// signal передает снимок получателю вне блокировки оферты
func (l *Ledger) signal(ctx context.Context, snap *domain.ReserveSnapshot) {
	if snap == nil || l.signaler == nil {
		return
	}
	if err := l.signaler.RouteReserveWarning(context.WithoutCancel(ctx), snap.OfferingID, *snap); err != nil {
		l.logger.Error("Failed to route reserve warning for %s: %v", snap.OfferingID, err)
	}
}
