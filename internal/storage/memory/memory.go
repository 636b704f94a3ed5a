// Package memory хранит состояние движка выкупа в памяти процесса.
// Используется в тестах и при запуске без DATABASE.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/shopspring/decimal"
)

// Store реализует все репозитории домена на одной блокировке
type Store struct {
	mu sync.RWMutex

	requests      map[string]domain.RedemptionRequest
	numbers       map[string]string // request_number -> id
	reserves      map[string]domain.ReserveAccount
	reservations  map[string]domain.Reservation
	sequences     map[string]int64
	notifications []domain.InAppNotification
	audit         []domain.AuditEntry
	auditSeq      int64
	pauses        []domain.IntakePause

	now func() time.Time
}

// New создает пустое хранилище
func New() *Store {
	return &Store{
		requests:     make(map[string]domain.RedemptionRequest),
		numbers:      make(map[string]string),
		reserves:     make(map[string]domain.ReserveAccount),
		reservations: make(map[string]domain.Reservation),
		sequences:    make(map[string]int64),
		now:          time.Now,
	}
}

// Redemptions репозиторий заявок
func (s *Store) Redemptions() domain.RedemptionRepository { return (*redemptions)(s) }

// Reserves репозиторий резервов
func (s *Store) Reserves() domain.ReserveRepository { return (*reserves)(s) }

// Sequences репозиторий счетчиков
func (s *Store) Sequences() domain.SequenceRepository { return (*sequences)(s) }

// Notifications репозиторий in-app уведомлений
func (s *Store) Notifications() domain.NotificationRepository { return (*notifications)(s) }

// Audit журнал переходов
func (s *Store) Audit() domain.AuditRepository { return (*audit)(s) }

// Intake история остановок приема
func (s *Store) Intake() domain.IntakeRepository { return (*intake)(s) }

// InAppNotifications возвращает копию сохраненных уведомлений
func (s *Store) InAppNotifications() []domain.InAppNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InAppNotification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// RequestCount количество сохраненных заявок
func (s *Store) RequestCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

// ==================== REDEMPTIONS ====================

type redemptions Store

func (r *redemptions) Create(_ context.Context, req *domain.RedemptionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.numbers[req.RequestNumber]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRequestNumber, req.RequestNumber)
	}
	if _, ok := r.requests[req.ID]; ok {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	r.requests[req.ID] = *req
	r.numbers[req.RequestNumber] = req.ID
	return nil
}

func (r *redemptions) Get(_ context.Context, id string) (*domain.RedemptionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("redemption %s: %w", id, domain.ErrNotFound)
	}
	return &req, nil
}

func (r *redemptions) GetByNumber(ctx context.Context, number string) (*domain.RedemptionRequest, error) {
	r.mu.RLock()
	id, ok := r.numbers[number]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("redemption %s: %w", number, domain.ErrNotFound)
	}
	return r.Get(ctx, id)
}

func (r *redemptions) List(_ context.Context, filter domain.RedemptionFilter) ([]domain.RedemptionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.RedemptionRequest
	for _, req := range r.requests {
		if filter.OfferingID != "" && req.OfferingID != filter.OfferingID {
			continue
		}
		if filter.InvestorID != "" && req.InvestorID != filter.InvestorID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, req)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestNumber > out[j].RequestNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *redemptions) Transition(_ context.Context, id string, t domain.Transition) (*domain.RedemptionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("redemption %s: %w", id, domain.ErrNotFound)
	}

	allowed := false
	for _, from := range t.From {
		if req.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, req.Status, t.To)
	}

	at := t.At
	req.Status = t.To
	switch t.To {
	case domain.StatusApproved:
		req.ApprovedAt = &at
	case domain.StatusDenied:
		req.DeniedAt = &at
		req.DenialReason = t.DenialReason
	case domain.StatusProcessing:
		req.ProcessingAt = &at
	case domain.StatusCompleted:
		req.CompletedAt = &at
		req.PayoutReference = t.PayoutReference
	case domain.StatusCancelled:
		req.CancelledAt = &at
	}
	r.requests[id] = req
	return &req, nil
}

func (r *redemptions) CountPending(_ context.Context, offeringID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, req := range r.requests {
		if req.OfferingID != offeringID {
			continue
		}
		switch req.Status {
		case domain.StatusSubmitted, domain.StatusApproved, domain.StatusProcessing:
			n++
		}
	}
	return n, nil
}

func (r *redemptions) MonthlyTotals(_ context.Context, offeringID string, from, to time.Time) (*domain.MonthlyTotals, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := &domain.MonthlyTotals{OfferingID: offeringID, Month: from, Amount: decimal.Zero}
	for _, req := range r.requests {
		if req.OfferingID != offeringID || req.Status != domain.StatusCompleted || req.CompletedAt == nil {
			continue
		}
		if req.CompletedAt.Before(from) || !req.CompletedAt.Before(to) {
			continue
		}
		totals.Redemptions++
		totals.Amount = totals.Amount.Add(req.NetPayout)
	}
	return totals, nil
}

// ==================== SEQUENCES ====================

type sequences Store

func (q *sequences) Next(_ context.Context, scope string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sequences[scope]++
	return q.sequences[scope], nil
}

// ==================== RESERVES ====================

type reserves Store

func (r *reserves) Get(_ context.Context, offeringID string) (*domain.ReserveAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.reserves[offeringID]
	if !ok {
		return nil, fmt.Errorf("reserve %s: %w", offeringID, domain.ErrNotFound)
	}
	return &acct, nil
}

func (r *reserves) Open(_ context.Context, offeringID string, balance, target decimal.Decimal) (*domain.ReserveAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.reserves[offeringID]
	if !ok {
		acct = domain.ReserveAccount{
			OfferingID:      offeringID,
			Balance:         balance,
			PendingReserved: decimal.Zero,
		}
	}
	acct.Target = target
	acct.UpdatedAt = r.now()
	r.reserves[offeringID] = acct
	return &acct, nil
}

func (r *reserves) Deposit(_ context.Context, offeringID string, amount decimal.Decimal) (*domain.ReserveAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.reserves[offeringID]
	if !ok {
		return nil, fmt.Errorf("reserve %s: %w", offeringID, domain.ErrNotFound)
	}
	acct.Balance = acct.Balance.Add(amount)
	acct.UpdatedAt = r.now()
	r.reserves[offeringID] = acct
	return &acct, nil
}

func (r *reserves) Reserve(_ context.Context, res *domain.Reservation) (*domain.ReserveAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.reserves[res.OfferingID]
	if !ok {
		return nil, fmt.Errorf("reserve %s: %w", res.OfferingID, domain.ErrNotFound)
	}
	if acct.Headroom().LessThan(res.Amount) {
		return nil, fmt.Errorf("%w: requested %s, headroom %s",
			domain.ErrInsufficientReserve, res.Amount.StringFixed(2), acct.Headroom().StringFixed(2))
	}

	acct.PendingReserved = acct.PendingReserved.Add(res.Amount)
	acct.UpdatedAt = r.now()
	r.reserves[res.OfferingID] = acct
	r.reservations[res.ID] = *res
	return &acct, nil
}

func (r *reserves) Release(_ context.Context, reservationID string) (*domain.ReserveAccount, error) {
	return r.close(reservationID, domain.ReservationReleased)
}

func (r *reserves) Settle(_ context.Context, reservationID string) (*domain.ReserveAccount, error) {
	return r.close(reservationID, domain.ReservationSettled)
}

// close переводит активную резервацию в released или settled.
// Повтор той же операции ничего не меняет.
func (r *reserves) close(reservationID, status string) (*domain.ReserveAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, domain.ErrNotFound)
	}
	acct := r.reserves[res.OfferingID]

	switch res.Status {
	case status:
		return &acct, nil
	case domain.ReservationActive:
	default:
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrReservationClosed, reservationID, res.Status)
	}

	acct.PendingReserved = acct.PendingReserved.Sub(res.Amount)
	if status == domain.ReservationSettled {
		acct.Balance = acct.Balance.Sub(res.Amount)
	}
	acct.UpdatedAt = r.now()
	res.Status = status
	res.UpdatedAt = acct.UpdatedAt

	r.reserves[res.OfferingID] = acct
	r.reservations[reservationID] = res
	return &acct, nil
}

func (r *reserves) GetReservation(_ context.Context, reservationID string) (*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, domain.ErrNotFound)
	}
	return &res, nil
}

func (r *reserves) SetLowBalance(_ context.Context, offeringID string, low bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.reserves[offeringID]
	if !ok {
		return false, fmt.Errorf("reserve %s: %w", offeringID, domain.ErrNotFound)
	}
	if acct.LowBalance == low {
		return false, nil
	}
	acct.LowBalance = low
	r.reserves[offeringID] = acct
	return true, nil
}

// ==================== NOTIFICATIONS ====================

type notifications Store

func (n *notifications) Insert(_ context.Context, item *domain.InAppNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, *item)
	return nil
}

// ==================== AUDIT ====================

type audit Store

func (a *audit) Save(_ context.Context, entry *domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.auditSeq++
	entry.ID = a.auditSeq
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now()
	}
	a.audit = append(a.audit, *entry)
	return nil
}

func (a *audit) ListByRequest(_ context.Context, requestID string) ([]domain.AuditEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []domain.AuditEntry
	for _, e := range a.audit {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ==================== INTAKE ====================

type intake Store

func (i *intake) SavePause(_ context.Context, p *domain.IntakePause) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	p.ID = int64(len(i.pauses) + 1)
	i.pauses = append(i.pauses, *p)
	return nil
}

func (i *intake) Resume(_ context.Context, at time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for k := range i.pauses {
		if i.pauses[k].ResumedAt == nil {
			resumed := at
			i.pauses[k].ResumedAt = &resumed
		}
	}
	return nil
}

func (i *intake) Active(_ context.Context) (*domain.IntakePause, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for k := len(i.pauses) - 1; k >= 0; k-- {
		if i.pauses[k].ResumedAt == nil {
			p := i.pauses[k]
			return &p, nil
		}
	}
	return nil, nil
}
