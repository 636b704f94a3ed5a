// Package redemption реализует жизненный цикл заявки на гарантированный выкуп:
// подача, рассмотрение, обработка выплаты и отмена.
package redemption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/fees"
	"github.com/kirillm/liquidity/internal/ledger"
	"github.com/kirillm/liquidity/internal/metrics"
	"github.com/kirillm/liquidity/pkg/utils"
	"github.com/shopspring/decimal"
)

// PayoutCalculator считает разбивку выплаты
type PayoutCalculator interface {
	ComputePayout(quantity, tokenPrice decimal.Decimal, holdingMonths int) (domain.Payout, error)
}

// ReserveLedger операции над резервом, которые нужны заявкам
type ReserveLedger interface {
	Authorize(ctx context.Context, offeringID string, amount decimal.Decimal) (string, error)
	Release(ctx context.Context, reservationID string) error
	Settle(ctx context.Context, reservationID string) error
	QueryHealth(ctx context.Context, offeringID string) (*ledger.Health, error)
}

// Dispatcher рассылает события по каналам
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.NotificationEvent) domain.DeliveryReport
}

// Recipients разрешает администраторов оферты
type Recipients interface {
	AdminEmails(offeringID string) []string
}

// допустимые исходные статусы для каждого целевого
var sources = map[string][]string{
	domain.StatusApproved:   {domain.StatusSubmitted},
	domain.StatusDenied:     {domain.StatusSubmitted},
	domain.StatusCancelled:  {domain.StatusSubmitted, domain.StatusApproved},
	domain.StatusProcessing: {domain.StatusApproved},
	domain.StatusCompleted:  {domain.StatusProcessing},
}

var lifecycleEvents = map[string]string{
	domain.StatusApproved:   domain.EventRedemptionApproved,
	domain.StatusDenied:     domain.EventRedemptionDenied,
	domain.StatusCancelled:  domain.EventRedemptionCancelled,
	domain.StatusProcessing: domain.EventRedemptionProcessing,
	domain.StatusCompleted:  domain.EventRedemptionCompleted,
}

var auditActions = map[string]string{
	domain.StatusApproved:   domain.AuditApprove,
	domain.StatusDenied:     domain.AuditDeny,
	domain.StatusCancelled:  domain.AuditCancel,
	domain.StatusProcessing: domain.AuditBeginProcessing,
	domain.StatusCompleted:  domain.AuditComplete,
}

// CanTransition проверяет разрешен ли переход
func CanTransition(from, to string) bool {
	for _, s := range sources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// SubmitInput данные новой заявки
type SubmitInput struct {
	OfferingID    string          `json:"offering_id"`
	InvestorID    string          `json:"investor_id"`
	InvestorEmail string          `json:"investor_email"`
	PropertyName  string          `json:"property_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	TokenPrice    decimal.Decimal `json:"token_price"`
	HoldingMonths *int            `json:"holding_months,omitempty"`
	AcquiredAt    *time.Time      `json:"acquired_at,omitempty"`
}

// PreviewResult расчет выплаты без создания заявки
type PreviewResult struct {
	domain.Payout
	HoldingMonths int             `json:"holding_months"`
	Headroom      decimal.Decimal `json:"headroom"`
	Covered       bool            `json:"covered"`
}

// Deps зависимости сервиса
type Deps struct {
	Schedule   PayoutCalculator
	Ledger     ReserveLedger
	Requests   domain.RedemptionRepository
	Sequences  domain.SequenceRepository
	Audit      domain.AuditRepository
	Intake     *IntakeSwitch
	Dispatcher Dispatcher
	Recipients Recipients
	Logger     *utils.Logger
	Prefix     string
	Clock      func() time.Time
}

// Service управляет заявками на выкуп
type Service struct {
	schedule   PayoutCalculator
	ledger     ReserveLedger
	repo       domain.RedemptionRepository
	audit      domain.AuditRepository
	numbers    *Numberer
	intake     *IntakeSwitch
	dispatcher Dispatcher
	recipients Recipients
	logger     *utils.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*requestLock
}

type requestLock struct {
	sync.Mutex
	refs int
}

// NewService создает сервис заявок
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = utils.Discard()
	}
	if d.Intake == nil {
		d.Intake = NewIntakeSwitch(nil, d.Logger)
	}
	return &Service{
		schedule:   d.Schedule,
		ledger:     d.Ledger,
		repo:       d.Requests,
		audit:      d.Audit,
		numbers:    NewNumberer(d.Prefix, d.Sequences, d.Requests),
		intake:     d.Intake,
		dispatcher: d.Dispatcher,
		recipients: d.Recipients,
		logger:     d.Logger.With("redemption"),
		now:        d.Clock,
		locks:      make(map[string]*requestLock),
	}
}

// Intake переключатель приема заявок
func (s *Service) Intake() *IntakeSwitch {
	return s.intake
}

// lockRequest сериализует переходы одной заявки внутри процесса
func (s *Service) lockRequest(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &requestLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *Service) holdingMonths(in SubmitInput) (int, error) {
	switch {
	case in.HoldingMonths != nil:
		return *in.HoldingMonths, nil
	case in.AcquiredAt != nil:
		return fees.HoldingMonths(*in.AcquiredAt, s.now()), nil
	default:
		return 0, fmt.Errorf("%w: holding_months or acquired_at is required", domain.ErrInvalidInput)
	}
}

// Preview считает выплату и проверяет хватает ли резерва, ничего не резервируя
func (s *Service) Preview(ctx context.Context, in SubmitInput) (*PreviewResult, error) {
	months, err := s.holdingMonths(in)
	if err != nil {
		return nil, err
	}
	payout, err := s.schedule.ComputePayout(in.Quantity, in.TokenPrice, months)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{Payout: payout, HoldingMonths: months, Headroom: decimal.Zero}
	if in.OfferingID == "" {
		return result, nil
	}
	health, err := s.ledger.QueryHealth(ctx, in.OfferingID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if health != nil {
		result.Headroom = health.Headroom
		result.Covered = !health.Headroom.LessThan(payout.NetPayout)
	}
	return result, nil
}

// Submit создает заявку, резервируя чистую выплату в резерве оферты.
// При нехватке резерва заявка не создается и запись в журнал не пишется.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*domain.RedemptionRequest, error) {
	if s.intake.IsPaused() {
		metrics.Transitions.WithLabelValues(domain.StatusSubmitted, "paused").Inc()
		return nil, domain.ErrIntakePaused
	}

	in.OfferingID = strings.TrimSpace(in.OfferingID)
	in.InvestorID = strings.TrimSpace(in.InvestorID)
	if in.OfferingID == "" || in.InvestorID == "" {
		return nil, fmt.Errorf("%w: offering_id and investor_id are required", domain.ErrInvalidInput)
	}

	months, err := s.holdingMonths(in)
	if err != nil {
		return nil, err
	}
	payout, err := s.schedule.ComputePayout(in.Quantity, in.TokenPrice, months)
	if err != nil {
		return nil, err
	}

	reservationID, err := s.ledger.Authorize(ctx, in.OfferingID, payout.NetPayout)
	if err != nil {
		metrics.Transitions.WithLabelValues(domain.StatusSubmitted, "rejected").Inc()
		if errors.Is(err, domain.ErrInsufficientReserve) {
			s.logger.Warn("Submission on %s rejected: %v", in.OfferingID, err)
		}
		return nil, err
	}

	now := s.now().UTC()
	req := &domain.RedemptionRequest{
		ID:            uuid.NewString(),
		OfferingID:    in.OfferingID,
		InvestorID:    in.InvestorID,
		InvestorEmail: strings.TrimSpace(in.InvestorEmail),
		PropertyName:  in.PropertyName,
		Quantity:      in.Quantity,
		TokenPrice:    in.TokenPrice,
		HoldingMonths: months,
		GrossValue:    payout.GrossValue,
		FeePercent:    payout.TierApplied.FeePercent,
		FeeAmount:     payout.FeeAmount,
		NetPayout:     payout.NetPayout,
		Status:        domain.StatusSubmitted,
		ReservationID: reservationID,
		CreatedAt:     now,
	}

	if err := s.create(ctx, req); err != nil {
		if relErr := s.ledger.Release(context.WithoutCancel(ctx), reservationID); relErr != nil {
			s.logger.Error("Failed to release reservation %s after create error: %v", reservationID, relErr)
		}
		metrics.Transitions.WithLabelValues(domain.StatusSubmitted, "error").Inc()
		return nil, fmt.Errorf("create redemption: %w", err)
	}

	metrics.Transitions.WithLabelValues(domain.StatusSubmitted, "ok").Inc()
	s.logger.Info("Redemption %s submitted on %s: net %s", req.RequestNumber, req.OfferingID, req.NetPayout.StringFixed(2))
	s.record(ctx, req, domain.AuditSubmit, "")

	dctx := context.WithoutCancel(ctx)
	s.dispatch(dctx, domain.NewEvent(domain.EventRedemptionSubmitted, s.eventData(req), now,
		req.ID, req.Status))
	s.dispatch(dctx, s.adminNewRequest(dctx, req, now))

	return req, nil
}

// create присваивает номер и сохраняет заявку; коллизию номера
// с другим процессом переживает повторной выдачей номера
func (s *Service) create(ctx context.Context, req *domain.RedemptionRequest) error {
	var err error
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		req.RequestNumber, err = s.numbers.Next(ctx, req.CreatedAt)
		if err != nil {
			return err
		}
		err = s.repo.Create(ctx, req)
		if !errors.Is(err, domain.ErrDuplicateRequestNumber) {
			return err
		}
		s.logger.Warn("Request number %s collided, retrying", req.RequestNumber)
	}
	return err
}

// Approve одобряет поданную заявку; резерв не меняется
func (s *Service) Approve(ctx context.Context, id string) (*domain.RedemptionRequest, error) {
	return s.move(ctx, id, domain.Transition{To: domain.StatusApproved})
}

// Deny отклоняет поданную заявку и освобождает резервирование
func (s *Service) Deny(ctx context.Context, id, reason string) (*domain.RedemptionRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: denial reason is required", domain.ErrInvalidInput)
	}
	return s.move(ctx, id, domain.Transition{To: domain.StatusDenied, DenialReason: reason})
}

// BeginProcessing отмечает начало выплаты по одобренной заявке
func (s *Service) BeginProcessing(ctx context.Context, id string) (*domain.RedemptionRequest, error) {
	return s.move(ctx, id, domain.Transition{To: domain.StatusProcessing})
}

// Complete завершает выплату и списывает резервирование с баланса
func (s *Service) Complete(ctx context.Context, id, payoutReference string) (*domain.RedemptionRequest, error) {
	payoutReference = strings.TrimSpace(payoutReference)
	if payoutReference == "" {
		return nil, fmt.Errorf("%w: payout reference is required", domain.ErrInvalidInput)
	}
	return s.move(ctx, id, domain.Transition{To: domain.StatusCompleted, PayoutReference: payoutReference})
}

// Cancel отменяет заявку до начала выплаты и освобождает резервирование
func (s *Service) Cancel(ctx context.Context, id string) (*domain.RedemptionRequest, error) {
	return s.move(ctx, id, domain.Transition{To: domain.StatusCancelled})
}

// move выполняет переход: проверка, операция с резервом, compare-and-set статуса,
// журнал и рассылка. Операция с резервом идет первой: при ее ошибке статус
// не меняется и переход можно повторить, Release и Settle идемпотентны.
func (s *Service) move(ctx context.Context, id string, t domain.Transition) (*domain.RedemptionRequest, error) {
	unlock := s.lockRequest(id)
	defer unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, t.To) {
		metrics.Transitions.WithLabelValues(t.To, "rejected").Inc()
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, t.To)
	}

	if err := s.applyLedger(ctx, current, t.To); err != nil {
		metrics.Transitions.WithLabelValues(t.To, "error").Inc()
		return nil, err
	}

	t.From = sources[t.To]
	t.At = s.now().UTC()
	updated, err := s.repo.Transition(context.WithoutCancel(ctx), id, t)
	if err != nil {
		metrics.Transitions.WithLabelValues(t.To, "rejected").Inc()
		if ledgerOp(t.To) != "" {
			s.logger.Error("Redemption %s: reservation %s already %sd but status stayed %s: %v",
				current.RequestNumber, current.ReservationID, ledgerOp(t.To), current.Status, err)
		}
		return nil, err
	}
	metrics.Transitions.WithLabelValues(t.To, "ok").Inc()
	s.logger.Info("Redemption %s: %s -> %s", updated.RequestNumber, current.Status, updated.Status)

	s.record(ctx, updated, auditActions[t.To], current.Status)
	s.dispatch(context.WithoutCancel(ctx), domain.NewEvent(lifecycleEvents[t.To], s.eventData(updated), t.At,
		updated.ID, updated.Status))

	return updated, nil
}

// ledgerOp операция с резервом для целевого статуса
func ledgerOp(to string) string {
	switch to {
	case domain.StatusDenied, domain.StatusCancelled:
		return "release"
	case domain.StatusCompleted:
		return "settle"
	}
	return ""
}

func (s *Service) applyLedger(ctx context.Context, req *domain.RedemptionRequest, to string) error {
	var err error
	switch ledgerOp(to) {
	case "release":
		err = s.ledger.Release(ctx, req.ReservationID)
	case "settle":
		err = s.ledger.Settle(ctx, req.ReservationID)
	default:
		return nil
	}
	if err != nil {
		s.logger.Error("Ledger %s for %s failed, status stays %s: %v", ledgerOp(to), req.RequestNumber, req.Status, err)
		return fmt.Errorf("ledger %s for %s: %w", ledgerOp(to), req.RequestNumber, err)
	}
	return nil
}

// Get возвращает заявку по ID
func (s *Service) Get(ctx context.Context, id string) (*domain.RedemptionRequest, error) {
	return s.repo.Get(ctx, id)
}

// List возвращает заявки по фильтру
func (s *Service) List(ctx context.Context, filter domain.RedemptionFilter) ([]domain.RedemptionRequest, error) {
	if filter.Status != "" {
		if _, ok := sources[filter.Status]; !ok && filter.Status != domain.StatusSubmitted {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, filter.Status)
		}
	}
	return s.repo.List(ctx, filter)
}

// History журнал переходов заявки
func (s *Service) History(ctx context.Context, id string) ([]domain.AuditEntry, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListByRequest(ctx, id)
}

// MonthlyReport считает завершенные выкупы оферты за календарный месяц
// и отправляет отчет спонсору
func (s *Service) MonthlyReport(ctx context.Context, offeringID string, month time.Time, sponsorEmail string) (*domain.MonthlyTotals, domain.DeliveryReport, error) {
	if strings.TrimSpace(offeringID) == "" {
		return nil, domain.DeliveryReport{}, fmt.Errorf("%w: offering id is required", domain.ErrInvalidInput)
	}
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	totals, err := s.repo.MonthlyTotals(ctx, offeringID, from, to)
	if err != nil {
		return nil, domain.DeliveryReport{}, err
	}

	amount := totals.Amount
	count := totals.Redemptions
	event := domain.NewEvent(domain.EventSponsorMonthlyReport, domain.EventData{
		OfferingID:         offeringID,
		SponsorEmail:       strings.TrimSpace(sponsorEmail),
		MonthlyRedemptions: &count,
		MonthlyAmount:      &amount,
	}, s.now(), offeringID, from.Format("2006-01"))

	report := s.dispatch(context.WithoutCancel(ctx), event)
	return totals, report, nil
}

func (s *Service) adminNewRequest(ctx context.Context, req *domain.RedemptionRequest, at time.Time) domain.NotificationEvent {
	data := s.eventData(req)
	data.InvestorEmail = ""
	if s.recipients != nil {
		data.AdminEmails = s.recipients.AdminEmails(req.OfferingID)
	}
	if health, err := s.ledger.QueryHealth(ctx, req.OfferingID); err == nil {
		data.ReserveBalance = &health.Balance
		data.ReserveTarget = &health.Target
	}
	if n, err := s.repo.CountPending(ctx, req.OfferingID); err == nil {
		data.PendingRequestsCount = &n
	}
	return domain.NewEvent(domain.EventAdminNewRequest, data, at, req.ID, req.Status)
}

func (s *Service) eventData(req *domain.RedemptionRequest) domain.EventData {
	quantity, gross, fee, net := req.Quantity, req.GrossValue, req.FeeAmount, req.NetPayout
	return domain.EventData{
		RequestID:       req.ID,
		RequestNumber:   req.RequestNumber,
		InvestorID:      req.InvestorID,
		InvestorEmail:   req.InvestorEmail,
		OfferingID:      req.OfferingID,
		PropertyName:    req.PropertyName,
		Quantity:        &quantity,
		GrossValue:      &gross,
		FeeAmount:       &fee,
		NetPayout:       &net,
		Status:          req.Status,
		DenialReason:    req.DenialReason,
		PayoutReference: req.PayoutReference,
	}
}

func (s *Service) dispatch(ctx context.Context, event domain.NotificationEvent) domain.DeliveryReport {
	if s.dispatcher == nil {
		return domain.DeliveryReport{EventID: event.ID, EventType: event.Type, IdempotencyKey: event.IdempotencyKey}
	}
	return s.dispatcher.Dispatch(ctx, event)
}

// record пишет переход в журнал; ошибка журнала не отменяет переход
func (s *Service) record(ctx context.Context, req *domain.RedemptionRequest, action, from string) {
	if s.audit == nil {
		return
	}

	payload := map[string]string{
		"request_number": req.RequestNumber,
		"net_payout":     req.NetPayout.StringFixed(2),
	}
	if req.DenialReason != "" {
		payload["denial_reason"] = req.DenialReason
	}
	if req.PayoutReference != "" {
		payload["payout_reference"] = req.PayoutReference
	}
	data, _ := json.Marshal(payload)

	entry := &domain.AuditEntry{
		RequestID:  req.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   req.Status,
		Data:       string(data),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.audit.Save(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("Failed to save audit entry for %s: %v", req.RequestNumber, err)
	}
}
