package redemption

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/fees"
	"github.com/kirillm/liquidity/internal/ledger"
	"github.com/kirillm/liquidity/internal/storage/memory"
	"github.com/kirillm/liquidity/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event domain.NotificationEvent) domain.DeliveryReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return domain.DeliveryReport{EventID: event.ID, EventType: event.Type, IdempotencyKey: event.IdempotencyKey}
}

func (d *recordingDispatcher) types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

type staticRecipients []string

func (r staticRecipients) AdminEmails(string) []string { return r }

type fixture struct {
	svc        *Service
	store      *memory.Store
	ledger     *ledger.Ledger
	dispatcher *recordingDispatcher
}

var fixedNow = time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()

	schedule, err := fees.FromSpecs(fees.DefaultSpecs())
	require.NoError(t, err)

	store := memory.New()
	l := ledger.NewLedger(store.Reserves(), nil, utils.Discard())
	_, err = l.Open(context.Background(), "off-1", decimal.NewFromInt(balance), decimal.NewFromInt(100000))
	require.NoError(t, err)

	d := &recordingDispatcher{}
	svc := NewService(Deps{
		Schedule:   schedule,
		Ledger:     l,
		Requests:   store.Redemptions(),
		Sequences:  store.Sequences(),
		Audit:      store.Audit(),
		Intake:     NewIntakeSwitch(store.Intake(), utils.Discard()),
		Dispatcher: d,
		Recipients: staticRecipients{"ops@example.com"},
		Logger:     utils.Discard(),
		Clock:      func() time.Time { return fixedNow },
	})
	return &fixture{svc: svc, store: store, ledger: l, dispatcher: d}
}

func months(n int) *int { return &n }

func input(quantity, price int64, held int) SubmitInput {
	return SubmitInput{
		OfferingID:    "off-1",
		InvestorID:    "inv-1",
		InvestorEmail: "investor@example.com",
		PropertyName:  "Maple Court",
		Quantity:      decimal.NewFromInt(quantity),
		TokenPrice:    decimal.NewFromInt(price),
		HoldingMonths: months(held),
	}
}

func headroom(t *testing.T, f *fixture) decimal.Decimal {
	t.Helper()
	h, err := f.ledger.QueryHealth(context.Background(), "off-1")
	require.NoError(t, err)
	return h.Headroom
}

func TestSubmit_CreatesRequestAndReserves(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, input(50, 100, 14))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSubmitted, req.Status)
	assert.Equal(t, "GLR-2026-0001", req.RequestNumber)
	assert.True(t, req.GrossValue.Equal(decimal.RequireFromString("5000")))
	assert.True(t, req.FeeAmount.Equal(decimal.RequireFromString("250")))
	assert.True(t, req.NetPayout.Equal(decimal.RequireFromString("4750")))
	assert.True(t, headroom(t, f).Equal(decimal.RequireFromString("95250")))

	assert.Equal(t, []string{domain.EventRedemptionSubmitted, domain.EventAdminNewRequest}, f.dispatcher.types())
	admin := f.dispatcher.events[1]
	assert.Equal(t, []string{"ops@example.com"}, admin.Data.AdminEmails)
	require.NotNil(t, admin.Data.PendingRequestsCount)
	assert.Equal(t, 1, *admin.Data.PendingRequestsCount)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.AuditSubmit, history[0].Action)
}

func TestSubmit_InsufficientReserveCreatesNothing(t *testing.T) {
	f := newFixture(t, 1000)

	_, err := f.svc.Submit(context.Background(), input(50, 100, 14))
	assert.ErrorIs(t, err, domain.ErrInsufficientReserve)

	assert.Equal(t, 0, f.store.RequestCount())
	assert.Empty(t, f.dispatcher.types())
	assert.True(t, headroom(t, f).Equal(decimal.NewFromInt(1000)))
}

func TestSubmit_NumbersIncreasePerYear(t *testing.T) {
	f := newFixture(t, 100000)
	pattern := regexp.MustCompile(`^GLR-2026-\d{4}$`)

	var numbers []string
	for i := 0; i < 3; i++ {
		req, err := f.svc.Submit(context.Background(), input(1, 10, 3))
		require.NoError(t, err)
		assert.Regexp(t, pattern, req.RequestNumber)
		numbers = append(numbers, req.RequestNumber)
	}
	assert.Equal(t, []string{"GLR-2026-0001", "GLR-2026-0002", "GLR-2026-0003"}, numbers)
}

func TestSubmit_SkipsTakenNumber(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	require.NoError(t, f.store.Redemptions().Create(ctx, &domain.RedemptionRequest{ID: "legacy", RequestNumber: "GLR-2026-0001"}))

	req, err := f.svc.Submit(ctx, input(1, 10, 3))
	require.NoError(t, err)
	assert.Equal(t, "GLR-2026-0002", req.RequestNumber)
}

func TestSubmit_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, 100000)

	tests := []struct {
		name string
		in   SubmitInput
	}{
		{"missing offering", func() SubmitInput { in := input(1, 1, 1); in.OfferingID = " "; return in }()},
		{"missing investor", func() SubmitInput { in := input(1, 1, 1); in.InvestorID = ""; return in }()},
		{"no holding period", func() SubmitInput { in := input(1, 1, 1); in.HoldingMonths = nil; return in }()},
		{"zero quantity", input(0, 1, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tt.in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	assert.Equal(t, 0, f.store.RequestCount())
}

func TestSubmit_HoldingMonthsFromAcquisitionDate(t *testing.T) {
	f := newFixture(t, 100000)
	in := input(10, 10, 0)
	in.HoldingMonths = nil
	acquired := fixedNow.AddDate(0, -7, 0)
	in.AcquiredAt = &acquired

	req, err := f.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 7, req.HoldingMonths)
	assert.True(t, req.FeePercent.Equal(decimal.NewFromInt(10)))
}

func TestLifecycle_Complete(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, input(50, 100, 14))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, req.ID)
	require.NoError(t, err)
	_, err = f.svc.BeginProcessing(ctx, req.ID)
	require.NoError(t, err)
	done, err := f.svc.Complete(ctx, req.ID, "wire-7781")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, "wire-7781", done.PayoutReference)
	require.NotNil(t, done.ApprovedAt)
	require.NotNil(t, done.ProcessingAt)
	require.NotNil(t, done.CompletedAt)

	h, err := f.ledger.QueryHealth(ctx, "off-1")
	require.NoError(t, err)
	assert.True(t, h.Balance.Equal(decimal.RequireFromString("95250")))
	assert.True(t, h.PendingReserved.IsZero())

	assert.Equal(t, []string{
		domain.EventRedemptionSubmitted,
		domain.EventAdminNewRequest,
		domain.EventRedemptionApproved,
		domain.EventRedemptionProcessing,
		domain.EventRedemptionCompleted,
	}, f.dispatcher.types())

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, domain.StatusProcessing, history[3].FromStatus)
	assert.Equal(t, domain.StatusCompleted, history[3].ToStatus)
}

// flakyLedger отказывает в первых failures вызовах Settle и Release
type flakyLedger struct {
	*ledger.Ledger
	failures int
}

func (l *flakyLedger) fail() error {
	if l.failures > 0 {
		l.failures--
		return errors.New("db timeout")
	}
	return nil
}

func (l *flakyLedger) Settle(ctx context.Context, reservationID string) error {
	if err := l.fail(); err != nil {
		return err
	}
	return l.Ledger.Settle(ctx, reservationID)
}

func (l *flakyLedger) Release(ctx context.Context, reservationID string) error {
	if err := l.fail(); err != nil {
		return err
	}
	return l.Ledger.Release(ctx, reservationID)
}

func (f *fixture) withLedger(l ReserveLedger) *Service {
	schedule, _ := fees.FromSpecs(fees.DefaultSpecs())
	return NewService(Deps{
		Schedule:   schedule,
		Ledger:     l,
		Requests:   f.store.Redemptions(),
		Sequences:  f.store.Sequences(),
		Audit:      f.store.Audit(),
		Dispatcher: f.dispatcher,
		Recipients: staticRecipients{"ops@example.com"},
		Logger:     utils.Discard(),
		Clock:      func() time.Time { return fixedNow },
	})
}

func TestComplete_LedgerFailureKeepsStatusAndRetrySettles(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()
	svc := f.withLedger(&flakyLedger{Ledger: f.ledger, failures: 1})

	req, err := svc.Submit(ctx, input(50, 100, 14))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, req.ID)
	require.NoError(t, err)
	_, err = svc.BeginProcessing(ctx, req.ID)
	require.NoError(t, err)

	done, err := svc.Complete(ctx, req.ID, "wire-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db timeout")
	assert.Nil(t, done)

	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
	assert.Nil(t, stored.CompletedAt)
	assert.NotContains(t, f.dispatcher.types(), domain.EventRedemptionCompleted)

	done, err = svc.Complete(ctx, req.ID, "wire-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	h, err := f.ledger.QueryHealth(ctx, "off-1")
	require.NoError(t, err)
	assert.True(t, h.Balance.Equal(decimal.RequireFromString("95250")), h.Balance.String())
	assert.True(t, h.PendingReserved.IsZero())

	history, err := svc.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestDeny_LedgerFailureKeepsStatus(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()
	svc := f.withLedger(&flakyLedger{Ledger: f.ledger, failures: 1})

	req, err := svc.Submit(ctx, input(50, 100, 14))
	require.NoError(t, err)

	_, err = svc.Deny(ctx, req.ID, "KYC mismatch")
	require.Error(t, err)

	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)

	_, err = svc.Deny(ctx, req.ID, "KYC mismatch")
	require.NoError(t, err)
	assert.True(t, headroom(t, f).Equal(decimal.NewFromInt(100000)))
}

func TestDeny_ReleasesReservation(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, input(50, 100, 14))
	require.NoError(t, err)

	denied, err := f.svc.Deny(ctx, req.ID, "tokens locked by court order")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDenied, denied.Status)
	assert.Equal(t, "tokens locked by court order", denied.DenialReason)
	assert.True(t, headroom(t, f).Equal(decimal.NewFromInt(100000)))

	last := f.dispatcher.events[len(f.dispatcher.events)-1]
	assert.Equal(t, domain.EventRedemptionDenied, last.Type)
	assert.Equal(t, "tokens locked by court order", last.Data.DenialReason)

	_, err = f.svc.Deny(ctx, req.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCancel_FromApproved(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, input(50, 100, 14))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, req.ID)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.True(t, headroom(t, f).Equal(decimal.NewFromInt(100000)))
}

func TestTransitions_InvalidSourceState(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, input(50, 100, 14))
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, req.ID, "wire-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.BeginProcessing(ctx, req.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	assert.Nil(t, got.CompletedAt)

	_, err = f.svc.Deny(ctx, req.ID, "no")
	require.NoError(t, err)

	for name, op := range map[string]func() error{
		"approve":  func() error { _, err := f.svc.Approve(ctx, req.ID); return err },
		"cancel":   func() error { _, err := f.svc.Cancel(ctx, req.ID); return err },
		"deny":     func() error { _, err := f.svc.Deny(ctx, req.ID, "again"); return err },
		"complete": func() error { _, err := f.svc.Complete(ctx, req.ID, "wire-2"); return err },
	} {
		assert.ErrorIs(t, op(), domain.ErrInvalidTransition, name)
	}
}

func TestTransitions_UnknownRequest(t *testing.T) {
	f := newFixture(t, 100000)
	_, err := f.svc.Approve(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransitions_ConcurrentApproveDeny(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, input(50, 100, 14))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = f.svc.Approve(ctx, req.ID) }()
	go func() { defer wg.Done(); _, errs[1] = f.svc.Deny(ctx, req.ID, "race") }()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestTimestampsSetOnce(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, input(1, 100, 14))
	require.NoError(t, err)
	approved, err := f.svc.Approve(ctx, req.ID)
	require.NoError(t, err)
	first := *approved.ApprovedAt

	_, err = f.svc.Approve(ctx, req.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *got.ApprovedAt)
}

func TestIntakePause(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	require.NoError(t, f.svc.Intake().Pause(ctx, "quarterly audit"))
	_, err := f.svc.Submit(ctx, input(1, 10, 3))
	assert.ErrorIs(t, err, domain.ErrIntakePaused)

	paused, reason, _ := f.svc.Intake().Status()
	assert.True(t, paused)
	assert.Equal(t, "quarterly audit", reason)

	restored := NewIntakeSwitch(f.store.Intake(), utils.Discard())
	require.NoError(t, restored.Restore(ctx))
	assert.True(t, restored.IsPaused())

	require.NoError(t, f.svc.Intake().Resume(ctx))
	_, err = f.svc.Submit(ctx, input(1, 10, 3))
	assert.NoError(t, err)
}

func TestPreview(t *testing.T) {
	f := newFixture(t, 4000)

	result, err := f.svc.Preview(context.Background(), input(50, 100, 14))
	require.NoError(t, err)
	assert.True(t, result.NetPayout.Equal(decimal.RequireFromString("4750")))
	assert.False(t, result.Covered)
	assert.True(t, result.Headroom.Equal(decimal.NewFromInt(4000)))
	assert.Equal(t, 0, f.store.RequestCount())
}

func TestMonthlyReport(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req, err := f.svc.Submit(ctx, input(10, 100, 14))
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, req.ID)
		require.NoError(t, err)
		_, err = f.svc.BeginProcessing(ctx, req.ID)
		require.NoError(t, err)
		_, err = f.svc.Complete(ctx, req.ID, "wire")
		require.NoError(t, err)
	}
	_, err := f.svc.Submit(ctx, input(10, 100, 14))
	require.NoError(t, err)

	totals, _, err := f.svc.MonthlyReport(ctx, "off-1", fixedNow, "sponsor@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Redemptions)
	assert.True(t, totals.Amount.Equal(decimal.NewFromInt(1900)))

	last := f.dispatcher.events[len(f.dispatcher.events)-1]
	assert.Equal(t, domain.EventSponsorMonthlyReport, last.Type)
	assert.Equal(t, "sponsor@example.com", last.Data.SponsorEmail)
}

func TestIdempotencyKeyIsStablePerTransition(t *testing.T) {
	f := newFixture(t, 100000)

	req, err := f.svc.Submit(context.Background(), input(1, 100, 14))
	require.NoError(t, err)

	submitted := f.dispatcher.events[0]
	assert.Equal(t, domain.IdempotencyKey(domain.EventRedemptionSubmitted, req.ID, domain.StatusSubmitted), submitted.IdempotencyKey)
	assert.NotEqual(t, submitted.IdempotencyKey, f.dispatcher.events[1].IdempotencyKey)
}
