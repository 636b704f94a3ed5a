package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/storage/memory"
	"github.com/kirillm/liquidity/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSignaler struct {
	mu        sync.Mutex
	snapshots []domain.ReserveSnapshot
}

func (s *countingSignaler) RouteReserveWarning(_ context.Context, _ string, snap domain.ReserveSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *countingSignaler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func newTestLedger(t *testing.T, balance, target int64) (*Ledger, *countingSignaler) {
	t.Helper()
	sig := &countingSignaler{}
	l := NewLedger(memory.New().Reserves(), sig, utils.Discard())
	_, err := l.Open(context.Background(), "off-1", decimal.NewFromInt(balance), decimal.NewFromInt(target))
	require.NoError(t, err)
	return l, sig
}

func TestAuthorize_ConcurrentNeverOverdrafts(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 1000)
	ctx := context.Background()

	const workers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Authorize(ctx, "off-1", decimal.NewFromInt(75))
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientReserve)
		}()
	}
	wg.Wait()

	// 13 * 75 = 975 <= 1000 < 14 * 75
	assert.Equal(t, 13, granted)
	h, err := l.QueryHealth(ctx, "off-1")
	require.NoError(t, err)
	assert.False(t, h.Headroom.IsNegative())
	assert.True(t, h.PendingReserved.Equal(decimal.NewFromInt(975)))
}

func TestAuthorize_InvalidAmount(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 1000)
	_, err := l.Authorize(context.Background(), "off-1", decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAuthorize_UnknownOffering(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 1000)
	_, err := l.Authorize(context.Background(), "off-404", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReleaseAndSettle(t *testing.T) {
	l, _ := newTestLedger(t, 1000, 1000)
	ctx := context.Background()

	a, err := l.Authorize(ctx, "off-1", decimal.NewFromInt(300))
	require.NoError(t, err)
	b, err := l.Authorize(ctx, "off-1", decimal.NewFromInt(200))
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, a))
	require.NoError(t, l.Release(ctx, a), "release is idempotent")
	require.NoError(t, l.Settle(ctx, b))
	require.NoError(t, l.Settle(ctx, b), "settle is idempotent")

	assert.ErrorIs(t, l.Settle(ctx, a), domain.ErrReservationClosed)
	assert.ErrorIs(t, l.Release(ctx, b), domain.ErrReservationClosed)

	h, err := l.QueryHealth(ctx, "off-1")
	require.NoError(t, err)
	assert.True(t, h.Balance.Equal(decimal.NewFromInt(800)))
	assert.True(t, h.PendingReserved.IsZero())
	assert.True(t, h.Headroom.Equal(decimal.NewFromInt(800)))
}

func TestLowBalance_EdgeTriggered(t *testing.T) {
	l, sig := newTestLedger(t, 100000, 100000)
	ctx := context.Background()

	// 100000 - 82000 = 18000, ratio 0.18
	id, err := l.Authorize(ctx, "off-1", decimal.NewFromInt(82000))
	require.NoError(t, err)
	require.NoError(t, l.Settle(ctx, id))
	assert.Equal(t, 1, sig.count())

	snap := sig.snapshots[0]
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(18000)))
	assert.True(t, snap.Ratio.Equal(decimal.RequireFromString("0.18")))

	// остается ниже порога: повторного алерта нет
	id, err = l.Authorize(ctx, "off-1", decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.NoError(t, l.Settle(ctx, id))
	assert.Equal(t, 1, sig.count())

	h, err := l.QueryHealth(ctx, "off-1")
	require.NoError(t, err)
	assert.True(t, h.LowBalance)

	// восстановление перевзводит алерт
	_, err = l.Deposit(ctx, "off-1", decimal.NewFromInt(50000))
	require.NoError(t, err)
	assert.Equal(t, 1, sig.count())

	id, err = l.Authorize(ctx, "off-1", decimal.NewFromInt(60000))
	require.NoError(t, err)
	require.NoError(t, l.Settle(ctx, id))
	assert.Equal(t, 2, sig.count())
}

func TestLowBalance_ExactThresholdIsNotLow(t *testing.T) {
	l, sig := newTestLedger(t, 20000, 100000)
	assert.Equal(t, 0, sig.count())

	h, err := l.QueryHealth(context.Background(), "off-1")
	require.NoError(t, err)
	assert.False(t, h.LowBalance)
	assert.True(t, h.Ratio.Equal(decimal.RequireFromString("0.2")))
}

func TestOpen_Validation(t *testing.T) {
	l := NewLedger(memory.New().Reserves(), nil, utils.Discard())
	ctx := context.Background()

	tests := []struct {
		name     string
		offering string
		balance  int64
		target   int64
	}{
		{"empty offering", "", 10, 10},
		{"negative balance", "off-1", -1, 10},
		{"zero target", "off-1", 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Open(ctx, tt.offering, decimal.NewFromInt(tt.balance), decimal.NewFromInt(tt.target))
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestDeposit_RejectsNonPositive(t *testing.T) {
	l, _ := newTestLedger(t, 10, 10)
	_, err := l.Deposit(context.Background(), "off-1", decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestOpen_RoundsToCents(t *testing.T) {
	l := NewLedger(memory.New().Reserves(), nil, utils.Discard())
	ctx := context.Background()

	h, err := l.Open(ctx, "off-1", decimal.RequireFromString("1000.005"), decimal.RequireFromString("5000.004"))
	require.NoError(t, err)
	assert.True(t, h.Balance.Equal(decimal.RequireFromString("1000.01")), h.Balance.String())
	assert.True(t, h.Target.Equal(decimal.NewFromInt(5000)), h.Target.String())

	// цель меньше цента округляется до нуля
	_, err = l.Open(ctx, "off-2", decimal.NewFromInt(10), decimal.RequireFromString("0.004"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeposit_SubCentAmountRejected(t *testing.T) {
	l, _ := newTestLedger(t, 10, 10)
	_, err := l.Deposit(context.Background(), "off-1", decimal.RequireFromString("0.004"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	h, err := l.Deposit(context.Background(), "off-1", decimal.RequireFromString("0.015"))
	require.NoError(t, err)
	assert.True(t, h.Balance.Equal(decimal.RequireFromString("10.02")), h.Balance.String())
}
