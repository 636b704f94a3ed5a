package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReserves struct{}

func (fakeReserves) QueryHealth(_ context.Context, offeringID string) (*ledger.Health, error) {
	if offeringID != "off-1" {
		return nil, fmt.Errorf("reserve %s: %w", offeringID, domain.ErrNotFound)
	}
	return &ledger.Health{
		OfferingID:      "off-1",
		Balance:         decimal.NewFromInt(15000),
		Target:          decimal.NewFromInt(100000),
		PendingReserved: decimal.NewFromInt(4750),
		Headroom:        decimal.NewFromInt(10250),
		Ratio:           decimal.RequireFromString("0.15"),
		LowBalance:      true,
	}, nil
}

type fakeRequests struct {
	lastFilter domain.RedemptionFilter
}

func (f *fakeRequests) Get(_ context.Context, id string) (*domain.RedemptionRequest, error) {
	if id != "req-1" {
		return nil, domain.ErrNotFound
	}
	return &domain.RedemptionRequest{
		ID:            "req-1",
		RequestNumber: "GLR-2026-0001",
		OfferingID:    "off-1",
		InvestorID:    "inv-1",
		Quantity:      decimal.NewFromInt(50),
		GrossValue:    decimal.NewFromInt(5000),
		FeePercent:    decimal.NewFromInt(5),
		FeeAmount:     decimal.NewFromInt(250),
		NetPayout:     decimal.NewFromInt(4750),
		Status:        domain.StatusSubmitted,
	}, nil
}

func (f *fakeRequests) List(_ context.Context, filter domain.RedemptionFilter) ([]domain.RedemptionRequest, error) {
	f.lastFilter = filter
	req, _ := f.Get(context.Background(), "req-1")
	return []domain.RedemptionRequest{*req}, nil
}

type fakeIntake struct {
	paused bool
	reason string
	err    error
}

func (f *fakeIntake) Pause(_ context.Context, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.paused, f.reason = true, reason
	return nil
}

func (f *fakeIntake) Resume(context.Context) error {
	f.paused, f.reason = false, ""
	return nil
}

func (f *fakeIntake) Status() (bool, string, time.Time) {
	return f.paused, f.reason, time.Time{}
}

type names map[string]string

func (n names) PropertyName(id string) string { return n[id] }

func newTestRouter(adminIDs ...int64) (*Router, *fakeRequests, *fakeIntake) {
	requests := &fakeRequests{}
	intake := &fakeIntake{}
	r := NewRouter(NewAuthManager(adminIDs), NewFormatter(LangEN), RouterDeps{
		Reserves:  fakeReserves{},
		Requests:  requests,
		Intake:    intake,
		Offerings: names{"off-1": "Maple Court"},
	})
	return r, requests, intake
}

func TestRouter_Reserve(t *testing.T) {
	r, _, _ := newTestRouter()

	out, err := r.HandleCommand(context.Background(), 1, "/reserve off-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Maple Court (off-1)")
	assert.Contains(t, out, "$15000.00")
	assert.Contains(t, out, "$10250.00")
	assert.Contains(t, out, "15.0%")
	assert.Contains(t, out, "⚠️")

	out, err = r.HandleCommand(context.Background(), 1, "/reserve off-9")
	require.NoError(t, err)
	assert.Equal(t, "Not found", out)
}

func TestRouter_PendingAndRequest(t *testing.T) {
	r, requests, _ := newTestRouter()

	out, err := r.HandleCommand(context.Background(), 1, "/pending off-1 5")
	require.NoError(t, err)
	assert.Contains(t, out, "Awaiting review (1)")
	assert.Contains(t, out, "GLR-2026-0001")
	assert.Equal(t, domain.RedemptionFilter{OfferingID: "off-1", Status: domain.StatusSubmitted, Limit: 5}, requests.lastFilter)

	out, err = r.HandleCommand(context.Background(), 1, "/request req-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Request GLR-2026-0001")
	assert.Contains(t, out, "Net payout: $4750.00")
}

func TestRouter_AdminCommands(t *testing.T) {
	r, _, intake := newTestRouter(42)

	out, err := r.HandleCommand(context.Background(), 7, "/pause audit")
	require.NoError(t, err)
	assert.Equal(t, "Admin permission required", out)
	assert.False(t, intake.paused)

	out, err = r.HandleCommand(context.Background(), 42, "/pause reserve audit")
	require.NoError(t, err)
	assert.True(t, intake.paused)
	assert.Equal(t, "reserve audit", intake.reason)
	assert.Contains(t, out, "Redemption intake is paused")

	out, err = r.HandleCommand(context.Background(), 7, "/intake")
	require.NoError(t, err)
	assert.Contains(t, out, "Reason: reserve audit")

	out, err = r.HandleCommand(context.Background(), 42, "/resume")
	require.NoError(t, err)
	assert.False(t, intake.paused)
	assert.Contains(t, out, "Redemption intake is open")
}

func TestRouter_PauseDefaultReason(t *testing.T) {
	r, _, intake := newTestRouter()

	_, err := r.HandleCommand(context.Background(), 1, "/pause")
	require.NoError(t, err)
	assert.Equal(t, "paused from telegram", intake.reason)
}

func TestRouter_Errors(t *testing.T) {
	r, _, intake := newTestRouter()

	out, err := r.HandleCommand(context.Background(), 1, "/unknown")
	require.NoError(t, err)
	assert.Equal(t, "Unknown command, see /help", out)

	out, err = r.HandleCommand(context.Background(), 2, "/reserve")
	require.NoError(t, err)
	assert.Contains(t, out, "usage: /reserve OFFERING")

	intake.err = errors.New("db down")
	out, err = r.HandleCommand(context.Background(), 3, "/pause")
	assert.Error(t, err)
	assert.Contains(t, out, "db down")
}

func TestRouter_RateLimit(t *testing.T) {
	r, _, _ := newTestRouter()

	for i := 0; i < 2; i++ {
		_, err := r.HandleCommand(context.Background(), 9, "/help")
		require.NoError(t, err)
	}
	out, err := r.HandleCommand(context.Background(), 9, "/help")
	require.NoError(t, err)
	assert.Contains(t, out, "rate limit exceeded")
}

func commandMessage(chatID, userID int64, text string) *tgbotapi.Message {
	cmdLen := len(text)
	for i, c := range text {
		if c == ' ' {
			cmdLen = i
			break
		}
	}
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: userID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func TestBot_HandleMessage(t *testing.T) {
	api := &fakeBotAPI{}
	n := newTestNotifier(t, api)
	r, _, intake := newTestRouter()
	bot := NewBot(n, r, NewAuthManager(nil))

	// Чужой чат игнорируется
	bot.handleMessage(context.Background(), commandMessage(555, 1, "/pause"))
	assert.False(t, intake.paused)
	assert.Empty(t, api.messages)

	// Обычный текст без команды игнорируется
	plain := commandMessage(-100, 1, "hello")
	plain.Entities = nil
	bot.handleMessage(context.Background(), plain)
	assert.Empty(t, api.messages)

	bot.handleMessage(context.Background(), commandMessage(-100, 1, "/pause maintenance"))
	assert.True(t, intake.paused)
	require.Len(t, api.messages, 1)
	assert.Contains(t, api.messages[0], "Redemption intake is paused")
	assert.Equal(t, "-100", api.chatIDs[0])
}
