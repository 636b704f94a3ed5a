package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
request_prefix: MPL
fee_tiers:
  - min_months: 0
    max_months: 12
    fee_percent: 7.5
  - min_months: 12
    fee_percent: 2.5
offerings:
  off-1:
    property_name: Maple Court
    admin_emails: [a@example.com, b@example.com]
    sponsor_email: sponsor@example.com
    reserve:
      balance: 250000.00
      target: 300000
`

func TestParseFile(t *testing.T) {
	file, err := parseFile([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "MPL", file.RequestPrefix)
	require.Len(t, file.FeeTiers, 2)
	assert.True(t, file.FeeTiers[0].FeePercent.Equal(decimal.RequireFromString("7.5")))
	assert.Nil(t, file.FeeTiers[1].MaxMonths)

	off := file.Offerings["off-1"]
	assert.Equal(t, "Maple Court", off.PropertyName)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, off.AdminEmails)
	require.NotNil(t, off.Reserve)
	assert.True(t, off.Reserve.Balance.Equal(decimal.NewFromInt(250000)))
	assert.True(t, off.Reserve.Target.Equal(decimal.NewFromInt(300000)))
}

func TestParseFile_Defaults(t *testing.T) {
	file, err := parseFile([]byte("offerings: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, "GLR", file.RequestPrefix)
	assert.Len(t, file.FeeTiers, 3)
}

func TestParseFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "fee_tiers: [\n"},
		{"bad percent", "fee_tiers:\n  - min_months: 0\n    fee_percent: ten\n"},
		{"zero reserve target", "offerings:\n  off-1:\n    reserve:\n      balance: 10\n      target: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFile([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liquidity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	setEnv(t, map[string]string{
		"LIQUIDITY_CONFIG_PATH":  path,
		"DB_ENABLED":             "false",
		"ADMIN_EMAILS":           "ops@example.com, risk@example.com,",
		"NOTIFY_WEBHOOK_TIMEOUT": "3s",
		"TELEGRAM_BOT_TOKEN":     "token",
		"TELEGRAM_CHAT_ID":       "-100123",
	})

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"ops@example.com", "risk@example.com"}, cfg.Notify.AdminEmails)
	assert.Equal(t, int64(-100123), cfg.Telegram.ChatID)
	assert.True(t, cfg.Telegram.Console)
	assert.Equal(t, 10*time.Second, cfg.Notify.DefaultTimeout)
	assert.Equal(t, map[string]time.Duration{domain.ChannelWebhook: 3 * time.Second}, cfg.NotifyTimeouts())
	assert.True(t, cfg.Reserve.LowBalanceRatio.Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, "MPL", cfg.Domain.RequestPrefix)
}

func TestFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"db password required", map[string]string{"DB_ENABLED": "true", "DB_PASSWORD": ""}},
		{"email from required", map[string]string{"DB_ENABLED": "false", "EMAIL_API_KEY": "re_123"}},
		{"chat id required", map[string]string{"DB_ENABLED": "false", "TELEGRAM_BOT_TOKEN": "token"}},
		{"webhook scheme", map[string]string{"DB_ENABLED": "false", "WEBHOOK_URL": "ftp://example.com"}},
		{"ratio range", map[string]string{"DB_ENABLED": "false", "LOW_BALANCE_RATIO": "1.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			_, err := FromEnv()
			assert.ErrorIs(t, err, domain.ErrConfig)
		})
	}
}

func TestFromEnv_InvalidTierPartition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liquidity.yaml")
	gap := "fee_tiers:\n  - {min_months: 0, max_months: 6, fee_percent: 15}\n  - {min_months: 8, fee_percent: 5}\n"
	require.NoError(t, os.WriteFile(path, []byte(gap), 0o600))

	setEnv(t, map[string]string{"LIQUIDITY_CONFIG_PATH": path, "DB_ENABLED": "false"})

	_, err := FromEnv()
	assert.ErrorIs(t, err, domain.ErrConfig)
}
