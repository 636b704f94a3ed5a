package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/fees"
	"github.com/shopspring/decimal"
)

// Config содержит все настройки приложения
type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Webhook  WebhookConfig
	Email    EmailConfig
	Telegram TelegramConfig
	Bus      BusConfig
	Notify   NotifyConfig
	Reserve  ReserveConfig
	Domain   *File
	LogLevel string
}

type HTTPConfig struct {
	Addr            string
	AdminToken      string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type WebhookConfig struct {
	URL    string
	Secret string
}

type EmailConfig struct {
	APIURL string
	APIKey string
	From   string
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
	Lang     string
	AdminIDs string
	Console  bool
}

type BusConfig struct {
	URL           string
	Exchange      string
	RetryAttempts int
}

type NotifyConfig struct {
	DefaultTimeout time.Duration
	EmailTimeout   time.Duration
	WebhookTimeout time.Duration
	ChatTimeout    time.Duration
	BusTimeout     time.Duration
	AdminEmails    []string
}

type ReserveConfig struct {
	LowBalanceRatio decimal.Decimal
}

// Load загружает конфигурацию из .env файла и YAML-файла оферт
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv собирает конфигурацию из переменных окружения
func FromEnv() (*Config, error) {
	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	dbEnabled, err := strconv.ParseBool(getEnv("DB_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_ENABLED: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	shutdownTimeout, err := time.ParseDuration(getEnv("HTTP_SHUTDOWN_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_SHUTDOWN_TIMEOUT: %w", err)
	}

	busRetries, err := strconv.Atoi(getEnv("AMQP_RETRY_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid AMQP_RETRY_ATTEMPTS: %w", err)
	}

	timeouts := map[string]time.Duration{}
	for key, def := range map[string]string{
		"NOTIFY_TIMEOUT":         "10s",
		"NOTIFY_EMAIL_TIMEOUT":   "0s",
		"NOTIFY_WEBHOOK_TIMEOUT": "0s",
		"NOTIFY_CHAT_TIMEOUT":    "0s",
		"NOTIFY_BUS_TIMEOUT":     "0s",
	} {
		d, err := time.ParseDuration(getEnv(key, def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		timeouts[key] = d
	}

	ratio, err := decimal.NewFromString(getEnv("LOW_BALANCE_RATIO", "0.20"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOW_BALANCE_RATIO: %w", err)
	}

	file, err := loadFile(getEnv("LIQUIDITY_CONFIG_PATH", ""))
	if err != nil {
		return nil, err
	}

	config := &Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			AdminToken:      getEnv("ADMIN_API_TOKEN", ""),
			ShutdownTimeout: shutdownTimeout,
		},
		Database: DatabaseConfig{
			Enabled:         dbEnabled,
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "liquidity"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		Webhook: WebhookConfig{
			URL:    getEnv("WEBHOOK_URL", ""),
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
		Email: EmailConfig{
			APIURL: getEnv("EMAIL_API_URL", "https://api.resend.com"),
			APIKey: getEnv("EMAIL_API_KEY", ""),
			From:   getEnv("EMAIL_FROM", ""),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   chatID,
			Lang:     getEnv("TELEGRAM_LANG", "en"),
			AdminIDs: getEnv("TELEGRAM_ADMIN_IDS", ""),
			Console:  getEnv("TELEGRAM_CONSOLE", "true") == "true",
		},
		Bus: BusConfig{
			URL:           getEnv("AMQP_URL", ""),
			Exchange:      getEnv("AMQP_EXCHANGE", "liquidity"),
			RetryAttempts: busRetries,
		},
		Notify: NotifyConfig{
			DefaultTimeout: timeouts["NOTIFY_TIMEOUT"],
			EmailTimeout:   timeouts["NOTIFY_EMAIL_TIMEOUT"],
			WebhookTimeout: timeouts["NOTIFY_WEBHOOK_TIMEOUT"],
			ChatTimeout:    timeouts["NOTIFY_CHAT_TIMEOUT"],
			BusTimeout:     timeouts["NOTIFY_BUS_TIMEOUT"],
			AdminEmails:    splitList(getEnv("ADMIN_EMAILS", "")),
		},
		Reserve: ReserveConfig{
			LowBalanceRatio: ratio,
		},
		Domain:   file,
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля и согласованность настроек
func (c *Config) Validate() error {
	if c.Database.Enabled && c.Database.Password == "" {
		return fmt.Errorf("%w: DB_PASSWORD is required when DB_ENABLED=true", domain.ErrConfig)
	}
	if c.Email.APIKey != "" && c.Email.From == "" {
		return fmt.Errorf("%w: EMAIL_FROM is required when EMAIL_API_KEY is set", domain.ErrConfig)
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("%w: TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set", domain.ErrConfig)
	}
	if c.Webhook.URL != "" && !strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
		return fmt.Errorf("%w: WEBHOOK_URL must be an http(s) URL", domain.ErrConfig)
	}
	if !c.Reserve.LowBalanceRatio.IsPositive() || c.Reserve.LowBalanceRatio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: LOW_BALANCE_RATIO must be in (0, 1)", domain.ErrConfig)
	}
	if c.Notify.DefaultTimeout <= 0 {
		return fmt.Errorf("%w: NOTIFY_TIMEOUT must be positive", domain.ErrConfig)
	}
	if c.Domain == nil {
		return fmt.Errorf("%w: offerings file not loaded", domain.ErrConfig)
	}
	if _, err := fees.FromSpecs(c.Domain.FeeTiers); err != nil {
		return err
	}
	return nil
}

// NotifyTimeouts таймауты каналов, заданные явно
func (c *Config) NotifyTimeouts() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for channel, d := range map[string]time.Duration{
		domain.ChannelEmail:    c.Notify.EmailTimeout,
		domain.ChannelWebhook:  c.Notify.WebhookTimeout,
		domain.ChannelTelegram: c.Notify.ChatTimeout,
		domain.ChannelBus:      c.Notify.BusTimeout,
	} {
		if d > 0 {
			out[channel] = d
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
