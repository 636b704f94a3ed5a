package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillm/liquidity/internal/alerts"
	"github.com/kirillm/liquidity/internal/api"
	"github.com/kirillm/liquidity/internal/bus"
	"github.com/kirillm/liquidity/internal/config"
	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/fees"
	"github.com/kirillm/liquidity/internal/ledger"
	"github.com/kirillm/liquidity/internal/notify"
	"github.com/kirillm/liquidity/internal/redemption"
	"github.com/kirillm/liquidity/internal/storage"
	"github.com/kirillm/liquidity/internal/storage/memory"
	"github.com/kirillm/liquidity/internal/telegram"
	"github.com/kirillm/liquidity/pkg/utils"
)

// backend общий набор репозиториев Postgres и in-memory хранилища
type backend interface {
	Redemptions() domain.RedemptionRepository
	Reserves() domain.ReserveRepository
	Sequences() domain.SequenceRepository
	Notifications() domain.NotificationRepository
	Audit() domain.AuditRepository
	Intake() domain.IntakeRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.LogError("Failed to load config: " + err.Error())
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.LogLevel)
	logger.Info("Starting liquidity service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Хранилище
	var st backend
	var pinger api.Pinger
	if cfg.Database.Enabled {
		pg, err := storage.NewPostgresStorage(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.DBName,
			cfg.Database.SSLMode,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			logger.Error("Failed to connect to database: %v", err)
			os.Exit(1)
		}
		defer pg.Close()
		st, pinger = pg, pg
		logger.Info("Connected to PostgreSQL %s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)
	} else {
		st = memory.New()
		logger.Warn("DB_ENABLED=false: using in-memory storage, state is lost on restart")
	}

	schedule, err := fees.FromSpecs(cfg.Domain.FeeTiers)
	if err != nil {
		logger.Error("Invalid fee schedule: %v", err)
		os.Exit(1)
	}

	// Каналы уведомлений
	httpClient := &http.Client{Timeout: 30 * time.Second}
	opts := []notify.Option{
		notify.WithInApp(st.Notifications()),
		notify.WithDefaultTimeout(cfg.Notify.DefaultTimeout),
	}
	for channel, timeout := range cfg.NotifyTimeouts() {
		opts = append(opts, notify.WithTimeout(channel, timeout))
	}

	if cfg.Email.APIKey != "" {
		opts = append(opts, notify.WithEmail(notify.NewEmailClient(cfg.Email.APIURL, cfg.Email.APIKey, cfg.Email.From, httpClient)))
		logger.Info("Email channel enabled (%s)", cfg.Email.APIURL)
	}

	if cfg.Webhook.URL != "" {
		opts = append(opts, notify.WithWebhook(notify.NewWebhookClient(cfg.Webhook.URL, cfg.Webhook.Secret, httpClient)))
		if cfg.Webhook.Secret == "" {
			logger.Warn("WEBHOOK_SECRET is not set: webhook payloads are sent unsigned")
		}
	}

	var chat *telegram.Notifier
	if cfg.Telegram.BotToken != "" {
		chat, err = telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, telegram.ParseLang(cfg.Telegram.Lang), logger)
		if err != nil {
			logger.Error("Telegram channel disabled: %v", err)
			chat = nil
		} else {
			opts = append(opts, notify.WithChat(chat))
		}
	}

	if cfg.Bus.URL != "" {
		publisher, err := bus.Dial(ctx, bus.ConnectionOptions{
			URL:           cfg.Bus.URL,
			Exchange:      cfg.Bus.Exchange,
			RetryAttempts: cfg.Bus.RetryAttempts,
			Delay:         time.Second,
		}, logger)
		if err != nil {
			logger.Error("Event bus disabled: %v", err)
		} else {
			defer publisher.Close()
			opts = append(opts, notify.WithBus(publisher))
		}
	}

	dispatcher := notify.NewDispatcher(logger, opts...)

	// Оферты и алерты
	offerings := make(map[string]alerts.Offering, len(cfg.Domain.Offerings))
	for id, o := range cfg.Domain.Offerings {
		offerings[id] = alerts.Offering{
			PropertyName: o.PropertyName,
			AdminEmails:  o.AdminEmails,
			SponsorEmail: o.SponsorEmail,
		}
	}
	router := alerts.NewRouter(dispatcher, st.Redemptions(), offerings, cfg.Notify.AdminEmails, logger)

	reserves := ledger.NewLedger(st.Reserves(), router, logger, ledger.WithThreshold(cfg.Reserve.LowBalanceRatio))
	for id, o := range cfg.Domain.Offerings {
		if o.Reserve == nil {
			continue
		}
		health, err := reserves.Open(ctx, id, o.Reserve.Balance.Decimal, o.Reserve.Target.Decimal)
		if err != nil {
			logger.Error("Failed to open reserve for %s: %v", id, err)
			os.Exit(1)
		}
		logger.Info("Reserve %s: balance %s, target %s, headroom %s",
			id, health.Balance.StringFixed(2), health.Target.StringFixed(2), health.Headroom.StringFixed(2))
	}

	intake := redemption.NewIntakeSwitch(st.Intake(), logger)
	if err := intake.Restore(ctx); err != nil {
		logger.Error("Failed to restore intake state: %v", err)
		os.Exit(1)
	}

	svc := redemption.NewService(redemption.Deps{
		Schedule:   schedule,
		Ledger:     reserves,
		Requests:   st.Redemptions(),
		Sequences:  st.Sequences(),
		Audit:      st.Audit(),
		Intake:     intake,
		Dispatcher: dispatcher,
		Recipients: router,
		Logger:     logger,
		Prefix:     cfg.Domain.RequestPrefix,
	})

	// Операторская консоль в том же чате
	if chat != nil && cfg.Telegram.Console {
		adminIDs := telegram.ParseIDs(cfg.Telegram.AdminIDs)
		if len(adminIDs) == 0 {
			logger.Warn("TELEGRAM_ADMIN_IDS is not set: every chat member can pause intake")
		}
		auth := telegram.NewAuthManager(adminIDs)
		commands := telegram.NewRouter(auth, telegram.NewFormatter(telegram.ParseLang(cfg.Telegram.Lang)), telegram.RouterDeps{
			Reserves:  reserves,
			Requests:  svc,
			Intake:    intake,
			Offerings: router,
		})
		go telegram.NewBot(chat, commands, auth).Run(ctx)
	}

	if cfg.HTTP.AdminToken == "" {
		logger.Warn("ADMIN_API_TOKEN is not set: admin routes are unauthenticated")
	}
	server := api.NewServer(logger, svc, reserves, router, pinger, cfg.HTTP.AdminToken, cfg.HTTP.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown: %v", err)
	}
	logger.Info("Liquidity service stopped")
}
