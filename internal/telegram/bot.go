package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/liquidity/pkg/utils"
)

// Bot принимает команды операторов из чата уведомлений
type Bot struct {
	notifier *Notifier
	router   *Router
	auth     *AuthManager
	logger   *utils.Logger
}

// NewBot создает бота поверх нотификатора: тот же токен и тот же чат
func NewBot(notifier *Notifier, router *Router, auth *AuthManager) *Bot {
	return &Bot{
		notifier: notifier,
		router:   router,
		auth:     auth,
		logger:   notifier.logger,
	}
}

// Run читает обновления long polling до отмены контекста
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.notifier.api.GetUpdatesChan(u)
	defer b.notifier.api.StopReceivingUpdates()

	cleanup := time.NewTicker(5 * time.Minute)
	defer cleanup.Stop()

	b.logger.Info("Operator console started in chat %d", b.notifier.chatID)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Operator console stopped")
			return
		case <-cleanup.C:
			b.auth.CleanupRateLimiters()
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Проверяем, что сообщение из операторского чата
	if message.Chat == nil || message.Chat.ID != b.notifier.chatID {
		chatID := int64(0)
		if message.Chat != nil {
			chatID = message.Chat.ID
		}
		b.logger.Warn("Unauthorized access attempt from chat ID: %d", chatID)
		return
	}
	if !message.IsCommand() || message.From == nil {
		return
	}

	b.logger.Info("Command from user %d: %s", message.From.ID, message.Text)

	response, err := b.router.HandleCommand(ctx, message.From.ID, message.Text)
	if err != nil {
		b.logger.Error("Command %q failed: %v", message.Text, err)
	}
	if err := b.notifier.Send(ctx, response); err != nil {
		b.logger.Error("Failed to reply to command: %v", err)
	}
}
