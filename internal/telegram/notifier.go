// Package telegram отправляет служебные уведомления в операторский чат и принимает команды операторов.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/pkg/utils"
	"golang.org/x/time/rate"
)

const maxMessageLength = 4096

// Notifier пишет события в один чат, соблюдая лимит Bot API на чат
type Notifier struct {
	api       *tgbotapi.BotAPI
	chatID    int64
	limiter   *rate.Limiter
	formatter *Formatter
	logger    *utils.Logger
}

// NewNotifier создает нотификатор для api.telegram.org
func NewNotifier(token string, chatID int64, lang Lang, logger *utils.Logger) (*Notifier, error) {
	return NewNotifierWithEndpoint(token, tgbotapi.APIEndpoint, chatID, lang, &http.Client{Timeout: 15 * time.Second}, logger)
}

// NewNotifierWithEndpoint создает нотификатор с произвольным endpoint вида "https://host/bot%s/%s"
func NewNotifierWithEndpoint(token, endpoint string, chatID int64, lang Lang, client *http.Client, logger *utils.Logger) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("%w: telegram token and chat id are required", domain.ErrConfig)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger = logger.With("telegram")
	logger.Info("Telegram bot authorized: @%s", bot.Self.UserName)

	return &Notifier{
		api:       bot,
		chatID:    chatID,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 3),
		formatter: NewFormatter(lang),
		logger:    logger,
	}, nil
}

// Send отправляет текст, разбивая длинные сообщения
func (n *Notifier) Send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	for _, part := range splitMessage(text, maxMessageLength) {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := n.api.Send(tgbotapi.NewMessage(n.chatID, part)); err != nil {
			n.logger.Error("Failed to send telegram message to chat %d: %v", n.chatID, err)
			return fmt.Errorf("%w: telegram: %v", domain.ErrChannelDelivery, err)
		}
	}
	return nil
}

// SendEvent форматирует событие и отправляет его в чат
func (n *Notifier) SendEvent(ctx context.Context, event domain.NotificationEvent) error {
	return n.Send(ctx, n.formatter.FormatEvent(event))
}
