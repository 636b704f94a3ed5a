// Package bus публикует события ликвидности в topic-exchange RabbitMQ.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/pkg/utils"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange exchange по умолчанию
	DefaultExchange = "liquidity"
	// Producer имя сервиса в метаданных конверта
	Producer = "liquidityd"

	routingPrefix = "liquidity."
	maxDialDelay  = 30 * time.Second
)

// Meta метаданные конверта
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope конверт сообщения в шине
type Envelope struct {
	Meta Meta             `json:"meta"`
	Data domain.EventData `json:"data"`
}

// RoutingKey ключ маршрутизации события: liquidity.<тип события>
func RoutingKey(eventType string) string {
	return routingPrefix + eventType
}

// NewEnvelope собирает конверт; ID сообщения равен ключу идемпотентности,
// чтобы подписчики могли отбрасывать повторы.
func NewEnvelope(event domain.NotificationEvent) Envelope {
	data := event.Data
	data.InvestorEmail = ""
	data.AdminEmails = nil
	data.SponsorEmail = ""

	return Envelope{
		Meta: Meta{
			ID:            event.IdempotencyKey,
			CorrelationID: event.ID,
			Producer:      Producer,
			Time:          event.OccurredAt.UTC(),
			Type:          event.Type,
		},
		Data: data,
	}
}

// ConnectionOptions параметры подключения
type ConnectionOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
}

// Publisher публикует события с подтверждением брокера.
// Закрытое соединение переоткрывается при следующей публикации.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	opts     ConnectionOptions
	dial     func(url string) (*amqp.Connection, error)
	exchange string
	logger   *utils.Logger
}

func newPublisher(opts ConnectionOptions, logger *utils.Logger) *Publisher {
	if opts.Exchange == "" {
		opts.Exchange = DefaultExchange
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	return &Publisher{
		opts:     opts,
		dial:     amqp.Dial,
		exchange: opts.Exchange,
		logger:   logger.With("bus"),
	}
}

// Dial подключается к брокеру с экспоненциальной паузой между попытками
// и объявляет topic-exchange.
func Dial(ctx context.Context, opts ConnectionOptions, logger *utils.Logger) (*Publisher, error) {
	p := newPublisher(opts, logger)
	conn, err := p.connect(ctx, p.opts.RetryAttempts)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	p.logger.Info("Connected to AMQP exchange %s", p.exchange)
	return p, nil
}

// connect открывает соединение и объявляет exchange
func (p *Publisher) connect(ctx context.Context, attempts int) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, lastErr = p.dial(p.opts.URL)
		if lastErr == nil {
			break
		}
		if i == attempts {
			break
		}

		sleep := p.opts.Delay << (i - 1)
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		p.logger.Warn("AMQP dial attempt %d failed, retrying in %s: %v", i, sleep, lastErr)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("failed to connect to AMQP after %d attempts: %w", attempts, lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	return conn, nil
}

// channel открывает канал, переподключаясь после обрыва соединения
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() {
		ch, err := p.conn.Channel()
		if err == nil {
			return ch, nil
		}
		if !errors.Is(err, amqp.ErrClosed) {
			return nil, err
		}
	}

	p.logger.Warn("AMQP connection lost, reconnecting")
	conn, err := p.connect(ctx, 1)
	if err != nil {
		return nil, err
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = conn
	p.logger.Info("Reconnected to AMQP exchange %s", p.exchange)
	return conn.Channel()
}

// PublishEvent публикует событие и ждет подтверждения брокера
func (p *Publisher) PublishEvent(ctx context.Context, event domain.NotificationEvent) error {
	env := NewEnvelope(event)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return fmt.Errorf("%w: open channel: %v", domain.ErrChannelDelivery, err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("%w: confirm mode: %v", domain.ErrChannelDelivery, err)
	}

	key := RoutingKey(event.Type)
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		AppId:         Producer,
		Timestamp:     env.Meta.Time,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("%w: publish %s: %v", domain.ErrChannelDelivery, key, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("%w: broker nacked %s", domain.ErrChannelDelivery, key)
	}

	p.logger.Debug("Published %s to %s", key, p.exchange)
	return nil
}

// Close закрывает соединение
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
