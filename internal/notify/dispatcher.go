// Package notify рассылает события заявок и резервов по каналам:
// email, in-app, вебхук, Telegram и шина событий.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/metrics"
	"github.com/kirillm/liquidity/pkg/utils"
)

// DefaultTimeout таймаут одного канала по умолчанию
const DefaultTimeout = 10 * time.Second

// EmailSender отправляет письма
type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

// WebhookSender отправляет событие во внешний вебхук
type WebhookSender interface {
	Send(ctx context.Context, event domain.NotificationEvent) error
}

// ChatSender отправляет событие в операторский чат
type ChatSender interface {
	SendEvent(ctx context.Context, event domain.NotificationEvent) error
}

// Publisher публикует событие в шину
type Publisher interface {
	PublishEvent(ctx context.Context, event domain.NotificationEvent) error
}

// Dispatcher рассылает событие по всем каналам параллельно и собирает отчет
type Dispatcher struct {
	email    EmailSender
	inApp    domain.NotificationRepository
	webhook  WebhookSender
	chat     ChatSender
	bus      Publisher
	timeouts map[string]time.Duration
	fallback time.Duration
	logger   *utils.Logger
}

// Option настраивает Dispatcher
type Option func(*Dispatcher)

// WithEmail подключает email-канал
func WithEmail(s EmailSender) Option { return func(d *Dispatcher) { d.email = s } }

// WithInApp подключает in-app канал
func WithInApp(r domain.NotificationRepository) Option { return func(d *Dispatcher) { d.inApp = r } }

// WithWebhook подключает вебхук
func WithWebhook(s WebhookSender) Option { return func(d *Dispatcher) { d.webhook = s } }

// WithChat подключает операторский чат
func WithChat(s ChatSender) Option { return func(d *Dispatcher) { d.chat = s } }

// WithBus подключает шину событий
func WithBus(p Publisher) Option { return func(d *Dispatcher) { d.bus = p } }

// WithTimeout задает таймаут канала
func WithTimeout(channel string, timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeouts[channel] = timeout }
}

// WithDefaultTimeout задает таймаут для каналов без своего значения
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.fallback = timeout }
}

// NewDispatcher создает диспетчер; неподключенные каналы дают исход skipped
func NewDispatcher(logger *utils.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		timeouts: make(map[string]time.Duration),
		fallback: DefaultTimeout,
		logger:   logger.With("notify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type task struct {
	channel   string
	recipient string
	skip      string
	run       func(ctx context.Context) error
}

func skipped(channel, recipient, reason string) task {
	return task{channel: channel, recipient: recipient, skip: reason}
}

// plan строит набор задач доставки по типу события
func (d *Dispatcher) plan(event domain.NotificationEvent) []task {
	data := event.Data
	var tasks []task

	switch {
	case domain.IsInvestorLifecycle(event.Type):
		tasks = append(tasks, d.emailTask(event, data.InvestorEmail, "investor email unknown"))
		tasks = append(tasks, d.inAppTask(event))
		tasks = append(tasks, d.webhookTask(event), d.busTask(event))

	case domain.IsAdminEvent(event.Type):
		if len(data.AdminEmails) == 0 {
			tasks = append(tasks, skipped(domain.ChannelEmail, "", "no admin recipients"))
		}
		for _, addr := range data.AdminEmails {
			tasks = append(tasks, d.emailTask(event, addr, "admin email empty"))
		}
		tasks = append(tasks, d.chatTask(event))
		if event.Type == domain.EventReserveLowWarning {
			tasks = append(tasks, d.webhookTask(event), d.busTask(event))
		}

	case event.Type == domain.EventSponsorMonthlyReport:
		tasks = append(tasks, d.emailTask(event, data.SponsorEmail, "sponsor email unknown"))
	}

	return tasks
}

func (d *Dispatcher) emailTask(event domain.NotificationEvent, to, missing string) task {
	if d.email == nil {
		return skipped(domain.ChannelEmail, to, "email not configured")
	}
	if to == "" {
		return skipped(domain.ChannelEmail, "", missing)
	}
	subject, body, ok := RenderEmail(event)
	if !ok {
		return skipped(domain.ChannelEmail, to, "no template for "+event.Type)
	}
	return task{
		channel:   domain.ChannelEmail,
		recipient: to,
		run: func(ctx context.Context) error {
			return d.email.Send(ctx, Email{To: []string{to}, Subject: subject, Text: body})
		},
	}
}

func (d *Dispatcher) inAppTask(event domain.NotificationEvent) task {
	if d.inApp == nil {
		return skipped(domain.ChannelInApp, "", "in-app not configured")
	}
	if event.Data.InvestorID == "" {
		return skipped(domain.ChannelInApp, "", "investor id unknown")
	}
	item := BuildInApp(event)
	if item == nil {
		return skipped(domain.ChannelInApp, event.Data.InvestorID, "no template for "+event.Type)
	}
	return task{
		channel:   domain.ChannelInApp,
		recipient: item.UserID,
		run: func(ctx context.Context) error {
			return d.inApp.Insert(ctx, item)
		},
	}
}

func (d *Dispatcher) webhookTask(event domain.NotificationEvent) task {
	if d.webhook == nil {
		return skipped(domain.ChannelWebhook, "", "endpoint not configured")
	}
	return task{
		channel: domain.ChannelWebhook,
		run:     func(ctx context.Context) error { return d.webhook.Send(ctx, event) },
	}
}

func (d *Dispatcher) chatTask(event domain.NotificationEvent) task {
	if d.chat == nil {
		return skipped(domain.ChannelTelegram, "", "operator chat not configured")
	}
	return task{
		channel: domain.ChannelTelegram,
		run:     func(ctx context.Context) error { return d.chat.SendEvent(ctx, event) },
	}
}

func (d *Dispatcher) busTask(event domain.NotificationEvent) task {
	if d.bus == nil {
		return skipped(domain.ChannelBus, "", "bus not configured")
	}
	return task{
		channel: domain.ChannelBus,
		run:     func(ctx context.Context) error { return d.bus.PublishEvent(ctx, event) },
	}
}

func (d *Dispatcher) timeout(channel string) time.Duration {
	if t, ok := d.timeouts[channel]; ok && t > 0 {
		return t
	}
	return d.fallback
}

// Dispatch запускает задачу на каждую пару канал/получатель и ждет все.
// Ошибки каналов попадают в отчет, сам Dispatch ошибок не возвращает.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.NotificationEvent) domain.DeliveryReport {
	tasks := d.plan(event)
	report := domain.DeliveryReport{
		EventID:        event.ID,
		EventType:      event.Type,
		IdempotencyKey: event.IdempotencyKey,
		Outcomes:       make([]domain.DeliveryOutcome, len(tasks)),
	}
	if len(tasks) == 0 {
		d.logger.Warn("No delivery channels for event type %s", event.Type)
		return report
	}

	var wg sync.WaitGroup
	for i, t := range tasks {
		if t.skip != "" {
			report.Outcomes[i] = domain.DeliveryOutcome{
				Channel:   t.channel,
				Recipient: t.recipient,
				Status:    domain.DeliverySkipped,
				Error:     t.skip,
			}
			continue
		}
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			report.Outcomes[i] = d.run(ctx, t)
		}(i, t)
	}
	wg.Wait()

	for _, o := range report.Outcomes {
		metrics.Deliveries.WithLabelValues(o.Channel, o.Status).Inc()
		if o.Status == domain.DeliveryFailed {
			d.logger.Warn("Delivery of %s via %s to %q failed: %s", event.Type, o.Channel, o.Recipient, o.Error)
		}
	}
	d.logger.Debug("Dispatched %s (%s): sent=%d failed=%d skipped=%d", event.Type, event.IdempotencyKey,
		report.Count(domain.DeliverySent), report.Count(domain.DeliveryFailed), report.Count(domain.DeliverySkipped))

	return report
}

// run выполняет одну задачу с собственным таймаутом. Канал, который не
// уважает контекст, все равно получает failed по истечении таймаута.
func (d *Dispatcher) run(ctx context.Context, t task) domain.DeliveryOutcome {
	timeout := d.timeout(t.channel)
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- t.run(tctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-tctx.Done():
		err = tctx.Err()
	}
	elapsed := time.Since(start)
	metrics.DeliveryDuration.WithLabelValues(t.channel).Observe(elapsed.Seconds())

	outcome := domain.DeliveryOutcome{
		Channel:   t.channel,
		Recipient: t.recipient,
		Status:    domain.DeliverySent,
		Duration:  elapsed,
	}
	if err != nil {
		outcome.Status = domain.DeliveryFailed
		outcome.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			outcome.Error = fmt.Sprintf("timeout after %s", timeout)
		}
	}
	return outcome
}
