// Package alerts рассылает операторам предупреждения о здоровье резервов.
package alerts

import (
	"context"
	"strings"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/pkg/utils"
)

// Dispatcher рассылает событие по каналам
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.NotificationEvent) domain.DeliveryReport
}

// PendingCounter считает незавершенные заявки оферты
type PendingCounter interface {
	CountPending(ctx context.Context, offeringID string) (int, error)
}

// Offering параметры оферты, известные роутеру
type Offering struct {
	PropertyName string
	AdminEmails  []string
	SponsorEmail string
}

// Router выбирает получателей и отправляет reserve_low_warning
type Router struct {
	dispatcher Dispatcher
	pending    PendingCounter
	offerings  map[string]Offering
	fallback   []string
	logger     *utils.Logger
}

// NewRouter создает роутер. fallback используется для оферт без своего списка.
func NewRouter(dispatcher Dispatcher, pending PendingCounter, offerings map[string]Offering, fallback []string, logger *utils.Logger) *Router {
	if offerings == nil {
		offerings = make(map[string]Offering)
	}
	return &Router{
		dispatcher: dispatcher,
		pending:    pending,
		offerings:  offerings,
		fallback:   normalize(fallback),
		logger:     logger.With("alerts"),
	}
}

// normalize убирает пустые адреса и дубликаты, сохраняя порядок
func normalize(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.TrimSpace(e)
		key := strings.ToLower(e)
		if e == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// AdminEmails возвращает администраторов оферты или глобальный список
func (r *Router) AdminEmails(offeringID string) []string {
	if o, ok := r.offerings[offeringID]; ok {
		if emails := normalize(o.AdminEmails); len(emails) > 0 {
			return emails
		}
	}
	return append([]string(nil), r.fallback...)
}

// SponsorEmail возвращает адрес спонсора оферты
func (r *Router) SponsorEmail(offeringID string) string {
	return strings.TrimSpace(r.offerings[offeringID].SponsorEmail)
}

// PropertyName возвращает название объекта оферты
func (r *Router) PropertyName(offeringID string) string {
	return r.offerings[offeringID].PropertyName
}

// RouteReserveWarning рассылает предупреждение о пересечении порога вниз.
// Вызывается леджером только на переходе, поэтому дедупликация не нужна.
func (r *Router) RouteReserveWarning(ctx context.Context, offeringID string, snap domain.ReserveSnapshot) error {
	balance, target := snap.Balance, snap.Target
	data := domain.EventData{
		OfferingID:     offeringID,
		PropertyName:   r.PropertyName(offeringID),
		ReserveBalance: &balance,
		ReserveTarget:  &target,
		AdminEmails:    r.AdminEmails(offeringID),
	}

	if r.pending != nil {
		n, err := r.pending.CountPending(ctx, offeringID)
		if err != nil {
			r.logger.Warn("Failed to count pending requests for %s: %v", offeringID, err)
		} else {
			data.PendingRequestsCount = &n
		}
	}

	at := snap.TakenAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	event := domain.NewEvent(domain.EventReserveLowWarning, data, at, offeringID, at.UTC().Format(time.RFC3339Nano))

	r.logger.Warn("Reserve for %s below threshold: balance %s of target %s (ratio %s), %d admin recipients",
		offeringID, balance.StringFixed(2), target.StringFixed(2), snap.Ratio.StringFixed(4), len(data.AdminEmails))

	report := r.dispatcher.Dispatch(ctx, event)
	if report.Count(domain.DeliverySent) == 0 {
		r.logger.Error("Reserve warning for %s was not delivered to any channel", offeringID)
	}
	return nil
}
