package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// eventNamespace пространство имен для ключей идемпотентности событий
var eventNamespace = uuid.MustParse("6f1c1a7e-3d2b-4f8e-9a55-0c1d2e3f4a5b")

// IdempotencyKey детерминированный ключ по естественному ключу события,
// для заявок это (тип события, request_id, статус)
func IdempotencyKey(parts ...string) string {
	return uuid.NewSHA1(eventNamespace, []byte(strings.Join(parts, "|"))).String()
}

// NewEvent создает событие с новым ID и ключом идемпотентности
func NewEvent(eventType string, data EventData, at time.Time, naturalKey ...string) NotificationEvent {
	key := append([]string{eventType}, naturalKey...)
	return NotificationEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		Data:           data,
		IdempotencyKey: IdempotencyKey(key...),
		OccurredAt:     at.UTC(),
	}
}
