package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
)

// NotificationRepository реализует работу с in-app уведомлениями
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый репозиторий уведомлений
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert сохраняет уведомление
func (r *NotificationRepository) Insert(ctx context.Context, n *domain.InAppNotification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO notifications (id, user_id, type, title, message, data, is_read, is_archived, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.Data,
		n.IsRead,
		n.IsArchived,
		n.CreatedAt,
	)
	return err
}
