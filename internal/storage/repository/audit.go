package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
)

// AuditRepository реализует журнал переходов заявок
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository создает новый репозиторий журнала
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Save сохраняет запись журнала
func (r *AuditRepository) Save(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO audit_log (request_id, action, from_status, to_status, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		entry.RequestID,
		entry.Action,
		entry.FromStatus,
		entry.ToStatus,
		entry.Data,
		entry.CreatedAt,
	).Scan(&entry.ID)
}

// ListByRequest получает журнал заявки в хронологическом порядке
func (r *AuditRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.AuditEntry, error) {
	query := `
		SELECT id, request_id, action, from_status, to_status, COALESCE(data, ''), created_at
		FROM audit_log
		WHERE request_id = $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Action, &e.FromStatus, &e.ToStatus, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
