package repository

import (
	"context"
	"database/sql"
)

// SequenceRepository реализует персистентные счетчики номеров заявок
type SequenceRepository struct {
	db *sql.DB
}

// NewSequenceRepository создает новый репозиторий счетчиков
func NewSequenceRepository(db *sql.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Next атомарно увеличивает счетчик области и возвращает новое значение
func (r *SequenceRepository) Next(ctx context.Context, scope string) (int64, error) {
	query := `
		INSERT INTO request_sequences (scope, last_value) VALUES ($1, 1)
		ON CONFLICT (scope) DO UPDATE SET last_value = request_sequences.last_value + 1
		RETURNING last_value
	`
	var next int64
	err := r.db.QueryRowContext(ctx, query, scope).Scan(&next)
	return next, err
}
