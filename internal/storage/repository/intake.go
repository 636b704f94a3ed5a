package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
)

// IntakeRepository управляет историей остановок приема заявок
type IntakeRepository struct {
	db *sql.DB
}

// NewIntakeRepository создает новый репозиторий
func NewIntakeRepository(db *sql.DB) *IntakeRepository {
	return &IntakeRepository{db: db}
}

// SavePause сохраняет событие остановки
func (r *IntakeRepository) SavePause(ctx context.Context, p *domain.IntakePause) error {
	if p.PausedAt.IsZero() {
		p.PausedAt = time.Now()
	}

	query := `
		INSERT INTO intake_pauses (reason, paused_at)
		VALUES ($1, $2)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query, p.Reason, p.PausedAt).Scan(&p.ID)
}

// Resume закрывает все действующие остановки
func (r *IntakeRepository) Resume(ctx context.Context, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE intake_pauses SET resumed_at = $1 WHERE resumed_at IS NULL`, at)
	return err
}

// Active получает последнюю действующую остановку
func (r *IntakeRepository) Active(ctx context.Context) (*domain.IntakePause, error) {
	query := `
		SELECT id, reason, paused_at, resumed_at
		FROM intake_pauses
		WHERE resumed_at IS NULL
		ORDER BY paused_at DESC
		LIMIT 1
	`
	var p domain.IntakePause
	var resumedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query).Scan(&p.ID, &p.Reason, &p.PausedAt, &resumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resumedAt.Valid {
		p.ResumedAt = &resumedAt.Time
	}
	return &p, nil
}
