package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/shopspring/decimal"
)

// ReserveRepository реализует работу с резервами оферт и резервациями
type ReserveRepository struct {
	db *sql.DB
}

// NewReserveRepository создает новый репозиторий резервов
func NewReserveRepository(db *sql.DB) *ReserveRepository {
	return &ReserveRepository{db: db}
}

const reserveColumns = `offering_id, balance, target, pending_reserved, low_balance, updated_at`

func scanReserve(row interface{ Scan(...any) error }) (*domain.ReserveAccount, error) {
	acct := &domain.ReserveAccount{}
	err := row.Scan(
		&acct.OfferingID,
		&acct.Balance,
		&acct.Target,
		&acct.PendingReserved,
		&acct.LowBalance,
		&acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Get получает резерв оферты
func (r *ReserveRepository) Get(ctx context.Context, offeringID string) (*domain.ReserveAccount, error) {
	query := `SELECT ` + reserveColumns + ` FROM reserve_accounts WHERE offering_id = $1`
	acct, err := scanReserve(r.db.QueryRowContext(ctx, query, offeringID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reserve %s: %w", offeringID, domain.ErrNotFound)
	}
	return acct, err
}

// Open создает резерв или обновляет цель существующего; баланс существующего не трогается
func (r *ReserveRepository) Open(ctx context.Context, offeringID string, balance, target decimal.Decimal) (*domain.ReserveAccount, error) {
	query := `
		INSERT INTO reserve_accounts (offering_id, balance, target, pending_reserved, low_balance, updated_at)
		VALUES ($1, $2, $3, 0, false, $4)
		ON CONFLICT (offering_id) DO UPDATE
		SET target = EXCLUDED.target, updated_at = EXCLUDED.updated_at
		RETURNING ` + reserveColumns
	return scanReserve(r.db.QueryRowContext(ctx, query, offeringID, balance, target, time.Now()))
}

// Deposit пополняет баланс резерва
func (r *ReserveRepository) Deposit(ctx context.Context, offeringID string, amount decimal.Decimal) (*domain.ReserveAccount, error) {
	query := `
		UPDATE reserve_accounts
		SET balance = balance + $2, updated_at = $3
		WHERE offering_id = $1
		RETURNING ` + reserveColumns
	acct, err := scanReserve(r.db.QueryRowContext(ctx, query, offeringID, amount, time.Now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reserve %s: %w", offeringID, domain.ErrNotFound)
	}
	return acct, err
}

// Reserve резервирует сумму одним условным UPDATE, конкурентные вызовы не уводят остаток в минус
func (r *ReserveRepository) Reserve(ctx context.Context, res *domain.Reservation) (*domain.ReserveAccount, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		UPDATE reserve_accounts
		SET pending_reserved = pending_reserved + $2, updated_at = $3
		WHERE offering_id = $1 AND balance - pending_reserved >= $2
		RETURNING ` + reserveColumns
	acct, err := scanReserve(tx.QueryRowContext(ctx, query, res.OfferingID, res.Amount, res.CreatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM reserve_accounts WHERE offering_id = $1)`, res.OfferingID,
		).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("reserve %s: %w", res.OfferingID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: requested %s on %s", domain.ErrInsufficientReserve, res.Amount.StringFixed(2), res.OfferingID)
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, offering_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ID, res.OfferingID, res.Amount, res.Status, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return acct, nil
}

// Release освобождает активную резервацию
func (r *ReserveRepository) Release(ctx context.Context, reservationID string) (*domain.ReserveAccount, error) {
	return r.close(ctx, reservationID, domain.ReservationReleased)
}

// Settle списывает активную резервацию с баланса
func (r *ReserveRepository) Settle(ctx context.Context, reservationID string) (*domain.ReserveAccount, error) {
	return r.close(ctx, reservationID, domain.ReservationSettled)
}

func (r *ReserveRepository) close(ctx context.Context, reservationID, status string) (*domain.ReserveAccount, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var offeringID, current string
	var amount decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT offering_id, amount, status FROM reservations WHERE id = $1 FOR UPDATE`, reservationID,
	).Scan(&offeringID, &amount, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	switch current {
	case status:
		acct, err := scanReserve(tx.QueryRowContext(ctx,
			`SELECT `+reserveColumns+` FROM reserve_accounts WHERE offering_id = $1`, offeringID))
		if err != nil {
			return nil, err
		}
		return acct, tx.Commit()
	case domain.ReservationActive:
	default:
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrReservationClosed, reservationID, current)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = $2, updated_at = $3 WHERE id = $1`, reservationID, status, now,
	); err != nil {
		return nil, err
	}

	debit := decimal.Zero
	if status == domain.ReservationSettled {
		debit = amount
	}
	acct, err := scanReserve(tx.QueryRowContext(ctx, `
		UPDATE reserve_accounts
		SET pending_reserved = pending_reserved - $2, balance = balance - $3, updated_at = $4
		WHERE offering_id = $1
		RETURNING `+reserveColumns,
		offeringID, amount, debit, now,
	))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return acct, nil
}

// GetReservation получает резервацию по ID
func (r *ReserveRepository) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, offering_id, amount, status, created_at, updated_at
		FROM reservations WHERE id = $1`, reservationID,
	).Scan(&res.ID, &res.OfferingID, &res.Amount, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetLowBalance переключает флаг только если он отличается, и сообщает о переключении
func (r *ReserveRepository) SetLowBalance(ctx context.Context, offeringID string, low bool) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE reserve_accounts SET low_balance = $2
		WHERE offering_id = $1 AND low_balance <> $2`, offeringID, low)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
