package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// RedemptionRepository реализует работу с заявками на выкуп
type RedemptionRepository struct {
	db *sql.DB
}

// NewRedemptionRepository создает новый репозиторий заявок
func NewRedemptionRepository(db *sql.DB) *RedemptionRepository {
	return &RedemptionRepository{db: db}
}

const redemptionColumns = `
	id, request_number, offering_id, investor_id, investor_email, property_name,
	quantity, token_price, holding_months, gross_value, fee_percent, fee_amount, net_payout,
	status, reservation_id, payout_reference, denial_reason,
	created_at, approved_at, denied_at, processing_at, completed_at, cancelled_at`

// статус -> колонка с моментом перехода
var transitionColumns = map[string]string{
	domain.StatusApproved:   "approved_at",
	domain.StatusDenied:     "denied_at",
	domain.StatusProcessing: "processing_at",
	domain.StatusCompleted:  "completed_at",
	domain.StatusCancelled:  "cancelled_at",
}

func scanRedemption(row interface{ Scan(...any) error }) (*domain.RedemptionRequest, error) {
	req := &domain.RedemptionRequest{}
	err := row.Scan(
		&req.ID,
		&req.RequestNumber,
		&req.OfferingID,
		&req.InvestorID,
		&req.InvestorEmail,
		&req.PropertyName,
		&req.Quantity,
		&req.TokenPrice,
		&req.HoldingMonths,
		&req.GrossValue,
		&req.FeePercent,
		&req.FeeAmount,
		&req.NetPayout,
		&req.Status,
		&req.ReservationID,
		&req.PayoutReference,
		&req.DenialReason,
		&req.CreatedAt,
		&req.ApprovedAt,
		&req.DeniedAt,
		&req.ProcessingAt,
		&req.CompletedAt,
		&req.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Create сохраняет новую заявку
func (r *RedemptionRepository) Create(ctx context.Context, req *domain.RedemptionRequest) error {
	query := `
		INSERT INTO redemption_requests (
			id, request_number, offering_id, investor_id, investor_email, property_name,
			quantity, token_price, holding_months, gross_value, fee_percent, fee_amount, net_payout,
			status, reservation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.RequestNumber,
		req.OfferingID,
		req.InvestorID,
		req.InvestorEmail,
		req.PropertyName,
		req.Quantity,
		req.TokenPrice,
		req.HoldingMonths,
		req.GrossValue,
		req.FeePercent,
		req.FeeAmount,
		req.NetPayout,
		req.Status,
		req.ReservationID,
		req.CreatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && strings.Contains(pqErr.Constraint, "request_number") {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRequestNumber, req.RequestNumber)
	}
	return err
}

// Get получает заявку по ID
func (r *RedemptionRepository) Get(ctx context.Context, id string) (*domain.RedemptionRequest, error) {
	query := `SELECT ` + redemptionColumns + ` FROM redemption_requests WHERE id = $1`
	req, err := scanRedemption(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("redemption %s: %w", id, domain.ErrNotFound)
	}
	return req, err
}

// GetByNumber получает заявку по номеру
func (r *RedemptionRepository) GetByNumber(ctx context.Context, number string) (*domain.RedemptionRequest, error) {
	query := `SELECT ` + redemptionColumns + ` FROM redemption_requests WHERE request_number = $1`
	req, err := scanRedemption(r.db.QueryRowContext(ctx, query, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("redemption %s: %w", number, domain.ErrNotFound)
	}
	return req, err
}

// List получает заявки по фильтру, новые первыми
func (r *RedemptionRepository) List(ctx context.Context, filter domain.RedemptionFilter) ([]domain.RedemptionRequest, error) {
	var conds []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("offering_id", filter.OfferingID)
	add("investor_id", filter.InvestorID)
	add("status", filter.Status)

	query := `SELECT ` + redemptionColumns + ` FROM redemption_requests`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, request_number DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RedemptionRequest
	for rows.Next() {
		req, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// Transition меняет статус только если текущий входит в t.From
func (r *RedemptionRepository) Transition(ctx context.Context, id string, t domain.Transition) (*domain.RedemptionRequest, error) {
	column, ok := transitionColumns[t.To]
	if !ok {
		return nil, fmt.Errorf("%w: unknown target status %q", domain.ErrInvalidTransition, t.To)
	}

	query := `
		UPDATE redemption_requests
		SET status = $3, ` + column + ` = $4,
		    payout_reference = CASE WHEN $5 <> '' THEN $5 ELSE payout_reference END,
		    denial_reason = CASE WHEN $6 <> '' THEN $6 ELSE denial_reason END
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + redemptionColumns

	req, err := scanRedemption(r.db.QueryRowContext(ctx, query,
		id, pq.Array(t.From), t.To, t.At, t.PayoutReference, t.DenialReason,
	))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, t.To)
	}
	return req, err
}

// CountPending считает незавершенные заявки оферты
func (r *RedemptionRepository) CountPending(ctx context.Context, offeringID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM redemption_requests
		WHERE offering_id = $1 AND status IN ('submitted', 'approved', 'processing')`, offeringID,
	).Scan(&n)
	return n, err
}

// MonthlyTotals считает завершенные выкупы оферты в полуинтервале [from, to)
func (r *RedemptionRepository) MonthlyTotals(ctx context.Context, offeringID string, from, to time.Time) (*domain.MonthlyTotals, error) {
	totals := &domain.MonthlyTotals{OfferingID: offeringID, Month: from}
	var amount decimal.NullDecimal
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(net_payout) FROM redemption_requests
		WHERE offering_id = $1 AND status = 'completed'
		  AND completed_at >= $2 AND completed_at < $3`, offeringID, from, to,
	).Scan(&totals.Redemptions, &amount)
	if err != nil {
		return nil, err
	}
	totals.Amount = decimal.Zero
	if amount.Valid {
		totals.Amount = amount.Decimal
	}
	return totals, nil
}
