// Package fees рассчитывает выплату по гарантированному выкупу
// на основании таблицы комиссий, зависящей от срока владения.
package fees

import (
	"fmt"
	"sort"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Schedule провалидированная таблица комиссий
type Schedule struct {
	tiers []domain.FeeTier
}

// NewSchedule проверяет, что тиры покрывают [0, ∞) без пропусков и пересечений
func NewSchedule(tiers []domain.FeeTier) (*Schedule, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: fee schedule is empty", domain.ErrConfig)
	}

	sorted := make([]domain.FeeTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinMonths < sorted[j].MinMonths
	})

	if sorted[0].MinMonths != 0 {
		return nil, fmt.Errorf("%w: first tier must start at 0 months, got %d", domain.ErrConfig, sorted[0].MinMonths)
	}

	for i, t := range sorted {
		if t.FeePercent.IsNegative() || t.FeePercent.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: tier %d fee %s%% out of range [0, 100]", domain.ErrConfig, i, t.FeePercent)
		}

		last := i == len(sorted)-1
		if t.MaxMonths == nil {
			if !last {
				return nil, fmt.Errorf("%w: only the last tier may be unbounded (tier %d)", domain.ErrConfig, i)
			}
			continue
		}
		if *t.MaxMonths <= t.MinMonths {
			return nil, fmt.Errorf("%w: tier %d has max %d <= min %d", domain.ErrConfig, i, *t.MaxMonths, t.MinMonths)
		}
		if last {
			return nil, fmt.Errorf("%w: last tier must be unbounded, got max %d", domain.ErrConfig, *t.MaxMonths)
		}

		next := sorted[i+1]
		switch {
		case next.MinMonths > *t.MaxMonths:
			return nil, fmt.Errorf("%w: gap between %d and %d months", domain.ErrConfig, *t.MaxMonths, next.MinMonths)
		case next.MinMonths < *t.MaxMonths:
			return nil, fmt.Errorf("%w: tiers overlap at %d months", domain.ErrConfig, next.MinMonths)
		}
		if next.FeePercent.GreaterThan(t.FeePercent) {
			return nil, fmt.Errorf("%w: fee increases from %s%% to %s%% at %d months",
				domain.ErrConfig, t.FeePercent, next.FeePercent, next.MinMonths)
		}
	}

	return &Schedule{tiers: sorted}, nil
}

// Tiers возвращает копию тиров
func (s *Schedule) Tiers() []domain.FeeTier {
	out := make([]domain.FeeTier, len(s.tiers))
	copy(out, s.tiers)
	return out
}

// TierFor выбирает тир для срока владения
func (s *Schedule) TierFor(holdingMonths int) (domain.FeeTier, error) {
	if holdingMonths < 0 {
		return domain.FeeTier{}, fmt.Errorf("%w: holding months must be >= 0", domain.ErrInvalidInput)
	}
	for _, t := range s.tiers {
		if t.Contains(holdingMonths) {
			return t, nil
		}
	}
	// недостижимо для провалидированной таблицы
	return domain.FeeTier{}, fmt.Errorf("%w: no tier for %d months", domain.ErrConfig, holdingMonths)
}

// ComputePayout рассчитывает разбивку выплаты.
// Комиссия округляется до цента, чистая выплата получается вычитанием,
// поэтому NetPayout + FeeAmount == GrossValue всегда.
func (s *Schedule) ComputePayout(quantity, tokenPrice decimal.Decimal, holdingMonths int) (domain.Payout, error) {
	if !quantity.IsPositive() {
		return domain.Payout{}, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	if !tokenPrice.IsPositive() {
		return domain.Payout{}, fmt.Errorf("%w: token price must be positive", domain.ErrInvalidInput)
	}

	tier, err := s.TierFor(holdingMonths)
	if err != nil {
		return domain.Payout{}, err
	}

	gross := quantity.Mul(tokenPrice).Round(2)
	fee := gross.Mul(tier.FeePercent).Div(hundred).Round(2)

	return domain.Payout{
		GrossValue:  gross,
		FeeAmount:   fee,
		NetPayout:   gross.Sub(fee),
		TierApplied: tier,
	}, nil
}

// ComputePayout валидирует таблицу и считает выплату за один вызов
func ComputePayout(quantity, tokenPrice decimal.Decimal, holdingMonths int, tiers []domain.FeeTier) (domain.Payout, error) {
	s, err := NewSchedule(tiers)
	if err != nil {
		return domain.Payout{}, err
	}
	return s.ComputePayout(quantity, tokenPrice, holdingMonths)
}

// HoldingMonths считает полные календарные месяцы владения
func HoldingMonths(acquiredAt, now time.Time) int {
	if !now.After(acquiredAt) {
		return 0
	}
	acquiredAt = acquiredAt.UTC()
	now = now.UTC()

	months := (now.Year()-acquiredAt.Year())*12 + int(now.Month()) - int(acquiredAt.Month())
	// месяц не закончен, если день (или время внутри дня) еще не наступил
	anniversary := acquiredAt.AddDate(0, months, 0)
	if anniversary.After(now) {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
