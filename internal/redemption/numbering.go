package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
)

// DefaultPrefix префикс номера заявки по умолчанию
const DefaultPrefix = "GLR"

const maxNumberAttempts = 5

// Numberer выдает номера вида PREFIX-YEAR-NNNN из персистентного счетчика года
type Numberer struct {
	prefix string
	seq    domain.SequenceRepository
	repo   domain.RedemptionRepository
}

// NewNumberer создает генератор номеров
func NewNumberer(prefix string, seq domain.SequenceRepository, repo domain.RedemptionRepository) *Numberer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Numberer{prefix: prefix, seq: seq, repo: repo}
}

// Format собирает номер заявки
func Format(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, n)
}

// Next возвращает следующий свободный номер для года at.
// Номер, уже занятый заявкой, пропускается.
func (n *Numberer) Next(ctx context.Context, at time.Time) (string, error) {
	year := at.UTC().Year()
	scope := fmt.Sprintf("%s-%d", n.prefix, year)

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		v, err := n.seq.Next(ctx, scope)
		if err != nil {
			return "", fmt.Errorf("next sequence value for %s: %w", scope, err)
		}
		number := Format(n.prefix, year, v)

		_, err = n.repo.GetByNumber(ctx, number)
		if errors.Is(err, domain.ErrNotFound) {
			return number, nil
		}
		if err != nil {
			return "", fmt.Errorf("check request number %s: %w", number, err)
		}
	}
	return "", fmt.Errorf("%w: no free number in %s after %d attempts", domain.ErrDuplicateRequestNumber, scope, maxNumberAttempts)
}
