package fees

import (
	"fmt"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Percent процент комиссии, читаемый из YAML без потери точности
type Percent struct {
	decimal.Decimal
}

// UnmarshalYAML разбирает скаляр как десятичное число
func (p *Percent) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("fee_percent must be a scalar (line %d)", node.Line)
	}
	d, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("fee_percent %q (line %d): %w", node.Value, node.Line, err)
	}
	p.Decimal = d
	return nil
}

// TierSpec описание тира в конфигурационном файле
type TierSpec struct {
	MinMonths  int     `yaml:"min_months"`
	MaxMonths  *int    `yaml:"max_months"`
	FeePercent Percent `yaml:"fee_percent"`
}

// FromSpecs строит расписание из конфигурации, ошибки оборачивают ErrConfig
func FromSpecs(specs []TierSpec) (*Schedule, error) {
	tiers := make([]domain.FeeTier, 0, len(specs))
	for _, s := range specs {
		tiers = append(tiers, domain.FeeTier{
			MinMonths:  s.MinMonths,
			MaxMonths:  s.MaxMonths,
			FeePercent: s.FeePercent.Decimal,
		})
	}
	return NewSchedule(tiers)
}

// DefaultSpecs таблица комиссий по умолчанию: 15% до 6 мес, 10% до 12 мес, далее 5%
func DefaultSpecs() []TierSpec {
	six, twelve := 6, 12
	return []TierSpec{
		{MinMonths: 0, MaxMonths: &six, FeePercent: Percent{decimal.NewFromInt(15)}},
		{MinMonths: 6, MaxMonths: &twelve, FeePercent: Percent{decimal.NewFromInt(10)}},
		{MinMonths: 12, FeePercent: Percent{decimal.NewFromInt(5)}},
	}
}
