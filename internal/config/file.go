package config

import (
	"fmt"
	"os"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/fees"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Amount денежная сумма в YAML
type Amount struct {
	decimal.Decimal
}

// UnmarshalYAML разбирает скаляр как десятичное число
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("amount must be a scalar (line %d)", node.Line)
	}
	d, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("amount %q (line %d): %w", node.Value, node.Line, err)
	}
	a.Decimal = d
	return nil
}

// ReserveSpec начальный резерв оферты
type ReserveSpec struct {
	Balance Amount `yaml:"balance"`
	Target  Amount `yaml:"target"`
}

// Offering настройки оферты
type Offering struct {
	PropertyName string       `yaml:"property_name"`
	AdminEmails  []string     `yaml:"admin_emails"`
	SponsorEmail string       `yaml:"sponsor_email"`
	Reserve      *ReserveSpec `yaml:"reserve"`
}

// File содержимое файла LIQUIDITY_CONFIG_PATH
type File struct {
	RequestPrefix string              `yaml:"request_prefix"`
	FeeTiers      []fees.TierSpec     `yaml:"fee_tiers"`
	Offerings     map[string]Offering `yaml:"offerings"`
}

// defaultFile используется, когда путь к файлу не задан
func defaultFile() *File {
	return &File{
		RequestPrefix: "GLR",
		FeeTiers:      fees.DefaultSpecs(),
		Offerings:     map[string]Offering{},
	}
}

// loadFile читает YAML с таблицей комиссий и офертами
func loadFile(path string) (*File, error) {
	if path == "" {
		return defaultFile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parseFile(data)
}

func parseFile(data []byte) (*File, error) {
	file := defaultFile()
	file.FeeTiers = nil

	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", domain.ErrConfig, err)
	}

	if len(file.FeeTiers) == 0 {
		file.FeeTiers = fees.DefaultSpecs()
	}
	if file.RequestPrefix == "" {
		file.RequestPrefix = "GLR"
	}
	if file.Offerings == nil {
		file.Offerings = map[string]Offering{}
	}

	for id, o := range file.Offerings {
		if o.Reserve == nil {
			continue
		}
		if o.Reserve.Balance.IsNegative() || !o.Reserve.Target.IsPositive() {
			return nil, fmt.Errorf("%w: offering %s: reserve balance must be >= 0 and target > 0", domain.ErrConfig, id)
		}
	}

	return file, nil
}
