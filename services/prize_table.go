package services

import (
	"fmt"
	"os"
	"sort"

	"competition-engine/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PrizeRange awards Amount to every position in [From, To].
type PrizeRange struct {
	From   int
	To     int
	Amount decimal.Decimal
}

// PrizeTable maps final positions to prize amounts. Exact positions win over
// ranges; positions covered by neither get nothing.
type PrizeTable struct {
	Positions map[int]decimal.Decimal
	Ranges    []PrizeRange
}

func (t PrizeTable) PrizeFor(position int) decimal.Decimal {
	if amount, ok := t.Positions[position]; ok {
		return amount
	}
	for _, r := range t.Ranges {
		if position >= r.From && position <= r.To {
			return r.Amount
		}
	}
	return decimal.Zero
}

// Validate rejects negative amounts, inverted ranges and ranges that overlap
// each other.
func (t PrizeTable) Validate() error {
	for pos, amount := range t.Positions {
		if pos < 1 {
			return fmt.Errorf("prize position %d must be >= 1", pos)
		}
		if amount.IsNegative() {
			return fmt.Errorf("prize for position %d is negative", pos)
		}
	}

	ranges := append([]PrizeRange(nil), t.Ranges...)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].From < ranges[j].From })
	for i, r := range ranges {
		if r.From < 1 || r.To < r.From {
			return fmt.Errorf("prize range %d-%d is invalid", r.From, r.To)
		}
		if r.Amount.IsNegative() {
			return fmt.Errorf("prize for range %d-%d is negative", r.From, r.To)
		}
		if i > 0 && r.From <= ranges[i-1].To {
			return fmt.Errorf("prize ranges %d-%d and %d-%d overlap", ranges[i-1].From, ranges[i-1].To, r.From, r.To)
		}
	}
	return nil
}

// PrizeTables holds one table per competition kind.
type PrizeTables map[models.Kind]PrizeTable

func (p PrizeTables) For(kind models.Kind) PrizeTable {
	return p[kind]
}

// DefaultPrizeTables pays the weekly podium and nothing for daily competitions.
func DefaultPrizeTables() PrizeTables {
	return PrizeTables{
		models.KindDaily: {},
		models.KindWeekly: {
			Positions: map[int]decimal.Decimal{
				1: decimal.RequireFromString("100.00"),
				2: decimal.RequireFromString("50.00"),
				3: decimal.RequireFromString("25.00"),
			},
		},
	}
}

// prizeTableFile is the YAML layout:
//
//	weekly:
//	  positions:
//	    1: "100.00"
//	  ranges:
//	    - {from: 4, to: 10, amount: "5.00"}
type prizeTableFile map[string]struct {
	Positions map[int]string `yaml:"positions"`
	Ranges    []struct {
		From   int    `yaml:"from"`
		To     int    `yaml:"to"`
		Amount string `yaml:"amount"`
	} `yaml:"ranges"`
}

// ParsePrizeTables reads prize tables from YAML. Amounts are strings so no
// float ever touches money.
func ParsePrizeTables(data []byte) (PrizeTables, error) {
	var raw prizeTableFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse prize table: %w", err)
	}

	tables := PrizeTables{}
	for name, entry := range raw {
		kind := models.Kind(name)
		if !kind.Valid() {
			return nil, fmt.Errorf("prize table for unknown kind %q", name)
		}

		table := PrizeTable{Positions: make(map[int]decimal.Decimal, len(entry.Positions))}
		for pos, amount := range entry.Positions {
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return nil, fmt.Errorf("%s position %d: invalid amount %q: %w", name, pos, amount, err)
			}
			table.Positions[pos] = d
		}
		for _, r := range entry.Ranges {
			d, err := decimal.NewFromString(r.Amount)
			if err != nil {
				return nil, fmt.Errorf("%s range %d-%d: invalid amount %q: %w", name, r.From, r.To, r.Amount, err)
			}
			table.Ranges = append(table.Ranges, PrizeRange{From: r.From, To: r.To, Amount: d})
		}
		if err := table.Validate(); err != nil {
			return nil, fmt.Errorf("%s prize table: %w", name, err)
		}
		tables[kind] = table
	}
	return tables, nil
}

// LoadPrizeTables reads the prize table file at path, or returns the
// defaults when path is empty.
func LoadPrizeTables(path string) (PrizeTables, error) {
	if path == "" {
		return DefaultPrizeTables(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prize table %s: %w", path, err)
	}
	return ParsePrizeTables(data)
}
