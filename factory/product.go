/*
Package factory provides JSON to Go product configuration conversion.

PURPOSE:
  Products keep their rate table and premature-closure policy in a stored
  JSON document so the catalog can be edited without code changes. The
  factory turns that document into a typed bank.ProductConfig, reports what
  is missing, and writes the document back after defaults are filled in.

JSON SCHEMA:
  {
    "rate_table": [
      {"tenor_days": 90,  "annual_rate": "5.00"},
      {"tenor_days": 180, "annual_rate": "5.50"},
      {"tenor_days": 365, "annual_rate": "6.00"}
    ],
    "default_tenor_days": 180,
    "premature_policy": {
      "threshold_months": 3,
      "annual_rate": "3.00"
    }
  }

  Rates are percent per annum. Numbers or strings are accepted.

GAPS:
  Inspect never fails on content; it returns the usable config plus the list
  of gaps it had to fill:
    GapRateTable       document empty, unreadable, or table has no rows
    GapDefaultTenor    default_tenor_days missing or not positive
    GapPrematurePolicy premature_policy missing or incomplete

SEE ALSO:
  - catalog/rates.go: persists the healed document exactly once
  - factory/presets.go: ready-made products for demos and tests
*/
package factory

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProductConfigJSON is the stored configuration document.
type ProductConfigJSON struct {
	RateTable        []RateTierJSON       `json:"rate_table"`
	DefaultTenorDays int                  `json:"default_tenor_days,omitempty"`
	PrematurePolicy  *PrematurePolicyJSON `json:"premature_policy,omitempty"`
}

// RateTierJSON is one tenor -> rate row.
type RateTierJSON struct {
	TenorDays  int             `json:"tenor_days"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
}

// PrematurePolicyJSON is the reduced-rate policy for early closure.
type PrematurePolicyJSON struct {
	ThresholdMonths int              `json:"threshold_months"`
	AnnualRate      *decimal.Decimal `json:"annual_rate,omitempty"`
}

type Gap string

const (
	GapRateTable       Gap = "rate_table"
	GapDefaultTenor    Gap = "default_tenor"
	GapPrematurePolicy Gap = "premature_policy"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultTenorDays                = 180
	DefaultPrematureThresholdMonths = 3
)

var DefaultPrematureAnnualRate = decimal.RequireFromString("3.00")

// DefaultRateTable is the three-tier table written when a product has none.
func DefaultRateTable() []bank.RateTier {
	return []bank.RateTier{
		{TenorDays: 90, AnnualRate: decimal.RequireFromString("5.00")},
		{TenorDays: 180, AnnualRate: decimal.RequireFromString("5.50")},
		{TenorDays: 365, AnnualRate: decimal.RequireFromString("6.00")},
	}
}

// =============================================================================
// PARSING
// =============================================================================

// Inspect parses a configuration document, filling defaults for anything
// missing, and reports the gaps it filled.
func Inspect(raw string) (bank.ProductConfig, []Gap) {
	var gaps []Gap
	var doc ProductConfigJSON
	if strings.TrimSpace(raw) == "" || json.Unmarshal([]byte(raw), &doc) != nil {
		doc = ProductConfigJSON{}
	}

	cfg := bank.ProductConfig{
		DefaultTenorDays: doc.DefaultTenorDays,
	}
	for _, row := range doc.RateTable {
		if row.TenorDays <= 0 {
			continue
		}
		cfg.RateTable = append(cfg.RateTable, bank.RateTier{TenorDays: row.TenorDays, AnnualRate: row.AnnualRate})
	}
	if len(cfg.RateTable) == 0 {
		gaps = append(gaps, GapRateTable)
		cfg.RateTable = DefaultRateTable()
	}

	if cfg.DefaultTenorDays <= 0 {
		gaps = append(gaps, GapDefaultTenor)
		cfg.DefaultTenorDays = DefaultTenorDays
	}

	pp := doc.PrematurePolicy
	if pp == nil || pp.ThresholdMonths <= 0 || pp.AnnualRate == nil || pp.AnnualRate.IsNegative() {
		gaps = append(gaps, GapPrematurePolicy)
		cfg.PrematureThresholdMonths = DefaultPrematureThresholdMonths
		cfg.PrematureAnnualRate = DefaultPrematureAnnualRate
		if pp != nil && pp.ThresholdMonths > 0 {
			cfg.PrematureThresholdMonths = pp.ThresholdMonths
		}
		if pp != nil && pp.AnnualRate != nil && !pp.AnnualRate.IsNegative() {
			cfg.PrematureAnnualRate = *pp.AnnualRate
		}
	} else {
		cfg.PrematureThresholdMonths = pp.ThresholdMonths
		cfg.PrematureAnnualRate = *pp.AnnualRate
	}

	return cfg, gaps
}

// ToJSON renders a typed configuration as its stored document.
func ToJSON(cfg bank.ProductConfig) string {
	doc := ProductConfigJSON{DefaultTenorDays: cfg.DefaultTenorDays}
	for _, t := range cfg.RateTable {
		doc.RateTable = append(doc.RateTable, RateTierJSON{TenorDays: t.TenorDays, AnnualRate: t.AnnualRate})
	}
	rate := cfg.PrematureAnnualRate
	doc.PrematurePolicy = &PrematurePolicyJSON{
		ThresholdMonths: cfg.PrematureThresholdMonths,
		AnnualRate:      &rate,
	}
	out, _ := json.Marshal(doc)
	return string(out)
}
