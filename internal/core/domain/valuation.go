package domain

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

type DeductionKind string

const (
	DeductionAmount     DeductionKind = "AMOUNT"
	DeductionPercentage DeductionKind = "PERCENTAGE"
)

func (k DeductionKind) Valid() bool {
	return k == DeductionAmount || k == DeductionPercentage
}

// Deduction is one itemized reason the price went down.
type Deduction struct {
	Category string        `json:"category"`
	Reason   string        `json:"reason"`
	Kind     DeductionKind `json:"kind"`
	Value    float64       `json:"value"`
}

// Amount resolves the deduction against base.
func (d Deduction) Amount(base float64) float64 {
	if d.Kind == DeductionPercentage {
		return d.Value / 100 * base
	}
	return d.Value
}

type BasePriceSource string

const (
	BasePriceCatalog   BasePriceSource = "catalog"
	BasePriceHeuristic BasePriceSource = "heuristic"
)

// ValuationResult is the engine's output; Error is set only when the
// engine itself degraded and every number was zeroed.
type ValuationResult struct {
	BasePrice       float64         `json:"base_price"`
	BasePriceSource BasePriceSource `json:"base_price_source,omitempty"`
	Deductions      []Deduction     `json:"deductions"`
	TotalDeduction  float64         `json:"total_deduction"`
	FinalPrice      float64         `json:"final_price"`
	Error           string          `json:"error,omitempty"`
}

// DeviceModel is a catalog row giving the base price of one configuration.
type DeviceModel struct {
	Brand           string    `json:"brand"`
	Model           string    `json:"model"`
	StorageCapacity string    `json:"storage_capacity"`
	BasePrice       float64   `json:"base_price"`
	Active          bool      `json:"is_active"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RuleTarget says which normalized field a pricing rule inspects.
type RuleTarget string

const (
	TargetAppearanceTier  RuleTarget = "appearance-tier"
	TargetAppearanceIssue RuleTarget = "appearance-issue"
	TargetScreenIssue     RuleTarget = "screen-issue"
	TargetBatteryCapacity RuleTarget = "battery-capacity"
	TargetCameraIssue     RuleTarget = "camera-issue"
)

func (t RuleTarget) Valid() bool {
	switch t {
	case TargetAppearanceTier, TargetAppearanceIssue, TargetScreenIssue, TargetBatteryCapacity, TargetCameraIssue:
		return true
	}
	return false
}

// PricingRule is one row of the ordered deduction table.
//
// For keyword targets a rule matches when any keyword starts a word of the
// inspected text, case-insensitively; Han keywords match any substring. For
// battery-capacity, Threshold is the capacity below which Value is charged
// per missing percentage point.
type PricingRule struct {
	ID        string        `json:"id"`
	Position  int           `json:"position"`
	Target    RuleTarget    `json:"target"`
	Category  string        `json:"category"`
	Reason    string        `json:"reason"`
	Keywords  []string      `json:"keywords"`
	Kind      DeductionKind `json:"deduction_type"`
	Value     float64       `json:"deduction_value"`
	Threshold float64       `json:"threshold,omitempty"`
	Active    bool          `json:"is_active"`
}

// Matches reports whether any keyword occurs in text. Han keywords match
// anywhere; other keywords must start a word, so "dent" matches "dents" but
// not "evident".
func (r PricingRule) Matches(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range r.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if hasHan(kw) {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		if containsWordPrefix(lower, kw) {
			return true
		}
	}
	return false
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func containsWordPrefix(text, kw string) bool {
	for from := 0; from <= len(text)-len(kw); {
		i := strings.Index(text[from:], kw)
		if i < 0 {
			return false
		}
		i += from
		prev, _ := utf8.DecodeLastRuneInString(text[:i])
		if i == 0 || !(unicode.IsLetter(prev) || unicode.IsDigit(prev)) {
			return true
		}
		from = i + 1
	}
	return false
}
