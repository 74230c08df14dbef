package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
)

var percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

// ValuationEngine turns a normalized record into a price. Apart from the
// base price lookup it is a pure function of its inputs and the current
// rule snapshot.
type ValuationEngine struct {
	logger  *slog.Logger
	catalog ports.PriceCatalog
	rules   atomic.Pointer[RuleSet]
}

func NewValuationEngine(logger *slog.Logger, catalog ports.PriceCatalog) *ValuationEngine {
	e := &ValuationEngine{logger: logger, catalog: catalog}
	e.rules.Store(NewRuleSet(DefaultPricingRules()))
	return e
}

// ReloadRules swaps in the persisted rule table. An empty table keeps the
// built-in defaults.
func (e *ValuationEngine) ReloadRules(ctx context.Context) error {
	if e.catalog == nil {
		return nil
	}
	rules, err := e.catalog.ListPricingRules(ctx)
	if err != nil {
		return fmt.Errorf("load pricing rules: %w", err)
	}
	if len(rules) == 0 {
		e.logger.Warn("pricing rule table empty, keeping defaults")
		return nil
	}
	rs := NewRuleSet(rules)
	e.rules.Store(rs)
	e.logger.Info("pricing rules reloaded", "active", rs.Len())
	return nil
}

// Rules returns the snapshot used by the next valuation.
func (e *ValuationEngine) Rules() *RuleSet {
	return e.rules.Load()
}

// Value prices the device. It never returns an error; an internal fault
// yields a zeroed result with Error set.
func (e *ValuationEngine) Value(ctx context.Context, device domain.DeviceInfo, rec domain.NormalizedRecord) (result domain.ValuationResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("valuation panicked", "panic", r)
			result = domain.ValuationResult{
				Deductions: []domain.Deduction{},
				Error:      fmt.Sprintf("valuation failed: %v", r),
			}
		}
	}()

	rules := e.rules.Load()
	base, source := e.basePrice(ctx, device)
	deductions := Deductions(rules, rec)

	total := 0.0
	for _, d := range deductions {
		total += d.Amount(base)
	}

	return domain.ValuationResult{
		BasePrice:       round2(base),
		BasePriceSource: source,
		Deductions:      deductions,
		TotalDeduction:  round2(total),
		FinalPrice:      round2(math.Max(0, base-total)),
	}
}

func (e *ValuationEngine) basePrice(ctx context.Context, device domain.DeviceInfo) (float64, domain.BasePriceSource) {
	if e.catalog != nil {
		price, err := e.catalog.LookupBasePrice(ctx, device.Brand, device.Model, device.Storage)
		switch {
		case err == nil && price >= 0:
			return price, domain.BasePriceCatalog
		case err != nil && !errors.Is(err, domain.ErrDeviceModelNotFound):
			e.logger.Warn("base price lookup failed, using heuristic", "brand", device.Brand, "model", device.Model, "error", err)
		}
	}
	return HeuristicBasePrice(device.Brand, device.Storage), domain.BasePriceHeuristic
}

// Deductions derives the itemized deductions for rec in category order:
// appearance, screen, battery, camera.
func Deductions(rules *RuleSet, rec domain.NormalizedRecord) []domain.Deduction {
	out := []domain.Deduction{}
	for _, target := range deductionOrder {
		switch target {
		case domain.TargetAppearanceTier:
			if r, ok := rules.firstMatch(target, rec.Appearance.OverallCondition); ok && r.Value > 0 {
				out = append(out, deductionFrom(r, rec.Appearance.OverallCondition))
			}
		case domain.TargetAppearanceIssue:
			out = append(out, issueDeductions(rules, target, rec.Appearance.Issues)...)
		case domain.TargetScreenIssue:
			out = append(out, issueDeductions(rules, target, rec.Screen.Issues)...)
		case domain.TargetBatteryCapacity:
			capacity, ok := ParseCapacity(rec.Battery.MaximumCapacity)
			if !ok {
				continue
			}
			for _, r := range rules.forTarget(target) {
				if capacity < r.Threshold {
					out = append(out, domain.Deduction{
						Category: r.Category,
						Reason:   fmt.Sprintf("%s: %s", r.Reason, rec.Battery.MaximumCapacity),
						Kind:     r.Kind,
						Value:    round2((r.Threshold - capacity) * r.Value),
					})
					break
				}
			}
		case domain.TargetCameraIssue:
			out = append(out, issueDeductions(rules, target, rec.Camera.Issues)...)
		}
	}
	return out
}

// issueDeductions emits one line per issue, using the first matching rule.
func issueDeductions(rules *RuleSet, target domain.RuleTarget, issues []string) []domain.Deduction {
	var out []domain.Deduction
	for _, issue := range issues {
		if r, ok := rules.firstMatch(target, issue); ok && r.Value > 0 {
			out = append(out, deductionFrom(r, issue))
		}
	}
	return out
}

func deductionFrom(r domain.PricingRule, subject string) domain.Deduction {
	return domain.Deduction{
		Category: r.Category,
		Reason:   fmt.Sprintf("%s: %s", r.Reason, subject),
		Kind:     r.Kind,
		Value:    r.Value,
	}
}

// ParseCapacity reads a battery capacity percentage such as "65%" or "65".
func ParseCapacity(s string) (float64, bool) {
	if m := percentPattern.FindStringSubmatch(s); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		return v, err == nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
