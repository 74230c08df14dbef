package services

import (
	"sort"
	"strings"

	"github.com/manthysbr/inspectd/internal/core/domain"
)

// DefaultPricingRules seeds the rule table on first migration and is used
// whenever the persisted table is empty or unreadable.
func DefaultPricingRules() []domain.PricingRule {
	return []domain.PricingRule{
		{ID: "appearance-tier-excellent", Position: 10, Target: domain.TargetAppearanceTier, Category: "appearance", Reason: "overall condition excellent", Keywords: []string{"excellent", "优秀"}, Kind: domain.DeductionAmount, Value: 0, Active: true},
		{ID: "appearance-tier-good", Position: 20, Target: domain.TargetAppearanceTier, Category: "appearance", Reason: "overall condition good", Keywords: []string{"good", "良好"}, Kind: domain.DeductionAmount, Value: 100, Active: true},
		{ID: "appearance-tier-fair", Position: 30, Target: domain.TargetAppearanceTier, Category: "appearance", Reason: "overall condition fair", Keywords: []string{"fair", "一般"}, Kind: domain.DeductionAmount, Value: 300, Active: true},
		{ID: "appearance-tier-poor", Position: 40, Target: domain.TargetAppearanceTier, Category: "appearance", Reason: "overall condition poor", Keywords: []string{"poor", "较差"}, Kind: domain.DeductionAmount, Value: 600, Active: true},
		{ID: "appearance-issue-scratch", Position: 110, Target: domain.TargetAppearanceIssue, Category: "appearance", Reason: "scratch", Keywords: []string{"scratch", "划痕"}, Kind: domain.DeductionAmount, Value: 150, Active: true},
		{ID: "appearance-issue-dent", Position: 120, Target: domain.TargetAppearanceIssue, Category: "appearance", Reason: "dent", Keywords: []string{"dent", "impact", "磕碰"}, Kind: domain.DeductionAmount, Value: 200, Active: true},
		{ID: "screen-issue-crack", Position: 210, Target: domain.TargetScreenIssue, Category: "screen", Reason: "cracked screen", Keywords: []string{"crack", "shatter", "裂", "碎"}, Kind: domain.DeductionAmount, Value: 800, Active: true},
		{ID: "screen-issue-scratch", Position: 220, Target: domain.TargetScreenIssue, Category: "screen", Reason: "screen scratch", Keywords: []string{"scratch", "划痕"}, Kind: domain.DeductionAmount, Value: 300, Active: true},
		{ID: "battery-capacity", Position: 310, Target: domain.TargetBatteryCapacity, Category: "battery", Reason: "battery capacity below threshold", Kind: domain.DeductionAmount, Value: 10, Threshold: 80, Active: true},
		{ID: "camera-issue-damage", Position: 410, Target: domain.TargetCameraIssue, Category: "camera", Reason: "camera lens damage", Keywords: []string{"scratch", "crack", "划痕", "裂"}, Kind: domain.DeductionAmount, Value: 200, Active: true},
	}
}

// deductionOrder is the order categories appear in a valuation.
var deductionOrder = []domain.RuleTarget{
	domain.TargetAppearanceTier,
	domain.TargetAppearanceIssue,
	domain.TargetScreenIssue,
	domain.TargetBatteryCapacity,
	domain.TargetCameraIssue,
}

// RuleSet is an immutable, position-ordered snapshot of active rules.
type RuleSet struct {
	byTarget map[domain.RuleTarget][]domain.PricingRule
	size     int
}

// NewRuleSet drops inactive or malformed rules and orders the rest by Position.
func NewRuleSet(rules []domain.PricingRule) *RuleSet {
	active := make([]domain.PricingRule, 0, len(rules))
	for _, r := range rules {
		if !r.Active || !r.Target.Valid() || !r.Kind.Valid() || r.Value < 0 {
			continue
		}
		r.Keywords = append([]string(nil), r.Keywords...)
		active = append(active, r)
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Position < active[j].Position })

	rs := &RuleSet{byTarget: make(map[domain.RuleTarget][]domain.PricingRule), size: len(active)}
	for _, r := range active {
		rs.byTarget[r.Target] = append(rs.byTarget[r.Target], r)
	}
	return rs
}

// Len is the number of active rules.
func (rs *RuleSet) Len() int { return rs.size }

func (rs *RuleSet) forTarget(t domain.RuleTarget) []domain.PricingRule {
	return rs.byTarget[t]
}

// firstMatch returns the first rule for t whose keywords occur in text.
func (rs *RuleSet) firstMatch(t domain.RuleTarget, text string) (domain.PricingRule, bool) {
	for _, r := range rs.forTarget(t) {
		if r.Matches(text) {
			return r, true
		}
	}
	return domain.PricingRule{}, false
}

var brandBasePrices = map[string]float64{
	"apple":   3000,
	"samsung": 2000,
	"huawei":  1800,
	"xiaomi":  1200,
	"oppo":    1500,
	"vivo":    1400,
	"oneplus": 2200,
	"honor":   1300,
}

const defaultBrandBasePrice = 1000

var storageMultipliers = map[string]float64{
	"64GB":  1.0,
	"128GB": 1.2,
	"256GB": 1.4,
	"512GB": 1.7,
	"1TB":   2.0,
}

const defaultStorageMultiplier = 1.0

// HeuristicBasePrice estimates a base price from brand and storage alone.
func HeuristicBasePrice(brand, storage string) float64 {
	base, ok := brandBasePrices[strings.ToLower(strings.ReplaceAll(strings.TrimSpace(brand), " ", ""))]
	if !ok {
		base = defaultBrandBasePrice
	}

	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(storage), " ", ""))
	if m := capacityPattern.FindString(storage); m != "" {
		key = strings.ToUpper(strings.ReplaceAll(m, " ", ""))
	}
	mult, ok := storageMultipliers[key]
	if !ok {
		mult = defaultStorageMultiplier
	}
	return base * mult
}
