package services

import (
	"strings"

	"github.com/manthysbr/inspectd/internal/core/domain"
)

const (
	reportCurrency = "CNY"
	tagSource      = "VLM"
)

// BuildReport assembles the final report from the pieces the pipeline
// produced. The device block echoes the submitted identity.
func BuildReport(
	inputs domain.TaskInputs,
	rec domain.NormalizedRecord,
	val domain.ValuationResult,
	narrative domain.NarrativeOutcome,
) domain.Report {
	hint := domain.ManualReview
	notes := ""
	if narrative.Success {
		hint = orSentinel(narrative.PriceHint, domain.ManualReview)
		notes = strings.TrimSpace(narrative.Notes)
	}

	deductions := val.Deductions
	if deductions == nil {
		deductions = []domain.Deduction{}
	}

	return domain.Report{
		DeviceInfo: domain.DeviceInfo{
			Brand:   orSentinel(inputs.BasicInfo.Brand, rec.Identity.Brand),
			Model:   orSentinel(inputs.BasicInfo.Model, rec.Identity.Model),
			Storage: orSentinel(inputs.BasicInfo.Storage, rec.Identity.StorageTotal),
		},
		Valuation: domain.ReportValuation{
			Price:           val.FinalPrice,
			Currency:        reportCurrency,
			BasePrice:       val.BasePrice,
			BasePriceSource: val.BasePriceSource,
			TotalDeduction:  val.TotalDeduction,
			Deductions:      deductions,
			PriceHint:       hint,
			Notes:           notes,
			Error:           val.Error,
		},
		Summary:         summarize(rec),
		DetailedTags:    detailedTags(rec),
		Analysis:        rec,
		BasicInfo:       inputs.BasicInfo,
		DegradedKinds:   append([]domain.AnalysisKind{}, rec.Degraded...),
		PipelineVersion: PipelineVersion,
	}
}

func summarize(rec domain.NormalizedRecord) []domain.SummaryItem {
	joined := func(items []string) string { return strings.Join(items, ", ") }

	appearanceSuggestion := joined(rec.Appearance.Suggestions)
	if appearanceSuggestion == "" {
		appearanceSuggestion = "keep up careful handling"
	}

	return []domain.SummaryItem{
		{
			Item:       "overall condition",
			Grade:      rec.Appearance.OverallCondition,
			Issue:      joined(rec.Appearance.Issues),
			Suggestion: appearanceSuggestion,
		},
		{
			Item:       "battery health",
			Grade:      rec.Battery.MaximumCapacity,
			Suggestion: "battery health " + rec.Battery.BatteryHealth,
		},
		{
			Item:       "screen",
			Grade:      rec.Screen.ScreenCondition,
			Issue:      joined(rec.Screen.Issues),
			Suggestion: "normal use",
		},
		{
			Item:       "camera",
			Grade:      rec.Camera.LensCondition,
			Issue:      joined(rec.Camera.Issues),
			Suggestion: "keep the lens clean",
		},
		{
			Item:  "flashlight",
			Grade: rec.Flashlight.FlashlightCondition,
			Issue: joined(rec.Flashlight.Issues),
		},
	}
}

func detailedTags(rec domain.NormalizedRecord) []domain.DetailedTag {
	tags := []domain.DetailedTag{}
	if len(rec.Appearance.Issues) > 0 {
		tags = append(tags, domain.DetailedTag{TagCategory: "housing", Result: strings.Join(rec.Appearance.Issues, ", "), Source: tagSource})
	}
	if len(rec.Screen.Issues) > 0 {
		tags = append(tags, domain.DetailedTag{TagCategory: "screen", Result: strings.Join(rec.Screen.Issues, ", "), Source: tagSource})
	}
	if known(rec.Battery.MaximumCapacity) {
		tags = append(tags, domain.DetailedTag{TagCategory: "battery", Result: "capacity " + rec.Battery.MaximumCapacity, Source: tagSource})
	}
	if len(rec.Camera.Issues) > 0 {
		tags = append(tags, domain.DetailedTag{TagCategory: "camera", Result: strings.Join(rec.Camera.Issues, ", "), Source: tagSource})
	}
	return tags
}
