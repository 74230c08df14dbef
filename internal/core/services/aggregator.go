package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/manthysbr/inspectd/internal/core/domain"
)

// storageDelimiters separate total from used capacity in a storage string.
const storageDelimiters = ",，、;；"

var capacityPattern = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*(?:TB|GB|MB)`)

// Aggregate merges the outcomes of one task into a NormalizedRecord.
// It performs no I/O and cannot fail: a missing or failed outcome degrades
// only the fields it would have supplied.
func Aggregate(inputs domain.TaskInputs, outcomes domain.OutcomeSet) domain.NormalizedRecord {
	rec := domain.NormalizedRecord{
		Identity:           mergeIdentity(inputs.BasicInfo, outcomes),
		AccessoryCondition: orSentinel(inputs.BasicInfo.AccessoryCondition, domain.Unknown),
		UserNotes:          orSentinel(inputs.UserNotes, domain.NoRecord),
		Degraded:           []domain.AnalysisKind{},
	}

	for _, kind := range append(append([]domain.AnalysisKind{}, domain.ExtractionKinds...), domain.ConditionKinds...) {
		if _, ok := successful(outcomes, kind); !ok {
			rec.Degraded = append(rec.Degraded, kind)
		}
	}

	rec.Battery = degradedBattery()
	if p, ok := successful(outcomes, domain.KindBattery); ok {
		if b, ok := p.(domain.BatteryInfo); ok {
			rec.Battery = fillBattery(b)
		}
	}

	rec.Appearance = degradedAppearance()
	if p, ok := successful(outcomes, domain.KindAppearance); ok {
		if a, ok := p.(domain.AppearanceAnalysis); ok {
			rec.Appearance = fillAppearance(a)
		}
	}

	rec.Screen = degradedScreen()
	if p, ok := successful(outcomes, domain.KindScreen); ok {
		if s, ok := p.(domain.ScreenAnalysis); ok {
			rec.Screen = fillScreen(s)
		}
	}

	rec.Camera = degradedCamera()
	if p, ok := successful(outcomes, domain.KindCameraLens); ok {
		if c, ok := p.(domain.CameraAnalysis); ok {
			rec.Camera = fillCamera(c)
		}
	}

	rec.Flashlight = degradedFlashlight()
	if p, ok := successful(outcomes, domain.KindFlashlight); ok {
		if f, ok := p.(domain.FlashlightAnalysis); ok {
			rec.Flashlight = fillFlashlight(f)
		}
	}

	rec.Usage = domain.ProductDate{ProductDate: domain.Unknown, FirstUseDate: domain.Unknown, OtherInfo: domain.NoRecord}
	if p, ok := successful(outcomes, domain.KindProductDate); ok {
		if u, ok := p.(domain.ProductDate); ok {
			rec.Usage = domain.ProductDate{
				ProductDate:  orSentinel(u.ProductDate, domain.Unknown),
				FirstUseDate: orSentinel(u.FirstUseDate, domain.Unknown),
				OtherInfo:    orSentinel(u.OtherInfo, domain.NoRecord),
			}
		}
	}

	return rec
}

func successful(outcomes domain.OutcomeSet, kind domain.AnalysisKind) (domain.Payload, bool) {
	o, ok := outcomes[kind]
	if !ok || !o.Success || o.Payload == nil {
		return nil, false
	}
	return o.Payload, true
}

func identityFrom(outcomes domain.OutcomeSet, kind domain.AnalysisKind) (domain.DeviceIdentity, bool) {
	p, ok := successful(outcomes, kind)
	if !ok {
		return domain.DeviceIdentity{}, false
	}
	id, ok := p.(domain.DeviceIdentity)
	return id, ok
}

// mergeIdentity prefers machine-type, then device-info, then what the
// submitter typed, field by field.
func mergeIdentity(basic domain.BasicInfo, outcomes domain.OutcomeSet) domain.IdentityRecord {
	machine, hasMachine := identityFrom(outcomes, domain.KindMachineType)
	device, hasDevice := identityFrom(outcomes, domain.KindDeviceInfo)

	var source domain.AnalysisKind
	pick := func(get func(domain.DeviceIdentity) string, fallback string) string {
		if hasMachine && known(get(machine)) {
			if source == "" {
				source = domain.KindMachineType
			}
			return strings.TrimSpace(get(machine))
		}
		if hasDevice && known(get(device)) {
			if source == "" {
				source = domain.KindDeviceInfo
			}
			return strings.TrimSpace(get(device))
		}
		return orSentinel(fallback, domain.Unknown)
	}

	rec := domain.IdentityRecord{
		Brand:         pick(func(d domain.DeviceIdentity) string { return d.Brand }, basic.Brand),
		Model:         pick(func(d domain.DeviceIdentity) string { return d.Model }, basic.Model),
		SystemVersion: pick(func(d domain.DeviceIdentity) string { return d.SystemVersion }, ""),
		SerialNumber:  pick(func(d domain.DeviceIdentity) string { return d.SerialNumber }, ""),
		IMEI:          pick(func(d domain.DeviceIdentity) string { return d.IMEI }, ""),
	}
	storage := pick(func(d domain.DeviceIdentity) string { return d.StorageInfo }, basic.Storage)
	rec.StorageTotal, rec.StorageUsed = SplitStorage(storage)
	rec.Source = source
	if rec.Source == "" {
		rec.Source = "submitted"
	}
	return rec
}

// SplitStorage separates a storage string into total and used capacity on
// the first comma-class delimiter. Without a delimiter the whole string is
// the total and used is unknown.
func SplitStorage(raw string) (total, used string) {
	raw = strings.TrimSpace(raw)
	if !known(raw) {
		return domain.Unknown, domain.Unknown
	}

	idx := strings.IndexAny(raw, storageDelimiters)
	if idx < 0 {
		return raw, domain.Unknown
	}

	first := raw[:idx]
	_, size := utf8.DecodeRuneInString(raw[idx:])
	second := raw[idx+size:]

	total = capacityOf(first)
	used = capacityOf(second)
	return total, used
}

// capacityOf returns the capacity token in s, or s itself trimmed when it
// holds none.
func capacityOf(s string) string {
	if m := capacityPattern.FindString(s); m != "" {
		return strings.ReplaceAll(m, " ", "")
	}
	return orSentinel(s, domain.Unknown)
}

func known(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", domain.Unknown, "未知", "n/a", "none", "null":
		return false
	}
	return true
}

func orSentinel(s, sentinel string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return sentinel
	}
	return s
}

func orEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func fillBattery(b domain.BatteryInfo) domain.BatteryInfo {
	return domain.BatteryInfo{
		MaximumCapacity: orSentinel(b.MaximumCapacity, domain.Unknown),
		BatteryHealth:   orSentinel(b.BatteryHealth, domain.Unknown),
		PeakPerformance: orSentinel(b.PeakPerformance, domain.Unknown),
		ChargeCycles:    orSentinel(b.ChargeCycles, domain.Unknown),
		Recommendations: orSentinel(b.Recommendations, domain.NoRecord),
	}
}

func degradedBattery() domain.BatteryInfo {
	return fillBattery(domain.BatteryInfo{})
}

func fillAppearance(a domain.AppearanceAnalysis) domain.AppearanceAnalysis {
	return domain.AppearanceAnalysis{
		OverallCondition: orSentinel(a.OverallCondition, domain.Unknown),
		Issues:           orEmpty(a.Issues),
		Detailed: domain.AppearanceDetail{
			Front: orSentinel(a.Detailed.Front, domain.Unknown),
			Back:  orSentinel(a.Detailed.Back, domain.Unknown),
			Edges: orSentinel(a.Detailed.Edges, domain.Unknown),
		},
		Suggestions: orEmpty(a.Suggestions),
	}
}

func degradedAppearance() domain.AppearanceAnalysis {
	return fillAppearance(domain.AppearanceAnalysis{})
}

func fillScreen(s domain.ScreenAnalysis) domain.ScreenAnalysis {
	return domain.ScreenAnalysis{
		ScreenCondition: orSentinel(s.ScreenCondition, domain.Unknown),
		Issues:          orEmpty(s.Issues),
		DisplayQuality:  orSentinel(s.DisplayQuality, domain.Unknown),
		Functionality:   orSentinel(s.Functionality, domain.Unknown),
	}
}

func degradedScreen() domain.ScreenAnalysis {
	return fillScreen(domain.ScreenAnalysis{})
}

func fillCamera(c domain.CameraAnalysis) domain.CameraAnalysis {
	return domain.CameraAnalysis{
		LensCondition:  orSentinel(c.LensCondition, domain.Unknown),
		Issues:         orEmpty(c.Issues),
		Cleanliness:    orSentinel(c.Cleanliness, domain.Unknown),
		PhysicalDamage: orSentinel(c.PhysicalDamage, domain.Unknown),
	}
}

func degradedCamera() domain.CameraAnalysis {
	return fillCamera(domain.CameraAnalysis{})
}

func fillFlashlight(f domain.FlashlightAnalysis) domain.FlashlightAnalysis {
	return domain.FlashlightAnalysis{
		FlashlightCondition: orSentinel(f.FlashlightCondition, domain.Unknown),
		Functionality:       orSentinel(f.Functionality, domain.Unknown),
		Brightness:          orSentinel(f.Brightness, domain.Unknown),
		Issues:              orEmpty(f.Issues),
	}
}

func degradedFlashlight() domain.FlashlightAnalysis {
	return fillFlashlight(domain.FlashlightAnalysis{})
}

// Section headings of the rendered document, in their fixed order.
const (
	HeadingBasicInfo    = "## Basic Information"
	HeadingBattery      = "## Battery"
	HeadingAppearance   = "## Appearance"
	HeadingScreen       = "## Screen"
	HeadingCamera       = "## Camera"
	HeadingFlashlight   = "## Flashlight"
	HeadingUsageHistory = "## Usage History"
	HeadingUserNotes    = "## User Notes"
)

// RenderDocument formats rec as the text handed to the price narrative
// call. Section order and headings are stable.
func RenderDocument(rec domain.NormalizedRecord) string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "- %s: %s\n", label, value)
	}
	list := func(items []string) string {
		if len(items) == 0 {
			return "none"
		}
		return strings.Join(items, "; ")
	}

	b.WriteString(HeadingBasicInfo + "\n")
	line("Brand", rec.Identity.Brand)
	line("Model", rec.Identity.Model)
	line("System version", rec.Identity.SystemVersion)
	line("Storage total", rec.Identity.StorageTotal)
	line("Storage used", rec.Identity.StorageUsed)
	line("Accessories", rec.AccessoryCondition)

	b.WriteString("\n" + HeadingBattery + "\n")
	line("Maximum capacity", rec.Battery.MaximumCapacity)
	line("Charge cycles", rec.Battery.ChargeCycles)
	line("Health", rec.Battery.BatteryHealth)
	line("Peak performance", rec.Battery.PeakPerformance)
	line("Recommendations", rec.Battery.Recommendations)

	b.WriteString("\n" + HeadingAppearance + "\n")
	line("Overall condition", rec.Appearance.OverallCondition)
	line("Issues", list(rec.Appearance.Issues))
	line("Front", rec.Appearance.Detailed.Front)
	line("Back", rec.Appearance.Detailed.Back)
	line("Edges", rec.Appearance.Detailed.Edges)

	b.WriteString("\n" + HeadingScreen + "\n")
	line("Condition", rec.Screen.ScreenCondition)
	line("Issues", list(rec.Screen.Issues))
	line("Display quality", rec.Screen.DisplayQuality)
	line("Functionality", rec.Screen.Functionality)

	b.WriteString("\n" + HeadingCamera + "\n")
	line("Lens condition", rec.Camera.LensCondition)
	line("Issues", list(rec.Camera.Issues))
	line("Cleanliness", rec.Camera.Cleanliness)
	line("Physical damage", rec.Camera.PhysicalDamage)

	b.WriteString("\n" + HeadingFlashlight + "\n")
	line("Condition", rec.Flashlight.FlashlightCondition)
	line("Functionality", rec.Flashlight.Functionality)
	line("Brightness", rec.Flashlight.Brightness)
	line("Issues", list(rec.Flashlight.Issues))

	b.WriteString("\n" + HeadingUsageHistory + "\n")
	line("Production date", rec.Usage.ProductDate)
	line("First use", rec.Usage.FirstUseDate)
	line("Other", rec.Usage.OtherInfo)

	b.WriteString("\n" + HeadingUserNotes + "\n")
	b.WriteString(rec.UserNotes + "\n")

	return b.String()
}
