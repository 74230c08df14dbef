package vision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/manthysbr/inspectd/internal/core/domain"
)

var errNoJSON = errors.New("no JSON object in model response")

// extractJSON pulls the JSON object out of a model reply: a ```json fence
// first, any fence second, the outermost braces last.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)

	for _, fence := range []string{"```json", "```JSON", "```"} {
		start := strings.Index(text, fence)
		if start < 0 {
			continue
		}
		body := text[start+len(fence):]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		body = strings.TrimSpace(body)
		if strings.HasPrefix(body, "{") {
			return body, nil
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", errNoJSON
	}
	return text[start : end+1], nil
}

// flexString accepts a JSON string, number, boolean or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
	default:
		*f = flexString(b)
	}
	return nil
}

// flexList accepts an array of scalars or a single string.
type flexList []string

func (l *flexList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items []flexString
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s := string(it); s != "" && !isNone(s) {
				out = append(out, s)
			}
		}
		*l = out
		return nil
	}
	var one flexString
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = flexList{}
	if s := string(one); s != "" && !isNone(s) {
		*l = flexList{s}
	}
	return nil
}

func isNone(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "no issues", "n/a", "无", "无明显问题":
		return true
	}
	return false
}

type identityWire struct {
	Brand         flexString `json:"device_brand"`
	Model         flexString `json:"device_model"`
	SystemVersion flexString `json:"system_version"`
	StorageInfo   flexString `json:"storage_info"`
	SerialNumber  flexString `json:"serial_number"`
	IMEI          flexString `json:"imei"`
	OtherInfo     flexString `json:"other_info"`
}

type productDateWire struct {
	ProductDate  flexString `json:"product_date"`
	FirstUseDate flexString `json:"first_use_date"`
	OtherInfo    flexString `json:"other_info"`
}

type batteryWire struct {
	MaximumCapacity flexString `json:"maximum_capacity"`
	BatteryHealth   flexString `json:"battery_health"`
	PeakPerformance flexString `json:"peak_performance"`
	ChargeCycles    flexString `json:"charge_cycles"`
	Recommendations flexString `json:"recommendations"`
}

type appearanceWire struct {
	OverallCondition flexString `json:"overall_condition"`
	Issues           flexList   `json:"issues"`
	Detailed         struct {
		Front flexString `json:"front"`
		Back  flexString `json:"back"`
		Edges flexString `json:"edges"`
	} `json:"detailed_analysis"`
	Suggestions flexList `json:"suggestions"`
}

type screenWire struct {
	ScreenCondition flexString `json:"screen_condition"`
	Issues          flexList   `json:"issues"`
	DisplayQuality  flexString `json:"display_quality"`
	Functionality   flexString `json:"functionality"`
}

type cameraWire struct {
	LensCondition  flexString `json:"lens_condition"`
	Issues         flexList   `json:"issues"`
	Cleanliness    flexString `json:"cleanliness"`
	PhysicalDamage flexString `json:"physical_damage"`
}

type flashlightWire struct {
	FlashlightCondition flexString `json:"flashlight_condition"`
	Functionality       flexString `json:"functionality"`
	Brightness          flexString `json:"brightness"`
	Issues              flexList   `json:"issues"`
}

type narrativeWire struct {
	Price     flexString `json:"price"`
	OtherInfo flexString `json:"other_info"`
}

// parsePayload validates a model reply against the kind's schema and decodes
// it into the typed payload.
func parsePayload(kind domain.AnalysisKind, reply string) (domain.Payload, error) {
	schema, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("no schema for %s", kind)
	}
	doc, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}
	if err := validate(schema, doc); err != nil {
		return nil, err
	}

	raw := []byte(doc)
	switch kind {
	case domain.KindDeviceInfo, domain.KindMachineType:
		var w identityWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return domain.DeviceIdentity{
			Brand:         string(w.Brand),
			Model:         string(w.Model),
			SystemVersion: string(w.SystemVersion),
			StorageInfo:   string(w.StorageInfo),
			SerialNumber:  string(w.SerialNumber),
			IMEI:          string(w.IMEI),
			OtherInfo:     string(w.OtherInfo),
			Source:        kind,
		}, nil
	case domain.KindProductDate:
		var w productDateWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return domain.ProductDate{
			ProductDate:  string(w.ProductDate),
			FirstUseDate: string(w.FirstUseDate),
			OtherInfo:    string(w.OtherInfo),
		}, nil
	case domain.KindBattery:
		var w batteryWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return domain.BatteryInfo{
			MaximumCapacity: string(w.MaximumCapacity),
			BatteryHealth:   string(w.BatteryHealth),
			PeakPerformance: string(w.PeakPerformance),
			ChargeCycles:    string(w.ChargeCycles),
			Recommendations: string(w.Recommendations),
		}, nil
	case domain.KindAppearance:
		var w appearanceWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return domain.AppearanceAnalysis{
			OverallCondition: string(w.OverallCondition),
			Issues:           w.Issues,
			Detailed: domain.AppearanceDetail{
				Front: string(w.Detailed.Front),
				Back:  string(w.Detailed.Back),
				Edges: string(w.Detailed.Edges),
			},
			Suggestions: w.Suggestions,
		}, nil
	case domain.KindScreen:
		var w screenWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return domain.ScreenAnalysis{
			ScreenCondition: string(w.ScreenCondition),
			Issues:          w.Issues,
			DisplayQuality:  string(w.DisplayQuality),
			Functionality:   string(w.Functionality),
		}, nil
	case domain.KindCameraLens:
		var w cameraWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return domain.CameraAnalysis{
			LensCondition:  string(w.LensCondition),
			Issues:         w.Issues,
			Cleanliness:    string(w.Cleanliness),
			PhysicalDamage: string(w.PhysicalDamage),
		}, nil
	case domain.KindFlashlight:
		var w flashlightWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return domain.FlashlightAnalysis{
			FlashlightCondition: string(w.FlashlightCondition),
			Functionality:       string(w.Functionality),
			Brightness:          string(w.Brightness),
			Issues:              w.Issues,
		}, nil
	}
	return nil, fmt.Errorf("unsupported analysis kind %s", kind)
}

func parseNarrative(reply string) (domain.NarrativeOutcome, error) {
	doc, err := extractJSON(reply)
	if err != nil {
		return domain.NarrativeOutcome{}, err
	}
	if err := validate(narrativeSchema, doc); err != nil {
		return domain.NarrativeOutcome{}, err
	}
	var w narrativeWire
	if err := json.Unmarshal([]byte(doc), &w); err != nil {
		return domain.NarrativeOutcome{}, err
	}
	if w.Price == "" {
		return domain.NarrativeOutcome{}, errors.New("price range is empty")
	}
	return domain.NarrativeOutcome{Success: true, PriceHint: string(w.Price), Notes: string(w.OtherInfo)}, nil
}
