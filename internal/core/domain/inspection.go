package domain

import "time"

// Sentinel values used whenever a field could not be determined.
const (
	Unknown      = "unknown"
	NoRecord     = "no record"
	ManualReview = "needs manual review"
)

// BasicInfo is the device identity as typed in by the submitter.
type BasicInfo struct {
	Brand              string `json:"brand"`
	Model              string `json:"model"`
	Storage            string `json:"storage"`
	AccessoryCondition string `json:"accessory_condition"`
}

// FileRef is an opaque key understood by the configured FileStore.
type FileRef string

// InspectionFiles holds the stored image references for one submission.
type InspectionFiles struct {
	AboutMachine  FileRef   `json:"about_machine_image"`
	MachineType   FileRef   `json:"machine_type_image"`
	ProductDate   FileRef   `json:"product_date_image"`
	BatteryHealth FileRef   `json:"battery_health_image"`
	Appearance    []FileRef `json:"appearance_images"`
	Screen        FileRef   `json:"screen_image"`
	CameraLens    []FileRef `json:"camera_lens_images"`
	Flashlight    FileRef   `json:"flashlight_image"`
}

// All returns every reference in submission order.
func (f InspectionFiles) All() []FileRef {
	out := []FileRef{f.AboutMachine, f.MachineType, f.ProductDate, f.BatteryHealth}
	out = append(out, f.Appearance...)
	out = append(out, f.Screen)
	out = append(out, f.CameraLens...)
	out = append(out, f.Flashlight)
	return out
}

// TaskInputs is the immutable snapshot captured when a task is created.
type TaskInputs struct {
	BasicInfo   BasicInfo       `json:"basic_info"`
	Files       InspectionFiles `json:"files"`
	UserNotes   string          `json:"user_notes"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

type AnalysisKind string

const (
	KindDeviceInfo  AnalysisKind = "device-info"
	KindMachineType AnalysisKind = "machine-type"
	KindProductDate AnalysisKind = "product-date"
	KindBattery     AnalysisKind = "battery"
	KindAppearance  AnalysisKind = "appearance"
	KindScreen      AnalysisKind = "screen"
	KindCameraLens  AnalysisKind = "camera-lens"
	KindFlashlight  AnalysisKind = "flashlight"
)

// ExtractionKinds read structured facts from a single screenshot.
var ExtractionKinds = []AnalysisKind{KindDeviceInfo, KindMachineType, KindProductDate, KindBattery}

// ConditionKinds assess physical condition from photos.
var ConditionKinds = []AnalysisKind{KindAppearance, KindScreen, KindCameraLens, KindFlashlight}

// IsExtraction reports whether k is read with Extract rather than Analyze.
func (k AnalysisKind) IsExtraction() bool {
	for _, e := range ExtractionKinds {
		if e == k {
			return true
		}
	}
	return false
}

// Payload is the typed body of a successful AnalysisOutcome.
type Payload interface {
	payloadKind() AnalysisKind
}

// DeviceIdentity is produced by both device-info and machine-type.
type DeviceIdentity struct {
	Brand         string `json:"device_brand"`
	Model         string `json:"device_model"`
	SystemVersion string `json:"system_version"`
	StorageInfo   string `json:"storage_info"`
	SerialNumber  string `json:"serial_number,omitempty"`
	IMEI          string `json:"imei,omitempty"`
	OtherInfo     string `json:"other_info"`

	Source AnalysisKind `json:"-"`
}

func (p DeviceIdentity) payloadKind() AnalysisKind { return p.Source }

type ProductDate struct {
	ProductDate  string `json:"product_date"`
	FirstUseDate string `json:"first_use_date"`
	OtherInfo    string `json:"other_info"`
}

func (ProductDate) payloadKind() AnalysisKind { return KindProductDate }

type BatteryInfo struct {
	MaximumCapacity string `json:"maximum_capacity"`
	BatteryHealth   string `json:"battery_health"`
	PeakPerformance string `json:"peak_performance"`
	ChargeCycles    string `json:"charge_cycles"`
	Recommendations string `json:"recommendations"`
}

func (BatteryInfo) payloadKind() AnalysisKind { return KindBattery }

type AppearanceDetail struct {
	Front string `json:"front"`
	Back  string `json:"back"`
	Edges string `json:"edges"`
}

type AppearanceAnalysis struct {
	OverallCondition string           `json:"overall_condition"`
	Issues           []string         `json:"issues"`
	Detailed         AppearanceDetail `json:"detailed_analysis"`
	Suggestions      []string         `json:"suggestions"`
}

func (AppearanceAnalysis) payloadKind() AnalysisKind { return KindAppearance }

type ScreenAnalysis struct {
	ScreenCondition string   `json:"screen_condition"`
	Issues          []string `json:"issues"`
	DisplayQuality  string   `json:"display_quality"`
	Functionality   string   `json:"functionality"`
}

func (ScreenAnalysis) payloadKind() AnalysisKind { return KindScreen }

type CameraAnalysis struct {
	LensCondition  string   `json:"lens_condition"`
	Issues         []string `json:"issues"`
	Cleanliness    string   `json:"cleanliness"`
	PhysicalDamage string   `json:"physical_damage"`
}

func (CameraAnalysis) payloadKind() AnalysisKind { return KindCameraLens }

type FlashlightAnalysis struct {
	FlashlightCondition string   `json:"flashlight_condition"`
	Functionality       string   `json:"functionality"`
	Brightness          string   `json:"brightness"`
	Issues              []string `json:"issues"`
}

func (FlashlightAnalysis) payloadKind() AnalysisKind { return KindFlashlight }

// AnalysisOutcome is the tagged result of one provider call.
// Payload is set iff Success; Error is set iff !Success.
type AnalysisOutcome struct {
	Kind    AnalysisKind `json:"kind"`
	Success bool         `json:"success"`
	Payload Payload      `json:"payload,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Succeeded builds a successful outcome.
func Succeeded(kind AnalysisKind, p Payload) AnalysisOutcome {
	return AnalysisOutcome{Kind: kind, Success: true, Payload: p}
}

// Failed builds a degraded outcome.
func Failed(kind AnalysisKind, err string) AnalysisOutcome {
	return AnalysisOutcome{Kind: kind, Success: false, Error: err}
}

// OutcomeSet is keyed by kind; a missing key is treated as a failed outcome.
type OutcomeSet map[AnalysisKind]AnalysisOutcome

// NarrativeOutcome is the advisory result of the price narrative call.
type NarrativeOutcome struct {
	Success   bool   `json:"success"`
	PriceHint string `json:"price_hint,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Error     string `json:"error,omitempty"`
}
