package domain

// IdentityRecord is the merged device identity.
type IdentityRecord struct {
	Brand         string       `json:"brand"`
	Model         string       `json:"model"`
	SystemVersion string       `json:"system_version"`
	StorageTotal  string       `json:"storage_total"`
	StorageUsed   string       `json:"storage_used"`
	SerialNumber  string       `json:"serial_number"`
	IMEI          string       `json:"imei"`
	Source        AnalysisKind `json:"source,omitempty"`
}

// NormalizedRecord is the aggregator's merged view. Every field is always
// populated, with a sentinel when its outcome degraded.
type NormalizedRecord struct {
	Identity           IdentityRecord     `json:"identity"`
	Battery            BatteryInfo        `json:"battery"`
	Appearance         AppearanceAnalysis `json:"appearance"`
	Screen             ScreenAnalysis     `json:"screen"`
	Camera             CameraAnalysis     `json:"camera"`
	Flashlight         FlashlightAnalysis `json:"flashlight"`
	Usage              ProductDate        `json:"usage"`
	AccessoryCondition string             `json:"accessory_condition"`
	UserNotes          string             `json:"user_notes"`
	Degraded           []AnalysisKind     `json:"degraded"`
}

// IsDegraded reports whether kind fell back to sentinels.
func (r NormalizedRecord) IsDegraded(kind AnalysisKind) bool {
	for _, k := range r.Degraded {
		if k == kind {
			return true
		}
	}
	return false
}

type DeviceInfo struct {
	Brand   string `json:"brand"`
	Model   string `json:"model"`
	Storage string `json:"storage"`
}

type ReportValuation struct {
	Price           float64         `json:"price"`
	Currency        string          `json:"currency"`
	BasePrice       float64         `json:"base_price"`
	BasePriceSource BasePriceSource `json:"base_price_source,omitempty"`
	TotalDeduction  float64         `json:"total_deduction"`
	Deductions      []Deduction     `json:"deductions"`
	PriceHint       string          `json:"price_hint"`
	Notes           string          `json:"notes,omitempty"`
	Error           string          `json:"error,omitempty"`
}

type SummaryItem struct {
	Item       string `json:"item"`
	Grade      string `json:"grade"`
	Issue      string `json:"issue,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type DetailedTag struct {
	TagCategory string `json:"tag_category"`
	Result      string `json:"result"`
	Source      string `json:"source"`
}

// Report is attached to a task exactly once, on completion.
type Report struct {
	DeviceInfo      DeviceInfo       `json:"device_info"`
	Valuation       ReportValuation  `json:"valuation"`
	Summary         []SummaryItem    `json:"summary"`
	DetailedTags    []DetailedTag    `json:"detailed_tags"`
	Analysis        NormalizedRecord `json:"analysis"`
	BasicInfo       BasicInfo        `json:"basic_info"`
	DegradedKinds   []AnalysisKind   `json:"degraded_kinds"`
	PipelineVersion string           `json:"pipeline_version"`
}
