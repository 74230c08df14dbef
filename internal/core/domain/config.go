package domain

// ProviderConfig holds configuration for the analysis backends
type ProviderConfig struct {
	Vision VisionProviderConfig `json:"vision"`
}

// VisionProviderConfig configures the multimodal model used for inspections
type VisionProviderConfig struct {
	Mode           string `json:"mode"`            // "local" or "remote"
	LocalURL       string `json:"local_url"`       // "http://localhost:11434"
	RemoteURL      string `json:"remote_url"`      // "https://api.openai.com/v1"
	APIKey         string `json:"api_key"`         // Encrypted in storage
	DefaultModel   string `json:"default_model"`   // vision-capable model
	NarrativeModel string `json:"narrative_model"` // text model for the price narrative; empty uses DefaultModel
}

// AppConfig is the runtime-editable application configuration
type AppConfig struct {
	Providers ProviderConfig `json:"providers"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Providers: ProviderConfig{
			Vision: VisionProviderConfig{
				Mode:         "local",
				LocalURL:     "http://localhost:11434",
				DefaultModel: "qwen2.5vl:7b",
			},
		},
	}
}
