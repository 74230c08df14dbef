package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
)

const appConfigKey = "app_config"

// OnChangeFunc is called after settings are updated.
type OnChangeFunc func(cfg *domain.AppConfig)

// SettingsStore keeps the provider settings in the settings table. API keys
// are encrypted at rest and masked on read.
type SettingsStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	secret   *SecretKey
	repo     ports.SettingsRepository
	config   *domain.AppConfig
	onChange []OnChangeFunc
}

// NewSettingsStore loads the saved settings, persisting the defaults when
// none exist yet.
func NewSettingsStore(ctx context.Context, logger *slog.Logger, repo ports.SettingsRepository, secret *SecretKey) (*SettingsStore, error) {
	store := &SettingsStore{
		logger: logger,
		secret: secret,
		repo:   repo,
	}

	cfg, err := store.load(ctx)
	switch {
	case errors.Is(err, domain.ErrSettingNotFound):
		logger.Info("no saved settings found, using defaults")
		cfg = domain.DefaultConfig()
		if err := store.save(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	case err != nil:
		return nil, err
	}

	store.config = cfg
	return store, nil
}

// OnChange registers a callback run after every successful update.
func (s *SettingsStore) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// GetConfig returns a copy of the current config with decrypted secrets.
func (s *SettingsStore) GetConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.config
	return &cp
}

// GetMaskedConfig returns a copy safe for API responses.
func (s *SettingsStore) GetMaskedConfig() *domain.AppConfig {
	cp := s.GetConfig()
	cp.Providers.Vision.APIKey = MaskSecret(cp.Providers.Vision.APIKey)
	return cp
}

// UpdateConfig validates, persists and broadcasts a new config. An empty or
// masked api_key keeps the stored one.
func (s *SettingsStore) UpdateConfig(ctx context.Context, update *domain.AppConfig) error {
	s.mu.Lock()

	next := *update
	v := &next.Providers.Vision
	v.Mode = strings.ToLower(strings.TrimSpace(v.Mode))
	if v.APIKey == "" || isMasked(v.APIKey) {
		v.APIKey = s.config.Providers.Vision.APIKey
	}
	if err := validateVision(v); err != nil {
		s.mu.Unlock()
		return err
	}

	if err := s.save(ctx, &next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.config = &next
	callbacks := append([]OnChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	s.logger.Info("settings updated", "vision_mode", v.Mode, "model", v.DefaultModel)

	for _, fn := range callbacks {
		cp := next
		fn(&cp)
	}
	return nil
}

func validateVision(v *domain.VisionProviderConfig) error {
	switch v.Mode {
	case "":
		v.Mode = "local"
	case "local":
	case "remote":
		if strings.TrimSpace(v.RemoteURL) == "" {
			return domain.NewInputError("providers.vision.remote_url", "required when mode=remote")
		}
		if v.APIKey == "" {
			return domain.NewInputError("providers.vision.api_key", "required when mode=remote")
		}
	default:
		return domain.NewInputError("providers.vision.mode", "must be local or remote, got %q", v.Mode)
	}
	if v.Mode == "local" && strings.TrimSpace(v.LocalURL) == "" {
		v.LocalURL = domain.DefaultConfig().Providers.Vision.LocalURL
	}
	if strings.TrimSpace(v.DefaultModel) == "" {
		return domain.NewInputError("providers.vision.default_model", "is required")
	}
	return nil
}

func (s *SettingsStore) load(ctx context.Context) (*domain.AppConfig, error) {
	raw, err := s.repo.GetSetting(ctx, appConfigKey)
	if err != nil {
		return nil, err
	}

	var stored storedConfig
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	cfg := &domain.AppConfig{
		Providers: domain.ProviderConfig{
			Vision: domain.VisionProviderConfig{
				Mode:           stored.Vision.Mode,
				LocalURL:       stored.Vision.LocalURL,
				RemoteURL:      stored.Vision.RemoteURL,
				DefaultModel:   stored.Vision.DefaultModel,
				NarrativeModel: stored.Vision.NarrativeModel,
			},
		},
	}

	if stored.Vision.EncryptedAPIKey != "" {
		key, err := s.secret.Decrypt(stored.Vision.EncryptedAPIKey)
		if err != nil {
			// A rotated master key leaves the rest of the settings usable.
			s.logger.Warn("failed to decrypt vision API key", "error", err)
		} else {
			cfg.Providers.Vision.APIKey = key
		}
	}
	return cfg, nil
}

func (s *SettingsStore) save(ctx context.Context, cfg *domain.AppConfig) error {
	v := cfg.Providers.Vision
	stored := storedConfig{
		Vision: storedVisionConfig{
			Mode:           v.Mode,
			LocalURL:       v.LocalURL,
			RemoteURL:      v.RemoteURL,
			DefaultModel:   v.DefaultModel,
			NarrativeModel: v.NarrativeModel,
		},
	}

	if v.APIKey != "" {
		enc, err := s.secret.Encrypt(v.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt vision API key: %w", err)
		}
		stored.Vision.EncryptedAPIKey = enc
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.repo.SaveSetting(ctx, appConfigKey, string(raw))
}

// storedConfig is the persisted form; secrets are encrypted.
type storedConfig struct {
	Vision storedVisionConfig `json:"vision"`
}

type storedVisionConfig struct {
	Mode            string `json:"mode"`
	LocalURL        string `json:"local_url"`
	RemoteURL       string `json:"remote_url"`
	EncryptedAPIKey string `json:"encrypted_api_key,omitempty"`
	DefaultModel    string `json:"default_model"`
	NarrativeModel  string `json:"narrative_model,omitempty"`
}

func isMasked(s string) bool {
	return strings.HasPrefix(s, "****")
}
