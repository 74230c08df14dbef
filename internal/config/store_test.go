package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", domain.ErrSettingNotFound
	}
	return v, nil
}

func (m *memSettings) SaveSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func newTestStore(t *testing.T) (*SettingsStore, *memSettings) {
	t.Helper()
	secret, err := NewSecretKey("settings-test", "")
	require.NoError(t, err)
	repo := &memSettings{values: map[string]string{}}
	store, err := NewSettingsStore(context.Background(), slog.New(slog.NewJSONHandler(os.Stdout, nil)), repo, secret)
	require.NoError(t, err)
	return store, repo
}

func TestSettingsStore_PersistsDefaults(t *testing.T) {
	store, repo := newTestStore(t)

	assert.Equal(t, "local", store.GetConfig().Providers.Vision.Mode)
	assert.Contains(t, repo.values, appConfigKey)
}

func TestSettingsStore_UpdateEncryptsAndMasks(t *testing.T) {
	store, repo := newTestStore(t)

	var seen *domain.AppConfig
	store.OnChange(func(cfg *domain.AppConfig) { seen = cfg })

	update := domain.DefaultConfig()
	update.Providers.Vision.Mode = "Remote"
	update.Providers.Vision.RemoteURL = "https://api.openai.com/v1"
	update.Providers.Vision.APIKey = "sk-live-abcdef1234"
	update.Providers.Vision.DefaultModel = "gpt-4o"
	require.NoError(t, store.UpdateConfig(context.Background(), update))

	require.NotNil(t, seen)
	assert.Equal(t, "remote", seen.Providers.Vision.Mode)
	assert.Equal(t, "sk-live-abcdef1234", seen.Providers.Vision.APIKey)

	assert.Equal(t, "****1234", store.GetMaskedConfig().Providers.Vision.APIKey)
	assert.Equal(t, "sk-live-abcdef1234", store.GetConfig().Providers.Vision.APIKey)

	var stored storedConfig
	require.NoError(t, json.Unmarshal([]byte(repo.values[appConfigKey]), &stored))
	assert.NotContains(t, stored.Vision.EncryptedAPIKey, "sk-live")
	assert.Contains(t, stored.Vision.EncryptedAPIKey, encPrefix)
}

func TestSettingsStore_MaskedKeyIsKept(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := domain.DefaultConfig()
	first.Providers.Vision.APIKey = "sk-original-9999"
	require.NoError(t, store.UpdateConfig(ctx, first))

	masked := store.GetMaskedConfig()
	masked.Providers.Vision.DefaultModel = "llava:13b"
	require.NoError(t, store.UpdateConfig(ctx, masked))

	cfg := store.GetConfig()
	assert.Equal(t, "sk-original-9999", cfg.Providers.Vision.APIKey)
	assert.Equal(t, "llava:13b", cfg.Providers.Vision.DefaultModel)
}

func TestSettingsStore_Reload(t *testing.T) {
	store, repo := newTestStore(t)
	update := domain.DefaultConfig()
	update.Providers.Vision.APIKey = "sk-reload-0000"
	require.NoError(t, store.UpdateConfig(context.Background(), update))

	secret, err := NewSecretKey("settings-test", "")
	require.NoError(t, err)
	reopened, err := NewSettingsStore(context.Background(), slog.New(slog.NewJSONHandler(os.Stdout, nil)), repo, secret)
	require.NoError(t, err)
	assert.Equal(t, "sk-reload-0000", reopened.GetConfig().Providers.Vision.APIKey)
}

func TestSettingsStore_Validation(t *testing.T) {
	store, _ := newTestStore(t)

	tests := []struct {
		name   string
		mutate func(*domain.VisionProviderConfig)
		field  string
	}{
		{"remote without url", func(v *domain.VisionProviderConfig) { v.Mode = "remote"; v.APIKey = "sk-x" }, "providers.vision.remote_url"},
		{"remote without key", func(v *domain.VisionProviderConfig) { v.Mode = "remote"; v.RemoteURL = "https://x" }, "providers.vision.api_key"},
		{"unknown mode", func(v *domain.VisionProviderConfig) { v.Mode = "cloud" }, "providers.vision.mode"},
		{"no model", func(v *domain.VisionProviderConfig) { v.DefaultModel = "" }, "providers.vision.default_model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(&cfg.Providers.Vision)

			err := store.UpdateConfig(context.Background(), cfg)
			var inputErr *domain.InputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, tt.field, inputErr.Field)
		})
	}
	assert.Equal(t, "local", store.GetConfig().Providers.Vision.Mode)
}
