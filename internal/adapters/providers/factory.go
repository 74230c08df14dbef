package providers

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/manthysbr/inspectd/internal/adapters/vision"
	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
)

// Build creates the analysis provider from app configuration.
// It hides local/remote backend selection from callers.
func Build(config *domain.AppConfig, logger *slog.Logger, files ports.FileStore) (*vision.Provider, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	cfg := config.Providers.Vision

	narrativeModel := strings.TrimSpace(cfg.NarrativeModel)
	defaultModel := strings.TrimSpace(cfg.DefaultModel)

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", "local":
		baseURL := strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
		if baseURL == "" {
			baseURL = strings.TrimSpace(cfg.LocalURL)
		}
		baseURL = normalizeOllamaBaseURL(baseURL)

		model := vision.NewOllamaModel(baseURL, defaultModel)
		var narrative vision.Model
		if narrativeModel != "" && narrativeModel != defaultModel {
			narrative = vision.NewOllamaModel(baseURL, narrativeModel)
		}
		logger.Info("analysis provider ready", "mode", "local", "url", baseURL, "model", defaultModel)
		return vision.NewProvider(logger, files, model, narrative), nil
	case "remote":
		remoteURL := strings.TrimSpace(cfg.RemoteURL)
		if remoteURL == "" {
			return nil, fmt.Errorf("vision remote_url is required when mode=remote")
		}
		apiKey := strings.TrimSpace(cfg.APIKey)

		model := vision.NewOpenAIModel(remoteURL, apiKey, defaultModel)
		var narrative vision.Model
		if narrativeModel != "" && narrativeModel != defaultModel {
			narrative = vision.NewOpenAIModel(remoteURL, apiKey, narrativeModel)
		}
		logger.Info("analysis provider ready", "mode", "remote", "url", remoteURL, "model", defaultModel)
		return vision.NewProvider(logger, files, model, narrative), nil
	default:
		return nil, fmt.Errorf("unsupported vision provider mode: %s", cfg.Mode)
	}
}

func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return strings.TrimSuffix(trimmed, "/v1")
	}
	return trimmed
}
