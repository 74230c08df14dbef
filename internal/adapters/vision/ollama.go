package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Image is one picture handed to a model.
type Image struct {
	Data []byte
	MIME string
}

// Model abstracts the multimodal backend
type Model interface {
	Complete(ctx context.Context, prompt string, images []Image) (string, error)
}

// OllamaModel implements Model for a local Ollama instance
type OllamaModel struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaModel(baseURL, model string) *OllamaModel {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5vl:7b"
	}
	return &OllamaModel{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 180 * time.Second},
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (m *OllamaModel) Complete(ctx context.Context, prompt string, images []Image) (string, error) {
	reqBody := generateRequest{
		Model:   m.model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0.1},
	}
	for _, img := range images {
		reqBody.Images = append(reqBody.Images, base64.StdEncoding.EncodeToString(img.Data))
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if genResp.Error != "" {
		return "", fmt.Errorf("ollama: %s", genResp.Error)
	}
	return genResp.Response, nil
}
