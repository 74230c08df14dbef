package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Complete(ctx context.Context, prompt string, images []Image) (string, error) {
	args := m.Called(ctx, prompt, images)
	return args.String(0), args.Error(1)
}

type mapFiles map[string][]byte

func (f mapFiles) Save(_ context.Context, key string, r io.Reader, _ string) (domain.FileRef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f[key] = data
	return domain.FileRef(key), nil
}

func (f mapFiles) Open(_ context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	data, ok := f[string(ref)]
	if !ok {
		return nil, fmt.Errorf("%s: not found", ref)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f mapFiles) DeletePrefix(context.Context, string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func TestProvider_Analyze(t *testing.T) {
	files := mapFiles{"a.png": pngBytes, "b.png": pngBytes}
	model := new(mockModel)
	model.On("Complete", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(imgs []Image) bool {
		return len(imgs) == 2 && imgs[0].MIME == "image/png"
	})).Return(`{"overall_condition": "good", "issues": ["dent on frame"]}`, nil)

	p := NewProvider(testLogger(), files, model, nil)
	out := p.Analyze(context.Background(), domain.KindAppearance, []domain.FileRef{"a.png", "b.png"})

	require.True(t, out.Success, out.Error)
	assert.Equal(t, domain.KindAppearance, out.Kind)
	assert.Equal(t, "good", out.Payload.(domain.AppearanceAnalysis).OverallCondition)
	model.AssertExpectations(t)
}

func TestProvider_Failures(t *testing.T) {
	files := mapFiles{"a.png": pngBytes}

	t.Run("missing image", func(t *testing.T) {
		p := NewProvider(testLogger(), files, new(mockModel), nil)
		out := p.Extract(context.Background(), domain.KindBattery, "missing.png")
		assert.False(t, out.Success)
		assert.Contains(t, out.Error, "open image")
	})

	t.Run("model error", func(t *testing.T) {
		model := new(mockModel)
		model.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("connection refused"))
		p := NewProvider(testLogger(), files, model, nil)
		out := p.Extract(context.Background(), domain.KindBattery, "a.png")
		assert.False(t, out.Success)
		assert.Contains(t, out.Error, "connection refused")
	})

	t.Run("malformed reply", func(t *testing.T) {
		model := new(mockModel)
		model.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("the battery looks fine", nil)
		p := NewProvider(testLogger(), files, model, nil)
		out := p.Extract(context.Background(), domain.KindBattery, "a.png")
		assert.False(t, out.Success)
		assert.Contains(t, out.Error, "malformed")
		assert.Nil(t, out.Payload)
	})

	t.Run("condition kind through extract", func(t *testing.T) {
		p := NewProvider(testLogger(), files, new(mockModel), nil)
		out := p.Extract(context.Background(), domain.KindScreen, "a.png")
		assert.False(t, out.Success)
	})
}

func TestProvider_Narrative(t *testing.T) {
	vision := new(mockModel)
	text := new(mockModel)
	text.On("Complete", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return bytes.Contains([]byte(prompt), []byte("## Battery"))
	}), []Image(nil)).Return(`{"price": "2800-3000", "other_info": "ok"}`, nil)

	p := NewProvider(testLogger(), mapFiles{}, vision, text)
	out := p.SynthesizePriceNarrative(context.Background(), "## Battery\n- Maximum capacity: 80%\n")

	assert.True(t, out.Success)
	assert.Equal(t, "2800-3000", out.PriceHint)
	vision.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	text.AssertExpectations(t)
}

func TestOllamaModel_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llava", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Images, 1)
		assert.Equal(t, base64.StdEncoding.EncodeToString(pngBytes), req.Images[0])

		json.NewEncoder(w).Encode(generateResponse{Response: `{"price": "1"}`, Done: true})
	}))
	defer server.Close()

	m := NewOllamaModel(server.URL+"/", "llava")
	out, err := m.Complete(context.Background(), "describe", []Image{{Data: pngBytes, MIME: "image/png"}})
	require.NoError(t, err)
	assert.Equal(t, `{"price": "1"}`, out)
}

func TestOllamaModel_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewOllamaModel(server.URL, "missing").Complete(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOpenAIModel_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content []struct {
					Type     string `json:"type"`
					ImageURL struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 1)
		require.Len(t, body.Messages[0].Content, 2)
		assert.Equal(t, "image_url", body.Messages[0].Content[1].Type)
		assert.Contains(t, body.Messages[0].Content[1].ImageURL.URL, "data:image/png;base64,")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"screen_condition\":\"good\",\"issues\":[]}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	m := NewOpenAIModel(server.URL+"/v1", "sk-test", "gpt-4o-mini")
	out, err := m.Complete(context.Background(), "inspect", []Image{{Data: pngBytes, MIME: "image/png"}})
	require.NoError(t, err)
	assert.Contains(t, out, "screen_condition")
}
