package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIModel implements Model against any OpenAI-compatible chat
// completions endpoint. Images travel as data URLs.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

func NewOpenAIModel(baseURL, apiKey, model string) *OpenAIModel {
	if model == "" {
		model = openai.GPT4o
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIModel{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (m *OpenAIModel) Complete(ctx context.Context, prompt string, images []Image) (string, error) {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(images) == 0 {
		msg.Content = prompt
	} else {
		msg.MultiContent = []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
		for _, img := range images {
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL(img),
					Detail: openai.ImageURLDetailHigh,
				},
			})
		}
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    []openai.ChatCompletionMessage{msg},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func dataURL(img Image) string {
	mime := img.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
