package assistant

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"ephemeral-chat/internal/room"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

const (
	DefaultChatModel  = "gpt-4o-mini"
	DefaultImageModel = "dall-e-3"
)

type OpenAIConfig struct {
	APIKey     string
	Model      string
	ImageModel string
	// BaseURL overrides the API endpoint; empty means the public API.
	BaseURL string
}

// OpenAI implements Responder and Imager on the chat completion and image
// generation endpoints.
type OpenAI struct {
	client     openai.Client
	model      string
	imageModel string
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	return &OpenAI{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
	}
}

func (o *OpenAI) Reply(ctx context.Context, req Request) (string, error) {
	system := req.System
	if system == "" {
		system = DefaultSystemPrompt
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Context)+2)
	msgs = append(msgs, openai.SystemMessage(system))
	for _, t := range req.Context {
		if t.Role == room.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrNoReply
	}
	log.Debug().Str("model", o.model).Int("turns", len(req.Context)).Msg("[ASSISTANT] reply generated")
	return text, nil
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(o.imageModel),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, ErrNoReply
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
