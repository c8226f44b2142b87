package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/z-recall/backend/internal/config"
)

// OpenAIGateway talks to any OpenAI-compatible chat completion endpoint.
type OpenAIGateway struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIGateway builds the gateway from configuration.
func NewOpenAIGateway(cfg config.AIConfig) (*OpenAIGateway, error) {
	if !cfg.OpenAI.Enabled() {
		return nil, &config.ConfigurationError{Key: "OPENAI_API_KEY", Reason: "missing"}
	}

	clientCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAI.BaseURL
	}

	gw := &OpenAIGateway{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.OpenAI.Model,
	}
	if cfg.Temperature != nil {
		gw.temperature = float32(*cfg.Temperature)
	}
	if cfg.MaxTokens != nil {
		gw.maxTokens = *cfg.MaxTokens
	}
	return gw, nil
}

// Complete sends the conversation and returns the first choice.
func (g *OpenAIGateway) Complete(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	content, err := g.create(ctx, messages, nil)
	if err != nil {
		return nil, &GatewayError{Op: "complete", Err: err}
	}

	log.Printf("[ai] openai response, model=%s, length=%d", g.model, len(content))
	return schema.AssistantMessage(content, nil), nil
}

// CompleteStructured uses the json_schema response format.
func (g *OpenAIGateway) CompleteStructured(ctx context.Context, messages []*schema.Message, sc Schema, out any) error {
	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   sc.Name,
			Schema: sc.Definition,
			Strict: true,
		},
	}

	content, err := g.create(ctx, messages, format)
	if err != nil {
		return &GatewayError{Op: "structured", Err: err}
	}
	if err := decodeStructured(content, out); err != nil {
		return &GatewayError{Op: "structured", Err: err}
	}
	return nil
}

func (g *OpenAIGateway) create(ctx context.Context, messages []*schema.Message, format *openai.ChatCompletionResponseFormat) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:          g.model,
		Messages:       toOpenAIMessages(messages),
		Temperature:    g.temperature,
		MaxTokens:      g.maxTokens,
		ResponseFormat: format,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai api status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case schema.System:
			role = openai.ChatMessageRoleSystem
		case schema.Assistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}
