package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-recall/backend/internal/config"
)

// Service is the eino-backed Gateway. It runs every request through a
// compiled chain around the configured chat model.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[[]*schema.Message, *schema.Message]
}

// NewService creates the gateway from the Ark model configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel)
}

// NewServiceWithModel compiles the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{chatModel: chatModel, chain: runnable}, nil
}

// Complete runs the chain and returns the assistant reply.
func (s *Service) Complete(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	response, err := s.chain.Invoke(ctx, messages)
	if err != nil {
		return nil, &GatewayError{Op: "complete", Err: err}
	}
	if response == nil {
		return nil, &GatewayError{Op: "complete", Err: fmt.Errorf("empty model response")}
	}

	log.Printf("[ai] generated response, messages=%d, length=%d", len(messages), len(response.Content))
	return response, nil
}

// CompleteStructured appends a JSON instruction and decodes the reply into out.
func (s *Service) CompleteStructured(ctx context.Context, messages []*schema.Message, sc Schema, out any) error {
	input := make([]*schema.Message, 0, len(messages)+1)
	input = append(input, messages...)
	input = append(input, schema.SystemMessage(structuredInstruction(sc)))

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return &GatewayError{Op: "structured", Err: err}
	}
	if response == nil {
		return &GatewayError{Op: "structured", Err: fmt.Errorf("empty model response")}
	}

	if err := decodeStructured(response.Content, out); err != nil {
		return &GatewayError{Op: "structured", Err: err}
	}
	return nil
}
