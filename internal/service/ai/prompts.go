package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-recall/backend/internal/model/chat"
)

const modelSystemMessage = "You are a helpful assistant with memory that provides information about the user. " +
	"Answer the user's query from the knowledge base when the answer is in the documents, " +
	"otherwise use the web search results provided to you. " +
	"If you have memory for this user, use it to personalize your responses. " +
	"Here is the memory (it may be empty): {memory}"

const createMemoryInstruction = "Create or update a user profile memory based on the user's chat history. " +
	"This will be saved for long-term memory. If there is an existing memory, simply update it. " +
	"Here is the existing memory (it may be empty): {memory}"

const expansionPrompt = "Generate 3 similar search queries based on the following query. " +
	"The queries should be designed to catch potential spelling errors or alternative phrasings. " +
	"Return them as a comma-separated list.\n\nOriginal query: {query}\nSimilar queries:"

var (
	generationTemplate = prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(modelSystemMessage),
		schema.MessagesPlaceholder("context", true),
		schema.MessagesPlaceholder("history", true),
	)

	memoryTemplate = prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(createMemoryInstruction),
		schema.MessagesPlaceholder("history", true),
	)

	expansionTemplate = prompt.FromMessages(
		schema.FString,
		schema.UserMessage(expansionPrompt),
	)
)

// GenerationMessages renders the prompt for the reply: the system instruction
// with memory, an optional context block, then the thread.
func GenerationMessages(ctx context.Context, memory, contextBlock string, history []*schema.Message) ([]*schema.Message, error) {
	vars := map[string]any{
		"memory":  memory,
		"history": history,
	}
	if contextBlock != "" {
		vars["context"] = []*schema.Message{schema.SystemMessage(contextBlock)}
	}

	messages, err := generationTemplate.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("format generation prompt: %w", err)
	}
	return messages, nil
}

// MemoryMessages renders the profile-extraction prompt over the full thread.
func MemoryMessages(ctx context.Context, memory string, history []*schema.Message) ([]*schema.Message, error) {
	messages, err := memoryTemplate.Format(ctx, map[string]any{
		"memory":  memory,
		"history": history,
	})
	if err != nil {
		return nil, fmt.Errorf("format memory prompt: %w", err)
	}
	return messages, nil
}

// ExpansionMessages renders the query-paraphrase prompt.
func ExpansionMessages(ctx context.Context, query string) ([]*schema.Message, error) {
	messages, err := expansionTemplate.Format(ctx, map[string]any{"query": query})
	if err != nil {
		return nil, fmt.Errorf("format expansion prompt: %w", err)
	}
	return messages, nil
}

// HistoryMessages converts thread messages into model messages, preserving order.
func HistoryMessages(messages []chat.Message) []*schema.Message {
	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		case chat.RoleSystem:
			history = append(history, schema.SystemMessage(msg.Content))
		}
	}
	return history
}
