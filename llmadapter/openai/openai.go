// Package openai wraps github.com/sashabaranov/go-openai behind the
// llmadapter.ChatModel contract.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// Model adapts an *openai.Client plus a model name to llmadapter.ChatModel.
type Model struct {
	client *openai.Client
	model  string
}

// New builds a Model from an API key. Use NewWithClient to share a client or
// point at a custom base URL (Azure OpenAI, a local gateway, etc).
func New(apiKey, model string) *Model {
	return &Model{client: openai.NewClient(apiKey), model: model}
}

// NewWithClient wraps an already-configured client.
func NewWithClient(client *openai.Client, model string) *Model {
	return &Model{client: client, model: model}
}

// Generate satisfies llmadapter.ChatModel.
func (m *Model) Generate(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	o := &llms.CallOptions{Model: m.model}
	for _, opt := range opts {
		opt(o)
	}

	req := openai.ChatCompletionRequest{
		Model:       o.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(o.Temperature),
	}
	if o.MaxTokens > 0 {
		req.MaxTokens = o.MaxTokens
	}
	if tools := toOpenAITools(o.Tools); len(tools) > 0 {
		req.Tools = tools
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}

	choices := make([]*llms.ContentChoice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, toContentChoice(c))
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

func toOpenAIMessages(messages []llms.MessageContent) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, toOpenAIMessage(msg))
	}
	return out
}

func toOpenAIMessage(msg llms.MessageContent) openai.ChatCompletionMessage {
	om := openai.ChatCompletionMessage{Role: toOpenAIRole(msg.Role)}
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			om.Content += p.Text
		case llms.ToolCall:
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   p.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      p.FunctionCall.Name,
					Arguments: p.FunctionCall.Arguments,
				},
			})
		case llms.ToolCallResponse:
			om.ToolCallID = p.ToolCallID
			om.Content = p.Content
		}
	}
	return om
}

func toOpenAIRole(role llms.ChatMessageType) string {
	switch role {
	case llms.ChatMessageTypeSystem:
		return openai.ChatMessageRoleSystem
	case llms.ChatMessageTypeAI:
		return openai.ChatMessageRoleAssistant
	case llms.ChatMessageTypeTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func toOpenAITools(tools []llms.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  json.RawMessage(mustMarshal(t.Function.Parameters)),
			},
		})
	}
	return out
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func toContentChoice(c openai.ChatCompletionChoice) *llms.ContentChoice {
	choice := &llms.ContentChoice{
		Content:    c.Message.Content,
		StopReason: string(c.FinishReason),
	}
	for _, tc := range c.Message.ToolCalls {
		choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			FunctionCall: &llms.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return choice
}
