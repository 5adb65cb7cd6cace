// Package llmadapter names the chat-callable contract graph nodes depend on,
// so node code references this package rather than a specific provider SDK.
package llmadapter

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// ChatModel is the contract a graph node needs to call a language model.
type ChatModel interface {
	Generate(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error)
}

// FromLangchain adapts any langchaingo llms.Model (GenerateContent) to
// ChatModel (Generate), so providers already implemented against
// langchaingo's llms.Model slot straight into this package's contract.
func FromLangchain(model llms.Model) ChatModel {
	return langchainModel{model}
}

type langchainModel struct {
	model llms.Model
}

func (m langchainModel) Generate(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	return m.model.GenerateContent(ctx, messages, opts...)
}
