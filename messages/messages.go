// Package messages provides a chat-turn helper built on langchaingo's
// llms.MessageContent, plus an append/replace-by-id reducer for threading a
// conversation through graph state.
package messages

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
)

// NewID returns a fresh message identifier. Constructors call it when
// handed an empty id so every message carries a stable ID for AddMessages
// to replace by.
func NewID() string {
	return uuid.NewString()
}

// Message pairs an llms.MessageContent with a stable ID. langchaingo's
// ContentPart is a sealed interface only llms itself can implement, so an ID
// cannot be smuggled in as an extra content part; it is carried alongside
// the wire content instead.
type Message struct {
	ID string
	llms.MessageContent
}

// NewHumanMessage builds a human turn. An empty id is replaced with a
// fresh one from NewID; the same holds for every constructor below.
func NewHumanMessage(id, text string) Message {
	return Message{
		ID: orNewID(id),
		MessageContent: llms.MessageContent{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(text)},
		},
	}
}

// NewSystemMessage builds a system turn.
func NewSystemMessage(id, text string) Message {
	return Message{
		ID: orNewID(id),
		MessageContent: llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(text)},
		},
	}
}

// NewAIMessage builds an assistant turn, optionally carrying tool calls the
// model requested.
func NewAIMessage(id, text string, toolCalls ...llms.ToolCall) Message {
	var parts []llms.ContentPart
	if text != "" {
		parts = append(parts, llms.TextPart(text))
	}
	for _, tc := range toolCalls {
		parts = append(parts, tc)
	}
	return Message{
		ID: orNewID(id),
		MessageContent: llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: parts,
		},
	}
}

// NewToolMessage builds a tool-result turn responding to toolCallID.
func NewToolMessage(id, toolCallID, name, content string) Message {
	return Message{
		ID: orNewID(id),
		MessageContent: llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{
				llms.ToolCallResponse{ToolCallID: toolCallID, Name: name, Content: content},
			},
		},
	}
}

// Contents strips the ID, returning the plain langchaingo message slice a
// ChatModel.Generate call expects.
func Contents(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageContent
	}
	return out
}

// AddMessages is the reducer for a "messages" schema key: new messages are
// appended, except a new message whose ID matches an existing one replaces
// it in place, preserving that message's original position.
func AddMessages(current, update any) (any, error) {
	cur, err := asMessages(current)
	if err != nil {
		return nil, fmt.Errorf("messages.AddMessages: current: %w", err)
	}
	upd, err := asMessages(update)
	if err != nil {
		return nil, fmt.Errorf("messages.AddMessages: update: %w", err)
	}

	index := make(map[string]int, len(cur))
	for i, m := range cur {
		if m.ID != "" {
			index[m.ID] = i
		}
	}

	out := append([]Message(nil), cur...)
	for _, m := range upd {
		if m.ID != "" {
			if i, ok := index[m.ID]; ok {
				out[i] = m
				continue
			}
		}
		out = append(out, m)
		if m.ID != "" {
			index[m.ID] = len(out) - 1
		}
	}
	return out, nil
}

func orNewID(id string) string {
	if id == "" {
		return NewID()
	}
	return id
}

func asMessages(v any) ([]Message, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []Message:
		return t, nil
	case Message:
		return []Message{t}, nil
	default:
		return nil, fmt.Errorf("want Message or []Message, got %T", v)
	}
}
