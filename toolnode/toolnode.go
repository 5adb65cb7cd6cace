// Package toolnode builds a graph.Node that dispatches tool calls requested
// by the last AI message in state and appends their results as tool
// messages, the way a ReAct-style agent loop expects.
package toolnode

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/arigraph/stepgraph/graph"
	"github.com/arigraph/stepgraph/messages"
)

// Handler executes one named tool against its raw (JSON) arguments and
// returns the text to put back on the wire as the tool's response.
type Handler func(ctx context.Context, arguments string) (string, error)

// StateKey is the schema key tool nodes read and write messages under.
const StateKey = "messages"

// New returns a graph.Node that looks at the last message in state[StateKey]
// for llms.ToolCall parts, runs the matching handler for each, and returns
// an update appending one tool message per call. A call naming a handler
// that isn't registered produces an error-content tool message rather than
// failing the node, so one bad tool call doesn't sink an otherwise valid
// step.
func New(handlers map[string]Handler) graph.Node {
	return func(ctx context.Context, state map[string]any) (any, error) {
		msgs, ok := state[StateKey].([]messages.Message)
		if !ok || len(msgs) == 0 {
			return nil, fmt.Errorf("toolnode: state[%q] is not a non-empty []messages.Message", StateKey)
		}

		last := msgs[len(msgs)-1]
		if last.Role != llms.ChatMessageTypeAI {
			return nil, fmt.Errorf("toolnode: last message is not an AI message")
		}

		var out []messages.Message
		for _, part := range last.Parts {
			tc, ok := part.(llms.ToolCall)
			if !ok {
				continue
			}
			out = append(out, runToolCall(ctx, handlers, tc))
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("toolnode: last AI message has no tool calls")
		}

		return map[string]any{StateKey: out}, nil
	}
}

func runToolCall(ctx context.Context, handlers map[string]Handler, tc llms.ToolCall) messages.Message {
	name := tc.FunctionCall.Name
	handler, ok := handlers[name]
	if !ok {
		return messages.NewToolMessage(tc.ID+":resp", tc.ID, name, fmt.Sprintf("error: no tool registered as %q", name))
	}

	content, err := handler(ctx, tc.FunctionCall.Arguments)
	if err != nil {
		content = fmt.Sprintf("error: %v", err)
	}
	return messages.NewToolMessage(tc.ID+":resp", tc.ID, name, content)
}

// UnmarshalArgs is a convenience for handlers that expect their arguments as
// a JSON object rather than a raw string.
func UnmarshalArgs(arguments string, v any) error {
	if arguments == "" {
		return nil
	}
	return json.Unmarshal([]byte(arguments), v)
}
