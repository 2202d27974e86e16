package engine

import (
	"context"
	"fmt"
)

// AssistantTurn is what a Responder sees for one assistant exchange. Turn 0 is
// the opening reply given when the node is entered.
type AssistantTurn struct {
	NodeID      string
	AssistantID string
	Prompt      string
	Temperature float64
	Turn        int
	Input       string
	Variables   map[string]any
}

// Responder produces assistant replies.
type Responder interface {
	Reply(ctx context.Context, turn AssistantTurn) (string, error)
}

// SyntheticResponder produces canned, deterministic replies.
type SyntheticResponder struct{}

func (SyntheticResponder) Reply(_ context.Context, turn AssistantTurn) (string, error) {
	if turn.Turn == 0 {
		if turn.Prompt != "" {
			return turn.Prompt, nil
		}

		return "Hello, how can I help you today?", nil
	}

	return fmt.Sprintf("I understand: %q. Is there anything else I can help with?", turn.Input), nil
}
