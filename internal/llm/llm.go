// Package llm routes chat history to the active language-model provider and
// normalizes heterogeneous provider replies into a single canonical shape.
package llm

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the ordered history replayed to a stateless model call.
type Turn struct {
	Role string
	Text string
}

// Result is the provider-agnostic reply. Thinking, when non-empty, has been
// stripped out of Text and is surfaced for the current response only; callers
// persist Text alone.
type Result struct {
	Text     string `json:"text"`
	Thinking string `json:"thinking,omitempty"`
}

// Adapter converts a full ordered history into one provider call and
// normalizes the raw reply, including thinking-segment extraction.
type Adapter interface {
	Generate(ctx context.Context, history []Turn) (Result, error)
}
