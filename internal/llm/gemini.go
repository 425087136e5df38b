package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	generativelanguage "google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/option"
)

// Models whose identifier carries this marker emit structured thought parts.
const reasoningModelMarker = "thinking"

const geminiRoleModel = "model"

type geminiAdapter struct {
	service *generativelanguage.Service
	model   string
}

func newGeminiAdapter(ctx context.Context, apiKey, model string) (*geminiAdapter, error) {
	service, err := generativelanguage.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("build gemini service: %w", err)
	}
	return &geminiAdapter{service: service, model: model}, nil
}

// probe issues a lightweight models-list call to validate the credential
// before the adapter is activated.
func (a *geminiAdapter) probe(ctx context.Context) error {
	if _, err := a.service.Models.List().PageSize(1).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return nil
}

func (a *geminiAdapter) Generate(ctx context.Context, history []Turn) (Result, error) {
	contents, err := geminiContents(history)
	if err != nil {
		return Result{}, err
	}

	resp, err := a.service.Models.GenerateContent("models/"+a.model, &generativelanguage.GenerateContentRequest{
		Contents: contents,
	}).Context(ctx).Do()
	if err != nil {
		return Result{}, callFailed("gemini", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, callFailed("gemini", errors.New("response carried no candidates"))
	}

	parts := resp.Candidates[0].Content.Parts
	if isReasoningModel(a.model) {
		return splitThoughtParts(parts), nil
	}
	return Result{Text: joinTextParts(parts)}, nil
}

// geminiContents converts ordered history into the provider's session-seed
// format: prior turns plus a final user prompt. A history that does not end
// in a non-empty user turn is malformed.
func geminiContents(history []Turn) ([]*generativelanguage.Content, error) {
	if len(history) == 0 {
		return nil, ErrMalformedHistory
	}

	last := history[len(history)-1]
	if last.Role != RoleUser || strings.TrimSpace(last.Text) == "" {
		return nil, ErrMalformedHistory
	}

	contents := make([]*generativelanguage.Content, 0, len(history))
	for _, turn := range history {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		role := RoleUser
		if turn.Role == RoleAssistant {
			role = geminiRoleModel
		}
		contents = append(contents, &generativelanguage.Content{
			Role:  role,
			Parts: []*generativelanguage.Part{{Text: turn.Text}},
		})
	}
	return contents, nil
}

// splitThoughtParts separates parts flagged as internal reasoning from
// user-facing content, keeping each side in its original order. When no part
// is flagged the whole reply is text.
func splitThoughtParts(parts []*generativelanguage.Part) Result {
	var thinking, text strings.Builder
	for _, part := range parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			thinking.WriteString(part.Text)
			continue
		}
		text.WriteString(part.Text)
	}
	return Result{
		Text:     strings.TrimSpace(text.String()),
		Thinking: strings.TrimSpace(thinking.String()),
	}
}

func joinTextParts(parts []*generativelanguage.Part) string {
	var out strings.Builder
	for _, part := range parts {
		if part == nil {
			continue
		}
		out.WriteString(part.Text)
	}
	return strings.TrimSpace(out.String())
}

func isReasoningModel(model string) bool {
	return strings.Contains(strings.ToLower(model), reasoningModelMarker)
}
