package llm

import (
	"context"
	"errors"
)

// failureMessage is what the assistant says when a provider call fails. The
// request still succeeds so the caller always has something to persist.
const failureMessage = "Sorry, I encountered an error while processing your request."

// ProviderSource is what the engine needs from the registry; tests substitute
// a stub.
type ProviderSource interface {
	Current() Settings
	ActiveAdapter(ctx context.Context) (Adapter, error)
}

// Engine dispatches a full ordered history to the active provider adapter.
// It never touches persistence: the result of Invoke is a pure function of
// the history and the active configuration, plus network I/O.
type Engine struct {
	providers ProviderSource
}

func NewEngine(providers ProviderSource) Engine {
	return Engine{providers: providers}
}

// Invoke runs one provider call. Configuration and history-contract errors
// are request-fatal; everything else degrades to a text-only canonical result
// so provider failures never escape as raw errors.
func (e Engine) Invoke(ctx context.Context, history []Turn) (Result, error) {
	settings := e.providers.Current()
	if err := settings.validate(); err != nil {
		return Result{}, err
	}

	adapter, err := e.providers.ActiveAdapter(ctx)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return Result{}, err
		}
		return Result{Text: failureMessage}, nil
	}

	result, err := adapter.Generate(ctx, history)
	if err != nil {
		if errors.Is(err, ErrMalformedHistory) || errors.Is(err, ErrEmptyHistory) {
			return Result{}, err
		}
		return Result{Text: failureMessage}, nil
	}
	return result, nil
}
