package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"magnus/backend/internal/config"
)

type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOllama Provider = "ollama"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// Settings is the single active provider configuration. Switching providers
// replaces it for every subsequent call; there is no per-request override.
type Settings struct {
	Provider Provider
	Model    string
	APIKey   string
	Endpoint string
}

func (s Settings) validate() error {
	switch s.Provider {
	case ProviderGemini:
		if strings.TrimSpace(s.APIKey) == "" || strings.TrimSpace(s.Model) == "" {
			return ErrNotConfigured
		}
	case ProviderOllama:
		if strings.TrimSpace(s.Model) == "" {
			return ErrNotConfigured
		}
	default:
		return ErrNotConfigured
	}
	return nil
}

// Registry owns the active settings snapshot and the lazily-constructed
// provider client. Activation replaces both atomically; a failed activation
// leaves the previous configuration untouched.
type Registry struct {
	mu       sync.RWMutex
	settings Settings
	adapter  Adapter

	configuredEndpoint string
	httpClient         *http.Client
	lookupEnv          func(string) string
}

func NewRegistry(cfg config.Config, httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	r := &Registry{
		configuredEndpoint: cfg.OllamaBaseURL,
		httpClient:         httpClient,
		lookupEnv:          os.Getenv,
	}

	// Seed initial settings from the environment without probing; the client
	// itself is built on first use.
	if cfg.GeminiAPIKey != "" {
		r.settings = Settings{Provider: ProviderGemini, Model: cfg.GeminiModel, APIKey: cfg.GeminiAPIKey}
	}
	return r
}

func (r *Registry) Current() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// Activate validates the requested configuration against the live provider
// and, only on success, swaps it in as the active one.
func (r *Registry) Activate(ctx context.Context, requested Settings) error {
	var adapter Adapter

	switch requested.Provider {
	case ProviderGemini:
		if strings.TrimSpace(requested.APIKey) == "" || strings.TrimSpace(requested.Model) == "" {
			return ErrInvalidCredential
		}
		gemini, err := newGeminiAdapter(ctx, requested.APIKey, requested.Model)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
		if err := gemini.probe(ctx); err != nil {
			return err
		}
		adapter = gemini

	case ProviderOllama:
		if strings.TrimSpace(requested.Model) == "" {
			return ErrModelNotFound
		}
		endpoint, client, _, err := r.resolveLocalEndpoint(ctx, requested.Endpoint)
		if err != nil {
			return err
		}
		if err := client.showModel(ctx, requested.Model); err != nil {
			return fmt.Errorf("%w: %v", ErrModelNotFound, err)
		}
		requested.Endpoint = endpoint
		adapter = &ollamaAdapter{client: client, model: requested.Model}

	default:
		return fmt.Errorf("unsupported provider: %q", requested.Provider)
	}

	r.mu.Lock()
	r.settings = requested
	r.adapter = adapter
	r.mu.Unlock()
	return nil
}

// ActiveAdapter returns the adapter for the current settings, constructing it
// on first use when the settings were seeded rather than activated.
func (r *Registry) ActiveAdapter(ctx context.Context) (Adapter, error) {
	r.mu.RLock()
	adapter := r.adapter
	settings := r.settings
	r.mu.RUnlock()
	if adapter != nil {
		return adapter, nil
	}

	if err := settings.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adapter != nil {
		return r.adapter, nil
	}

	switch r.settings.Provider {
	case ProviderGemini:
		gemini, err := newGeminiAdapter(ctx, r.settings.APIKey, r.settings.Model)
		if err != nil {
			return nil, err
		}
		r.adapter = gemini
	case ProviderOllama:
		endpoint := firstNonEmpty(r.settings.Endpoint, r.configuredEndpoint, r.lookupEnv("OLLAMA_HOST"), defaultOllamaBaseURL)
		r.adapter = &ollamaAdapter{
			client: newOllamaClient(normalizeEndpoint(endpoint), r.httpClient),
			model:  r.settings.Model,
		}
	default:
		return nil, ErrNotConfigured
	}
	return r.adapter, nil
}

// LocalModels probes the local model server catalog regardless of which
// provider is active.
func (r *Registry) LocalModels(ctx context.Context) ([]LocalModel, error) {
	_, _, models, err := r.resolveLocalEndpoint(ctx, r.Current().Endpoint)
	if err != nil {
		return nil, err
	}
	return models, nil
}

// resolveLocalEndpoint tries endpoint candidates in order — explicit setting,
// configured override, OLLAMA_HOST, conventional default — and accepts the
// first that returns a non-empty model catalog.
func (r *Registry) resolveLocalEndpoint(ctx context.Context, explicit string) (string, *ollamaClient, []LocalModel, error) {
	candidates := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	for _, candidate := range []string{explicit, r.configuredEndpoint, r.lookupEnv("OLLAMA_HOST"), defaultOllamaBaseURL} {
		normalized := normalizeEndpoint(candidate)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		candidates = append(candidates, normalized)
	}

	var lastErr error
	for _, candidate := range candidates {
		client := newOllamaClient(candidate, r.httpClient)
		models, err := client.listModels(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if len(models) == 0 {
			lastErr = fmt.Errorf("endpoint %s has no models", candidate)
			continue
		}
		return candidate, client, models, nil
	}

	return "", nil, nil, fmt.Errorf("%w: no reachable model server (%v)", ErrModelNotFound, lastErr)
}

func normalizeEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
