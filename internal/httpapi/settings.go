package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"magnus/backend/internal/llm"
)

type providerSettingsResponse struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Endpoint      string `json:"endpoint,omitempty"`
	HasCredential bool   `json:"hasCredential"`
}

// GetProviderSettings reports the active configuration. The credential is
// never echoed back, only whether one is set.
func (h Handler) GetProviderSettings(w http.ResponseWriter, r *http.Request) {
	settings := h.registry.Current()
	writeJSON(w, http.StatusOK, providerSettingsResponse{
		Provider:      string(settings.Provider),
		Model:         settings.Model,
		Endpoint:      settings.Endpoint,
		HasCredential: settings.APIKey != "",
	})
}

type updateProviderSettingsRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"apiKey"`
	Endpoint string `json:"endpoint"`
}

func (h Handler) UpdateProviderSettings(w http.ResponseWriter, r *http.Request) {
	var req updateProviderSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	provider := llm.Provider(strings.TrimSpace(req.Provider))
	if provider != llm.ProviderGemini && provider != llm.ProviderOllama {
		writeError(w, http.StatusBadRequest, "invalid_request", "provider must be gemini or ollama")
		return
	}

	requested := llm.Settings{
		Provider: provider,
		Model:    strings.TrimSpace(req.Model),
		APIKey:   strings.TrimSpace(req.APIKey),
		Endpoint: strings.TrimSpace(req.Endpoint),
	}

	if err := h.registry.Activate(r.Context(), requested); err != nil {
		switch {
		case errors.Is(err, llm.ErrInvalidCredential):
			writeError(w, http.StatusBadRequest, "invalid_credential", "the provider rejected the credential")
		case errors.Is(err, llm.ErrModelNotFound):
			writeError(w, http.StatusNotFound, "model_not_found", "the requested model is not available")
		default:
			writeError(w, http.StatusBadGateway, "provider_unreachable", "failed to validate provider settings")
		}
		return
	}

	settings := h.registry.Current()
	writeJSON(w, http.StatusOK, providerSettingsResponse{
		Provider:      string(settings.Provider),
		Model:         settings.Model,
		Endpoint:      settings.Endpoint,
		HasCredential: settings.APIKey != "",
	})
}

func (h Handler) ListLocalModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.registry.LocalModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "local_provider_unreachable", "no reachable local model server")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}
