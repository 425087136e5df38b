package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBodyBytes = 8 * 1024

// Sampling is held at conservative fixed defaults; the core does not expose
// per-request tuning.
const (
	ollamaTemperature = 0.2
	ollamaTopP        = 0.9
)

type LocalModel struct {
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	ModifiedAt string `json:"modifiedAt,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

type ollamaClient struct {
	baseURL    string
	httpClient *http.Client
}

func newOllamaClient(baseURL string, httpClient *http.Client) *ollamaClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ollamaClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

// chat issues a single non-streaming completion call and returns the raw
// assistant reply.
func (c *ollamaClient) chat(ctx context.Context, model string, messages []ollamaMessage) (string, error) {
	payload, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  ollamaOptions{Temperature: ollamaTemperature, TopP: ollamaTopP},
	})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	body, err := c.post(ctx, "/api/chat", payload)
	if err != nil {
		return "", err
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode ollama chat response: %w", err)
	}
	if strings.TrimSpace(parsed.Error) != "" {
		return "", errors.New(strings.TrimSpace(parsed.Error))
	}
	return parsed.Message.Content, nil
}

func (c *ollamaClient) listModels(ctx context.Context) ([]LocalModel, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build ollama tags request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request ollama tags: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("ollama tags returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode ollama tags response: %w", err)
	}

	models := make([]LocalModel, 0, len(parsed.Models))
	for _, model := range parsed.Models {
		name := strings.TrimSpace(model.Name)
		if name == "" {
			continue
		}
		models = append(models, LocalModel{Name: name, Size: model.Size, ModifiedAt: model.ModifiedAt})
	}
	return models, nil
}

// showModel probes the model server's describe endpoint for a single model.
func (c *ollamaClient) showModel(ctx context.Context, model string) error {
	payload, err := json.Marshal(map[string]string{"model": model})
	if err != nil {
		return fmt.Errorf("marshal ollama show request: %w", err)
	}
	if _, err := c.post(ctx, "/api/show", payload); err != nil {
		return err
	}
	return nil
}

func (c *ollamaClient) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("ollama %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}
	return body, nil
}

type ollamaAdapter struct {
	client *ollamaClient
	model  string
}

func (a *ollamaAdapter) Generate(ctx context.Context, history []Turn) (Result, error) {
	messages := make([]ollamaMessage, 0, len(history))
	for _, turn := range history {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		messages = append(messages, ollamaMessage{Role: turn.Role, Content: turn.Text})
	}
	if len(messages) == 0 {
		return Result{}, ErrEmptyHistory
	}

	reply, err := a.client.chat(ctx, a.model, messages)
	if err != nil {
		return Result{}, callFailed("ollama", err)
	}
	return ExtractThinking(reply), nil
}
