package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func ollamaTestServer(t *testing.T, models []string, replies map[string]string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			type tagModel struct {
				Name string `json:"name"`
			}
			out := struct {
				Models []tagModel `json:"models"`
			}{}
			for _, name := range models {
				out.Models = append(out.Models, tagModel{Name: name})
			}
			_ = json.NewEncoder(w).Encode(out)

		case "/api/show":
			var req struct {
				Model string `json:"model"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			for _, name := range models {
				if name == req.Model {
					_, _ = w.Write([]byte(`{"details":{}}`))
					return
				}
			}
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)

		case "/api/chat":
			var req ollamaChatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode chat request: %v", err)
			}
			if req.Stream {
				t.Fatal("expected non-streaming chat request")
			}
			if req.Options.Temperature != ollamaTemperature || req.Options.TopP != ollamaTopP {
				t.Fatalf("unexpected sampling options: %+v", req.Options)
			}
			reply := replies[req.Model]
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": reply},
				"done":    true,
			})

		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaAdapterGeneratesAndExtractsThinking(t *testing.T) {
	server := ollamaTestServer(t, []string{"qwen3:8b"}, map[string]string{
		"qwen3:8b": "<think>let me work this out</think>recursion is a function calling itself",
	})
	defer server.Close()

	adapter := &ollamaAdapter{
		client: newOllamaClient(server.URL, server.Client()),
		model:  "qwen3:8b",
	}

	result, err := adapter.Generate(context.Background(), []Turn{
		{Role: RoleUser, Text: "Explain recursion briefly"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Thinking != "let me work this out" {
		t.Fatalf("unexpected thinking: %q", result.Thinking)
	}
	if result.Text != "recursion is a function calling itself" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
}

func TestOllamaAdapterRejectsEmptyHistory(t *testing.T) {
	t.Parallel()

	adapter := &ollamaAdapter{client: newOllamaClient("http://127.0.0.1:1", nil), model: "qwen3:8b"}

	_, err := adapter.Generate(context.Background(), []Turn{{Role: RoleUser, Text: "   "}})
	if !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("expected ErrEmptyHistory, got %v", err)
	}
}

func TestOllamaAdapterWrapsTransportFailures(t *testing.T) {
	t.Parallel()

	adapter := &ollamaAdapter{client: newOllamaClient("http://127.0.0.1:1", nil), model: "qwen3:8b"}

	_, err := adapter.Generate(context.Background(), []Turn{{Role: RoleUser, Text: "hi"}})
	if err == nil {
		t.Fatal("expected transport failure")
	}
	if errors.Is(err, ErrEmptyHistory) || errors.Is(err, ErrMalformedHistory) {
		t.Fatalf("transport failure must not look like a contract violation: %v", err)
	}
}

func TestOllamaClientListModels(t *testing.T) {
	server := ollamaTestServer(t, []string{"llama3:8b", "qwen3:8b"}, nil)
	defer server.Close()

	client := newOllamaClient(server.URL, server.Client())
	models, err := client.listModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Name != "llama3:8b" {
		t.Fatalf("unexpected first model: %q", models[0].Name)
	}
}

func TestOllamaClientShowModelMissing(t *testing.T) {
	server := ollamaTestServer(t, []string{"llama3:8b"}, nil)
	defer server.Close()

	client := newOllamaClient(server.URL, server.Client())
	if err := client.showModel(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing model")
	}
}
