package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"docrag/internal/model"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c, err := NewOpenAIClient(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	if err != nil {
		srv.Close()
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return c, srv
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIOptions{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestEncodeText(t *testing.T) {
	c, srv := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{0.5, 0.25}},
			},
		})
	})
	defer srv.Close()

	vec, err := c.EncodeText(context.Background(), "what is a fingerprint")
	if err != nil {
		t.Fatalf("EncodeText: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestEncodeTextEmptyInput(t *testing.T) {
	c, srv := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	})
	defer srv.Close()

	_, err := c.EncodeText(context.Background(), "   ")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, model.ErrEncodingUnavailable) {
		t.Fatalf("expected ErrEncodingUnavailable, got %v", err)
	}
}

func TestEncodeTextRateLimitIsRetryable(t *testing.T) {
	c, srv := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	})
	defer srv.Close()

	_, err := c.EncodeText(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !model.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestEncodeTextAuthFailureIsPermanent(t *testing.T) {
	c, srv := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	})
	defer srv.Close()

	_, err := c.EncodeText(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if model.IsRetryable(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	c, srv := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "  grounded answer  "}},
			},
		})
	})
	defer srv.Close()

	text, err := c.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "grounded answer" {
		t.Fatalf("got %q", text)
	}
}

func TestGenerateServerErrorWrapsSentinel(t *testing.T) {
	c, srv := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})
	defer srv.Close()

	_, err := c.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, model.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
	if !model.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
