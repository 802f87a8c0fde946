package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"quill/internal/errkind"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	})
}

func TestCompleteReturnsTextAndUsage(t *testing.T) {
	var gotIdempotencyKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":"{\"summary\":\"solid\"}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":120,"completion_tokens":40}
		}`))
	})

	completion, err := client.Complete(context.Background(), Request{
		SystemPrompt:   "You are an editor.",
		UserPrompt:     "Critique this.",
		IdempotencyKey: "abc123",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Text != `{"summary":"solid"}` {
		t.Fatalf("unexpected text %q", completion.Text)
	}
	if completion.InputTokens != 120 || completion.OutputTokens != 40 {
		t.Fatalf("unexpected usage %+v", completion)
	}
	if gotIdempotencyKey != "abc123" {
		t.Fatalf("idempotency key not sent, got %q", gotIdempotencyKey)
	}
}

func TestCompleteClassifiesAuthFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})
	_, err := client.Complete(context.Background(), Request{SystemPrompt: "s", UserPrompt: "u"})
	if !errors.Is(err, errkind.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestCompleteClassifiesRateLimitAsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	_, err := client.Complete(context.Background(), Request{SystemPrompt: "s", UserPrompt: "u"})
	if errkind.Kind(err) != errkind.KindTransient {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestCompleteClassifies5xxAsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	})
	_, err := client.Complete(context.Background(), Request{SystemPrompt: "s", UserPrompt: "u"})
	if !errkind.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestCompleteRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{Model: "test-model"})
	_, err := client.Complete(context.Background(), Request{SystemPrompt: "s", UserPrompt: "u"})
	if !errors.Is(err, errkind.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestCompleteRejectsEmptyContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":""},"finish_reason":"length"}]}`))
	})
	_, err := client.Complete(context.Background(), Request{SystemPrompt: "s", UserPrompt: "u"})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
	if !errkind.Retryable(err) {
		t.Fatalf("empty content should be retryable, got %v", err)
	}
}
