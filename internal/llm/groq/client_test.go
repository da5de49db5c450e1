package groq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dwizi/courier/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completionBody(content, finishReason string) string {
	return `{"choices":[{"message":{"content":` + mustJSON(content) + `},"finish_reason":"` + finishReason + `"}]}`
}

func mustJSON(value string) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func TestCompleteParsesResponse(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		io.WriteString(w, completionBody("hello there", "stop"))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, discardLogger())
	raw, err := client.Complete(context.Background(), "key-1", llm.Request{
		ModelID:      "test-model",
		PromptText:   "hi",
		SystemPrompt: "be nice",
		History: []llm.HistoryMessage{
			{Role: "user", Content: "earlier"},
			{Role: "assistant", Content: "reply"},
		},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if raw.Text != "hello there" || raw.Truncated {
		t.Fatalf("got %+v", raw)
	}

	if captured["model"] != "test-model" {
		t.Fatalf("model = %v", captured["model"])
	}
	messages := captured["messages"].([]any)
	if len(messages) != 4 {
		t.Fatalf("got %d messages", len(messages))
	}
	first := messages[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be nice" {
		t.Fatalf("first message = %v", first)
	}
	if _, ok := captured["reasoning_format"]; ok {
		t.Fatalf("reasoning_format set for non-reasoning model")
	}
}

func TestCompleteSetsReasoningFormat(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		io.WriteString(w, completionBody("ok", "stop"))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, discardLogger())
	_, err := client.Complete(context.Background(), "k", llm.Request{
		ModelID:           "reasoning-model",
		PromptText:        "hi",
		SupportsReasoning: true,
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if captured["reasoning_format"] != "raw" {
		t.Fatalf("reasoning_format = %v", captured["reasoning_format"])
	}
}

func TestCompleteVisionUsesContentParts(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		io.WriteString(w, completionBody("a cat", "stop"))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, discardLogger())
	_, err := client.Complete(context.Background(), "k", llm.Request{
		ModelID:    "vision-model",
		PromptText: "describe",
		Images:     []string{"aW1hZ2U="},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	messages := captured["messages"].([]any)
	last := messages[len(messages)-1].(map[string]any)
	parts, ok := last["content"].([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("content = %v", last["content"])
	}
	imagePart := parts[1].(map[string]any)
	url := imagePart["image_url"].(map[string]any)["url"].(string)
	if url != "data:image/jpeg;base64,aW1hZ2U=" {
		t.Fatalf("url = %q", url)
	}
}

func TestCompleteMapsRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, discardLogger())
	_, err := client.Complete(context.Background(), "k", llm.Request{ModelID: "m", PromptText: "hi"})
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("expected rate-limit sentinel, got %v", err)
	}
}

func TestCompleteReportsTruncation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completionBody("cut off", "length"))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, discardLogger())
	raw, err := client.Complete(context.Background(), "k", llm.Request{ModelID: "m", PromptText: "hi"})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if !raw.Truncated {
		t.Fatalf("expected truncated completion")
	}
}

func TestClassify(t *testing.T) {
	answer := "Yes."
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completionBody(answer, "stop"))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, discardLogger())
	yes, err := client.Classify(context.Background(), "k", "needs web?")
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if !yes {
		t.Fatalf("expected yes")
	}

	answer = "no, it does not"
	yes, err = client.Classify(context.Background(), "k", "needs web?")
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if yes {
		t.Fatalf("expected no")
	}
}
