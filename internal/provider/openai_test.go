package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jordanhubbard/spindle/internal/worker"
)

func TestOpenAIInvoker_Streaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Expected Accept: text/event-stream, got %s", r.Header.Get("Accept"))
		}

		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if !req.Stream {
			t.Error("expected stream=true in request")
		}

		w.Header().Set("Content-Type", "text/event-stream")

		chunks := []string{
			`data: {"id":"1","model":"test","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
			`data: {"id":"1","model":"test","choices":[{"index":0,"delta":{"content":" world"}}]}`,
			`data: {"id":"1","model":"test","choices":[{"index":0,"delta":{"content":"!"},"finish_reason":"stop"}]}`,
			`data: [DONE]`,
		}
		for _, chunk := range chunks {
			w.Write([]byte(chunk + "\n\n"))
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	inv := NewOpenAIInvoker(server.URL, "test-key", "test-model")

	var deltas []string
	resp, err := inv.Invoke(context.Background(), &worker.Request{Role: "generalist", Prompt: "Hello"}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if resp.Text != "Hello world!" {
		t.Errorf("Text = %q, want %q", resp.Text, "Hello world!")
	}
	if len(deltas) != 3 {
		t.Errorf("got %d deltas, want 3", len(deltas))
	}
}

func TestOpenAIInvoker_NonStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "1",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "It works"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer server.Close()

	inv := NewOpenAIInvoker(server.URL, "test-key", "test-model")

	resp, err := inv.Invoke(context.Background(), &worker.Request{Role: "coder", Prompt: "do it"}, nil)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Text != "It works" {
		t.Errorf("Text = %q, want %q", resp.Text, "It works")
	}
	if resp.TokensUsed != 7 {
		t.Errorf("TokensUsed = %d, want 7", resp.TokensUsed)
	}
}

func TestOpenAIInvoker_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	inv := NewOpenAIInvoker(server.URL, "", "test-model")

	if _, err := inv.Invoke(context.Background(), &worker.Request{Prompt: "x"}, nil); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestOpenAIInvoker_MalformedChunksSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {not json}\n\n"))
		w.Write([]byte(`data: {"id":"1","choices":[{"index":0,"delta":{"content":"ok"}}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	inv := NewOpenAIInvoker(server.URL, "", "test-model")

	resp, err := inv.Invoke(context.Background(), &worker.Request{Prompt: "x"}, func(string) {})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Text = %q, want %q", resp.Text, "ok")
	}
}
