// Package provider implements backend invokers for OpenAI-compatible
// chat completion APIs, with SSE streaming support.
package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jordanhubbard/spindle/internal/worker"
)

// ChatMessage represents a message in the chat
type ChatMessage struct {
	Role    string `json:"role"`    // system, user, assistant
	Content string `json:"content"` // message content
}

// ChatCompletionRequest represents a chat completion request
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatCompletionResponse represents a non-streaming completion response
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int         `json:"index"`
		Message ChatMessage `json:"message"`
		Finish  string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// StreamChunk represents one SSE chunk of a streaming response
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// OpenAIInvoker calls an OpenAI-compatible endpoint. It implements
// worker.Invoker, streaming deltas through the onDelta callback.
type OpenAIInvoker struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewOpenAIInvoker creates an invoker for an OpenAI-compatible API.
// Per-call deadlines come from the caller's context; the HTTP client
// itself carries no timeout so streaming responses aren't cut off.
func NewOpenAIInvoker(endpoint, apiKey, model string) *OpenAIInvoker {
	return &OpenAIInvoker{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{},
	}
}

// Invoke implements worker.Invoker. With onDelta set the call streams;
// otherwise it performs a plain completion.
func (p *OpenAIInvoker) Invoke(ctx context.Context, req *worker.Request, onDelta func(string)) (*worker.Response, error) {
	chatReq := &ChatCompletionRequest{
		Model: p.model,
		Messages: []ChatMessage{
			{Role: "system", Content: roleSystemPrompt(req.Role)},
			{Role: "user", Content: buildUserPrompt(req)},
		},
	}

	if onDelta != nil {
		text, err := p.stream(ctx, chatReq, onDelta)
		if err != nil {
			return nil, err
		}
		return &worker.Response{Text: text}, nil
	}

	resp, err := p.complete(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}
	return &worker.Response{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: int64(resp.Usage.TotalTokens),
	}, nil
}

func roleSystemPrompt(role string) string {
	switch role {
	case "coder":
		return "You are a software engineer. Produce working code with a short explanation."
	case "critic", "reviewer":
		return "You are a code reviewer. Respond with APPROVED or REJECTED followed by specific feedback."
	case "arbiter":
		return "You are an arbiter. Given candidate answers, select or synthesize the best one."
	case "planner":
		return "You are a technical planner. Break work into ordered steps with roles and dependencies."
	case "diagnostician":
		return "You are a debugger. Given failing test output, identify the root cause and propose a fix."
	default:
		return "You are a helpful assistant."
	}
}

func buildUserPrompt(req *worker.Request) string {
	if req.Context == "" {
		return req.Prompt
	}
	return fmt.Sprintf("Context:\n%s\n\nRequest:\n%s", req.Context, req.Prompt)
}

func (p *OpenAIInvoker) complete(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/chat/completions", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq, false)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	var completion ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &completion, nil
}

func (p *OpenAIInvoker) stream(ctx context.Context, req *ChatCompletionRequest, onDelta func(string)) (string, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/chat/completions", strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq, true)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	return p.readStream(ctx, resp.Body, onDelta)
}

// readStream reads an SSE response, forwarding content deltas.
func (p *OpenAIInvoker) readStream(ctx context.Context, reader io.Reader, onDelta func(string)) (string, error) {
	var assembled strings.Builder
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return assembled.String(), ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return assembled.String(), nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed chunk; keep reading.
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				assembled.WriteString(choice.Delta.Content)
				onDelta(choice.Delta.Content)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return assembled.String(), fmt.Errorf("scanner error: %w", err)
	}
	return assembled.String(), nil
}

func (p *OpenAIInvoker) setHeaders(req *http.Request, streaming bool) {
	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
	}
}

// Healthy pings the models endpoint with a short timeout.
func (p *OpenAIInvoker) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", p.endpoint+"/models", nil)
	if err != nil {
		return false
	}
	p.setHeaders(req, false)

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
