package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/llm"
)

var fastRetry = llm.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

func newTestProvider(t *testing.T, h http.HandlerFunc) *llm.OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := llm.NewOpenAIClient("test-key", srv.URL+"/v1")
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return llm.NewOpenAIProvider(client, llm.WithOpenAIModel("test-model"), llm.WithOpenAIRetry(fastRetry))
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		ID:     "cmpl-1",
		Object: "chat.completion",
		Choices: []openai.ChatCompletionChoice{{
			Index:   0,
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
}

func TestOpenAIProvider_Complete(t *testing.T) {
	t.Parallel()

	var gotModel string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		writeCompletion(w, "hello there")
	})

	resp, err := p.Complete(context.Background(), llm.Request{Messages: llm.Prompt("sys", "hi")})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "hello there" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if gotModel != "test-model" {
		t.Errorf("model = %q, want test-model", gotModel)
	}
}

func TestOpenAIProvider_CompleteRetriesRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	})

	_, err := p.Complete(context.Background(), llm.Request{Messages: llm.Prompt("", "hi")})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, llm.ErrRateLimit) || !errors.Is(err, apperr.ErrProviderError) {
		t.Errorf("error %v should match ErrRateLimit and ErrProviderError", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestOpenAIProvider_CompleteBadRequestNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	})

	_, err := p.Complete(context.Background(), llm.Request{Messages: llm.Prompt("", "hi")})
	if !errors.Is(err, apperr.ErrProviderError) {
		t.Fatalf("error = %v, want ErrProviderError", err)
	}
	if errors.Is(err, llm.ErrRateLimit) {
		t.Error("400 must not be marked retryable")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func sseChunk(w http.ResponseWriter, v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintf(w, "data: %s\n\n", b)
}

func streamHandler(deltas []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			sseChunk(w, openai.ChatCompletionStreamResponse{
				ID:     "s-1",
				Object: "chat.completion.chunk",
				Choices: []openai.ChatCompletionStreamChoice{{
					Index: 0,
					Delta: openai.ChatCompletionStreamChoiceDelta{Content: d},
				}},
			})
		}
		sseChunk(w, openai.ChatCompletionStreamResponse{
			ID:    "s-1",
			Usage: &openai.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
		})
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestOpenAIProvider_Stream(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, streamHandler([]string{"Hel", "lo ", "world"}))

	var got strings.Builder
	usage, err := p.Stream(context.Background(), llm.Request{Messages: llm.Prompt("", "go")}, func(d string) error {
		got.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got.String() != "Hello world" {
		t.Errorf("streamed %q", got.String())
	}
	if usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestOpenAIProvider_StreamStopsOnCallbackError(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, streamHandler([]string{"a", "b", "c", "d"}))

	seen := 0
	_, err := p.Stream(context.Background(), llm.Request{Messages: llm.Prompt("", "go")}, func(string) error {
		seen++
		if seen == 2 {
			return llm.ErrStopStream
		}
		return nil
	})
	if !errors.Is(err, llm.ErrStopStream) {
		t.Fatalf("error = %v, want ErrStopStream", err)
	}
	if seen != 2 {
		t.Errorf("seen = %d, want 2", seen)
	}
}

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestOpenAIProvider_CompleteStructured(t *testing.T) {
	t.Parallel()

	var format *openai.ChatCompletionResponseFormat
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ResponseFormat *openai.ChatCompletionResponseFormat `json:"response_format"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		format = req.ResponseFormat
		writeCompletion(w, "```json\n{\"name\":\"intro\",\"count\":2}\n```")
	})

	var out sample
	if _, err := p.CompleteStructured(context.Background(), llm.Request{Messages: llm.Prompt("", "x")}, "sample", &out); err != nil {
		t.Fatalf("CompleteStructured: %v", err)
	}
	if out.Name != "intro" || out.Count != 2 {
		t.Errorf("out = %+v", out)
	}
	if format == nil || format.Type != openai.ChatCompletionResponseFormatTypeJSONSchema {
		t.Errorf("response_format = %+v, want json_schema", format)
	}
}

func TestOpenAIProvider_CompleteStructuredMalformed(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, `{"name": 7}`)
	})

	var out sample
	_, err := p.CompleteStructured(context.Background(), llm.Request{Messages: llm.Prompt("", "x")}, "sample", &out)
	if !errors.Is(err, apperr.ErrMalformedStructuredOutput) {
		t.Fatalf("error = %v, want ErrMalformedStructuredOutput", err)
	}
}
