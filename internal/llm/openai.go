package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Compile-time interface compliance check.
var _ Provider = (*OpenAIProvider)(nil)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider implements both completion capabilities on the OpenAI chat
// completions API, or any endpoint compatible with it.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	retry  RetryConfig
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIModel sets the chat model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOpenAIRetry overrides the retry policy for non-streaming calls.
func WithOpenAIRetry(cfg RetryConfig) OpenAIOption {
	return func(p *OpenAIProvider) { p.retry = cfg }
}

// NewOpenAIProvider wraps an existing client.
func NewOpenAIProvider(client *openai.Client, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		client: client,
		model:  defaultOpenAIModel,
		retry:  DefaultRetryConfig,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAIClient builds a client for apiKey, pointing at baseURL when set.
func NewOpenAIClient(apiKey, baseURL string) (*openai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

// Complete implements Completer. Transient failures are retried.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	chatReq := p.chatRequest(req)
	return RetryWithBackoff(ctx, p.retry, func() (*Response, error) {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return nil, classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return nil, ProviderErr("openai", false, errors.New("no choices in response"))
		}
		return &Response{Text: resp.Choices[0].Message.Content, Usage: fromOpenAIUsage(resp.Usage)}, nil
	}, IsRetryable)
}

// Stream implements Completer. A stream is never retried.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onDelta func(string) error) (Usage, error) {
	chatReq := p.chatRequest(req)
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return Usage{}, classifyOpenAIError(err)
	}
	defer stream.Close()

	var usage Usage
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return usage, nil
		}
		if err != nil {
			return usage, classifyOpenAIError(err)
		}
		if chunk.Usage != nil {
			usage = fromOpenAIUsage(*chunk.Usage)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onDelta(choice.Delta.Content); err != nil {
				return usage, err
			}
		}
	}
}

// CompleteStructured implements StructuredCompleter using a strict JSON schema
// response format.
func (p *OpenAIProvider) CompleteStructured(ctx context.Context, req Request, schemaName string, out any) (Usage, error) {
	schema, err := SchemaFor(out)
	if err != nil {
		return Usage{}, err
	}
	chatReq := p.chatRequest(req)
	chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   schemaName,
			Schema: schema,
			Strict: true,
		},
	}

	resp, err := RetryWithBackoff(ctx, p.retry, func() (openai.ChatCompletionResponse, error) {
		r, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return r, classifyOpenAIError(err)
		}
		return r, nil
	}, IsRetryable)
	if err != nil {
		return Usage{}, err
	}
	if len(resp.Choices) == 0 {
		return Usage{}, ProviderErr("openai", false, errors.New("no choices in response"))
	}
	usage := fromOpenAIUsage(resp.Usage)
	return usage, DecodeStructured(schema, resp.Choices[0].Message.Content, out)
}

func (p *OpenAIProvider) chatRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	chatReq := openai.ChatCompletionRequest{
		Model:               p.model,
		Messages:            msgs,
		MaxCompletionTokens: req.MaxOutputTokens,
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return chatReq
}

func fromOpenAIUsage(u openai.Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// classifyOpenAIError maps OpenAI client errors onto the pipeline taxonomy.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	msg := fmt.Sprintf("openai (status %d)", status)
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return ProviderErr(msg, true, err)
	}
	return ProviderErr(msg, false, err)
}
