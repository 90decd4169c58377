// Package llm defines the two completion capabilities the version pipeline
// depends on and the provider adapters that implement them.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Role identifies the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt message.
type Message struct {
	Role    Role
	Content string
}

// Request is a provider-neutral completion request.
type Request struct {
	Messages        []Message
	Temperature     *float32
	MaxOutputTokens int
	// JSON asks the provider for a bare JSON object response.
	JSON bool
}

// Usage is the token accounting a provider reports.
type Usage struct {
	PromptTokens     int `json:"promptTokens" firestore:"promptTokens"`
	CompletionTokens int `json:"completionTokens" firestore:"completionTokens"`
	TotalTokens      int `json:"totalTokens" firestore:"totalTokens"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Response is a finished, non-streamed completion.
type Response struct {
	Text  string
	Usage Usage
}

// Completer is the text-completion capability.
type Completer interface {
	// Complete returns the full answer for req.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream delivers answer deltas to onDelta in order. If onDelta returns an
	// error the stream is abandoned and that error is returned alongside the
	// usage accumulated so far.
	Stream(ctx context.Context, req Request, onDelta func(delta string) error) (Usage, error)
}

// StructuredCompleter is the structured-completion capability: the answer is
// constrained to the JSON schema derived from out, validated against it, and
// decoded into out.
type StructuredCompleter interface {
	CompleteStructured(ctx context.Context, req Request, schemaName string, out any) (Usage, error)
}

// Provider implements both capabilities.
type Provider interface {
	Completer
	StructuredCompleter
}

// ErrStopStream is returned by a delta callback to end a stream early.
var ErrStopStream = errors.New("stream stopped by consumer")

// ErrRateLimit marks provider errors that are worth retrying after a delay.
var ErrRateLimit = errors.New("rate limit exceeded")

// Prompt builds the usual system + user message pair.
func Prompt(system, user string) []Message {
	msgs := make([]Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	return append(msgs, Message{Role: RoleUser, Content: user})
}

// Temperature is a convenience for Request.Temperature.
func Temperature(t float32) *float32 { return &t }

// SplitSystem separates system instructions from the conversational messages.
func SplitSystem(msgs []Message) (system string, rest []Message) {
	var sys []string
	for _, m := range msgs {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}
