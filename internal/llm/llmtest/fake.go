// Package llmtest provides a scriptable completion provider for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"unicode/utf8"

	"github.com/Lllllllleong/docversions/internal/llm"
)

// Compile-time interface compliance check.
var _ llm.Provider = (*Fake)(nil)

// Fake answers completion calls with the configured functions. Unset
// functions fail the call. Streams are delivered in DeltaSize-byte pieces,
// never splitting a rune.
type Fake struct {
	CompleteFunc   func(ctx context.Context, req llm.Request) (string, error)
	StreamFunc     func(ctx context.Context, req llm.Request) (string, error)
	StructuredFunc func(ctx context.Context, req llm.Request, out any) error
	DeltaSize      int

	mu    sync.Mutex
	calls []llm.Request
}

// ErrNotScripted is returned for calls the test did not configure.
var ErrNotScripted = errors.New("llmtest: call not scripted")

func (f *Fake) record(req llm.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
}

// Calls returns every request received so far.
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}

func usageFor(text string) llm.Usage {
	n := len(text)/4 + 1
	return llm.Usage{PromptTokens: 10, CompletionTokens: n, TotalTokens: 10 + n}
}

func (f *Fake) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.record(req)
	if f.CompleteFunc == nil {
		return nil, ErrNotScripted
	}
	text, err := f.CompleteFunc(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Text: text, Usage: usageFor(text)}, nil
}

func (f *Fake) Stream(ctx context.Context, req llm.Request, onDelta func(string) error) (llm.Usage, error) {
	f.record(req)
	if f.StreamFunc == nil {
		return llm.Usage{}, ErrNotScripted
	}
	text, err := f.StreamFunc(ctx, req)
	if err != nil {
		return llm.Usage{}, err
	}
	size := f.DeltaSize
	if size <= 0 {
		size = 16
	}
	for rest := text; rest != ""; {
		n := min(size, len(rest))
		for n < len(rest) && !utf8.RuneStart(rest[n]) {
			n++
		}
		if err := ctx.Err(); err != nil {
			return usageFor(text), err
		}
		if err := onDelta(rest[:n]); err != nil {
			return usageFor(text), err
		}
		rest = rest[n:]
	}
	return usageFor(text), nil
}

func (f *Fake) CompleteStructured(ctx context.Context, req llm.Request, _ string, out any) (llm.Usage, error) {
	f.record(req)
	if f.StructuredFunc == nil {
		return llm.Usage{}, ErrNotScripted
	}
	if err := f.StructuredFunc(ctx, req, out); err != nil {
		return llm.Usage{}, err
	}
	return llm.Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}, nil
}

// Decode is a StructuredFunc body that fills out from a JSON literal.
func Decode(body string, out any) error {
	return json.Unmarshal([]byte(body), out)
}

// System returns the system instruction of req.
func System(req llm.Request) string {
	system, _ := llm.SplitSystem(req.Messages)
	return system
}

// User returns the last user message of req.
func User(req llm.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
