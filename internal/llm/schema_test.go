package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/docversions/internal/llm"
)

func TestStripCodeFences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", ` {"a":1} `, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"fence on same line", "```{\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := llm.StripCodeFences(tt.in); got != tt.want {
				t.Errorf("StripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsRefusal(t *testing.T) {
	t.Parallel()

	if !llm.IsRefusal("I am unable to translate this text.") {
		t.Error("expected refusal")
	}
	if llm.IsRefusal("Bonjour tout le monde.") {
		t.Error("unexpected refusal")
	}
}

func TestRetryWithBackoff(t *testing.T) {
	t.Parallel()

	cfg := llm.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()
		calls := 0
		got, err := llm.RetryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, llm.ErrRateLimit
			}
			return 42, nil
		}, llm.IsRetryable)
		if err != nil || got != 42 {
			t.Fatalf("got %d, %v", got, err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		t.Parallel()
		calls := 0
		perm := errors.New("permanent")
		_, err := llm.RetryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, perm
		}, llm.IsRetryable)
		if !errors.Is(err, perm) || calls != 1 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("cancelled context aborts backoff", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		_, err := llm.RetryWithBackoff(ctx, llm.RetryConfig{MaxRetries: 5, BaseDelay: time.Hour}, func() (int, error) {
			cancel()
			return 0, llm.ErrRateLimit
		}, llm.IsRetryable)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
