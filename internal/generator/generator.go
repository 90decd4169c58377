// Package generator drives a streamed completion into a buffer, publishing
// progress snapshots as it goes and cutting the stream short when the model
// starts repeating itself.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/models"
)

// ProgressSink receives progress snapshots. Implementations handle their own
// persistence errors; a lost snapshot never fails generation.
type ProgressSink interface {
	Progress(ctx context.Context, u models.ProgressUpdate)
}

// Discard is a ProgressSink that drops every snapshot.
var Discard ProgressSink = discard{}

type discard struct{}

func (discard) Progress(context.Context, models.ProgressUpdate) {}

// Config holds the tuning constants of the stream loop.
type Config struct {
	// SnapshotEvery is the number of deltas between progress snapshots.
	SnapshotEvery int
	// LoopCheckEvery is the number of deltas between repetition checks.
	LoopCheckEvery int
	// LoopMinLength is the buffer size in bytes below which no check runs.
	LoopMinLength int
	// LoopWindow is the size in bytes of the trailing window searched for.
	LoopWindow int
}

// DefaultConfig is used unless overridden with WithConfig.
var DefaultConfig = Config{
	SnapshotEvery:  10,
	LoopCheckEvery: 100,
	LoopMinLength:  1000,
	LoopWindow:     400,
}

// Option configures a Generator.
type Option func(*Generator)

// WithConfig overrides the stream loop constants.
func WithConfig(cfg Config) Option {
	return func(g *Generator) { g.cfg = cfg }
}

// Generator streams completions from a text-completion provider.
type Generator struct {
	completer llm.Completer
	sink      ProgressSink
	cfg       Config
}

// New creates a Generator. A nil sink discards snapshots.
func New(completer llm.Completer, sink ProgressSink, opts ...Option) *Generator {
	if sink == nil {
		sink = Discard
	}
	g := &Generator{completer: completer, sink: sink, cfg: DefaultConfig}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// StreamRequest describes one streamed generation.
type StreamRequest struct {
	Request llm.Request
	// Prefix is already-finalized text shown before the running buffer in
	// snapshots.
	Prefix string
	// Progress moves from ProgressFrom towards ProgressTo as the buffer
	// approaches ExpectedChars.
	ProgressFrom  int
	ProgressTo    int
	ExpectedChars int
}

// Result is the outcome of a generation.
type Result struct {
	Text         string
	Usage        llm.Usage
	LoopDetected bool
	Deltas       int
}

// Generate runs req to completion, or until a repetition loop is detected,
// and returns the cleaned text. A detected loop is not an error: the
// repeated tail is dropped and LoopDetected is set.
func (g *Generator) Generate(ctx context.Context, req StreamRequest) (*Result, error) {
	var (
		buf    strings.Builder
		deltas int
		looped bool
	)

	onDelta := func(delta string) error {
		buf.WriteString(delta)
		deltas++

		if g.cfg.LoopCheckEvery > 0 && deltas%g.cfg.LoopCheckEvery == 0 && buf.Len() > g.cfg.LoopMinLength {
			current := buf.String()
			if cut, ok := findLoop(current, g.cfg.LoopWindow); ok {
				slog.Warn("Repetition loop detected; stopping stream.",
					"deltas", deltas, "bufferBytes", len(current), "keptBytes", cut)
				buf.Reset()
				buf.WriteString(current[:cut])
				looped = true
				return llm.ErrStopStream
			}
		}

		if g.cfg.SnapshotEvery > 0 && deltas%g.cfg.SnapshotEvery == 0 {
			g.snapshot(ctx, req, buf.String())
		}
		return nil
	}

	usage, err := g.completer.Stream(ctx, req.Request, onDelta)
	if err != nil && !(looped && errors.Is(err, llm.ErrStopStream)) {
		return nil, fmt.Errorf("stream completion after %d deltas: %w", deltas, err)
	}

	text := Clean(buf.String())
	g.sink.Progress(ctx, models.ProgressUpdate{
		StreamingText: ptr(req.Prefix + text),
		Progress:      req.ProgressTo,
	})
	return &Result{Text: text, Usage: usage, LoopDetected: looped, Deltas: deltas}, nil
}

func (g *Generator) snapshot(ctx context.Context, req StreamRequest, buffer string) {
	progress := req.ProgressFrom
	if req.ExpectedChars > 0 && req.ProgressTo > req.ProgressFrom {
		frac := min(float64(utf8.RuneCountInString(buffer))/float64(req.ExpectedChars), 1)
		progress += int(frac * float64(req.ProgressTo-req.ProgressFrom))
	}
	g.sink.Progress(ctx, models.ProgressUpdate{
		StreamingText: ptr(req.Prefix + buffer),
		Progress:      progress,
	})
}

// findLoop reports whether the trailing window of s occurs earlier in s. It
// returns where s should be cut so that exactly one copy of the repeating
// run survives. The period is the distance between the window and its
// nearest earlier occurrence; the run is followed back to where it starts,
// which need not line up with the window.
func findLoop(s string, window int) (int, bool) {
	if window <= 0 || len(s) <= window {
		return 0, false
	}
	start := len(s) - window
	for start > 0 && !utf8.RuneStart(s[start]) {
		start--
	}
	tail := s[start:]
	prev := strings.LastIndex(s[:len(s)-1], tail)
	if prev < 0 {
		return 0, false
	}

	period := start - prev
	k := len(s) - period
	for k > 0 && s[k-1] == s[k-1+period] {
		k--
	}
	cut := k + period
	if k > prev {
		// Only the window itself repeats.
		cut = prev + len(tail)
	}
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return cut, true
}

func ptr[T any](v T) *T { return &v }
