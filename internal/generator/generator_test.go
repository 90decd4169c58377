package generator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/generator"
	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/models"
)

// scriptedStream delivers a fixed sequence of deltas.
type scriptedStream struct {
	deltas []string
	err    error
	sent   int
}

func (s *scriptedStream) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return nil, errors.New("not used")
}

func (s *scriptedStream) Stream(_ context.Context, _ llm.Request, onDelta func(string) error) (llm.Usage, error) {
	for _, d := range s.deltas {
		s.sent++
		if err := onDelta(d); err != nil {
			return llm.Usage{CompletionTokens: s.sent}, err
		}
	}
	return llm.Usage{CompletionTokens: s.sent}, s.err
}

type recordingSink struct {
	mu      sync.Mutex
	updates []models.ProgressUpdate
}

func (r *recordingSink) Progress(_ context.Context, u models.ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func split(s string, size int) []string {
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func TestGenerate_RepetitionLoopIsCut(t *testing.T) {
	t.Parallel()

	var prefix strings.Builder
	for i := 0; prefix.Len() < 1200; i++ {
		fmt.Fprintf(&prefix, "s%04d ", i)
	}
	var block strings.Builder
	for i := 0; block.Len() < 400; i++ {
		fmt.Fprintf(&block, "r%02d-", i)
	}
	if prefix.Len() != 1200 || block.Len() != 400 {
		t.Fatalf("fixture sizes = %d, %d", prefix.Len(), block.Len())
	}
	r := block.String()

	tests := []struct {
		name     string
		prefix   string
		wantSent int
	}{
		// The loop check falls on a block boundary.
		{name: "aligned", prefix: prefix.String(), wantSent: 200},
		// The check window is a rotation of the block.
		{name: "unaligned", prefix: prefix.String() + "tail.", wantSent: 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			source := split(tt.prefix+strings.Repeat(r, 20), 10)
			stream := &scriptedStream{deltas: source}
			g := generator.New(stream, nil)

			res, err := g.Generate(context.Background(), generator.StreamRequest{ProgressTo: 90})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if !res.LoopDetected {
				t.Fatal("LoopDetected = false, want true")
			}
			want := tt.prefix + r
			if res.Text != want {
				t.Errorf("Text has %d bytes, want prefix plus one block (%d bytes)", len(res.Text), len(want))
			}
			if stream.sent != tt.wantSent {
				t.Errorf("deltas sent = %d, want %d", stream.sent, tt.wantSent)
			}
		})
	}
}

func TestGenerate_NoLoopOnUniqueText(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; b.Len() < 5000; i++ {
		fmt.Fprintf(&b, "w%05d ", i)
	}
	stream := &scriptedStream{deltas: split(b.String(), 7)}
	res, err := generator.New(stream, nil).Generate(context.Background(), generator.StreamRequest{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.LoopDetected {
		t.Error("LoopDetected = true on unique text")
	}
	if res.Text != strings.TrimSpace(b.String()) {
		t.Error("Text does not match the streamed input")
	}
	if res.Deltas != len(stream.deltas) {
		t.Errorf("Deltas = %d, want %d", res.Deltas, len(stream.deltas))
	}
}

func TestGenerate_Snapshots(t *testing.T) {
	t.Parallel()

	deltas := make([]string, 35)
	for i := range deltas {
		deltas[i] = "abcd"
	}
	sink := &recordingSink{}
	g := generator.New(&scriptedStream{deltas: deltas}, sink)

	_, err := g.Generate(context.Background(), generator.StreamRequest{
		Prefix:        "Earlier.\n\n",
		ProgressFrom:  20,
		ProgressTo:    60,
		ExpectedChars: 160,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Three periodic snapshots plus the final one.
	if len(sink.updates) != 4 {
		t.Fatalf("got %d snapshots, want 4", len(sink.updates))
	}
	wantProgress := []int{30, 40, 50, 60}
	for i, u := range sink.updates {
		if u.Progress != wantProgress[i] {
			t.Errorf("snapshot %d progress = %d, want %d", i, u.Progress, wantProgress[i])
		}
		if u.StreamingText == nil || !strings.HasPrefix(*u.StreamingText, "Earlier.\n\n") {
			t.Errorf("snapshot %d text lacks prefix: %v", i, u.StreamingText)
		}
	}
	if got := *sink.updates[0].StreamingText; got != "Earlier.\n\n"+strings.Repeat("abcd", 10) {
		t.Errorf("first snapshot = %q", got)
	}
}

func TestGenerate_ProviderError(t *testing.T) {
	t.Parallel()

	stream := &scriptedStream{deltas: []string{"a", "b"}, err: llm.ProviderErr("fake", false, errors.New("reset"))}
	_, err := generator.New(stream, nil).Generate(context.Background(), generator.StreamRequest{})
	if err == nil {
		t.Fatal("Generate succeeded, want error")
	}
	if !errors.Is(err, apperr.ErrProviderError) {
		t.Errorf("err = %v, want ErrProviderError", err)
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{in: "  plain text \n", want: "plain text"},
		{in: `"wrapped answer"`, want: "wrapped answer"},
		{in: "“curly wrapped”", want: "curly wrapped"},
		{in: "«guillemets»", want: "guillemets"},
		{in: `"one" and "two"`, want: `"one" and "two"`},
		{in: `""double""`, want: `""double""`},
		{in: "Fish &amp; chips &lt;3 &quot;yum&quot; &#39;ok&#39;", want: `Fish & chips <3 "yum" 'ok'`},
		{in: "a&nbsp;b &apos;c&apos; &#34;d&#34;", want: `a b 'c' "d"`},
		{in: "&amp;lt;", want: "&lt;"},
	}
	for _, tt := range tests {
		if got := generator.Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFindLoop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		s      string
		window int
		want   int
		ok     bool
	}{
		{name: "shorter than window", s: "abc", window: 5},
		{name: "unique tail", s: "abcdefgh", window: 3},
		{name: "repeated tail", s: "xyzabcabc", window: 3, want: 6, ok: true},
		{name: "periodic overlap", s: "abababab", window: 4, want: 2, ok: true},
		{name: "window rotated against the block", s: "xyabcabcabcab", window: 3, want: 5, ok: true},
		{name: "multibyte aligned", s: "ééxéé", window: 3, want: 5, ok: true},
	}
	for _, tt := range tests {
		got, ok := generator.FindLoop(tt.s, tt.window)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: FindLoop = %d, %v; want %d, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}
