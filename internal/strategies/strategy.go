// Package strategies implements the processing levels a version can be
// generated at. Every strategy turns a source document into ProcessedText;
// steps inside a strategy run sequentially because later prompts build on
// earlier output.
package strategies

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/chunker"
	"github.com/Lllllllleong/docversions/internal/generator"
	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/models"
)

// Reader IDs attached to generated speech turns.
const (
	ReaderNarrator = "narrator"
	ReaderLecturer = "lecturer"
	ReaderHost     = "host"
	ReaderGuest    = "guest"
)

// Progress window available to strategies. The orchestrator owns the values
// outside it.
const (
	progressStart = 10
	progressEnd   = 95
)

// Job is the input of one strategy run.
type Job struct {
	Version  *models.DocumentVersion
	Document *models.Document
	// SourceText is the document's extracted text.
	SourceText string
	// TargetLanguage is the output language; empty means the document's.
	TargetLanguage string
	Sink           generator.ProgressSink
}

func (j *Job) outputLanguage() string {
	if j.TargetLanguage != "" {
		return j.TargetLanguage
	}
	if j.Document != nil && j.Document.Language != "" {
		return j.Document.Language
	}
	return defaultLanguage
}

func (j *Job) sink() generator.ProgressSink {
	if j.Sink == nil {
		return generator.Discard
	}
	return j.Sink
}

// Result is what a strategy hands back to the orchestrator.
type Result struct {
	Content  models.ProcessedText
	Metadata map[string]any
}

// Strategy is one processing level.
type Strategy interface {
	Name() string
	Process(ctx context.Context, job *Job) (*Result, error)
}

// Config tunes the strategies.
type Config struct {
	ChunkThreshold int
	MaxChunkSize   int
	// LectureRetries is how many times a lecture with missing sections is
	// regenerated.
	LectureRetries int
	// StructuredConversation selects the schema-constrained dialogue call
	// over the raw JSON call with repair.
	StructuredConversation bool
	GeneratorOptions       []generator.Option
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		ChunkThreshold:         chunker.DefaultThreshold,
		MaxChunkSize:           chunker.DefaultMaxChunkSize,
		LectureRetries:         2,
		StructuredConversation: true,
	}
}

// Registry maps processing levels to strategies.
type Registry struct {
	byLevel map[int]Strategy
}

// NewRegistry builds the four strategies on provider.
func NewRegistry(provider llm.Provider, cfg Config) *Registry {
	return &Registry{byLevel: map[int]Strategy{
		models.LevelOriginal:       NewOriginal(provider),
		models.LevelNatural:        NewNatural(provider, cfg),
		models.LevelLecture:        NewLecture(provider, cfg),
		models.LevelConversational: NewConversational(provider, cfg),
	}}
}

// For returns the strategy of level.
func (r *Registry) For(level int) (Strategy, error) {
	s, ok := r.byLevel[level]
	if !ok {
		return nil, fmt.Errorf("%w: %d", apperr.ErrInvalidLevel, level)
	}
	return s, nil
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// toTurns splits generated text into one speech turn per paragraph.
func toTurns(text, readerID string) []models.SpeechTurn {
	var turns []models.SpeechTurn
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			turns = append(turns, models.SpeechTurn{Text: p, ReaderID: readerID})
		}
	}
	return turns
}

// render is the human-readable form of sections shown as streaming text.
func render(sections []models.Section) string {
	var b strings.Builder
	for _, s := range sections {
		if s.Title != "" {
			b.WriteString(s.Title)
			b.WriteString("\n\n")
		}
		for _, t := range s.Content {
			b.WriteString(t.Text)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

// span returns the progress value at fraction done/total of [from, to].
func span(from, to, done, total int) int {
	if total <= 0 {
		return to
	}
	return from + (to-from)*done/total
}

func ptr[T any](v T) *T { return &v }
