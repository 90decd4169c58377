package strategies

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/docversions/internal/chunker"
	"github.com/Lllllllleong/docversions/internal/generator"
	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/models"
	"github.com/Lllllllleong/docversions/internal/sections"
)

// continuityChars is how much of the previous narration is shown to the
// model when rewriting the next passage.
const continuityChars = 600

// Natural identifies the document's sections and rewrites each one for a
// single narrator, chunking sections that are too long for one call.
type Natural struct {
	completer  llm.Completer
	identifier *sections.Identifier
	translator *translator
	cfg        Config
}

// NewNatural creates the level 1 strategy.
func NewNatural(provider llm.Provider, cfg Config) *Natural {
	return &Natural{
		completer:  provider,
		identifier: sections.NewIdentifier(provider),
		translator: &translator{completer: provider},
		cfg:        cfg,
	}
}

func (*Natural) Name() string { return "natural" }

func (n *Natural) Process(ctx context.Context, job *Job) (*Result, error) {
	logCtx := slog.With("versionId", job.Version.ID, "strategy", n.Name())
	sink := job.sink()
	lang := job.outputLanguage()

	identified, usage, err := n.identifier.Identify(ctx, job.SourceText)
	if err != nil {
		return nil, err
	}
	bodies, err := sections.ExtractAll(job.SourceText, identified)
	if err != nil {
		return nil, err
	}

	titles := make([]string, len(identified))
	for i, s := range identified {
		titles[i] = s.Title
	}
	logCtx.Info("Sections identified.", "sectionCount", len(identified))
	sink.Progress(ctx, models.ProgressUpdate{
		Progress: progressStart,
		Metadata: map[string]any{"sectionTitles": titles, "sectionsTotal": len(identified)},
	})

	gen := generator.New(n.completer, sink, n.cfg.GeneratorOptions...)
	translateTitles := !SameLanguage(job.Document.Language, lang)

	var (
		out        []models.Section
		chunkCount int
		loops      int
	)
	for i, s := range identified {
		from := span(progressStart, progressEnd, i, len(identified))
		to := span(progressStart, progressEnd, i+1, len(identified))

		title := s.Title
		if translateTitles {
			t, u, err := n.translator.translate(ctx, s.Title, lang)
			usage = usage.Add(u)
			if err != nil {
				return nil, fmt.Errorf("translate title of section %q: %w", s.Title, err)
			}
			title = t
		}
		section := models.Section{Title: title}
		prefix := render(out) + render([]models.Section{section})

		pieces := []string{bodies[i]}
		if chunker.Size(bodies[i]) > n.cfg.ChunkThreshold {
			pieces = chunker.Split(bodies[i], n.cfg.MaxChunkSize)
		}
		chunkCount += len(pieces)

		var previous string
		if len(out) > 0 {
			previous = render(out[len(out)-1:])
		}
		for j, piece := range pieces {
			if chunker.Size(piece) == 0 {
				continue
			}
			res, err := gen.Generate(ctx, generator.StreamRequest{
				Request: llm.Request{
					Messages: llm.Prompt(naturalSystemPrompt,
						fmt.Sprintf(naturalUserPrompt, languageName(lang), tail(previous, continuityChars), piece)),
					Temperature: llm.Temperature(0.4),
				},
				Prefix:        prefix,
				ProgressFrom:  span(from, to, j, len(pieces)),
				ProgressTo:    span(from, to, j+1, len(pieces)),
				ExpectedChars: chunker.Size(piece),
			})
			if err != nil {
				return nil, fmt.Errorf("rewrite section %q chunk %d/%d: %w", s.Title, j+1, len(pieces), err)
			}
			usage = usage.Add(res.Usage)
			if res.LoopDetected {
				loops++
			}
			section.Content = append(section.Content, toTurns(res.Text, ReaderNarrator)...)
			prefix = render(out) + render([]models.Section{section})
			previous = res.Text
		}

		out = append(out, section)
		sink.Progress(ctx, models.ProgressUpdate{
			Progress: to,
			Metadata: map[string]any{"sectionsDone": i + 1},
		})
		logCtx.Info("Section rewritten.", "section", s.Title, "chunks", len(pieces), "turns", len(section.Content))
	}

	return &Result{
		Content: models.ProcessedText{Sections: out},
		Metadata: map[string]any{
			"strategy":      n.Name(),
			"sectionTitles": titles,
			"sectionsTotal": len(identified),
			"chunks":        chunkCount,
			"loopsDetected": loops,
			"usage":         usage,
		},
	}, nil
}

// tail returns at most n trailing characters of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return string(r)
	}
	return string(r[len(r)-n:])
}
