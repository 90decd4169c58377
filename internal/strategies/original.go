package strategies

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/generator"
	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/models"
)

// Original reuses the document's processed text, translating it turn by turn
// when a different language is requested.
type Original struct {
	translator *translator
}

// NewOriginal creates the level 0 strategy.
func NewOriginal(completer llm.Completer) *Original {
	return &Original{translator: &translator{completer: completer}}
}

func (*Original) Name() string { return "original" }

func (o *Original) Process(ctx context.Context, job *Job) (*Result, error) {
	source := sourceContent(job)
	if len(source.Sections) == 0 {
		return nil, fmt.Errorf("document %s has no content to reuse", job.Document.ID)
	}

	if SameLanguage(job.Document.Language, job.TargetLanguage) {
		return &Result{
			Content:  source,
			Metadata: map[string]any{"strategy": o.Name(), "translated": false},
		}, nil
	}

	logCtx := slog.With("versionId", job.Version.ID, "targetLanguage", job.TargetLanguage)
	logCtx.Info("Translating processed text.", "sections", len(source.Sections), "turns", source.TurnCount())

	sink := job.sink()
	out := make([]models.Section, 0, len(source.Sections))
	var usage llm.Usage
	for i, section := range source.Sections {
		translated := models.Section{Content: make([]models.SpeechTurn, 0, len(section.Content))}

		if strings.TrimSpace(section.Title) != "" {
			title, u, err := o.translator.translate(ctx, section.Title, job.TargetLanguage)
			usage = usage.Add(u)
			if err != nil {
				return nil, fmt.Errorf("translate title of section %d: %w", i+1, err)
			}
			translated.Title = title
		}
		for j, turn := range section.Content {
			text, u, err := o.translator.translate(ctx, turn.Text, job.TargetLanguage)
			usage = usage.Add(u)
			if err != nil {
				return nil, fmt.Errorf("translate turn %d of section %d: %w", j+1, i+1, err)
			}
			if text == "" {
				continue
			}
			translated.Content = append(translated.Content, models.SpeechTurn{Text: text, ReaderID: turn.ReaderID})
		}
		out = append(out, translated)

		sink.Progress(ctx, models.ProgressUpdate{
			StreamingText: ptr(render(out)),
			Progress:      span(progressStart, progressEnd, i+1, len(source.Sections)),
			Metadata:      map[string]any{"sectionsTranslated": i + 1, "sectionsTotal": len(source.Sections)},
		})
	}

	logCtx.Info("Translation complete.", "totalTokens", usage.TotalTokens)
	return &Result{
		Content: models.ProcessedText{Sections: out},
		Metadata: map[string]any{
			"strategy":       o.Name(),
			"translated":     true,
			"sourceLanguage": job.Document.Language,
			"targetLanguage": job.TargetLanguage,
			"usage":          usage,
		},
	}, nil
}

// sourceContent is the document's processed text, or its extracted text as
// a single narrated section when it was never structured.
func sourceContent(job *Job) models.ProcessedText {
	if job.Document.ProcessedText != nil && len(job.Document.ProcessedText.Sections) > 0 {
		return *job.Document.ProcessedText
	}
	turns := toTurns(job.SourceText, ReaderNarrator)
	if len(turns) == 0 {
		return models.ProcessedText{}
	}
	return models.ProcessedText{Sections: []models.Section{{Title: job.Document.Title, Content: turns}}}
}

// translator issues one completion per piece of text.
type translator struct {
	completer llm.Completer
}

func (t *translator) translate(ctx context.Context, text, target string) (string, llm.Usage, error) {
	if strings.TrimSpace(text) == "" {
		return "", llm.Usage{}, nil
	}
	name := languageName(target)
	resp, err := t.completer.Complete(ctx, llm.Request{
		Messages:    llm.Prompt(translationSystemPrompt, fmt.Sprintf(translationUserPrompt, name, name, text)),
		Temperature: llm.Temperature(0.2),
	})
	if err != nil {
		return "", llm.Usage{}, err
	}
	out := generator.Clean(resp.Text)
	// Sanity check for refusal. A refused translation must fail the version.
	if llm.IsRefusal(out) && !llm.IsRefusal(text) {
		return "", resp.Usage, fmt.Errorf("%w: model refused to translate into %s", apperr.ErrProviderError, target)
	}
	return out, resp.Usage, nil
}
