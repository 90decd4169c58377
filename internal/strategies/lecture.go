package strategies

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/credits"
	"github.com/Lllllllleong/docversions/internal/generator"
	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/models"
)

// Progress milestones of a lecture.
const (
	lecturePlanned    = 20
	lectureWriteStart = 25
)

// Lecture plans a fixed number of topics, then writes the whole talk in a
// single stream with a marker line opening every section.
type Lecture struct {
	completer llm.Completer
	cfg       Config
}

// NewLecture creates the level 2 strategy.
func NewLecture(completer llm.Completer, cfg Config) *Lecture {
	return &Lecture{completer: completer, cfg: cfg}
}

func (*Lecture) Name() string { return "lecture" }

// sectionMarker renders the marker line for title.
func sectionMarker(title string) string {
	return "[[SECTION: " + title + "]]"
}

var markerLine = regexp.MustCompile(`(?m)^[ \t]*\[\[\s*SECTION\s*:\s*(.+?)\s*\]\][ \t]*$`)

func (l *Lecture) Process(ctx context.Context, job *Job) (*Result, error) {
	logCtx := slog.With("versionId", job.Version.ID, "strategy", l.Name())
	sink := job.sink()
	lang := job.outputLanguage()
	tier := credits.Tier(job.Version.LectureDuration)

	topics, usage, err := l.plan(ctx, job.SourceText, tier.Topics, lang)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Lecture planned.", "topics", len(topics), "duration", tier.Name)
	sink.Progress(ctx, models.ProgressUpdate{
		Progress: lecturePlanned,
		Metadata: map[string]any{"plannedTopics": topics, "lectureDuration": tier.Name},
	})

	labels := labelsFor(lang)
	outline := make([]string, 0, len(topics)+2)
	outline = append(outline, labels.Introduction)
	outline = append(outline, topics...)
	outline = append(outline, labels.Conclusion)
	expected := len(outline)

	markers := make([]string, len(outline))
	for i, title := range outline {
		markers[i] = sectionMarker(title)
	}
	req := llm.Request{
		Messages: llm.Prompt(lectureSystemPrompt,
			fmt.Sprintf(lectureUserPrompt, languageName(lang), strings.Join(markers, "\n"), job.SourceText)),
		Temperature: llm.Temperature(0.6),
	}

	gen := generator.New(l.completer, sink, l.cfg.GeneratorOptions...)
	var (
		best     []models.Section
		attempts int
		loops    int
	)
	for attempts < 1+l.cfg.LectureRetries {
		attempts++
		res, err := gen.Generate(ctx, generator.StreamRequest{
			Request:       req,
			ProgressFrom:  lectureWriteStart,
			ProgressTo:    progressEnd,
			ExpectedChars: expectedLectureChars(tier),
		})
		if err != nil {
			return nil, fmt.Errorf("write lecture (attempt %d): %w", attempts, err)
		}
		usage = usage.Add(res.Usage)
		if res.LoopDetected {
			loops++
		}

		recovered := parseLecture(res.Text)
		if len(recovered) > len(best) {
			best = recovered
		}
		if len(best) >= expected {
			break
		}
		logCtx.Warn("Lecture is missing sections.", "attempt", attempts, "recovered", len(recovered), "expected", expected)
	}

	if len(best) == 0 {
		return nil, fmt.Errorf("%w: lecture output contained no sections after %d attempts", apperr.ErrMalformedStructuredOutput, attempts)
	}
	return &Result{
		Content: models.ProcessedText{Sections: best},
		Metadata: map[string]any{
			"strategy":           l.Name(),
			"plannedTopics":      topics,
			"lectureDuration":    tier.Name,
			"expectedSections":   expected,
			"recoveredSections":  len(best),
			"generationAttempts": attempts,
			"loopsDetected":      loops,
			"usage":              usage,
		},
	}, nil
}

// expectedLectureChars estimates the script length for progress reporting.
func expectedLectureChars(tier credits.DurationTier) int {
	return 2500 * (tier.Topics + 2)
}

func (l *Lecture) plan(ctx context.Context, text string, n int, lang string) ([]string, llm.Usage, error) {
	resp, err := l.completer.Complete(ctx, llm.Request{
		Messages: llm.Prompt(lecturePlanSystemPrompt,
			fmt.Sprintf(lecturePlanUserPrompt, n, languageName(lang), text)),
		Temperature: llm.Temperature(0.2),
	})
	if err != nil {
		return nil, llm.Usage{}, fmt.Errorf("plan lecture topics: %w", err)
	}
	topics := parseTopics(resp.Text, n)
	if len(topics) == 0 {
		return nil, resp.Usage, fmt.Errorf("%w: no lecture topics in planning response", apperr.ErrMalformedStructuredOutput)
	}
	return topics, resp.Usage, nil
}

var (
	listPrefix   = regexp.MustCompile(`^\s*(?:[-*•·–]+\s*|\d+[.)]\s*|[a-zA-Z][.)]\s+)`)
	topicTrimSet = " \t\"'“”‘’`,[]"

	// arrayItemBreak turns a broken one-line JSON array into one item per line.
	arrayItemBreak = strings.NewReplacer(`", "`, "\n", `","`, "\n")
)

// parseTopics reads up to n topics from a JSON array, or from one topic per
// line when the array is malformed.
func parseTopics(raw string, n int) []string {
	cleaned := llm.StripCodeFences(raw)

	var arr []string
	if err := json.Unmarshal([]byte(cleaned), &arr); err != nil {
		var wrapped struct {
			Topics []string `json:"topics"`
		}
		if json.Unmarshal([]byte(cleaned), &wrapped) == nil {
			arr = wrapped.Topics
		} else {
			arr = strings.Split(arrayItemBreak.Replace(cleaned), "\n")
		}
	}

	topics := make([]string, 0, n)
	for _, t := range arr {
		t = strings.Trim(listPrefix.ReplaceAllString(strings.TrimSpace(t), ""), topicTrimSet)
		if t == "" || t == "{" || t == "}" || strings.HasSuffix(t, ":") {
			continue
		}
		topics = append(topics, t)
		if len(topics) == n {
			break
		}
	}
	return topics
}

// parseLecture splits a marker-delimited script into sections. Text before
// the first marker and sections with no body are dropped.
func parseLecture(text string) []models.Section {
	locs := markerLine.FindAllStringSubmatchIndex(text, -1)
	out := make([]models.Section, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		turns := toTurns(text[loc[1]:end], ReaderLecturer)
		if len(turns) == 0 {
			continue
		}
		out = append(out, models.Section{
			Title:   strings.TrimSpace(text[loc[2]:loc[3]]),
			Content: turns,
		})
	}
	return out
}
