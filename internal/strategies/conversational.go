package strategies

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/models"
)

// dialogue is the answer shape of the conversation call.
type dialogue struct {
	Sections []dialogueSection `json:"sections"`
}

type dialogueSection struct {
	Title string         `json:"title"`
	Turns []dialogueTurn `json:"turns"`
}

type dialogueTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Conversational turns the whole document into a two-speaker dialogue.
type Conversational struct {
	provider   llm.Provider
	structured bool
}

// NewConversational creates the level 3 strategy.
func NewConversational(provider llm.Provider, cfg Config) *Conversational {
	return &Conversational{provider: provider, structured: cfg.StructuredConversation}
}

func (*Conversational) Name() string { return "conversational" }

func (c *Conversational) Process(ctx context.Context, job *Job) (*Result, error) {
	logCtx := slog.With("versionId", job.Version.ID, "strategy", c.Name())
	sink := job.sink()

	req := llm.Request{
		Messages: llm.Prompt(conversationSystemPrompt,
			fmt.Sprintf(conversationUserPrompt, languageName(job.outputLanguage()), job.SourceText)),
		Temperature: llm.Temperature(0.7),
	}
	sink.Progress(ctx, models.ProgressUpdate{Progress: progressStart})

	var (
		d        dialogue
		usage    llm.Usage
		err      error
		repaired bool
	)
	if c.structured {
		usage, err = c.provider.CompleteStructured(ctx, req, "podcast_dialogue", &d)
	} else {
		d, usage, repaired, err = c.completeRaw(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("generate dialogue: %w", err)
	}

	content, err := normalizeDialogue(d)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Dialogue generated.", "sections", len(content.Sections), "turns", content.TurnCount(), "repaired", repaired)
	sink.Progress(ctx, models.ProgressUpdate{StreamingText: ptr(render(content.Sections)), Progress: progressEnd})

	return &Result{
		Content: content,
		Metadata: map[string]any{
			"strategy":     c.Name(),
			"structured":   c.structured,
			"jsonRepaired": repaired,
			"turns":        content.TurnCount(),
			"usage":        usage,
		},
	}, nil
}

// completeRaw asks for bare JSON and parses it, applying the quote repair
// once when the first parse fails.
func (c *Conversational) completeRaw(ctx context.Context, req llm.Request) (dialogue, llm.Usage, bool, error) {
	req.JSON = true
	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		return dialogue{}, llm.Usage{}, false, err
	}

	raw := llm.StripCodeFences(resp.Text)
	var d dialogue
	if err := json.Unmarshal([]byte(raw), &d); err == nil {
		return d, resp.Usage, false, nil
	}
	if err := json.Unmarshal([]byte(repairTextFields(raw)), &d); err != nil {
		return dialogue{}, resp.Usage, true, fmt.Errorf("%w: dialogue JSON unparseable after repair: %v", apperr.ErrMalformedStructuredOutput, err)
	}
	return d, resp.Usage, true, nil
}

var (
	guestKeywords = []string{"guest", "co-host", "cohost", "expert", "interviewee", "analyst", "student", "author", "researcher", "speaker 2", "speaker b", "person b"}
	hostKeywords  = []string{"host", "interviewer", "presenter", "moderator", "narrator", "speaker 1", "speaker a", "person a"}
)

// canonicalSpeaker maps a free-form speaker label onto host or guest. The
// empty string means the label matched neither.
func canonicalSpeaker(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	switch l {
	case "a", "1":
		return ReaderHost
	case "b", "2":
		return ReaderGuest
	}
	for _, k := range guestKeywords {
		if strings.Contains(l, k) {
			return ReaderGuest
		}
	}
	for _, k := range hostKeywords {
		if strings.Contains(l, k) {
			return ReaderHost
		}
	}
	return ""
}

func otherSpeaker(s string) string {
	if s == ReaderHost {
		return ReaderGuest
	}
	return ReaderHost
}

type flatTurn struct {
	section int
	speaker string
	text    string
}

// normalizeDialogue canonicalizes speakers and enforces strict alternation
// across the whole conversation. Unrecognized labels take the opposite of the
// previous speaker. Consecutive turns by one speaker are merged within a
// section; a section that opens with the previous section's last speaker has
// its two roles swapped, so no section loses its turns to its neighbour.
func normalizeDialogue(d dialogue) (models.ProcessedText, error) {
	var flat []flatTurn
	prev := ""
	for si, s := range d.Sections {
		opening, swap := true, false
		for _, t := range s.Turns {
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			speaker := canonicalSpeaker(t.Speaker)
			if opening && speaker != "" && speaker == prev {
				swap = true
			}
			opening = false
			switch {
			case speaker == "":
				speaker = otherSpeaker(prev)
			case swap:
				speaker = otherSpeaker(speaker)
			}
			prev = speaker

			if n := len(flat); n > 0 && flat[n-1].section == si && flat[n-1].speaker == speaker {
				flat[n-1].text += "\n\n" + text
				continue
			}
			flat = append(flat, flatTurn{section: si, speaker: speaker, text: text})
		}
	}

	distinct := map[string]bool{}
	for _, t := range flat {
		distinct[t.speaker] = true
	}
	if len(distinct) < 2 {
		return models.ProcessedText{}, fmt.Errorf("%w: dialogue has %d distinct speakers, want 2", apperr.ErrMalformedStructuredOutput, len(distinct))
	}

	var out []models.Section
	current := -1
	for _, t := range flat {
		if t.section != current {
			current = t.section
			out = append(out, models.Section{Title: strings.TrimSpace(d.Sections[t.section].Title)})
		}
		last := &out[len(out)-1]
		last.Content = append(last.Content, models.SpeechTurn{Text: t.text, ReaderID: t.speaker})
	}
	return models.ProcessedText{Sections: out}, nil
}
