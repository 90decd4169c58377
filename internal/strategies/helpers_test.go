package strategies_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/llm/llmtest"
	"github.com/Lllllllleong/docversions/internal/models"
	"github.com/Lllllllleong/docversions/internal/strategies"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []models.ProgressUpdate
}

func (r *recordingSink) Progress(_ context.Context, u models.ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recordingSink) last() models.ProgressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return models.ProgressUpdate{}
	}
	return r.updates[len(r.updates)-1]
}

func newJob(level int, docLang, target, text string) (*strategies.Job, *recordingSink) {
	sink := &recordingSink{}
	return &strategies.Job{
		Version: &models.DocumentVersion{ID: "v-test", DocumentID: "doc-test", ProcessingLevel: level, Language: target},
		Document: &models.Document{
			ID:            "doc-test",
			Title:         "Test Document",
			Language:      docLang,
			ExtractedText: text,
		},
		SourceText:     text,
		TargetLanguage: target,
		Sink:           sink,
	}, sink
}

// after returns the text following the last occurrence of label in the
// user prompt of req.
func after(req llm.Request, label string) string {
	user := llmtest.User(req)
	i := strings.LastIndex(user, label)
	if i < 0 {
		return ""
	}
	return user[i+len(label):]
}

func assertAlternates(t *testing.T, content models.ProcessedText) {
	t.Helper()
	distinct := map[string]bool{}
	prev := ""
	for _, s := range content.Sections {
		for _, turn := range s.Content {
			if turn.Text == "" {
				t.Errorf("empty speech turn in section %q", s.Title)
			}
			if turn.ReaderID == prev {
				t.Errorf("consecutive turns by %q", prev)
			}
			prev = turn.ReaderID
			distinct[turn.ReaderID] = true
		}
	}
	if len(distinct) != 2 {
		t.Errorf("distinct speakers = %v, want exactly 2", distinct)
	}
}
