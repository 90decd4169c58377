package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/docversions/internal/credits"
	"github.com/Lllllllleong/docversions/internal/llm/llmtest"
	"github.com/Lllllllleong/docversions/internal/models"
	"github.com/Lllllllleong/docversions/internal/services"
	"github.com/Lllllllleong/docversions/internal/sqlitedb"
	"github.com/Lllllllleong/docversions/internal/store"
	"github.com/Lllllllleong/docversions/internal/strategies"
)

const (
	owner         = "alice"
	startingFunds = 100
)

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

const bridgePaper = `Deep Learning for Bridge Inspection

1. Introduction
Bridges are inspected by hand today. This is slow and costly.

Our approach automates the process.

2. Methods
We trained a convolutional network on drone imagery of decks.

3. Results
The network found ninety percent of cracks in the test set.
`

// The Methods marker ends with a word the document does not contain.
const bridgeSections = `{"sections": [
	{"title": "Introduction", "startMarker": "Bridges are inspected by hand today.", "order": 1},
	{"title": "Methods", "startMarker": "We trained a convolutional network on satellite", "order": 2},
	{"title": "Results", "startMarker": "The network found ninety percent", "order": 3}
]}`

var bridgeContent = &models.ProcessedText{Sections: []models.Section{
	{Title: "Introduction", Content: []models.SpeechTurn{
		{Text: "Bridges are inspected by hand today. This is slow and costly.", ReaderID: "narrator"},
		{Text: "Our approach automates the process.", ReaderID: "narrator"},
	}},
	{Title: "Methods", Content: []models.SpeechTurn{{Text: "We trained a convolutional network on drone imagery of decks.", ReaderID: "narrator"}}},
	{Title: "Results", Content: []models.SpeechTurn{{Text: "The network found ninety percent of cracks in the test set.", ReaderID: "narrator"}}},
}}

// faultyStore wraps the SQLite store, failing the named operation and
// recording every progress value written.
type faultyStore struct {
	*store.SQLiteStore
	failOn string

	mu       sync.Mutex
	progress []int
	texts    []string
}

var errInjected = errors.New("injected failure")

func (s *faultyStore) fail(op string) error {
	if s.failOn == op {
		return errInjected
	}
	return nil
}

func (s *faultyStore) CreateVersion(ctx context.Context, v *models.DocumentVersion) error {
	if err := s.fail("CreateVersion"); err != nil {
		return err
	}
	return s.SQLiteStore.CreateVersion(ctx, v)
}

func (s *faultyStore) MarkProcessing(ctx context.Context, id string, progress int) error {
	if err := s.fail("MarkProcessing"); err != nil {
		return err
	}
	s.mu.Lock()
	s.progress = append(s.progress, progress)
	s.mu.Unlock()
	return s.SQLiteStore.MarkProcessing(ctx, id, progress)
}

func (s *faultyStore) UpdateProgress(ctx context.Context, id string, u models.ProgressUpdate) error {
	s.mu.Lock()
	s.progress = append(s.progress, u.Progress)
	if u.StreamingText != nil {
		s.texts = append(s.texts, *u.StreamingText)
	}
	s.mu.Unlock()
	return s.SQLiteStore.UpdateProgress(ctx, id, u)
}

func (s *faultyStore) CompleteVersion(ctx context.Context, id string, blocks []models.Block, metadata map[string]any) error {
	if err := s.fail("CompleteVersion"); err != nil {
		return err
	}
	return s.SQLiteStore.CompleteVersion(ctx, id, blocks, metadata)
}

func (s *faultyStore) recorded() ([]int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.progress...), append([]string(nil), s.texts...)
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, e cloudevents.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, e.Type())
	return nil
}

func (p *recordingPublisher) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.types) == 0 {
		return ""
	}
	return p.types[len(p.types)-1]
}

type fixture struct {
	gen       *services.VersionGeneratorFunction
	store     *faultyStore
	ledger    *credits.SQLiteLedger
	publisher *recordingPublisher
}

type fixtureOptions struct {
	failOn   string
	config   func(*strategies.Config)
	services []services.Option
}

func newFixture(t *testing.T, fake *llmtest.Fake, o fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()
	db := sqlitedb.OpenTemp(t)

	sqlStore, err := store.NewSQLiteStore(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ledger, err := credits.NewSQLiteLedger(ctx, db, credits.RefillPolicy{
		MonthlyAllowance: startingFunds,
		Now:              func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("NewSQLiteLedger: %v", err)
	}
	if err := ledger.SetBalance(ctx, owner, credits.Balance{Credits: startingFunds, NextRefillDate: fixedNow.AddDate(0, 1, 0)}); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}

	docs := []*models.Document{
		{ID: "paper", OwnerID: owner, Title: "Bridge Inspection", Language: "en", ExtractedText: bridgePaper, ProcessedText: bridgeContent},
		{ID: "private", OwnerID: "bob", Title: "Not yours", Language: "en", ExtractedText: bridgePaper},
		{ID: "empty", OwnerID: owner, Title: "Blank scan", Language: "en"},
	}
	for _, d := range docs {
		if err := sqlStore.PutDocument(ctx, d); err != nil {
			t.Fatalf("PutDocument: %v", err)
		}
	}

	cfg := strategies.DefaultConfig()
	if o.config != nil {
		o.config(&cfg)
	}
	fs := &faultyStore{SQLiteStore: sqlStore, failOn: o.failOn}
	pub := &recordingPublisher{}
	opts := append([]services.Option{services.WithPublisher(pub)}, o.services...)
	return &fixture{
		gen:       services.NewVersionGenerator(fs, fs, ledger, strategies.NewRegistry(fake, cfg), opts...),
		store:     fs,
		ledger:    ledger,
		publisher: pub,
	}
}

// wait blocks until every background task started through the inline
// dispatcher has returned.
func (fx *fixture) wait(t *testing.T) {
	t.Helper()
	d, ok := fx.gen.Dispatcher().(*services.InlineDispatcher)
	if !ok {
		t.Fatalf("dispatcher is %T, not inline", fx.gen.Dispatcher())
	}
	d.Wait()
}

func (fx *fixture) balance(t *testing.T) int {
	t.Helper()
	b, err := fx.ledger.CheckBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("CheckBalance: %v", err)
	}
	return b.Credits
}

func (fx *fixture) versionCount(t *testing.T, documentID string) int {
	t.Helper()
	n, err := fx.store.CountVersions(context.Background(), documentID)
	if err != nil {
		t.Fatalf("CountVersions: %v", err)
	}
	return n
}
