package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/models"
	"github.com/Lllllllleong/docversions/internal/sqlitedb"
	"github.com/Lllllllleong/docversions/internal/store"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), sqlitedb.OpenTemp(t))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func TestSQLiteStore_Documents(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:            "doc-1",
		OwnerID:       "alice",
		Title:         "Paper",
		Language:      "en",
		ExtractedText: "Body text.",
		ProcessedText: &models.ProcessedText{Sections: []models.Section{{
			Title:   "Intro",
			Content: []models.SpeechTurn{{Text: "Hello.", ReaderID: "narrator"}},
		}}},
	}
	if err := s.PutDocument(ctx, doc); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if diff := cmp.Diff(doc.ProcessedText, got.ProcessedText); diff != "" {
		t.Errorf("ProcessedText mismatch (-want +got):\n%s", diff)
	}
	if got.OwnerID != "alice" || got.ExtractedText != "Body text." {
		t.Errorf("GetDocument = %+v", got)
	}

	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, apperr.ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestSQLiteStore_VersionLifecycle(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	v := &models.DocumentVersion{
		ID:              "v-1",
		DocumentID:      "doc-1",
		UserID:          "alice",
		ProcessingLevel: models.LevelNatural,
		CreditsCharged:  4,
		Status:          models.StatusPending,
	}
	if err := s.CreateVersion(ctx, v); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	got, err := s.GetVersion(ctx, "v-1")
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if got.Status != models.StatusPending || got.Blocks != nil {
		t.Errorf("pending version = %+v, want no blocks", got)
	}

	if err := s.MarkProcessing(ctx, "v-1", 5); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	partial := "First section so far"
	if err := s.UpdateProgress(ctx, "v-1", models.ProgressUpdate{
		StreamingText: &partial,
		Progress:      40,
		Metadata:      map[string]any{"sectionsTotal": 3},
	}); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := s.UpdateProgress(ctx, "v-1", models.ProgressUpdate{
		Progress: 50,
		Metadata: map[string]any{"sectionsDone": 1},
	}); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	got, err = s.GetVersion(ctx, "v-1")
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if got.Status != models.StatusProcessing || got.ProcessingProgress != 50 {
		t.Errorf("status/progress = %s/%d, want processing/50", got.Status, got.ProcessingProgress)
	}
	if got.StreamingText != partial {
		t.Errorf("StreamingText = %q, want untouched %q", got.StreamingText, partial)
	}
	wantMeta := map[string]any{"sectionsTotal": float64(3), "sectionsDone": float64(1)}
	if diff := cmp.Diff(wantMeta, got.ProcessingMetadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	blocks := []models.Block{
		{ID: "b-0", Type: models.BlockHeading, Text: "Intro", SectionIndex: 0},
		{ID: "b-1", Type: models.BlockParagraph, Text: "Hello.", ReaderID: "narrator", SectionIndex: 0},
	}
	if err := s.CompleteVersion(ctx, "v-1", blocks, map[string]any{"strategy": "natural"}); err != nil {
		t.Fatalf("CompleteVersion: %v", err)
	}
	got, err = s.GetVersion(ctx, "v-1")
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if got.Status != models.StatusCompleted || got.ProcessingProgress != 100 || got.StreamingText != "" {
		t.Errorf("completed version = %+v", got)
	}
	if diff := cmp.Diff(blocks, got.Blocks); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
	if got.ProcessingMetadata["strategy"] != "natural" || got.ProcessingMetadata["sectionsTotal"] != float64(3) {
		t.Errorf("metadata = %v, want merged", got.ProcessingMetadata)
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}

	n, err := s.CountVersions(ctx, "doc-1")
	if err != nil || n != 1 {
		t.Errorf("CountVersions = %d, %v; want 1", n, err)
	}

	if err := s.DeleteVersion(ctx, "v-1"); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	if _, err := s.GetVersion(ctx, "v-1"); !errors.Is(err, apperr.ErrVersionNotFound) {
		t.Errorf("err = %v, want ErrVersionNotFound", err)
	}
}

func TestSQLiteStore_UpdatesOnMissingVersion(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	if err := s.MarkProcessing(ctx, "nope", 5); !errors.Is(err, apperr.ErrVersionNotFound) {
		t.Errorf("MarkProcessing err = %v, want ErrVersionNotFound", err)
	}
	if err := s.UpdateProgress(ctx, "nope", models.ProgressUpdate{Progress: 10}); !errors.Is(err, apperr.ErrVersionNotFound) {
		t.Errorf("UpdateProgress err = %v, want ErrVersionNotFound", err)
	}
	if err := s.CompleteVersion(ctx, "nope", nil, nil); !errors.Is(err, apperr.ErrVersionNotFound) {
		t.Errorf("CompleteVersion err = %v, want ErrVersionNotFound", err)
	}
}

func TestSQLiteStore_MarkProcessingClaimsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	if err := s.CreateVersion(ctx, &models.DocumentVersion{ID: "v-1", DocumentID: "d-1", UserID: "alice", ProcessingLevel: 1, Status: models.StatusPending}); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if err := s.MarkProcessing(ctx, "v-1", 5); err != nil {
		t.Fatalf("first MarkProcessing: %v", err)
	}
	if err := s.MarkProcessing(ctx, "v-1", 5); !errors.Is(err, apperr.ErrVersionClaimed) {
		t.Errorf("second MarkProcessing err = %v, want ErrVersionClaimed", err)
	}

	if err := s.DeleteVersion(ctx, "v-1"); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	if err := s.DeleteVersion(ctx, "v-1"); !errors.Is(err, apperr.ErrVersionNotFound) {
		t.Errorf("second DeleteVersion err = %v, want ErrVersionNotFound", err)
	}
	if err := s.MarkProcessing(ctx, "v-1", 5); !errors.Is(err, apperr.ErrVersionNotFound) {
		t.Errorf("MarkProcessing after delete err = %v, want ErrVersionNotFound", err)
	}
}
