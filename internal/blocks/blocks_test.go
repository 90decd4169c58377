package blocks_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/Lllllllleong/docversions/internal/blocks"
	"github.com/Lllllllleong/docversions/internal/models"
)

var content = models.ProcessedText{Sections: []models.Section{
	{Title: "Introduction", Content: []models.SpeechTurn{
		{Text: "Welcome.", ReaderID: "host"},
		{Text: "Thanks for having me.", ReaderID: "guest"},
	}},
	{Content: []models.SpeechTurn{{Text: "An untitled aside.", ReaderID: "narrator"}}},
	{Title: "Results", Content: []models.SpeechTurn{{Text: "It worked.", ReaderID: "narrator"}}},
}}

func TestConvert(t *testing.T) {
	t.Parallel()

	got := blocks.Convert("v1", content)

	want := []models.Block{
		{Type: models.BlockHeading, Text: "Introduction", SectionIndex: 0},
		{Type: models.BlockParagraph, Text: "Welcome.", ReaderID: "host", SectionIndex: 0},
		{Type: models.BlockParagraph, Text: "Thanks for having me.", ReaderID: "guest", SectionIndex: 0},
		{Type: models.BlockParagraph, Text: "An untitled aside.", ReaderID: "narrator", SectionIndex: 1},
		{Type: models.BlockHeading, Text: "Results", SectionIndex: 2},
		{Type: models.BlockParagraph, Text: "It worked.", ReaderID: "narrator", SectionIndex: 2},
	}
	ignoreID := cmp.FilterPath(func(p cmp.Path) bool { return p.Last().String() == ".ID" }, cmp.Ignore())
	if diff := cmp.Diff(want, got, ignoreID); diff != "" {
		t.Fatalf("Convert mismatch (-want +got):\n%s", diff)
	}

	seen := map[string]bool{}
	for _, b := range got {
		if _, err := uuid.Parse(b.ID); err != nil {
			t.Errorf("block ID %q is not a UUID: %v", b.ID, err)
		}
		if seen[b.ID] {
			t.Errorf("duplicate block ID %q", b.ID)
		}
		seen[b.ID] = true
	}
}

func TestConvert_StableIDs(t *testing.T) {
	t.Parallel()

	if diff := cmp.Diff(blocks.Convert("v1", content), blocks.Convert("v1", content)); diff != "" {
		t.Errorf("conversion is not deterministic:\n%s", diff)
	}
	a, b := blocks.Convert("v1", content), blocks.Convert("v2", content)
	if a[0].ID == b[0].ID {
		t.Error("different versions share block IDs")
	}
}

func TestContent_InvertsConvert(t *testing.T) {
	t.Parallel()

	if diff := cmp.Diff(content, blocks.Content(blocks.Convert("v1", content))); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if got := blocks.Convert("v1", models.ProcessedText{}); len(got) != 0 {
		t.Errorf("empty content produced %d blocks", len(got))
	}
}
