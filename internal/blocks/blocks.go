// Package blocks converts generated content into the flat block sequence
// stored on a completed version.
package blocks

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/Lllllllleong/docversions/internal/models"
)

// Convert flattens content into blocks: a heading for every titled section
// followed by one paragraph per speech turn. Block IDs are derived from
// versionID and position, so converting the same content twice yields the
// same blocks.
func Convert(versionID string, content models.ProcessedText) []models.Block {
	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte("docversions:"+versionID))

	out := make([]models.Block, 0, content.TurnCount()+len(content.Sections))
	add := func(b models.Block) {
		b.ID = uuid.NewSHA1(ns, []byte(strconv.Itoa(len(out)))).String()
		out = append(out, b)
	}
	for i, s := range content.Sections {
		if s.Title != "" {
			add(models.Block{Type: models.BlockHeading, Text: s.Title, SectionIndex: i})
		}
		for _, turn := range s.Content {
			add(models.Block{Type: models.BlockParagraph, Text: turn.Text, ReaderID: turn.ReaderID, SectionIndex: i})
		}
	}
	return out
}

// Content rebuilds the sections a block sequence was converted from.
func Content(blocks []models.Block) models.ProcessedText {
	var sections []models.Section
	current := -1
	for _, b := range blocks {
		if b.SectionIndex != current || len(sections) == 0 {
			current = b.SectionIndex
			sections = append(sections, models.Section{})
		}
		s := &sections[len(sections)-1]
		switch b.Type {
		case models.BlockHeading:
			s.Title = b.Text
		case models.BlockParagraph:
			s.Content = append(s.Content, models.SpeechTurn{Text: b.Text, ReaderID: b.ReaderID})
		}
	}
	return models.ProcessedText{Sections: sections}
}
