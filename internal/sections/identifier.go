// Package sections locates top-level sections in extracted document text and
// slices the text into per-section bodies.
package sections

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/models"
)

// identification is the structured answer of the identification call.
type identification struct {
	Sections []models.IdentifiedSection `json:"sections"`
}

// Identifier asks a structured-completion provider for section boundaries.
type Identifier struct {
	provider llm.StructuredCompleter
}

// NewIdentifier creates an Identifier backed by provider.
func NewIdentifier(provider llm.StructuredCompleter) *Identifier {
	return &Identifier{provider: provider}
}

// Identify returns the validated sections of text, sorted by order.
func (i *Identifier) Identify(ctx context.Context, text string) ([]models.IdentifiedSection, llm.Usage, error) {
	req := llm.Request{
		Messages:    llm.Prompt(IdentifierSystemPrompt, fmt.Sprintf(identifierUserPrompt, text)),
		Temperature: llm.Temperature(0),
	}

	var out identification
	usage, err := i.provider.CompleteStructured(ctx, req, "identified_sections", &out)
	if err != nil {
		return nil, usage, fmt.Errorf("%w: %w", apperr.ErrSectionIdentificationFailed, err)
	}

	sections, err := Validate(out.Sections)
	if err != nil {
		slog.Warn("Identified sections failed validation.", "error", err, "sectionCount", len(out.Sections))
		return nil, usage, err
	}
	return sections, usage, nil
}

// Validate checks that sections is non-empty, that every title and marker is
// non-blank, and that the orders are exactly 1..N. It returns a copy sorted
// by order. Invalid input is rejected, never repaired.
func Validate(sections []models.IdentifiedSection) ([]models.IdentifiedSection, error) {
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: no sections returned", apperr.ErrSectionIdentificationFailed)
	}

	seen := make(map[int]bool, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.Title) == "" {
			return nil, fmt.Errorf("%w: section %d has an empty title", apperr.ErrSectionIdentificationFailed, s.Order)
		}
		if strings.TrimSpace(s.StartMarker) == "" {
			return nil, fmt.Errorf("%w: section %q has an empty start marker", apperr.ErrSectionIdentificationFailed, s.Title)
		}
		if s.Order < 1 || s.Order > len(sections) {
			return nil, fmt.Errorf("%w: order %d outside 1..%d", apperr.ErrSectionIdentificationFailed, s.Order, len(sections))
		}
		if seen[s.Order] {
			return nil, fmt.Errorf("%w: duplicate order %d", apperr.ErrSectionIdentificationFailed, s.Order)
		}
		seen[s.Order] = true
	}

	sorted := slices.Clone(sections)
	slices.SortFunc(sorted, func(a, b models.IdentifiedSection) int { return cmp.Compare(a.Order, b.Order) })
	return sorted, nil
}
