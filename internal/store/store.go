// Package store persists version records and reads source documents.
package store

import (
	"context"

	"github.com/Lllllllleong/docversions/internal/models"
)

// VersionStore persists DocumentVersion records. After CreateVersion only the
// background task for that version calls the mutating methods.
type VersionStore interface {
	CreateVersion(ctx context.Context, v *models.DocumentVersion) error
	GetVersion(ctx context.Context, id string) (*models.DocumentVersion, error)
	// MarkProcessing moves a pending version to processing. It fails with
	// apperr.ErrVersionClaimed when the version is no longer pending, so
	// exactly one caller wins the transition.
	MarkProcessing(ctx context.Context, id string, progress int) error
	// UpdateProgress writes a progress snapshot. Metadata keys are merged
	// into the stored metadata.
	UpdateProgress(ctx context.Context, id string, u models.ProgressUpdate) error
	// CompleteVersion stores blocks, sets progress to 100 and clears the
	// streaming text.
	CompleteVersion(ctx context.Context, id string, blocks []models.Block, metadata map[string]any) error
	// DeleteVersion returns apperr.ErrVersionNotFound when there was nothing
	// to delete.
	DeleteVersion(ctx context.Context, id string) error
}

// DocumentStore reads source documents.
type DocumentStore interface {
	// GetDocument returns apperr.ErrDocumentNotFound when id does not exist.
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}
