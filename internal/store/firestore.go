package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/gcp"
	"github.com/Lllllllleong/docversions/internal/models"
)

// Compile-time interface compliance checks.
var (
	_ VersionStore  = (*FirestoreStore)(nil)
	_ DocumentStore = (*FirestoreStore)(nil)
)

// FirestoreStore keeps versions and documents in two collections.
type FirestoreStore struct {
	client              *firestore.Client
	versionsCollection  string
	documentsCollection string
}

// NewFirestoreStore creates a store over the given collections.
func NewFirestoreStore(client *firestore.Client, versionsCollection, documentsCollection string) *FirestoreStore {
	return &FirestoreStore{
		client:              client,
		versionsCollection:  versionsCollection,
		documentsCollection: documentsCollection,
	}
}

func (s *FirestoreStore) version(id string) *firestore.DocumentRef {
	return s.client.Collection(s.versionsCollection).Doc(id)
}

func (s *FirestoreStore) CreateVersion(ctx context.Context, v *models.DocumentVersion) error {
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	if _, err := s.version(v.ID).Create(ctx, v); err != nil {
		return fmt.Errorf("failed to create version %s: %w", v.ID, err)
	}
	return nil
}

func (s *FirestoreStore) GetVersion(ctx context.Context, id string) (*models.DocumentVersion, error) {
	snap, err := s.version(id).Get(ctx)
	if err != nil {
		if gcp.IsNotFound(err) {
			return nil, fmt.Errorf("version %s: %w", id, apperr.ErrVersionNotFound)
		}
		return nil, fmt.Errorf("failed to get version %s: %w", id, err)
	}
	var v models.DocumentVersion
	if err := snap.DataTo(&v); err != nil {
		return nil, fmt.Errorf("failed to decode version %s: %w", id, err)
	}
	v.ID = snap.Ref.ID
	return &v, nil
}

func (s *FirestoreStore) update(ctx context.Context, id string, updates []firestore.Update) error {
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: firestore.ServerTimestamp})
	if _, err := s.version(id).Update(ctx, updates); err != nil {
		if gcp.IsNotFound(err) {
			return fmt.Errorf("version %s: %w", id, apperr.ErrVersionNotFound)
		}
		return fmt.Errorf("failed to update version %s: %w", id, err)
	}
	return nil
}

// metadataUpdates merges keys one by one so earlier metadata survives.
func metadataUpdates(metadata map[string]any) []firestore.Update {
	updates := make([]firestore.Update, 0, len(metadata))
	for k, v := range metadata {
		updates = append(updates, firestore.Update{
			FieldPath: firestore.FieldPath{"processing_metadata", k},
			Value:     v,
		})
	}
	return updates
}

// MarkProcessing checks and sets the status in one transaction.
func (s *FirestoreStore) MarkProcessing(ctx context.Context, id string, progress int) error {
	ref := s.version(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		status, err := snap.DataAt("status")
		if err != nil {
			return err
		}
		if status != models.StatusPending {
			return fmt.Errorf("version %s is %v: %w", id, status, apperr.ErrVersionClaimed)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: models.StatusProcessing},
			{Path: "processing_progress", Value: progress},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
	switch {
	case err == nil, errors.Is(err, apperr.ErrVersionClaimed):
		return err
	case gcp.IsNotFound(err):
		return fmt.Errorf("version %s: %w", id, apperr.ErrVersionNotFound)
	}
	return fmt.Errorf("failed to mark version %s processing: %w", id, err)
}

func (s *FirestoreStore) UpdateProgress(ctx context.Context, id string, u models.ProgressUpdate) error {
	updates := []firestore.Update{{Path: "processing_progress", Value: u.Progress}}
	if u.StreamingText != nil {
		updates = append(updates, firestore.Update{Path: "streaming_text", Value: *u.StreamingText})
	}
	return s.update(ctx, id, append(updates, metadataUpdates(u.Metadata)...))
}

func (s *FirestoreStore) CompleteVersion(ctx context.Context, id string, blocks []models.Block, metadata map[string]any) error {
	updates := []firestore.Update{
		{Path: "status", Value: models.StatusCompleted},
		{Path: "processing_progress", Value: 100},
		{Path: "streaming_text", Value: ""},
		{Path: "blocks", Value: blocks},
		{Path: "completedAt", Value: firestore.ServerTimestamp},
	}
	return s.update(ctx, id, append(updates, metadataUpdates(metadata)...))
}

func (s *FirestoreStore) DeleteVersion(ctx context.Context, id string) error {
	if _, err := s.version(id).Delete(ctx, firestore.Exists); err != nil {
		if gcp.IsNotFound(err) {
			return fmt.Errorf("version %s: %w", id, apperr.ErrVersionNotFound)
		}
		return fmt.Errorf("failed to delete version %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	snap, err := s.client.Collection(s.documentsCollection).Doc(id).Get(ctx)
	if err != nil {
		if gcp.IsNotFound(err) {
			return nil, fmt.Errorf("document %s: %w", id, apperr.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	doc.ID = snap.Ref.ID
	return &doc, nil
}
