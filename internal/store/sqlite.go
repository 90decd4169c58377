package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/models"
)

// Compile-time interface compliance checks.
var (
	_ VersionStore  = (*SQLiteStore)(nil)
	_ DocumentStore = (*SQLiteStore)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	language       TEXT NOT NULL DEFAULT '',
	extracted_text TEXT NOT NULL DEFAULT '',
	text_gcs_uri   TEXT NOT NULL DEFAULT '',
	processed_text TEXT,
	created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS document_versions (
	id                  TEXT PRIMARY KEY,
	document_id         TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	name                TEXT NOT NULL DEFAULT '',
	language            TEXT NOT NULL DEFAULT '',
	processing_level    INTEGER NOT NULL,
	lecture_duration    TEXT NOT NULL DEFAULT '',
	credits_charged     INTEGER NOT NULL DEFAULT 0,
	source_length       INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	streaming_text      TEXT NOT NULL DEFAULT '',
	processing_progress INTEGER NOT NULL DEFAULT 0,
	processing_metadata TEXT NOT NULL DEFAULT '{}',
	blocks              TEXT,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL,
	completed_at        INTEGER
);

CREATE INDEX IF NOT EXISTS idx_versions_document ON document_versions(document_id);
`

// SQLiteStore implements both stores on a local database. JSON-valued
// fields are stored as TEXT.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates the tables if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create store schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// PutDocument inserts or replaces a source document.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc *models.Document) error {
	var processed sql.NullString
	if doc.ProcessedText != nil {
		raw, err := json.Marshal(doc.ProcessedText)
		if err != nil {
			return fmt.Errorf("encode processed text: %w", err)
		}
		processed = sql.NullString{String: string(raw), Valid: true}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents
		 (id, owner_id, title, language, extracted_text, text_gcs_uri, processed_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OwnerID, doc.Title, doc.Language, doc.ExtractedText, doc.TextGCSUri,
		processed, doc.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to put document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var (
		doc       models.Document
		processed sql.NullString
		created   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, language, extracted_text, text_gcs_uri, processed_text, created_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Language, &doc.ExtractedText, &doc.TextGCSUri, &processed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, apperr.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	if processed.Valid {
		doc.ProcessedText = &models.ProcessedText{}
		if err := json.Unmarshal([]byte(processed.String), doc.ProcessedText); err != nil {
			return nil, fmt.Errorf("decode processed text of %s: %w", id, err)
		}
	}
	doc.CreatedAt = time.UnixMilli(created).UTC()
	return &doc, nil
}

func (s *SQLiteStore) CreateVersion(ctx context.Context, v *models.DocumentVersion) error {
	now := s.now()
	v.CreatedAt, v.UpdatedAt = now, now
	meta, err := encodeMetadata(v.ProcessingMetadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO document_versions
		 (id, document_id, user_id, name, language, processing_level, lecture_duration,
		  credits_charged, source_length, status, streaming_text, processing_progress,
		  processing_metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.DocumentID, v.UserID, v.Name, v.Language, v.ProcessingLevel, v.LectureDuration,
		v.CreditsCharged, v.SourceLength, v.Status, v.StreamingText, v.ProcessingProgress,
		meta, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create version %s: %w", v.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetVersion(ctx context.Context, id string) (*models.DocumentVersion, error) {
	var (
		v                models.DocumentVersion
		meta             string
		blocks           sql.NullString
		created, updated int64
		completed        sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, user_id, name, language, processing_level, lecture_duration,
		        credits_charged, source_length, status, streaming_text, processing_progress,
		        processing_metadata, blocks, created_at, updated_at, completed_at
		 FROM document_versions WHERE id = ?`, id,
	).Scan(&v.ID, &v.DocumentID, &v.UserID, &v.Name, &v.Language, &v.ProcessingLevel, &v.LectureDuration,
		&v.CreditsCharged, &v.SourceLength, &v.Status, &v.StreamingText, &v.ProcessingProgress,
		&meta, &blocks, &created, &updated, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %s: %w", id, apperr.ErrVersionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(meta), &v.ProcessingMetadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", id, err)
	}
	if len(v.ProcessingMetadata) == 0 {
		v.ProcessingMetadata = nil
	}
	if blocks.Valid {
		if err := json.Unmarshal([]byte(blocks.String), &v.Blocks); err != nil {
			return nil, fmt.Errorf("decode blocks of %s: %w", id, err)
		}
	}
	v.CreatedAt = time.UnixMilli(created).UTC()
	v.UpdatedAt = time.UnixMilli(updated).UTC()
	if completed.Valid {
		v.CompletedAt = time.UnixMilli(completed.Int64).UTC()
	}
	return &v, nil
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, id string, progress int) error {
	err := s.exec(ctx, id,
		`UPDATE document_versions SET status = ?, processing_progress = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.StatusProcessing, progress, s.now().UnixMilli(), id, models.StatusPending,
	)
	if !errors.Is(err, apperr.ErrVersionNotFound) {
		return err
	}
	// No row matched: tell a missing version apart from a claimed one.
	v, getErr := s.GetVersion(ctx, id)
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf("version %s is %s: %w", id, v.Status, apperr.ErrVersionClaimed)
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, u models.ProgressUpdate) error {
	meta, err := s.mergedMetadata(ctx, id, u.Metadata)
	if err != nil {
		return err
	}
	if u.StreamingText == nil {
		return s.exec(ctx, id,
			`UPDATE document_versions SET processing_progress = ?, processing_metadata = ?, updated_at = ?
			 WHERE id = ?`,
			u.Progress, meta, s.now().UnixMilli(), id,
		)
	}
	return s.exec(ctx, id,
		`UPDATE document_versions
		 SET processing_progress = ?, streaming_text = ?, processing_metadata = ?, updated_at = ?
		 WHERE id = ?`,
		u.Progress, *u.StreamingText, meta, s.now().UnixMilli(), id,
	)
}

func (s *SQLiteStore) CompleteVersion(ctx context.Context, id string, blocks []models.Block, metadata map[string]any) error {
	meta, err := s.mergedMetadata(ctx, id, metadata)
	if err != nil {
		return err
	}
	if blocks == nil {
		blocks = []models.Block{}
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("encode blocks: %w", err)
	}
	now := s.now().UnixMilli()
	return s.exec(ctx, id,
		`UPDATE document_versions
		 SET status = ?, processing_progress = 100, streaming_text = '', blocks = ?,
		     processing_metadata = ?, updated_at = ?, completed_at = ?
		 WHERE id = ?`,
		models.StatusCompleted, string(raw), meta, now, now, id,
	)
}

func (s *SQLiteStore) DeleteVersion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_versions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete version %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete version %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("version %s: %w", id, apperr.ErrVersionNotFound)
	}
	return nil
}

// CountVersions returns how many versions exist for a document.
func (s *SQLiteStore) CountVersions(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_versions WHERE document_id = ?`, documentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count versions of %s: %w", documentID, err)
	}
	return n, nil
}

func (s *SQLiteStore) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update version %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update version %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("version %s: %w", id, apperr.ErrVersionNotFound)
	}
	return nil
}

// mergedMetadata reads the stored metadata and overlays extra on it. Each
// version has a single writer, so read-modify-write is safe here.
func (s *SQLiteStore) mergedMetadata(ctx context.Context, id string, extra map[string]any) (string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT processing_metadata FROM document_versions WHERE id = ?`, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("version %s: %w", id, apperr.ErrVersionNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata of %s: %w", id, err)
	}
	if len(extra) == 0 {
		return raw, nil
	}
	merged := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &merged); err != nil {
		return "", fmt.Errorf("decode metadata of %s: %w", id, err)
	}
	for k, v := range extra {
		merged[k] = v
	}
	return encodeMetadata(merged)
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}
