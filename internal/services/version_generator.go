// Package services holds the version orchestrator: the request-time credit
// reservation and the background task that generates a version or undoes
// the reservation.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/blocks"
	"github.com/Lllllllleong/docversions/internal/credits"
	"github.com/Lllllllleong/docversions/internal/events"
	"github.com/Lllllllleong/docversions/internal/gcp"
	"github.com/Lllllllleong/docversions/internal/models"
	"github.com/Lllllllleong/docversions/internal/store"
	"github.com/Lllllllleong/docversions/internal/strategies"
)

// VersionGeneratorFunction creates versions and runs their background tasks.
type VersionGeneratorFunction struct {
	versions   store.VersionStore
	documents  store.DocumentStore
	ledger     credits.Ledger
	strategies *strategies.Registry

	dispatcher    Dispatcher
	publisher     events.Publisher
	eventSource   string
	storageClient *storage.Client
	archiveBucket string
	maxVersions   int
	newID         func() string
	now           func() time.Time

	tasks singleflight.Group
}

// Option configures a VersionGeneratorFunction.
type Option func(*VersionGeneratorFunction)

// WithDispatcher replaces the default inline dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(f *VersionGeneratorFunction) { f.dispatcher = d }
}

// WithPublisher mirrors progress to p.
func WithPublisher(p events.Publisher) Option {
	return func(f *VersionGeneratorFunction) {
		if p != nil {
			f.publisher = p
		}
	}
}

// WithStorage enables reading gs:// document text and, when archiveBucket is
// set, archiving completed content.
func WithStorage(client *storage.Client, archiveBucket string) Option {
	return func(f *VersionGeneratorFunction) {
		f.storageClient = client
		f.archiveBucket = archiveBucket
	}
}

// WithMaxVersions sets the per-document version ceiling.
func WithMaxVersions(n int) Option {
	return func(f *VersionGeneratorFunction) {
		if n > 0 {
			f.maxVersions = n
		}
	}
}

// WithIDGenerator overrides how version IDs are minted.
func WithIDGenerator(newID func() string) Option {
	return func(f *VersionGeneratorFunction) { f.newID = newID }
}

// NewVersionGenerator wires the orchestrator from its collaborators.
func NewVersionGenerator(versions store.VersionStore, documents store.DocumentStore, ledger credits.Ledger, registry *strategies.Registry, opts ...Option) *VersionGeneratorFunction {
	f := &VersionGeneratorFunction{
		versions:    versions,
		documents:   documents,
		ledger:      ledger,
		strategies:  registry,
		publisher:   events.Noop,
		eventSource: events.DefaultSource,
		maxVersions: DefaultMaxVersionsPerDocument,
		newID:       uuid.NewString,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.dispatcher == nil {
		f.dispatcher = NewInlineDispatcher(f)
	}
	return f
}

// Dispatcher returns the dispatcher in use.
func (f *VersionGeneratorFunction) Dispatcher() Dispatcher {
	return f.dispatcher
}

// Create validates the request, reserves credits and records a pending
// version, then hands it to the dispatcher. No record is left behind and no
// credits stay deducted when it returns an error.
func (f *VersionGeneratorFunction) Create(ctx context.Context, req models.CreateVersionRequest) (*models.CreateVersionResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apperr.ErrAuthRequired
	}
	if req.ProcessingLevel < models.LevelOriginal || req.ProcessingLevel > models.LevelConversational {
		return nil, fmt.Errorf("%w: %d", apperr.ErrInvalidLevel, req.ProcessingLevel)
	}
	if req.ExistingVersionCount >= f.maxVersions {
		return nil, fmt.Errorf("%w: document already has %d versions", apperr.ErrVersionLimitReached, req.ExistingVersionCount)
	}

	logCtx := slog.With("documentId", req.DocumentID, "userId", req.UserID, "processingLevel", req.ProcessingLevel)

	doc, err := f.documents.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != req.UserID {
		logCtx.Warn("Version requested for a document owned by another user.")
		return nil, fmt.Errorf("%w: %s", apperr.ErrDocumentNotFound, req.DocumentID)
	}

	length, err := f.billableLength(ctx, doc, req.ProcessingLevel)
	if err != nil {
		return nil, err
	}

	cost := 0
	var newBalance *int
	if req.ProcessingLevel != models.LevelOriginal || !strategies.SameLanguage(doc.Language, req.TargetLanguage) {
		cost = credits.Cost(length, req.ProcessingLevel, req.LectureDuration)
		res, err := f.ledger.Deduct(ctx, req.UserID, cost)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			logCtx.Info("Insufficient credits for version.", "creditsNeeded", cost, "creditsAvailable", res.Available)
			return nil, &apperr.InsufficientCreditsError{Needed: cost, Available: res.Available}
		}
		newBalance = &res.NewBalance
	}

	v := &models.DocumentVersion{
		ID:                 f.newID(),
		DocumentID:         doc.ID,
		UserID:             req.UserID,
		Name:               req.VersionName,
		Language:           req.TargetLanguage,
		ProcessingLevel:    req.ProcessingLevel,
		CreditsCharged:     cost,
		SourceLength:       length,
		Status:             models.StatusPending,
		ProcessingProgress: 0,
		CreatedAt:          f.now(),
	}
	if req.ProcessingLevel == models.LevelLecture {
		v.LectureDuration = credits.Tier(req.LectureDuration).Name
	}
	logCtx = logCtx.With("versionId", v.ID)

	if err := f.versions.CreateVersion(ctx, v); err != nil {
		f.refund(ctx, logCtx, v, "record creation failed")
		return nil, fmt.Errorf("create version record: %w", err)
	}
	if err := f.dispatcher.Dispatch(ctx, v.ID); err != nil {
		f.rollback(ctx, logCtx, v, "dispatch failed")
		return nil, fmt.Errorf("dispatch version %s: %w", v.ID, err)
	}

	logCtx.Info("Version created.", "creditsCharged", cost)
	return &models.CreateVersionResponse{
		VersionID:        v.ID,
		Status:           models.StatusPending,
		NewCreditBalance: newBalance,
	}, nil
}

// billableLength is the character count a version is charged for: the
// processed text for level 0, the extracted text otherwise.
func (f *VersionGeneratorFunction) billableLength(ctx context.Context, doc *models.Document, level int) (int, error) {
	if level == models.LevelOriginal && doc.ProcessedText != nil && len(doc.ProcessedText.Sections) > 0 {
		n := 0
		for _, s := range doc.ProcessedText.Sections {
			n += utf8.RuneCountInString(s.Title)
			for _, t := range s.Content {
				n += utf8.RuneCountInString(t.Text)
			}
		}
		return n, nil
	}
	text, err := f.sourceText(ctx, doc)
	if err != nil {
		return 0, err
	}
	return utf8.RuneCountInString(text), nil
}

// sourceText returns the document's extracted text, reading it from Cloud
// Storage when it is not stored inline.
func (f *VersionGeneratorFunction) sourceText(ctx context.Context, doc *models.Document) (string, error) {
	if doc.ExtractedText != "" || doc.TextGCSUri == "" {
		return doc.ExtractedText, nil
	}
	if f.storageClient == nil {
		return "", fmt.Errorf("document %s text is in %s but no storage client is configured", doc.ID, doc.TextGCSUri)
	}
	return gcp.ReadGCSObject(ctx, f.storageClient, doc.TextGCSUri)
}

// Run is the background task of one version. Concurrent runs of the same
// version in this process share a single execution; across processes only
// the run that moves the version out of pending does any work. Any failure
// of that run deletes the record and refunds the charged credits.
func (f *VersionGeneratorFunction) Run(ctx context.Context, req models.RunVersionRequest) (*models.RunVersionResponse, error) {
	if req.VersionID == "" {
		return nil, fmt.Errorf("%w: versionId is required", apperr.ErrVersionNotFound)
	}
	status, err, shared := f.tasks.Do(req.VersionID, func() (any, error) {
		return f.run(ctx, req)
	})
	if shared {
		slog.Info("Joined an in-flight version task.", "versionId", req.VersionID)
	}
	if err != nil {
		return nil, err
	}
	return &models.RunVersionResponse{Status: status.(string), VersionID: req.VersionID}, nil
}

func (f *VersionGeneratorFunction) run(ctx context.Context, req models.RunVersionRequest) (status string, err error) {
	logCtx := slog.With("versionId", req.VersionID, "executionId", req.ExecutionID)

	v, err := f.versions.GetVersion(ctx, req.VersionID)
	if err != nil {
		logCtx.Error("Failed to load version.", "error", err)
		return "", err
	}
	if v.Status != models.StatusPending {
		logCtx.Info("Version is not pending; nothing to do.", "status", v.Status)
		return v.Status, nil
	}
	logCtx = logCtx.With("documentId", v.DocumentID, "processingLevel", v.ProcessingLevel)
	tracker := newProgressTracker(f.versions, f.publisher, f.eventSource, v, logCtx)

	if err := f.versions.MarkProcessing(ctx, v.ID, progressStarted); err != nil {
		switch {
		case errors.Is(err, apperr.ErrVersionClaimed):
			logCtx.Info("Version claimed by another task; nothing to do.", "error", err)
			return f.currentStatus(ctx, v.ID), nil
		case errors.Is(err, apperr.ErrVersionNotFound):
			logCtx.Info("Version removed before it could be claimed.")
			return "", err
		}
		err = fmt.Errorf("mark version processing: %w", err)
		logCtx.Error("Failed to claim version; rolling back.", "error", err)
		if f.rollback(ctx, logCtx, v, err.Error()) {
			tracker.failed(context.WithoutCancel(ctx), err)
		}
		return "", err
	}

	start := time.Now()

	// From here on this task owns the version.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("version task panicked: %v", r)
			logCtx.Error("Recovered from panic in version task.", "panic", r, "stack", string(debug.Stack()))
		}
		if err != nil {
			status = ""
			logCtx.Error("Version generation failed; rolling back.", "error", err, "creditsCharged", v.CreditsCharged)
			if f.rollback(ctx, logCtx, v, err.Error()) {
				tracker.failed(context.WithoutCancel(ctx), err)
			}
		}
	}()

	tracker.started(ctx)
	logCtx.Info("Version processing started.")

	doc, err := f.documents.GetDocument(ctx, v.DocumentID)
	if err != nil {
		return "", fmt.Errorf("load document: %w", err)
	}
	source, err := f.sourceText(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("load document text: %w", err)
	}
	if v.ProcessingLevel != models.LevelOriginal && strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("document %s has no extracted text", doc.ID)
	}

	strategy, err := f.strategies.For(v.ProcessingLevel)
	if err != nil {
		return "", err
	}
	res, err := strategy.Process(ctx, &strategies.Job{
		Version:        v,
		Document:       doc,
		SourceText:     source,
		TargetLanguage: v.Language,
		Sink:           tracker,
	})
	if err != nil {
		return "", fmt.Errorf("%s strategy: %w", strategy.Name(), err)
	}

	converted := blocks.Convert(v.ID, res.Content)
	if len(converted) == 0 {
		return "", fmt.Errorf("%w: %s strategy produced no content", apperr.ErrMalformedStructuredOutput, strategy.Name())
	}
	f.archive(ctx, logCtx, v, res.Content)

	metadata := make(map[string]any, len(res.Metadata)+2)
	for k, val := range res.Metadata {
		metadata[k] = val
	}
	metadata["blockCount"] = len(converted)
	metadata["durationMs"] = time.Since(start).Milliseconds()

	if err := f.versions.CompleteVersion(ctx, v.ID, converted, metadata); err != nil {
		return "", fmt.Errorf("complete version: %w", err)
	}
	tracker.completed(ctx, metadata)
	logCtx.Info("Version completed.", "blocks", len(converted), "durationMs", metadata["durationMs"])
	return models.StatusCompleted, nil
}

// archive stores the final content as JSON in the archive bucket. It is an
// auxiliary copy, so failures are logged and do not fail the version.
func (f *VersionGeneratorFunction) archive(ctx context.Context, logCtx *slog.Logger, v *models.DocumentVersion, content models.ProcessedText) {
	if f.storageClient == nil || f.archiveBucket == "" {
		return
	}
	raw, err := json.Marshal(content)
	if err != nil {
		logCtx.Warn("Failed to encode content for archive.", "error", err)
		return
	}
	objectName := fmt.Sprintf("%s/%s.json", v.DocumentID, v.ID)
	if err := gcp.SaveToGCSAtomically(ctx, f.storageClient.Bucket(f.archiveBucket), objectName, string(raw)); err != nil {
		logCtx.Warn("Failed to archive version content.", "object", objectName, "error", err)
	}
}

// refund gives back the credits charged for v. It runs on a context detached
// from cancellation so a cancelled task still compensates.
func (f *VersionGeneratorFunction) refund(ctx context.Context, logCtx *slog.Logger, v *models.DocumentVersion, reason string) {
	if v.CreditsCharged <= 0 {
		return
	}
	balance, err := f.ledger.Refund(context.WithoutCancel(ctx), v.UserID, v.CreditsCharged)
	if err != nil {
		logCtx.Error("CRITICAL: Failed to refund credits.", "userId", v.UserID, "amount", v.CreditsCharged, "reason", reason, "error", err)
		return
	}
	logCtx.Info("Credits refunded.", "amount", v.CreditsCharged, "newBalance", balance, "reason", reason)
}

// rollback deletes v and then refunds its charge. Only the caller whose
// delete removed the record refunds, so a version is refunded at most once
// however many tasks fail on it. It reports whether the refund was issued.
func (f *VersionGeneratorFunction) rollback(ctx context.Context, logCtx *slog.Logger, v *models.DocumentVersion, reason string) bool {
	err := f.versions.DeleteVersion(context.WithoutCancel(ctx), v.ID)
	switch {
	case errors.Is(err, apperr.ErrVersionNotFound):
		logCtx.Warn("Version already removed; skipping refund.", "reason", reason)
		return false
	case err != nil:
		logCtx.Error("CRITICAL: Failed to delete failed version.", "error", err)
	}
	f.refund(ctx, logCtx, v, reason)
	return true
}

func (f *VersionGeneratorFunction) currentStatus(ctx context.Context, id string) string {
	v, err := f.versions.GetVersion(ctx, id)
	if err != nil {
		return models.StatusProcessing
	}
	return v.Status
}
