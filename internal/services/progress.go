package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/docversions/internal/events"
	"github.com/Lllllllleong/docversions/internal/generator"
	"github.com/Lllllllleong/docversions/internal/models"
	"github.com/Lllllllleong/docversions/internal/store"
)

// Progress values owned by the orchestrator.
const (
	progressStarted   = 5
	progressCompleted = 100
	// progressCeiling keeps snapshots below completion so 100 is only ever
	// written together with the blocks.
	progressCeiling = 99
)

// Compile-time interface compliance check.
var _ generator.ProgressSink = (*progressTracker)(nil)

// progressTracker is the single writer of one version's progress fields. It
// never lets the stored progress go backwards and mirrors every write to the
// event publisher.
type progressTracker struct {
	versions  store.VersionStore
	publisher events.Publisher
	source    string
	version   *models.DocumentVersion
	logCtx    *slog.Logger

	mu       sync.Mutex
	progress int
}

func newProgressTracker(versions store.VersionStore, publisher events.Publisher, source string, v *models.DocumentVersion, logCtx *slog.Logger) *progressTracker {
	return &progressTracker{
		versions:  versions,
		publisher: publisher,
		source:    source,
		version:   v,
		logCtx:    logCtx,
	}
}

// Progress implements generator.ProgressSink. Snapshots are best effort: a
// failed write is logged and generation continues.
func (t *progressTracker) Progress(ctx context.Context, u models.ProgressUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u.Progress = max(min(u.Progress, progressCeiling), t.progress)
	t.progress = u.Progress

	if err := t.versions.UpdateProgress(ctx, t.version.ID, u); err != nil {
		t.logCtx.Warn("Failed to persist progress snapshot.", "progress", u.Progress, "error", err)
	}
	t.publish(ctx, events.TypeProgress, events.Progress{
		Status:        models.StatusProcessing,
		Progress:      u.Progress,
		StreamingText: u.StreamingText,
		Metadata:      u.Metadata,
	})
}

// started records the processing transition that was just persisted.
func (t *progressTracker) started(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = progressStarted
	t.publish(ctx, events.TypeProgress, events.Progress{Status: models.StatusProcessing, Progress: progressStarted})
}

func (t *progressTracker) completed(ctx context.Context, metadata map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = progressCompleted
	t.publish(ctx, events.TypeCompleted, events.Progress{Status: models.StatusCompleted, Progress: progressCompleted, Metadata: metadata})
}

func (t *progressTracker) failed(ctx context.Context, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publish(ctx, events.TypeFailed, events.Progress{Status: "deleted", Progress: t.progress, Error: cause.Error()})
}

func (t *progressTracker) publish(ctx context.Context, eventType string, data events.Progress) {
	data.VersionID = t.version.ID
	data.DocumentID = t.version.DocumentID
	e, err := events.New(t.source, eventType, data)
	if err != nil {
		t.logCtx.Warn("Failed to build progress event.", "error", err)
		return
	}
	if err := t.publisher.Publish(ctx, e); err != nil {
		t.logCtx.Warn("Failed to publish progress event.", "type", eventType, "error", err)
	}
}
