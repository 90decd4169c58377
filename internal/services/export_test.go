package services

import (
	"log/slog"

	"github.com/Lllllllleong/docversions/internal/events"
	"github.com/Lllllllleong/docversions/internal/generator"
	"github.com/Lllllllleong/docversions/internal/models"
	"github.com/Lllllllleong/docversions/internal/store"
)

func NewProgressTracker(versions store.VersionStore, publisher events.Publisher, v *models.DocumentVersion) generator.ProgressSink {
	return newProgressTracker(versions, publisher, events.DefaultSource, v, slog.Default())
}
