// Package events publishes version progress as CloudEvents so clients can
// follow a version without polling its record.
package events

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event types.
const (
	TypeProgress  = "com.docversions.version.progress"
	TypeCompleted = "com.docversions.version.completed"
	TypeFailed    = "com.docversions.version.failed"
)

// DefaultSource is the CloudEvents source attribute of pipeline events.
const DefaultSource = "//docversions/versions"

// Progress is the data of every version event.
type Progress struct {
	VersionID     string         `json:"versionId"`
	DocumentID    string         `json:"documentId,omitempty"`
	Status        string         `json:"status"`
	Progress      int            `json:"progress"`
	StreamingText *string        `json:"streamingText,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Publisher delivers events to subscribers. Publishing is best effort: the
// version record stays the source of truth.
type Publisher interface {
	Publish(ctx context.Context, e cloudevents.Event) error
}

// New builds an event of eventType about data.VersionID.
func New(source, eventType string, data Progress) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(source)
	e.SetType(eventType)
	e.SetSubject(data.VersionID)
	e.SetTime(time.Now().UTC())
	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, fmt.Errorf("set event data: %w", err)
	}
	if err := e.Validate(); err != nil {
		return e, fmt.Errorf("invalid event: %w", err)
	}
	return e, nil
}

// Decode extracts the Progress data of e.
func Decode(e cloudevents.Event) (Progress, error) {
	var p Progress
	if err := e.DataAs(&p); err != nil {
		return Progress{}, fmt.Errorf("decode %s event %s: %w", e.Type(), e.ID(), err)
	}
	return p, nil
}

// Noop discards every event.
var Noop Publisher = noop{}

type noop struct{}

func (noop) Publish(context.Context, cloudevents.Event) error { return nil }
