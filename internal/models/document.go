package models

import "time"

// Version lifecycle statuses. A failed version is deleted, never marked.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Processing levels.
const (
	LevelOriginal       = 0
	LevelNatural        = 1
	LevelLecture        = 2
	LevelConversational = 3
)

// Document is the source a version is generated from. Text extraction and
// upload happen upstream; the pipeline only reads these fields.
type Document struct {
	ID            string         `firestore:"-" json:"id"`
	OwnerID       string         `firestore:"ownerId" json:"ownerId"`
	Title         string         `firestore:"title,omitempty" json:"title,omitempty"`
	Language      string         `firestore:"language,omitempty" json:"language,omitempty"`
	ExtractedText string         `firestore:"extractedText,omitempty" json:"extractedText,omitempty"`
	TextGCSUri    string         `firestore:"textGcsUri,omitempty" json:"textGcsUri,omitempty"`
	ProcessedText *ProcessedText `firestore:"processedText,omitempty" json:"processedText,omitempty"`
	CreatedAt     time.Time      `firestore:"createdAt,omitempty" json:"createdAt,omitempty"`
}

// DocumentVersion is the persisted record of one generated rendition of a
// document. Only the background task for the same ID mutates it.
type DocumentVersion struct {
	ID              string `firestore:"-" json:"id"`
	DocumentID      string `firestore:"documentId" json:"documentId"`
	UserID          string `firestore:"userId" json:"userId"`
	Name            string `firestore:"name,omitempty" json:"name,omitempty"`
	Language        string `firestore:"language,omitempty" json:"language,omitempty"`
	ProcessingLevel int    `firestore:"processingLevel" json:"processingLevel"`
	LectureDuration string `firestore:"lectureDuration,omitempty" json:"lectureDuration,omitempty"`
	CreditsCharged  int    `firestore:"creditsCharged" json:"creditsCharged"`
	SourceLength    int    `firestore:"sourceLength" json:"sourceLength"`

	Status             string         `firestore:"status" json:"status"`
	StreamingText      string         `firestore:"streaming_text" json:"streamingText"`
	ProcessingProgress int            `firestore:"processing_progress" json:"processingProgress"`
	ProcessingMetadata map[string]any `firestore:"processing_metadata,omitempty" json:"processingMetadata,omitempty"`
	Blocks             []Block        `firestore:"blocks,omitempty" json:"blocks,omitempty"`

	CreatedAt   time.Time `firestore:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt   time.Time `firestore:"updatedAt,omitempty" json:"updatedAt,omitempty"`
	CompletedAt time.Time `firestore:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// ProgressUpdate is one snapshot written while a version is processing.
// A nil StreamingText leaves the stored text untouched.
type ProgressUpdate struct {
	StreamingText *string
	Progress      int
	Metadata      map[string]any
}
