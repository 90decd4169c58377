package models

// ProcessedText is the output shape every strategy produces.
type ProcessedText struct {
	Sections []Section `firestore:"sections" json:"sections"`
}

// Section is a titled unit of narrated content.
type Section struct {
	Title   string       `firestore:"title" json:"title"`
	Content []SpeechTurn `firestore:"content" json:"content"`
}

// SpeechTurn is one attributed span of text.
type SpeechTurn struct {
	Text     string `firestore:"text" json:"text"`
	ReaderID string `firestore:"readerId" json:"readerId"`
}

// IdentifiedSection is a top-level section located by the identification
// call. StartMarker holds the literal first words of the body, without the title.
type IdentifiedSection struct {
	Title       string `json:"title"`
	StartMarker string `json:"startMarker"`
	Order       int    `json:"order"`
}

// Block types produced by block conversion.
const (
	BlockHeading   = "heading"
	BlockParagraph = "paragraph"
)

// Block is a renderable unit stored on a completed version.
type Block struct {
	ID           string `firestore:"id" json:"id"`
	Type         string `firestore:"type" json:"type"`
	Text         string `firestore:"text" json:"text"`
	ReaderID     string `firestore:"readerId,omitempty" json:"readerId,omitempty"`
	SectionIndex int    `firestore:"sectionIndex" json:"sectionIndex"`
}

// TurnCount returns the number of speech turns across all sections.
func (p ProcessedText) TurnCount() int {
	n := 0
	for _, s := range p.Sections {
		n += len(s.Content)
	}
	return n
}
