// Package essay plans outlines over indexed evidence, expands each paragraph
// independently against that evidence, and assembles the final text.
package essay

import (
	"strings"
	"time"
)

type Mode string

const (
	ModeGrounded Mode = "grounded"
	ModeMixed    Mode = "mixed"
	ModeTeach    Mode = "teach"
)

func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeGrounded:
		return ModeGrounded, true
	case ModeMixed:
		return ModeMixed, true
	case ModeTeach:
		return ModeTeach, true
	default:
		return "", false
	}
}

type ExpansionState string

const (
	StatePlanned   ExpansionState = "planned"
	StateExpanding ExpansionState = "expanding"
	StateExpanded  ExpansionState = "expanded"
	StateFailed    ExpansionState = "failed"
)

const (
	ReasonNotSupported = "not supported by provided materials"
	ReasonContradicts  = "contradicts provided materials"
)

type ChunkRef struct {
	Label       string `json:"label"`
	ExcerptText string `json:"excerptText"`
}

type UsedChunk struct {
	Label string `json:"label"`
	Page  *int   `json:"page,omitempty"`
}

// Citation binds a verbatim span of ExpandedText to a chunk label.
// Occurrence counts the earlier appearances of SpanText in the text, so a
// span that repeats is tied to the place the marker followed.
type Citation struct {
	SpanText    string `json:"spanText"`
	SourceLabel string `json:"sourceLabel"`
	Occurrence  int    `json:"occurrence,omitempty"`
}

type UnsupportedFlag struct {
	SentenceText string `json:"sentenceText"`
	Reason       string `json:"reason"`
	SourceLabel  string `json:"sourceLabel,omitempty"`
}

type Paragraph struct {
	Title              string            `json:"title"`
	IntendedChunks     []ChunkRef        `json:"intendedChunks"`
	SuggestedWordCount int               `json:"suggestedWordCount"`
	ExpansionState     ExpansionState    `json:"expansionState"`
	ExpandedText       string            `json:"expandedText,omitempty"`
	UsedChunks         []UsedChunk       `json:"usedChunks,omitempty"`
	Citations          []Citation        `json:"citations,omitempty"`
	UnsupportedFlags   []UnsupportedFlag `json:"unsupportedFlags,omitempty"`
	LastError          string            `json:"lastError,omitempty"`
	Attempts           int               `json:"attempts"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// PlanRequest is the caller's essay brief.
type PlanRequest struct {
	Prompt          string   `json:"prompt"`
	TargetWordCount int      `json:"targetWordCount"`
	AcademicLevel   string   `json:"academicLevel"`
	CitationStyle   string   `json:"citationStyle"`
	Mode            Mode     `json:"mode"`
	ChunkRefs       []string `json:"chunkRefs,omitempty"`
	Rubric          string   `json:"rubric,omitempty"`
}

// Outline is immutable after planning except for its paragraphs, which are
// written one index at a time.
type Outline struct {
	ID                  string      `json:"outlineId"`
	SessionID           string      `json:"sessionId"`
	OwnerID             string      `json:"ownerId,omitempty"`
	Thesis              string      `json:"thesis"`
	Paragraphs          []Paragraph `json:"paragraphs"`
	RetrievedChunkCount int         `json:"retrievedChunkCount"`
	Request             PlanRequest `json:"request"`
	CreatedAt           time.Time   `json:"createdAt"`
}

// ParagraphResult reports one paragraph of an expandAll run.
type ParagraphResult struct {
	Index     int       `json:"index"`
	Paragraph Paragraph `json:"paragraph"`
	Error     string    `json:"error,omitempty"`
	Err       error     `json:"-"`
}
