// Package analysis turns a captured page image into extracted text and a
// structured summary. Implementations range from a canned mock to hosted
// vision models; callers retry failed calls themselves.
package analysis

import (
	"context"
	"errors"

	"github.com/zombor/snapread/internal/doctype"
)

// Result is the fully populated analysis of one scanned page
type Result struct {
	Summary      string       `json:"summary"`
	Keywords     []string     `json:"keywords"`
	Quotes       []string     `json:"quotes"`
	DocumentType doctype.Type `json:"document_type"`
}

// errEmptyText is returned when there is nothing to summarize
var errEmptyText = errors.New("no text to analyze")

// Gateway defines the two-stage OCR and summarization pipeline
type Gateway interface {
	// ExtractText reads the text out of the image stored at imageRef
	ExtractText(ctx context.Context, imageRef string) (string, error)

	// Analyze summarizes extracted text, classifying it when the model
	// does not supply a document type
	Analyze(ctx context.Context, text string) (*Result, error)

	// Close releases any client resources
	Close() error
}

// Feedback is a user's verdict on a generated summary
type Feedback string

const (
	FeedbackLike    Feedback = "like"
	FeedbackDislike Feedback = "dislike"
)

// Valid reports whether f is a known verdict
func (f Feedback) Valid() bool {
	return f == FeedbackLike || f == FeedbackDislike
}

// Learner is implemented by gateways that can learn from user feedback
type Learner interface {
	RecordFeedback(ctx context.Context, documentID string, feedback Feedback, customTags []string) error
}

// ImageSource loads captured image bytes by the reference stored on a document
type ImageSource interface {
	Get(path string) ([]byte, error)
}
