// Package document persists scanned documents and their generated summaries,
// and runs the capture flow that produces them.
package document

import (
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/zombor/snapread/internal/doctype"
)

// titleDateLayout formats the date in a synthesized title, e.g. "Oct 18, 2026"
const titleDateLayout = "Jan 2, 2006"

// Document is one scanned page and its metadata
type Document struct {
	ID        string       `json:"id"`
	Title     string       `json:"title,omitempty"`
	ImageURI  string       `json:"image_uri"`
	CreatedAt time.Time    `json:"created_at"`
	Type      doctype.Type `json:"type,omitempty"`
	Tags      []string     `json:"tags"`
}

// Summary is the generated analysis linked to a Document
type Summary struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Keywords   []string  `json:"keywords"`
	Quotes     []string  `json:"quotes"`
	CreatedAt  time.Time `json:"created_at"`
}

// Export is a point-in-time snapshot of every document and summary
type Export struct {
	Documents []*Document `json:"documents"`
	Summaries []*Summary  `json:"summaries"`
}

// DefaultTitle synthesizes the "{type} - {date}" label used when a document has no title
func DefaultTitle(t doctype.Type, at time.Time) string {
	if t == "" {
		t = doctype.Other
	}
	return fmt.Sprintf("%s - %s", t.Label(), at.Format(titleDateLayout))
}

// DisplayTitle returns the title, synthesizing one when it is absent
func (d *Document) DisplayTitle() string {
	if d.Title != "" {
		return d.Title
	}
	return DefaultTitle(d.Type, d.CreatedAt)
}

// DisplayType returns the type, defaulting to other when classification was skipped
func (d *Document) DisplayType() doctype.Type {
	if d.Type == "" {
		return doctype.Other
	}
	return d.Type
}

var typeRule = validation.In(doctype.Book, doctype.Magazine, doctype.Newspaper, doctype.Article, doctype.Other).
	Error("must be one of book, magazine, newspaper, article, other")

// utf8Rule rejects strings the JSON encoder would rewrite with U+FFFD
var utf8Rule = validation.By(func(value any) error {
	if s, ok := value.(string); ok && !utf8.ValidString(s) {
		return errors.New("must be valid UTF-8")
	}
	return nil
})

// Validate checks the invariants every stored document must satisfy
func (d *Document) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.ID, validation.Required, utf8Rule),
		validation.Field(&d.Title, utf8Rule),
		validation.Field(&d.ImageURI, validation.Required, utf8Rule),
		validation.Field(&d.CreatedAt, validation.Required),
		validation.Field(&d.Type, typeRule),
		validation.Field(&d.Tags, validation.Each(utf8Rule)),
	)
}

// Validate checks the invariants every stored summary must satisfy
func (s *Summary) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.ID, validation.Required, utf8Rule),
		validation.Field(&s.DocumentID, validation.Required, utf8Rule),
		validation.Field(&s.Text, utf8Rule),
		validation.Field(&s.CreatedAt, validation.Required),
		validation.Field(&s.Keywords, validation.Each(utf8Rule)),
		validation.Field(&s.Quotes, validation.Each(utf8Rule)),
	)
}

// normalized returns a copy in the canonical stored form: UTC timestamps
// and non-nil slices
func (d *Document) normalized() *Document {
	out := *d
	out.CreatedAt = d.CreatedAt.UTC()
	out.Tags = cloneList(d.Tags)
	return &out
}

func (s *Summary) normalized() *Summary {
	out := *s
	out.CreatedAt = s.CreatedAt.UTC()
	out.Keywords = cloneList(s.Keywords)
	out.Quotes = cloneList(s.Quotes)
	return &out
}

func cloneList(items []string) []string {
	if items == nil {
		return []string{}
	}
	return slices.Clone(items)
}
