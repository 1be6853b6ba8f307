package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/zombor/snapread/internal/doctype"
)

// SampleText is what the mock OCR stage returns unless overridden
const SampleText = "This is a sample extracted text that would normally come from OCR. The content would vary based on the actual image captured. In a real implementation, this would use a proper OCR service to extract text from the provided image."

// cannedResponses are the mock analyses, one per document type
var cannedResponses = map[doctype.Type]Result{
	doctype.Book: {
		Summary:  "This section of the book explores the character's journey through adversity, highlighting themes of resilience and self-discovery. The narrative follows a non-linear structure, jumping between past and present to reveal key motivations.",
		Keywords: []string{"character development", "resilience", "narrative structure", "self-discovery", "internal conflict"},
		Quotes: []string{
			"It was not the destination that mattered, but how the journey transformed him.",
			"In the silence between words, she found the truth she had been seeking.",
			"The past is never dead. It's not even past.",
		},
	},
	doctype.Magazine: {
		Summary:  "The article discusses emerging trends in sustainable technology, focusing on innovations in renewable energy and eco-friendly manufacturing. It highlights companies pioneering these solutions and the economic impact of green initiatives.",
		Keywords: []string{"sustainability", "renewable energy", "eco-friendly", "innovation", "green technology"},
		Quotes: []string{
			"Sustainability is no longer optional but essential for business survival.",
			"The future of manufacturing lies in zero-waste processes.",
			"Green technology represents the largest economic opportunity of the 21st century.",
		},
	},
	doctype.Newspaper: {
		Summary:  "The news report covers recent developments in international relations, focusing on diplomatic talks between major powers. It analyzes potential outcomes and implications for global stability and trade relationships.",
		Keywords: []string{"international relations", "diplomacy", "global politics", "trade", "negotiations"},
		Quotes: []string{
			"This diplomatic breakthrough represents a fundamental shift in relations.",
			"Analysts suggest this could reshape the geopolitical landscape.",
			"Sources close to the negotiations described the talks as 'tense but productive'.",
		},
	},
	doctype.Article: {
		Summary:  "The research article examines the correlation between sleep patterns and cognitive performance in adults. It presents findings from a longitudinal study showing that consistent sleep schedules significantly improve memory and problem-solving abilities.",
		Keywords: []string{"sleep patterns", "cognitive performance", "research", "memory", "neuroscience"},
		Quotes: []string{
			"The data suggests a 42% improvement in recall tasks after sleep schedule normalization.",
			"Consistent sleep may be the single most undervalued cognitive enhancer.",
			"The research challenges previous assumptions about adult sleep requirements.",
		},
	},
	doctype.Other: {
		Summary:  "This content presents information on various topics including historical events, personal reflections, and analytical observations. It combines factual information with interpretive elements.",
		Keywords: []string{"information", "analysis", "reflection", "observation", "documentation"},
		Quotes: []string{
			"The intersection of multiple perspectives reveals a more complete picture.",
			"Understanding requires both observation and reflection.",
			"Documentation serves as the foundation for future understanding.",
		},
	},
}

// MockOptions configures the simulated latency and OCR output of Mock
type MockOptions struct {
	ExtractDelay time.Duration
	AnalyzeDelay time.Duration
	// Text replaces SampleText as the OCR output when set
	Text string
}

// Mock implements Gateway with canned responses chosen by classifying the text
type Mock struct {
	opts MockOptions
}

// NewMock creates a Mock gateway
func NewMock(opts MockOptions) *Mock {
	if opts.Text == "" {
		opts.Text = SampleText
	}
	return &Mock{opts: opts}
}

// wait pauses for d unless ctx is cancelled first
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExtractText returns the configured sample text after the extract delay
func (m *Mock) ExtractText(ctx context.Context, imageRef string) (string, error) {
	if imageRef == "" {
		return "", fmt.Errorf("image reference is required")
	}
	if err := wait(ctx, m.opts.ExtractDelay); err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	return m.opts.Text, nil
}

// Analyze classifies the text and returns the canned analysis for its type
func (m *Mock) Analyze(ctx context.Context, text string) (*Result, error) {
	if err := wait(ctx, m.opts.AnalyzeDelay); err != nil {
		return nil, fmt.Errorf("analyzing text: %w", err)
	}

	documentType := doctype.Classify(text)
	canned := cannedResponses[documentType]
	return &Result{
		Summary:      canned.Summary,
		Keywords:     slices.Clone(canned.Keywords),
		Quotes:       slices.Clone(canned.Quotes),
		DocumentType: documentType,
	}, nil
}

// RecordFeedback logs the feedback; a real model would adjust itself here
func (m *Mock) RecordFeedback(ctx context.Context, documentID string, feedback Feedback, customTags []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("Recorded summary feedback",
		"document_id", documentID,
		"feedback", feedback,
		"custom_tags", customTags,
	)
	return nil
}

// Close is a no-op for the mock
func (m *Mock) Close() error {
	return nil
}
