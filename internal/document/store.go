package document

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zombor/snapread/internal/quota"
)

// Store persists documents, summaries and settings. Both strategies
// produce identical results for the same sequence of operations.
type Store interface {
	quota.Settings

	// Init prepares the underlying storage; it must be called before any
	// other operation and is safe to call again
	Init(ctx context.Context) error

	// SaveDocument inserts or entirely replaces the document with the same ID
	SaveDocument(ctx context.Context, doc *Document) error

	// GetDocuments returns every document, newest first
	GetDocuments(ctx context.Context) ([]*Document, error)

	// GetDocumentByID returns nil without error when the document is absent
	GetDocumentByID(ctx context.Context, id string) (*Document, error)

	// DeleteDocument removes a document and all of its summaries; unknown
	// IDs are a no-op
	DeleteDocument(ctx context.Context, id string) error

	// SaveSummary inserts or entirely replaces the summary with the same ID
	SaveSummary(ctx context.Context, summary *Summary) error

	// GetSummaries returns every summary, newest first
	GetSummaries(ctx context.Context) ([]*Summary, error)

	// GetSummaryByDocumentID returns the most recent summary for a document,
	// or nil without error when there is none
	GetSummaryByDocumentID(ctx context.Context, documentID string) (*Summary, error)

	// ClearAllData removes every document and summary; settings are kept
	ClearAllData(ctx context.Context) error

	// ExportData returns a consistent snapshot of all documents and summaries
	ExportData(ctx context.Context) (*Export, error)

	// ImportData atomically replaces all documents and summaries with a snapshot
	ImportData(ctx context.Context, data *Export) error

	// Close releases the underlying storage
	Close() error
}

// Backend names a Store strategy
type Backend string

const (
	// BackendBolt stores each collection as one serialized blob
	BackendBolt Backend = "bolt"
	// BackendSQLite stores records in relational tables
	BackendSQLite Backend = "sqlite"
)

// NewStore creates an uninitialized Store for the given strategy
func NewStore(backend Backend, path string) (Store, error) {
	switch backend {
	case BackendBolt:
		return NewBoltStore(path), nil
	case BackendSQLite:
		return NewSQLStore(path), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", backend)
	}
}

// newestFirst orders by creation time descending, breaking ties by ID
func newestFirst(a, b time.Time, aID, bID string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID < bID
}

func sortDocuments(docs []*Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return newestFirst(docs[i].CreatedAt, docs[j].CreatedAt, docs[i].ID, docs[j].ID)
	})
}

func sortSummaries(summaries []*Summary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return newestFirst(summaries[i].CreatedAt, summaries[j].CreatedAt, summaries[i].ID, summaries[j].ID)
	})
}

// prepareImport validates a snapshot and collapses duplicate IDs, later
// entries winning as repeated upserts would
func prepareImport(data *Export) ([]*Document, []*Summary, error) {
	if data == nil {
		return nil, nil, invalid(fmt.Errorf("snapshot is required"))
	}

	docs := make([]*Document, 0, len(data.Documents))
	docIndex := make(map[string]int)
	for _, doc := range data.Documents {
		if doc == nil {
			continue
		}
		if err := doc.Validate(); err != nil {
			return nil, nil, invalid(fmt.Errorf("document %q: %w", doc.ID, err))
		}
		if i, ok := docIndex[doc.ID]; ok {
			docs[i] = doc.normalized()
			continue
		}
		docIndex[doc.ID] = len(docs)
		docs = append(docs, doc.normalized())
	}

	summaries := make([]*Summary, 0, len(data.Summaries))
	summaryIndex := make(map[string]int)
	for _, summary := range data.Summaries {
		if summary == nil {
			continue
		}
		if err := summary.Validate(); err != nil {
			return nil, nil, invalid(fmt.Errorf("summary %q: %w", summary.ID, err))
		}
		if _, ok := docIndex[summary.DocumentID]; !ok {
			return nil, nil, fmt.Errorf("summary %q: %w: %s", summary.ID, ErrUnknownDocument, summary.DocumentID)
		}
		if i, ok := summaryIndex[summary.ID]; ok {
			summaries[i] = summary.normalized()
			continue
		}
		summaryIndex[summary.ID] = len(summaries)
		summaries = append(summaries, summary.normalized())
	}

	return docs, summaries, nil
}
