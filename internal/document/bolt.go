package document

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	dataBucketName     = "snapread"
	settingsBucketName = "settings"
	documentsKey       = "documents"
	summariesKey       = "summaries"
)

// BoltStore implements Store by serializing each collection as a single JSON
// blob in BoltDB. Every write rewrites the whole blob inside one update
// transaction, so BoltDB's single writer lock serializes read-modify-write
// cycles.
type BoltStore struct {
	path string

	mu sync.RWMutex
	db *bbolt.DB
}

// NewBoltStore creates a BoltStore for the database file at path. Call Init
// before use.
func NewBoltStore(path string) *BoltStore {
	return &BoltStore{path: path}
}

// Init opens the database file and creates buckets if they don't exist
func (b *BoltStore) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}

	db, err := bbolt.Open(b.path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return storeError("opening boltdb", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(dataBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(settingsBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return storeError("creating buckets", err)
	}

	b.db = db
	return nil
}

// view runs fn in a read transaction, guarding against use before Init
func (b *BoltStore) view(ctx context.Context, op string, fn func(tx *bbolt.Tx) error) error {
	return b.run(ctx, op, false, fn)
}

// update runs fn in the single write transaction
func (b *BoltStore) update(ctx context.Context, op string, fn func(tx *bbolt.Tx) error) error {
	return b.run(ctx, op, true, fn)
}

func (b *BoltStore) run(ctx context.Context, op string, writable bool, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return storeError(op, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return storeError(op, ErrNotInitialized)
	}

	var err error
	if writable {
		err = b.db.Update(fn)
	} else {
		err = b.db.View(fn)
	}
	if err != nil {
		return storeError(op, err)
	}
	return nil
}

// readBlob decodes the collection stored under key, empty when absent
func readBlob[T any](tx *bbolt.Tx, key string) ([]*T, error) {
	items := make([]*T, 0)
	data := tx.Bucket([]byte(dataBucketName)).Get([]byte(key))
	if data == nil {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return items, nil
}

// writeBlob replaces the collection stored under key
func writeBlob[T any](tx *bbolt.Tx, key string, items []*T) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return tx.Bucket([]byte(dataBucketName)).Put([]byte(key), data)
}

// SaveDocument upserts a document by ID
func (b *BoltStore) SaveDocument(ctx context.Context, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return storeError("saving document", invalid(err))
	}
	doc = doc.normalized()

	return b.update(ctx, "saving document", func(tx *bbolt.Tx) error {
		docs, err := readBlob[Document](tx, documentsKey)
		if err != nil {
			return err
		}
		replaced := false
		for i, existing := range docs {
			if existing.ID == doc.ID {
				docs[i] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			docs = append(docs, doc)
		}
		return writeBlob(tx, documentsKey, docs)
	})
}

// GetDocuments returns all documents, newest first
func (b *BoltStore) GetDocuments(ctx context.Context) ([]*Document, error) {
	var docs []*Document
	err := b.view(ctx, "listing documents", func(tx *bbolt.Tx) error {
		var err error
		docs, err = readBlob[Document](tx, documentsKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, doc := range docs {
		docs[i] = doc.normalized()
	}
	sortDocuments(docs)
	return docs, nil
}

// GetDocumentByID retrieves a document, or nil when it does not exist
func (b *BoltStore) GetDocumentByID(ctx context.Context, id string) (*Document, error) {
	var found *Document
	err := b.view(ctx, "getting document", func(tx *bbolt.Tx) error {
		docs, err := readBlob[Document](tx, documentsKey)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if doc.ID == id {
				found = doc.normalized()
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// DeleteDocument removes a document and its summaries in one transaction
func (b *BoltStore) DeleteDocument(ctx context.Context, id string) error {
	return b.update(ctx, "deleting document", func(tx *bbolt.Tx) error {
		docs, err := readBlob[Document](tx, documentsKey)
		if err != nil {
			return err
		}
		keptDocs := docs[:0]
		for _, doc := range docs {
			if doc.ID != id {
				keptDocs = append(keptDocs, doc)
			}
		}

		summaries, err := readBlob[Summary](tx, summariesKey)
		if err != nil {
			return err
		}
		keptSummaries := summaries[:0]
		for _, summary := range summaries {
			if summary.DocumentID != id {
				keptSummaries = append(keptSummaries, summary)
			}
		}

		if len(keptDocs) == len(docs) && len(keptSummaries) == len(summaries) {
			return nil
		}
		if err := writeBlob(tx, documentsKey, keptDocs); err != nil {
			return err
		}
		return writeBlob(tx, summariesKey, keptSummaries)
	})
}

// SaveSummary upserts a summary by ID; its document must exist
func (b *BoltStore) SaveSummary(ctx context.Context, summary *Summary) error {
	if err := summary.Validate(); err != nil {
		return storeError("saving summary", invalid(err))
	}
	summary = summary.normalized()

	return b.update(ctx, "saving summary", func(tx *bbolt.Tx) error {
		docs, err := readBlob[Document](tx, documentsKey)
		if err != nil {
			return err
		}
		if !containsDocument(docs, summary.DocumentID) {
			return fmt.Errorf("%w: %s", ErrUnknownDocument, summary.DocumentID)
		}

		summaries, err := readBlob[Summary](tx, summariesKey)
		if err != nil {
			return err
		}
		replaced := false
		for i, existing := range summaries {
			if existing.ID == summary.ID {
				summaries[i] = summary
				replaced = true
				break
			}
		}
		if !replaced {
			summaries = append(summaries, summary)
		}
		return writeBlob(tx, summariesKey, summaries)
	})
}

func containsDocument(docs []*Document, id string) bool {
	for _, doc := range docs {
		if doc.ID == id {
			return true
		}
	}
	return false
}

// GetSummaries returns all summaries, newest first
func (b *BoltStore) GetSummaries(ctx context.Context) ([]*Summary, error) {
	var summaries []*Summary
	err := b.view(ctx, "listing summaries", func(tx *bbolt.Tx) error {
		var err error
		summaries, err = readBlob[Summary](tx, summariesKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, summary := range summaries {
		summaries[i] = summary.normalized()
	}
	sortSummaries(summaries)
	return summaries, nil
}

// GetSummaryByDocumentID returns the newest summary for a document, or nil
func (b *BoltStore) GetSummaryByDocumentID(ctx context.Context, documentID string) (*Summary, error) {
	summaries, err := b.GetSummaries(ctx)
	if err != nil {
		return nil, err
	}
	for _, summary := range summaries {
		if summary.DocumentID == documentID {
			return summary, nil
		}
	}
	return nil, nil
}

// ClearAllData removes both collections
func (b *BoltStore) ClearAllData(ctx context.Context) error {
	return b.update(ctx, "clearing data", func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dataBucketName))
		if err := bucket.Delete([]byte(documentsKey)); err != nil {
			return err
		}
		return bucket.Delete([]byte(summariesKey))
	})
}

// ExportData reads both collections in a single read transaction
func (b *BoltStore) ExportData(ctx context.Context) (*Export, error) {
	export := &Export{}
	err := b.view(ctx, "exporting data", func(tx *bbolt.Tx) error {
		var err error
		if export.Documents, err = readBlob[Document](tx, documentsKey); err != nil {
			return err
		}
		export.Summaries, err = readBlob[Summary](tx, summariesKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, doc := range export.Documents {
		export.Documents[i] = doc.normalized()
	}
	for i, summary := range export.Summaries {
		export.Summaries[i] = summary.normalized()
	}
	sortDocuments(export.Documents)
	sortSummaries(export.Summaries)
	return export, nil
}

// ImportData replaces both collections with the snapshot
func (b *BoltStore) ImportData(ctx context.Context, data *Export) error {
	docs, summaries, err := prepareImport(data)
	if err != nil {
		return storeError("importing data", err)
	}
	return b.update(ctx, "importing data", func(tx *bbolt.Tx) error {
		if err := writeBlob(tx, documentsKey, docs); err != nil {
			return err
		}
		return writeBlob(tx, summariesKey, summaries)
	})
}

// GetSetting reads a value from the settings bucket
func (b *BoltStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.view(ctx, "reading setting", func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(settingsBucketName)).Get([]byte(key)); data != nil {
			value, found = string(data), true
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// SetSetting writes a value to the settings bucket
func (b *BoltStore) SetSetting(ctx context.Context, key, value string) error {
	return b.update(ctx, "writing setting", func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucketName)).Put([]byte(key), []byte(value))
	})
}

// Close closes the database; Init may be called again afterwards
func (b *BoltStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
