package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/zombor/snapread/internal/doctype"
)

// sqlTimeLayout is fixed width so text ordering matches time ordering
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	image_uri  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

CREATE TABLE IF NOT EXISTS summaries (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	text        TEXT NOT NULL DEFAULT '',
	keywords    TEXT NOT NULL DEFAULT '[]',
	quotes      TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_summaries_document_id ON summaries(document_id);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	upsertDocumentSQL = `
		INSERT INTO documents (id, title, image_uri, created_at, type, tags)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			image_uri  = excluded.image_uri,
			created_at = excluded.created_at,
			type       = excluded.type,
			tags       = excluded.tags`

	upsertSummarySQL = `
		INSERT INTO summaries (id, document_id, text, keywords, quotes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			text        = excluded.text,
			keywords    = excluded.keywords,
			quotes      = excluded.quotes,
			created_at  = excluded.created_at`

	selectDocumentsSQL = `SELECT id, title, image_uri, created_at, type, tags FROM documents`
	selectSummariesSQL = `SELECT id, document_id, text, keywords, quotes, created_at FROM summaries`
)

// SQLStore implements Store with relational tables in SQLite. Summaries
// reference documents with ON DELETE CASCADE; deletes also remove summaries
// explicitly so the cascade holds even with foreign keys disabled.
type SQLStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLStore creates a SQLStore for the database file at path. Call Init
// before use.
func NewSQLStore(path string) *SQLStore {
	return &SQLStore{path: path}
}

// Init opens the database and applies the schema
func (s *SQLStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return storeError("opening database", err)
	}
	// One connection keeps pragmas and transactions on the same handle
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return storeError("pinging database", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return storeError("applying schema", err)
	}

	s.db = db
	return nil
}

// conn returns the open database, holding the read lock until release is called
func (s *SQLStore) conn(op string) (*sql.DB, func(), error) {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, nil, storeError(op, ErrNotInitialized)
	}
	return s.db, s.mu.RUnlock, nil
}

// inTx runs fn in a transaction that is committed only if fn succeeds
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	db, release, err := s.conn(op)
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(op, fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return storeError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storeError(op, fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeList(items []string) (string, error) {
	data, err := json.Marshal(cloneList(items))
	if err != nil {
		return "", fmt.Errorf("marshaling list: %w", err)
	}
	return string(data), nil
}

func decodeList(text string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("unmarshaling list: %w", err)
	}
	return cloneList(items), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

func parseTime(text string) (time.Time, error) {
	t, err := time.Parse(sqlTimeLayout, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", text, err)
	}
	return t, nil
}

func upsertDocument(ctx context.Context, ex execer, doc *Document) error {
	tags, err := encodeList(doc.Tags)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, upsertDocumentSQL,
		doc.ID, doc.Title, doc.ImageURI, formatTime(doc.CreatedAt), string(doc.Type), tags)
	return err
}

func upsertSummary(ctx context.Context, ex execer, summary *Summary) error {
	keywords, err := encodeList(summary.Keywords)
	if err != nil {
		return err
	}
	quotes, err := encodeList(summary.Quotes)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, upsertSummarySQL,
		summary.ID, summary.DocumentID, summary.Text, keywords, quotes, formatTime(summary.CreatedAt))
	return err
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc       Document
		createdAt string
		docType   string
		tags      string
	)
	if err := row.Scan(&doc.ID, &doc.Title, &doc.ImageURI, &createdAt, &docType, &tags); err != nil {
		return nil, err
	}

	var err error
	if doc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if doc.Tags, err = decodeList(tags); err != nil {
		return nil, err
	}
	doc.Type = doctype.Type(docType)
	return &doc, nil
}

func scanSummary(row rowScanner) (*Summary, error) {
	var (
		summary   Summary
		keywords  string
		quotes    string
		createdAt string
	)
	if err := row.Scan(&summary.ID, &summary.DocumentID, &summary.Text, &keywords, &quotes, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if summary.Keywords, err = decodeList(keywords); err != nil {
		return nil, err
	}
	if summary.Quotes, err = decodeList(quotes); err != nil {
		return nil, err
	}
	if summary.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &summary, nil
}

func queryDocuments(ctx context.Context, q querier, query string, args ...any) ([]*Document, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func querySummaries(ctx context.Context, q querier, query string, args ...any) ([]*Summary, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]*Summary, 0)
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// SaveDocument upserts a document by ID without disturbing its summaries
func (s *SQLStore) SaveDocument(ctx context.Context, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return storeError("saving document", invalid(err))
	}
	db, release, err := s.conn("saving document")
	if err != nil {
		return err
	}
	defer release()

	if err := upsertDocument(ctx, db, doc); err != nil {
		return storeError("saving document", err)
	}
	return nil
}

// GetDocuments returns all documents, newest first
func (s *SQLStore) GetDocuments(ctx context.Context) ([]*Document, error) {
	db, release, err := s.conn("listing documents")
	if err != nil {
		return nil, err
	}
	defer release()

	docs, err := queryDocuments(ctx, db, selectDocumentsSQL+` ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, storeError("listing documents", err)
	}
	return docs, nil
}

// GetDocumentByID retrieves a document, or nil when it does not exist
func (s *SQLStore) GetDocumentByID(ctx context.Context, id string) (*Document, error) {
	db, release, err := s.conn("getting document")
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := scanDocument(db.QueryRowContext(ctx, selectDocumentsSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("getting document", err)
	}
	return doc, nil
}

// DeleteDocument removes a document and its summaries in one transaction
func (s *SQLStore) DeleteDocument(ctx context.Context, id string) error {
	return s.inTx(ctx, "deleting document", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE document_id = ?`, id); err != nil {
			return fmt.Errorf("deleting summaries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting document row: %w", err)
		}
		return nil
	})
}

// SaveSummary upserts a summary by ID; its document must exist
func (s *SQLStore) SaveSummary(ctx context.Context, summary *Summary) error {
	if err := summary.Validate(); err != nil {
		return storeError("saving summary", invalid(err))
	}
	return s.inTx(ctx, "saving summary", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, summary.DocumentID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrUnknownDocument, summary.DocumentID)
		}
		if err != nil {
			return fmt.Errorf("checking document: %w", err)
		}
		return upsertSummary(ctx, tx, summary)
	})
}

// GetSummaries returns all summaries, newest first
func (s *SQLStore) GetSummaries(ctx context.Context) ([]*Summary, error) {
	db, release, err := s.conn("listing summaries")
	if err != nil {
		return nil, err
	}
	defer release()

	summaries, err := querySummaries(ctx, db, selectSummariesSQL+` ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, storeError("listing summaries", err)
	}
	return summaries, nil
}

// GetSummaryByDocumentID returns the newest summary for a document, or nil
func (s *SQLStore) GetSummaryByDocumentID(ctx context.Context, documentID string) (*Summary, error) {
	db, release, err := s.conn("getting summary")
	if err != nil {
		return nil, err
	}
	defer release()

	summary, err := scanSummary(db.QueryRowContext(ctx,
		selectSummariesSQL+` WHERE document_id = ? ORDER BY created_at DESC, id ASC LIMIT 1`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("getting summary", err)
	}
	return summary, nil
}

// ClearAllData removes every summary and document
func (s *SQLStore) ClearAllData(ctx context.Context) error {
	return s.inTx(ctx, "clearing data", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM summaries`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM documents`)
		return err
	})
}

// ExportData reads both tables inside one transaction
func (s *SQLStore) ExportData(ctx context.Context) (*Export, error) {
	export := &Export{}
	err := s.inTx(ctx, "exporting data", func(tx *sql.Tx) error {
		var err error
		export.Documents, err = queryDocuments(ctx, tx, selectDocumentsSQL+` ORDER BY created_at DESC, id ASC`)
		if err != nil {
			return err
		}
		export.Summaries, err = querySummaries(ctx, tx, selectSummariesSQL+` ORDER BY created_at DESC, id ASC`)
		return err
	})
	if err != nil {
		return nil, err
	}
	return export, nil
}

// ImportData replaces both tables with the snapshot in one transaction
func (s *SQLStore) ImportData(ctx context.Context, data *Export) error {
	docs, summaries, err := prepareImport(data)
	if err != nil {
		return storeError("importing data", err)
	}
	return s.inTx(ctx, "importing data", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM summaries`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
			return err
		}
		for _, doc := range docs {
			if err := upsertDocument(ctx, tx, doc); err != nil {
				return fmt.Errorf("inserting document %s: %w", doc.ID, err)
			}
		}
		for _, summary := range summaries {
			if err := upsertSummary(ctx, tx, summary); err != nil {
				return fmt.Errorf("inserting summary %s: %w", summary.ID, err)
			}
		}
		return nil
	})
}

// GetSetting reads a value from the settings table
func (s *SQLStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	db, release, err := s.conn("reading setting")
	if err != nil {
		return "", false, err
	}
	defer release()

	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeError("reading setting", err)
	}
	return value, true, nil
}

// SetSetting upserts a value in the settings table
func (s *SQLStore) SetSetting(ctx context.Context, key, value string) error {
	db, release, err := s.conn("writing setting")
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return storeError("writing setting", err)
	}
	return nil
}

// Close closes the database; Init may be called again afterwards
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
