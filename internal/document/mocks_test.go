package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zombor/snapread/internal/analysis"
)

// mockStore is an in-memory Store with injectable failures
type mockStore struct {
	mu        sync.Mutex
	documents map[string]*Document
	summaries map[string]*Summary
	settings  map[string]string

	saveDocErr     error
	saveSummaryErr error
	getErr         error
	listErr        error
	deleteErr      error
	clearErr       error
	importErr      error
	settingErr     error
	setSettingErr  error
}

func newMockStore() *mockStore {
	return &mockStore{
		documents: make(map[string]*Document),
		summaries: make(map[string]*Summary),
		settings:  make(map[string]string),
	}
}

func (m *mockStore) Init(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                   { return nil }

func (m *mockStore) SaveDocument(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveDocErr != nil {
		return m.saveDocErr
	}
	m.documents[doc.ID] = doc
	return nil
}

func (m *mockStore) GetDocuments(ctx context.Context) ([]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	docs := make([]*Document, 0, len(m.documents))
	for _, doc := range m.documents {
		docs = append(docs, doc)
	}
	sortDocuments(docs)
	return docs, nil
}

func (m *mockStore) GetDocumentByID(ctx context.Context, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.documents[id], nil
}

func (m *mockStore) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.documents, id)
	for sid, summary := range m.summaries {
		if summary.DocumentID == id {
			delete(m.summaries, sid)
		}
	}
	return nil
}

func (m *mockStore) SaveSummary(ctx context.Context, summary *Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveSummaryErr != nil {
		return m.saveSummaryErr
	}
	if _, ok := m.documents[summary.DocumentID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, summary.DocumentID)
	}
	m.summaries[summary.ID] = summary
	return nil
}

func (m *mockStore) GetSummaries(ctx context.Context) ([]*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	summaries := make([]*Summary, 0, len(m.summaries))
	for _, summary := range m.summaries {
		summaries = append(summaries, summary)
	}
	sortSummaries(summaries)
	return summaries, nil
}

func (m *mockStore) GetSummaryByDocumentID(ctx context.Context, documentID string) (*Summary, error) {
	summaries, err := m.GetSummaries(ctx)
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

func (m *mockStore) ClearAllData(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	m.documents = make(map[string]*Document)
	m.summaries = make(map[string]*Summary)
	return nil
}

func (m *mockStore) ExportData(ctx context.Context) (*Export, error) {
	docs, err := m.GetDocuments(ctx)
	if err != nil {
		return nil, err
	}
	summaries, err := m.GetSummaries(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{Documents: docs, Summaries: summaries}, nil
}

func (m *mockStore) ImportData(ctx context.Context, data *Export) error {
	if m.importErr != nil {
		return m.importErr
	}
	docs, summaries, err := prepareImport(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = make(map[string]*Document)
	m.summaries = make(map[string]*Summary)
	for _, doc := range docs {
		m.documents[doc.ID] = doc
	}
	for _, summary := range summaries {
		m.summaries[summary.ID] = summary
	}
	return nil
}

func (m *mockStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settingErr != nil {
		return "", false, m.settingErr
	}
	value, ok := m.settings[key]
	return value, ok, nil
}

func (m *mockStore) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settingErr != nil {
		return m.settingErr
	}
	if m.setSettingErr != nil {
		return m.setSettingErr
	}
	m.settings[key] = value
	return nil
}

// mockGateway is a scripted analysis.Gateway
type mockGateway struct {
	text       string
	result     *analysis.Result
	extractErr error
	analyzeErr error

	extractCalls []string
	analyzeCalls []string
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		text: "Chapter One of the novel",
		result: &analysis.Result{
			Summary:      "A story begins.",
			Keywords:     []string{"novel", "story"},
			Quotes:       []string{"Call me Ishmael."},
			DocumentType: "book",
		},
	}
}

func (m *mockGateway) ExtractText(ctx context.Context, imageRef string) (string, error) {
	m.extractCalls = append(m.extractCalls, imageRef)
	if m.extractErr != nil {
		return "", m.extractErr
	}
	return m.text, nil
}

func (m *mockGateway) Analyze(ctx context.Context, text string) (*analysis.Result, error) {
	m.analyzeCalls = append(m.analyzeCalls, text)
	if m.analyzeErr != nil {
		return nil, m.analyzeErr
	}
	return m.result, nil
}

func (m *mockGateway) Close() error { return nil }

// learningGateway also accepts feedback
type learningGateway struct {
	*mockGateway
	feedbackErr error
	recorded    []analysis.Feedback
	tags        []string
}

func (l *learningGateway) RecordFeedback(ctx context.Context, documentID string, feedback analysis.Feedback, customTags []string) error {
	if l.feedbackErr != nil {
		return l.feedbackErr
	}
	l.recorded = append(l.recorded, feedback)
	l.tags = customTags
	return nil
}

// mockStorage is an in-memory Storage
type mockStorage struct {
	files     map[string][]byte
	saveErr   error
	deleteErr error
}

func newMockStorage() *mockStorage {
	return &mockStorage{files: make(map[string][]byte)}
}

func (m *mockStorage) Save(filename string, data []byte) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.files[filename] = data
	return filename, nil
}

func (m *mockStorage) Get(ref string) ([]byte, error) {
	data, ok := m.files[ref]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (m *mockStorage) Delete(ref string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.files, ref)
	return nil
}

// sequenceIDs hands out predictable IDs
type sequenceIDs struct {
	next int
}

func (s *sequenceIDs) Generate() string {
	s.next++
	return fmt.Sprintf("id-%d", s.next)
}

// fixedClock always returns the same instant
type fixedClock struct {
	now time.Time
}

func (f *fixedClock) Now() time.Time {
	return f.now
}
