package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/snapread/internal/analysis"
	"github.com/zombor/snapread/internal/doctype"
	"github.com/zombor/snapread/internal/quota"
)

// IDGenerator generates unique IDs for documents and summaries
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ErrInvalidFeedback is returned for feedback other than like or dislike
var ErrInvalidFeedback = errors.New("feedback must be like or dislike")

// Capture is the outcome of a successful scan
type Capture struct {
	Document *Document `json:"document"`
	Summary  *Summary  `json:"summary"`
}

// Service runs the capture flow and exposes the stored history
type Service struct {
	store       Store
	gateway     analysis.Gateway
	storage     Storage
	quota       *quota.Tracker
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUIDs and the wall clock
func NewService(store Store, gateway analysis.Gateway, storage Storage, tracker *quota.Tracker) *Service {
	return NewServiceWithDeps(store, gateway, storage, tracker, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, gateway analysis.Gateway, storage Storage, tracker *quota.Tracker, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:       store,
		gateway:     gateway,
		storage:     storage,
		quota:       tracker,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and truncates long phone-generated names
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "scan"
	}
	if ext == "" {
		ext = ".jpg"
	}
	return base + ext
}

// Capture saves a captured image, analyzes it and persists the resulting
// document and summary. Free-tier captures are refused once the quota is
// used up. Analysis failures leave nothing behind and do not count.
func (s *Service) Capture(ctx context.Context, filename string, data []byte) (*Capture, error) {
	status, err := s.quota.GetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking scan quota: %w", err)
	}
	if !status.CanScan() {
		return nil, quota.ErrLimitReached
	}

	documentID := s.idGenerator.Generate()
	now := s.timeSource.Now().UTC()

	imageURI, err := s.storage.Save(fmt.Sprintf("%s_%s", documentID, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	result, text, err := s.analyze(ctx, imageURI)
	if err != nil {
		slog.Error("Failed to analyze capture",
			"filename", filename,
			"file_size", len(data),
			"error", err,
		)
		s.removeImage(imageURI)
		return nil, err
	}

	documentType := result.DocumentType
	if !documentType.Valid() {
		documentType = doctype.Classify(text)
	}

	doc := &Document{
		ID:        documentID,
		Title:     DefaultTitle(documentType, now),
		ImageURI:  imageURI,
		CreatedAt: now,
		Type:      documentType,
		Tags:      cloneList(result.Keywords),
	}
	summary := &Summary{
		ID:         s.idGenerator.Generate(),
		DocumentID: documentID,
		Text:       result.Summary,
		Keywords:   cloneList(result.Keywords),
		Quotes:     cloneList(result.Quotes),
		CreatedAt:  now,
	}

	if err := s.store.SaveDocument(ctx, doc); err != nil {
		s.removeImage(imageURI)
		return nil, fmt.Errorf("saving document: %w", err)
	}
	if err := s.store.SaveSummary(ctx, summary); err != nil {
		if delErr := s.store.DeleteDocument(ctx, documentID); delErr != nil {
			slog.Error("Failed to roll back document", "document_id", documentID, "error", delErr)
		}
		s.removeImage(imageURI)
		return nil, fmt.Errorf("saving summary: %w", err)
	}

	if !status.IsSubscribed {
		if err := s.quota.IncrementScanCount(ctx); err != nil {
			if delErr := s.store.DeleteDocument(ctx, documentID); delErr != nil {
				slog.Error("Failed to roll back document", "document_id", documentID, "error", delErr)
			}
			s.removeImage(imageURI)
			return nil, fmt.Errorf("recording scan for document %s: %w", documentID, err)
		}
	}

	return &Capture{Document: doc, Summary: summary}, nil
}

// analyze runs both gateway stages, wrapping failures in ErrAnalysis
func (s *Service) analyze(ctx context.Context, imageURI string) (*analysis.Result, string, error) {
	text, err := s.gateway.ExtractText(ctx, imageURI)
	if err != nil {
		return nil, "", fmt.Errorf("%w: extracting text: %w", ErrAnalysis, err)
	}
	result, err := s.gateway.Analyze(ctx, text)
	if err != nil {
		return nil, "", fmt.Errorf("%w: analyzing text: %w", ErrAnalysis, err)
	}
	if result == nil {
		return nil, "", fmt.Errorf("%w: gateway returned no result", ErrAnalysis)
	}
	return result, text, nil
}

func (s *Service) removeImage(imageURI string) {
	if err := s.storage.Delete(imageURI); err != nil {
		slog.Warn("Failed to delete image", "image_uri", imageURI, "error", err)
	}
}

// ListDocuments returns all documents, newest first
func (s *Service) ListDocuments(ctx context.Context) ([]*Document, error) {
	docs, err := s.store.GetDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// GetDocument returns a document, or nil when it does not exist
func (s *Service) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc, err := s.store.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

// GetDocumentImage returns the image bytes and content type, or nil data when
// the document does not exist
func (s *Service) GetDocumentImage(ctx context.Context, id string) ([]byte, string, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil || doc == nil {
		return nil, "", err
	}
	data, err := s.storage.Get(doc.ImageURI)
	if err != nil {
		return nil, "", fmt.Errorf("getting image: %w", err)
	}
	return data, analysis.ContentTypeFor(doc.ImageURI), nil
}

// GetSummary returns the most recent summary for a document, or nil
func (s *Service) GetSummary(ctx context.Context, documentID string) (*Summary, error) {
	summary, err := s.store.GetSummaryByDocumentID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("getting summary: %w", err)
	}
	return summary, nil
}

// ListSummaries returns all summaries, newest first
func (s *Service) ListSummaries(ctx context.Context) ([]*Summary, error) {
	summaries, err := s.store.GetSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}
	return summaries, nil
}

// DeleteDocument removes a document, its summaries and its image. Unknown
// IDs are a no-op.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.store.GetDocumentByID(ctx, id)
	if err != nil {
		return fmt.Errorf("getting document for deletion: %w", err)
	}
	if doc == nil {
		return nil
	}

	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}

	// A missing image file does not block deletion
	s.removeImage(doc.ImageURI)
	return nil
}

// ClearAllData removes every document and summary; image files are left in place
func (s *Service) ClearAllData(ctx context.Context) error {
	if err := s.store.ClearAllData(ctx); err != nil {
		return fmt.Errorf("clearing data: %w", err)
	}
	return nil
}

// ExportData returns a snapshot of the whole history
func (s *Service) ExportData(ctx context.Context) (*Export, error) {
	export, err := s.store.ExportData(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporting data: %w", err)
	}
	return export, nil
}

// ImportData replaces the whole history with a snapshot
func (s *Service) ImportData(ctx context.Context, data *Export) error {
	if err := s.store.ImportData(ctx, data); err != nil {
		return fmt.Errorf("importing data: %w", err)
	}
	return nil
}

// QuotaStatus reports the subscription flag and remaining free scans
func (s *Service) QuotaStatus(ctx context.Context) (quota.Status, error) {
	status, err := s.quota.GetStatus(ctx)
	if err != nil {
		return quota.Status{}, fmt.Errorf("getting quota status: %w", err)
	}
	return status, nil
}

// SetSubscribed updates the subscription flag and returns the new status
func (s *Service) SetSubscribed(ctx context.Context, subscribed bool) (quota.Status, error) {
	if err := s.quota.SetSubscribed(ctx, subscribed); err != nil {
		return quota.Status{}, err
	}
	return s.QuotaStatus(ctx)
}

// RecordFeedback adds the user's custom tags to the document and forwards
// the verdict to gateways that learn from it. It returns false when the
// document does not exist.
func (s *Service) RecordFeedback(ctx context.Context, documentID string, feedback analysis.Feedback, customTags []string) (bool, error) {
	if !feedback.Valid() {
		return false, ErrInvalidFeedback
	}
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}

	if tags := mergeTags(doc.Tags, customTags); len(tags) > len(doc.Tags) {
		doc.Tags = tags
		if err := s.store.SaveDocument(ctx, doc); err != nil {
			return true, fmt.Errorf("saving tags: %w", err)
		}
	}

	learner, ok := s.gateway.(analysis.Learner)
	if !ok {
		slog.Debug("Gateway does not accept feedback", "document_id", documentID)
		return true, nil
	}
	if err := learner.RecordFeedback(ctx, documentID, feedback, customTags); err != nil {
		return true, fmt.Errorf("%w: recording feedback: %w", ErrAnalysis, err)
	}
	return true, nil
}

// mergeTags appends trimmed new tags that are not already present
func mergeTags(existing, added []string) []string {
	out := cloneList(existing)
	seen := make(map[string]bool, len(existing)+len(added))
	for _, tag := range existing {
		seen[tag] = true
	}
	for _, tag := range added {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
