package document

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/zombor/snapread/internal/analysis"
	"github.com/zombor/snapread/internal/quota"
)

// maxUploadSize allows high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, quota.ErrLimitReached):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrAnalysis):
		return http.StatusBadGateway
	case errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrUnknownDocument), errors.Is(err, ErrInvalidFeedback):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// failWith logs err and writes the mapped status
func failWith(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		writeError(w, "Internal server error", code)
		return
	}
	slog.Warn(msg, "error", err)
	writeError(w, err.Error(), code)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.service.ListDocuments(r.Context())
	if err != nil {
		failWith(w, "Error listing documents", err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleCapture accepts a multipart "file" upload and runs the capture flow
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Warn("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB.", http.StatusBadRequest)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		writeError(w, "Uploaded file is empty", http.StatusBadRequest)
		return
	}

	capture, err := s.service.Capture(r.Context(), header.Filename, data)
	if err != nil {
		code := statusFor(err)
		slog.Error("Error capturing document", "filename", header.Filename, "error", err)
		if code == http.StatusInternalServerError {
			writeError(w, "Internal server error", code)
			return
		}
		writeError(w, err.Error(), code)
		return
	}

	writeJSON(w, http.StatusCreated, capture)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		failWith(w, "Error getting document", err)
		return
	}
	if doc == nil {
		writeError(w, "Document not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetDocumentImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetDocumentImage(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrStorage) || errors.Is(err, ErrNotInitialized) {
		failWith(w, "Error getting document image", err)
		return
	}
	if err != nil {
		slog.Warn("Error getting document image", "error", err)
		writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	if data == nil {
		writeError(w, "Document not found", http.StatusNotFound)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.GetSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		failWith(w, "Error getting summary", err)
		return
	}
	if summary == nil {
		writeError(w, "Summary not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		failWith(w, "Error deleting document", err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback analysis.Feedback `json:"feedback"`
		Tags     []string          `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	found, err := s.service.RecordFeedback(r.Context(), r.PathValue("id"), req.Feedback, req.Tags)
	if err != nil {
		failWith(w, "Error recording feedback", err)
		return
	}
	if !found {
		writeError(w, "Document not found", http.StatusNotFound)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.service.ListSummaries(r.Context())
	if err != nil {
		failWith(w, "Error listing summaries", err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := s.service.ExportData(r.Context())
	if err != nil {
		failWith(w, "Error exporting data", err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="snapread-export.json"`)
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var data Export
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadSize)).Decode(&data); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.service.ImportData(r.Context(), &data); err != nil {
		failWith(w, "Error importing data", err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearData(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearAllData(r.Context()); err != nil {
		failWith(w, "Error clearing data", err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.QuotaStatus(r.Context())
	if err != nil {
		failWith(w, "Error getting quota status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subscribed *bool `json:"subscribed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subscribed == nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status, err := s.service.SetSubscribed(r.Context(), *req.Subscribed)
	if err != nil {
		failWith(w, "Error updating subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
