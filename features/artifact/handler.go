package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"thebrain/backend/internal/middleware"
)

// FileSaver persists an uploaded file and returns its storage path,
// content hash and size.
type FileSaver interface {
	Save(name string, r io.Reader) (string, string, int64, error)
}

type Handler struct {
	service   *Service
	files     FileSaver
	maxUpload int64
}

func NewHandler(s *Service, files FileSaver, maxUploadMB int64) *Handler {
	return &Handler{service: s, files: files, maxUpload: maxUploadMB << 20}
}

var allowedExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true,
	".pdf": true, ".doc": true, ".docx": true,
}

type createRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	StoragePath string `json:"storage_path"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", "invalid JSON body", http.StatusBadRequest)
		return
	}

	a := &Artifact{
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		URL:         req.URL,
		Content:     req.Content,
		StoragePath: req.StoragePath,
	}

	j, err := h.service.Create(ctx, a)
	if err != nil {
		if isValidationErr(err) {
			h.writeError(ctx, w, "INVALID_REQUEST", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to create artifact", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "artifact created", "artifact_id", a.ID, "type", a.Type)
	h.writeAccepted(ctx, w, a, j)
}

// Upload receives a multipart file, stores it and creates a file artifact
// pointing at it.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.writeError(ctx, w, "PAYLOAD_TOO_LARGE", "file exceeds upload size limit", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		h.writeError(ctx, w, "UNSUPPORTED_TYPE", "unsupported file extension "+ext, http.StatusBadRequest)
		return
	}

	storagePath, hash, size, err := h.files.Save(header.Filename, file)
	if err != nil {
		slog.ErrorContext(ctx, "failed to store uploaded file", "filename", header.Filename, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to store file", http.StatusInternalServerError)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	a := &Artifact{
		Name:        name,
		Description: r.FormValue("description"),
		Type:        TypeFile,
		StoragePath: storagePath,
		ContentHash: hash,
	}

	j, err := h.service.Create(ctx, a)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create artifact for upload", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "file uploaded", "artifact_id", a.ID, "storage_path", storagePath, "size_bytes", size)
	h.writeAccepted(ctx, w, a, j)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	f := ListFilter{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
	}
	f.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	f.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))

	artifacts, total, err := h.service.List(ctx, f)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list artifacts", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	if artifacts == nil {
		artifacts = []Artifact{}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 50
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": artifacts,
		"meta": map[string]int{
			"count": total,
			"page":  f.Page,
			"limit": f.Limit,
		},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	a, err := h.service.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(ctx, w, "NOT_FOUND", "Artifact not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to get artifact", "artifact_id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": a})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := h.service.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(ctx, w, "NOT_FOUND", "Artifact not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to delete artifact", "artifact_id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "artifact deleted", "artifact_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	j, err := h.service.ReIngest(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(ctx, w, "NOT_FOUND", "Artifact not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to re-ingest artifact", "artifact_id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "artifact re-ingestion queued", "artifact_id", id)
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{
		"message": "Artifact queued for re-ingestion",
		"job":     j,
		"status":  StatusProcessing,
	})
}

func (h *Handler) writeAccepted(ctx context.Context, w http.ResponseWriter, a *Artifact, j interface{}) {
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{
		"message":  "Artifact created, ingestion queued",
		"artifact": a,
		"job":      j,
		"status":   a.Status,
	})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func isValidationErr(err error) bool {
	return errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrTypeRequired) ||
		errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrStoragePathRequired)
}
