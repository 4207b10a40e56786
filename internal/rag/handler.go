package rag

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

type Handler struct {
	service *Service
	devMode bool
}

func NewHandler(s *Service, devMode bool) *Handler {
	return &Handler{service: s, devMode: devMode}
}

type queryRequest struct {
	Question string `json:"question"`
}

// Query handles POST /query. A question with no relevant knowledge returns a
// 200 with an apologetic answer rather than an error.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Question is required and must be a string",
		})
		return
	}

	answer, err := h.service.Query(ctx, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyQuestion):
			h.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "Question is required and must be a string",
			})
		case errors.Is(err, ErrNoKnowledge):
			h.writeJSON(w, http.StatusOK, Answer{
				Text:    "I don't have enough information in the knowledge base to answer that question.",
				Sources: []Source{},
			})
		default:
			slog.ErrorContext(ctx, "query failed", "error", err)
			body := map[string]string{"error": "Failed to process query"}
			if h.devMode {
				body["details"] = err.Error()
			}
			h.writeJSON(w, http.StatusInternalServerError, body)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, answer)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
