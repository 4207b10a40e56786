// Package stats reports knowledge-base health counters.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"thebrain/backend/internal/middleware"
)

type ArtifactCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type JobCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type PointCounter interface {
	CountPoints(ctx context.Context) (uint64, error)
}

type Handler struct {
	artifacts ArtifactCounter
	jobs      JobCounter
	points    PointCounter
}

func NewHandler(artifacts ArtifactCounter, jobs JobCounter, points PointCounter) *Handler {
	return &Handler{artifacts: artifacts, jobs: jobs, points: points}
}

// Get handles GET /stats.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	artifactCounts, err := h.artifacts.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count artifacts", "error", err)
		h.writeError(ctx, w, err)
		return
	}

	jobCounts, err := h.jobs.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, err)
		return
	}

	pointCount, err := h.points.CountPoints(ctx)
	if err != nil {
		// The vector store being down should not hide the database counters.
		slog.WarnContext(ctx, "failed to count vector points", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": map[string]interface{}{
			"artifacts":     artifactCounts,
			"jobs":          jobCounts,
			"vector_points": pointCount,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
