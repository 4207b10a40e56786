package worker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"thebrain/backend/features/job"
)

// Handler exposes the worker over HTTP so operators and tests can force a
// processing pass without waiting for NSQ or the scheduler.
type Handler struct {
	processor *Processor
	queue     Queue
}

func NewHandler(p *Processor, q Queue) *Handler {
	return &Handler{processor: p, queue: q}
}

type triggerRequest struct {
	Trigger string `json:"trigger"`
	JobID   string `json:"jobId"`
}

// Trigger handles POST /worker/process. With trigger=immediate and a jobId it
// claims that specific job; otherwise it dequeues the next due one.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req triggerRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	var j *job.Job
	var err error
	if req.Trigger == "immediate" && req.JobID != "" {
		j, err = h.queue.Claim(ctx, req.JobID)
	} else {
		j, err = h.queue.TryDequeue(ctx)
	}

	if errors.Is(err, job.ErrNoJob) {
		h.writeJSON(w, http.StatusOK, map[string]string{"message": "No jobs available"})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to claim job", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "failed to claim job",
			"message": err.Error(),
		})
		return
	}

	if err := h.processor.ProcessJob(ctx, j); err != nil {
		slog.ErrorContext(ctx, "triggered job did not complete", "job_id", j.ID, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "job processing failed",
			"jobId":   j.ID,
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Job processed",
		"jobId":   j.ID,
		"jobType": j.JobType,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
