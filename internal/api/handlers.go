package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wphospital/sprucepy/internal/core"
	"github.com/wphospital/sprucepy/internal/schedule"
)

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "task id is required")
		return
	}

	if err := s.executor.ExecuteTask(r.Context(), taskID); err != nil {
		s.logger.Error("execute task", "task", taskID, "err", err)
		writeError(w, http.StatusBadGateway, "execute_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task": taskID, "status": "triggered"})
}

type killRequest struct {
	PID   int32  `json:"pid"`
	RunID string `json:"run_id"`
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	var req killRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.PID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "pid is required")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "run_id is required")
		return
	}

	if err := s.killer.Kill(r.Context(), req.PID, req.RunID); err != nil {
		s.logger.Error("kill run", "pid", req.PID, "run", req.RunID, "err", err)
		writeError(w, http.StatusInternalServerError, "kill_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pid": req.PID, "run_id": req.RunID})
}

type runResponse struct {
	RunID      string  `json:"run_id"`
	TaskID     string  `json:"task_id"`
	Status     string  `json:"status"`
	PID        *int    `json:"pid,omitempty"`
	ReturnCode *int    `json:"return_code,omitempty"`
	StartedAt  string  `json:"started_at"`
	EndedAt    *string `json:"ended_at,omitempty"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs", "err", err)
		writeError(w, http.StatusInternalServerError, "journal_failed", "could not read run journal")
		return
	}

	out := make([]runResponse, 0, len(entries))
	for _, e := range entries {
		resp := runResponse{
			RunID:      e.RunID,
			TaskID:     e.TaskID,
			Status:     string(e.Status),
			PID:        e.PID,
			ReturnCode: e.ReturnCode,
			StartedAt:  e.StartedAt.UTC().Format(time.RFC3339),
		}
		if e.EndedAt != nil {
			ended := e.EndedAt.UTC().Format(time.RFC3339)
			resp.EndedAt = &ended
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

type previewRequest struct {
	Frequency string  `json:"frequency"`
	Interval  int     `json:"interval"`
	Start     *string `json:"start"`
}

type previewResponse struct {
	Cron    string `json:"cron"`
	Pretty  string `json:"pretty"`
	NextRun string `json:"next_run"`
}

func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	freq, err := core.ParseFrequency(strings.TrimSpace(req.Frequency))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_frequency", err.Error())
		return
	}

	rec := core.Recurrence{Frequency: freq, Interval: req.Interval}
	if req.Start != nil {
		start, err := time.Parse(time.RFC3339, *req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be RFC3339")
			return
		}
		rec.Start = &start
	}

	fields, err := schedule.Build(rec)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_recurrence", err.Error())
		return
	}

	next, err := schedule.NextRun(fields.String(), time.Now(), time.UTC, time.UTC)
	if err != nil {
		s.logger.Error("preview next run", "cron", fields.String(), "err", err)
		writeError(w, http.StatusInternalServerError, "preview_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		Cron:    fields.String(),
		Pretty:  schedule.Describe(fields.String(), time.UTC, time.UTC),
		NextRun: next.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCurrentSchedule(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	current, err := s.scheduler.CurrentSchedule(taskID)
	if err != nil {
		s.logger.Error("current schedule", "task", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "schedule_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task": taskID, "schedule": current})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
