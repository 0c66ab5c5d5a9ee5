// ///////////////////////////////////////////////////////////////////////////
//
// # recon - Dataset Reconciliation Engine
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgedge/recon/internal/core"
	"github.com/pgedge/recon/pkg/taskstore"
	"github.com/pgedge/recon/pkg/types"
)

type reconcileRequest struct {
	Source           string `json:"source"`
	Target           string `json:"target"`
	Rules            string `json:"rules"`
	Engine           string `json:"engine"`
	BatchSize        int    `json:"batch_size"`
	SkipRows         int    `json:"skip_rows"`
	SourceSkipRows   *int   `json:"source_skip_rows"`
	TargetSkipRows   *int   `json:"target_skip_rows"`
	HeaderRows       int    `json:"header_rows"`
	SourceHeaderRows int    `json:"source_header_rows"`
	TargetHeaderRows int    `json:"target_header_rows"`
	Encoding         string `json:"encoding"`
}

type runResponse struct {
	RunID      string         `json:"run_id"`
	Status     string         `json:"status"`
	Engine     string         `json:"engine,omitempty"`
	Source     string         `json:"source,omitempty"`
	Target     string         `json:"target,omitempty"`
	Rules      string         `json:"rules,omitempty"`
	Summary    *types.Summary `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	ReportPath string         `json:"report_path,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	TimeTaken  float64        `json:"time_taken,omitempty"`
}

func toResponse(rec taskstore.Record) runResponse {
	resp := runResponse{
		RunID:      rec.RunID,
		Status:     rec.Status,
		Engine:     rec.Engine,
		Source:     rec.Source,
		Target:     rec.Target,
		Rules:      rec.Rules,
		Summary:    rec.Summary,
		Error:      rec.Error,
		ReportPath: rec.ReportPath,
		TimeTaken:  rec.TimeTaken,
	}
	if !rec.StartedAt.IsZero() {
		resp.StartedAt = &rec.StartedAt
	}
	if !rec.FinishedAt.IsZero() {
		resp.FinishedAt = &rec.FinishedAt
	}
	return resp
}

func (s *APIServer) newTask(req reconcileRequest) *core.ReconcileTask {
	task := core.NewReconcileTask()
	task.Source = strings.TrimSpace(req.Source)
	task.Target = strings.TrimSpace(req.Target)
	task.RulesPath = strings.TrimSpace(req.Rules)
	if req.Engine != "" {
		task.Engine = req.Engine
	}
	if req.BatchSize > 0 {
		task.BatchSize = req.BatchSize
	}

	headers := req.HeaderRows
	if headers == 0 {
		headers = 1
	}
	task.SourceOptions.SkipRows, task.TargetOptions.SkipRows = req.SkipRows, req.SkipRows
	if req.SourceSkipRows != nil {
		task.SourceOptions.SkipRows = *req.SourceSkipRows
	}
	if req.TargetSkipRows != nil {
		task.TargetOptions.SkipRows = *req.TargetSkipRows
	}
	task.SourceOptions.HeaderRows, task.TargetOptions.HeaderRows = headers, headers
	if req.SourceHeaderRows > 0 {
		task.SourceOptions.HeaderRows = req.SourceHeaderRows
	}
	if req.TargetHeaderRows > 0 {
		task.TargetOptions.HeaderRows = req.TargetHeaderRows
	}
	task.SourceOptions.Encoding, task.TargetOptions.Encoding = req.Encoding, req.Encoding

	task.Postgres = s.cfg.Postgres
	task.Output = s.cfg.Report.OutputDir
	task.HistoryPath = s.cfg.History.Path
	task.TaskStore = s.taskStore
	task.SkipDBUpdate = false
	task.QuietMode = true
	return task
}

// handleReconcile registers a pending run and starts it in the background.
// The response carries the run id to poll.
func (s *APIServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}
	defer r.Body.Close()

	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	task := s.newTask(req)
	if err := task.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task.TaskID = uuid.NewString()

	err := s.taskStore.Create(taskstore.Record{
		RunID:  task.TaskID,
		Engine: task.Engine,
		Status: taskstore.StatusPending,
		Source: task.Source,
		Target: task.Target,
		Rules:  task.RulesPath,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	err = s.enqueueTask(task.TaskID, func(ctx context.Context) error {
		task.SetContext(ctx)
		return task.ExecuteTask()
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{RunID: task.TaskID, Status: taskstore.StatusPending})
}

func (s *APIServer) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/runs/"), "/")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}
	rec, err := s.taskStore.Get(runID)
	if errors.Is(err, taskstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *APIServer) handleRunList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := s.taskStore.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]runResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}
