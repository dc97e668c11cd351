// Package api provides HTTP API handlers for browsing estimation runs.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/egomotion/internal/store"
)

// RunHandler handles HTTP requests for run resources.
type RunHandler struct {
	store *store.Store
}

// NewRunHandler creates a new RunHandler with the given store.
func NewRunHandler(s *store.Store) *RunHandler {
	return &RunHandler{store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to
// the appropriate methods. Paths: /api/runs, /api/runs/{id},
// /api/runs/{id}/trajectory.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if id, ok := strings.CutSuffix(path, "/trajectory"); ok {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.trajectory(w, r, id)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Response types

type runResponse struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Decoder    string  `json:"decoder"`
	Estimator  string  `json:"estimator"`
	Fx         float64 `json:"fx"`
	Fy         float64 `json:"fy"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	StartedAt  string  `json:"started_at"`
	FinishedAt string  `json:"finished_at,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type recordResponse struct {
	FrameIndex  int         `json:"frame_index"`
	Missing     bool        `json:"missing"`
	Rotation    *[9]float64 `json:"rotation,omitempty"`
	Translation *[3]float64 `json:"translation,omitempty"`
	Inliers     int         `json:"inliers"`
	Confidence  float64     `json:"confidence"`
}

type trajectoryResponse struct {
	RunID   string           `json:"run_id"`
	Records []recordResponse `json:"records"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// toResponse converts a store.Run to a runResponse.
func toResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:        run.ID,
		Source:    run.Source,
		Decoder:   run.Decoder,
		Estimator: run.Estimator,
		Fx:        run.Intrinsics.Fx,
		Fy:        run.Intrinsics.Fy,
		Cx:        run.Intrinsics.Cx,
		Cy:        run.Intrinsics.Cy,
		Width:     run.Intrinsics.Width,
		Height:    run.Intrinsics.Height,
		StartedAt: run.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/runs and returns all runs.
func (h *RunHandler) list(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.Runs().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{
		Runs: make([]runResponse, 0, len(runs)),
	}

	for _, run := range runs {
		response.Runs = append(response.Runs, toResponse(run))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/runs/{id} and returns a single run.
func (h *RunHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, toResponse(run))
}

// trajectory handles GET /api/runs/{id}/trajectory and returns the run's
// trajectory records in frame order, gaps included.
func (h *RunHandler) trajectory(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Runs().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	records, err := h.store.Records().ListByRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list trajectory records")
		return
	}

	response := trajectoryResponse{
		RunID:   id,
		Records: make([]recordResponse, 0, len(records)),
	}
	for _, rec := range records {
		out := recordResponse{
			FrameIndex: rec.FrameIndex,
			Missing:    rec.Missing,
			Inliers:    rec.InlierCount,
			Confidence: rec.Confidence,
		}
		if !rec.Missing {
			rot := rec.Rotation
			trans := rec.Translation
			out.Rotation = &rot
			out.Translation = &trans
		}
		response.Records = append(response.Records, out)
	}

	writeJSON(w, http.StatusOK, response)
}

// delete handles DELETE /api/runs/{id} and removes a run with its records.
func (h *RunHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	err := h.store.Runs().Delete(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
