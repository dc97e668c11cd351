package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/pipeline"
	"github.com/ayusman/egomotion/internal/pose"
	"github.com/ayusman/egomotion/internal/store"
)

func testHandler(t *testing.T) (*RunHandler, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewRunHandler(s), s
}

func seedRun(t *testing.T, s *store.Store) *store.Run {
	t.Helper()
	intr, err := camera.NewIntrinsics(1000, 640, 360, 1280, 720)
	if err != nil {
		t.Fatalf("NewIntrinsics() error = %v", err)
	}
	run := &store.Run{
		ID:         uuid.New().String(),
		Source:     "clip.mvec",
		Decoder:    "mvec",
		Estimator:  "ransac",
		Intrinsics: intr,
	}
	if err := s.Runs().Create(run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return run
}

func doRequest(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestListRuns(t *testing.T) {
	h, s := testHandler(t)
	run := seedRun(t, s)

	w := doRequest(h, http.MethodGet, "/api/runs")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/runs status = %d, want 200", w.Code)
	}

	var resp listRunsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(resp.Runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(resp.Runs))
	}
	got := resp.Runs[0]
	if got.ID != run.ID || got.Decoder != "mvec" || got.Estimator != "ransac" {
		t.Errorf("run = %+v", got)
	}
	if got.Fx != 1000 || got.Width != 1280 || got.Height != 720 {
		t.Errorf("run intrinsics = %+v", got)
	}
	if got.FinishedAt != "" {
		t.Error("unfinished run should omit finished_at")
	}
}

func TestListRuns_Empty(t *testing.T) {
	h, _ := testHandler(t)

	w := doRequest(h, http.MethodGet, "/api/runs")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/runs status = %d, want 200", w.Code)
	}

	var resp listRunsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if resp.Runs == nil || len(resp.Runs) != 0 {
		t.Errorf("runs = %v, want empty array", resp.Runs)
	}
}

func TestGetRun(t *testing.T) {
	h, s := testHandler(t)
	run := seedRun(t, s)

	w := doRequest(h, http.MethodGet, "/api/runs/"+run.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/runs/{id} status = %d, want 200", w.Code)
	}

	var got runResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.ID != run.ID || got.Source != "clip.mvec" {
		t.Errorf("run = %+v", got)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	h, _ := testHandler(t)

	w := doRequest(h, http.MethodGet, "/api/runs/"+uuid.New().String())
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if resp.Error == "" {
		t.Error("404 response should carry an error message")
	}
}

func TestGetTrajectory(t *testing.T) {
	h, s := testHandler(t)
	run := seedRun(t, s)

	p := pose.New([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, r3.Vector{X: 0.5, Z: 2})
	records := []pipeline.Record{
		{FrameIndex: 0, Pose: &p, Inliers: 30, Confidence: 0.75},
		{FrameIndex: 1, Missing: true},
		{FrameIndex: 2, Pose: &p, Inliers: 28, Confidence: 0.7},
	}
	for _, rec := range records {
		if err := s.Records().Append(run.ID, rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	w := doRequest(h, http.MethodGet, "/api/runs/"+run.ID+"/trajectory")
	if w.Code != http.StatusOK {
		t.Fatalf("GET trajectory status = %d, want 200", w.Code)
	}

	var resp trajectoryResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if resp.RunID != run.ID {
		t.Errorf("run_id = %s, want %s", resp.RunID, run.ID)
	}
	if len(resp.Records) != 3 {
		t.Fatalf("got %d records, want 3", len(resp.Records))
	}

	first := resp.Records[0]
	if first.Missing || first.Rotation == nil || first.Translation == nil {
		t.Errorf("record 0 = %+v, want full pose", first)
	}
	if first.Translation[0] != 0.5 || first.Translation[2] != 2 {
		t.Errorf("record 0 translation = %v", *first.Translation)
	}
	if first.Inliers != 30 {
		t.Errorf("record 0 inliers = %d, want 30", first.Inliers)
	}

	gap := resp.Records[1]
	if !gap.Missing || gap.Rotation != nil || gap.Translation != nil {
		t.Errorf("record 1 = %+v, want gap without pose", gap)
	}
}

func TestGetTrajectory_NotFound(t *testing.T) {
	h, _ := testHandler(t)

	w := doRequest(h, http.MethodGet, "/api/runs/"+uuid.New().String()+"/trajectory")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeleteRun(t *testing.T) {
	h, s := testHandler(t)
	run := seedRun(t, s)

	w := doRequest(h, http.MethodDelete, "/api/runs/"+run.ID)
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", w.Code)
	}

	w = doRequest(h, http.MethodGet, "/api/runs/"+run.ID)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", w.Code)
	}

	w = doRequest(h, http.MethodDelete, "/api/runs/"+run.ID)
	if w.Code != http.StatusNotFound {
		t.Errorf("repeated DELETE status = %d, want 404", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, s := testHandler(t)
	run := seedRun(t, s)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/runs"},
		{http.MethodPut, "/api/runs/" + run.ID},
		{http.MethodDelete, "/api/runs/" + run.ID + "/trajectory"},
	}
	for _, tc := range cases {
		w := doRequest(h, tc.method, tc.path)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s status = %d, want 405", tc.method, tc.path, w.Code)
		}
	}
}
