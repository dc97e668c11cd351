package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/egomotion/internal/camera"
)

func testRun(t *testing.T) *Run {
	t.Helper()
	intr, err := camera.NewIntrinsics(1000, 640, 360, 1280, 720)
	if err != nil {
		t.Fatalf("NewIntrinsics() error = %v", err)
	}
	return &Run{
		ID:         uuid.New().String(),
		Source:     "clip.mvec",
		Decoder:    "mvec",
		Estimator:  "ransac",
		Intrinsics: intr,
	}
}

func TestRunRepository_CreateAndGet(t *testing.T) {
	s := testStore(t)
	run := testRun(t)

	if err := s.Runs().Create(run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if run.StartedAt.IsZero() {
		t.Error("Create() should stamp StartedAt")
	}

	got, err := s.Runs().GetByID(run.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Source != run.Source || got.Decoder != run.Decoder || got.Estimator != run.Estimator {
		t.Errorf("GetByID() = %+v, want %+v", got, run)
	}
	if got.Intrinsics.Fx != 1000 || got.Intrinsics.Width != 1280 {
		t.Errorf("GetByID() intrinsics = %+v", got.Intrinsics)
	}
	if got.FinishedAt != nil {
		t.Error("a fresh run should have no finish time")
	}
}

func TestRunRepository_GetByID_NotFound(t *testing.T) {
	s := testStore(t)

	if _, err := s.Runs().GetByID("no-such-run"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestRunRepository_Finish(t *testing.T) {
	s := testStore(t)
	run := testRun(t)
	if err := s.Runs().Create(run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.Runs().Finish(run.ID); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err := s.Runs().GetByID(run.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.FinishedAt == nil {
		t.Fatal("Finish() should stamp FinishedAt")
	}
	if time.Since(*got.FinishedAt) > time.Minute {
		t.Errorf("FinishedAt = %v, want recent", got.FinishedAt)
	}

	if err := s.Runs().Finish("no-such-run"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish() of unknown run error = %v, want ErrNotFound", err)
	}
}

func TestRunRepository_List_NewestFirst(t *testing.T) {
	s := testStore(t)

	first := testRun(t)
	if err := s.Runs().Create(first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	second := testRun(t)
	if err := s.Runs().Create(second); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	runs, err := s.Runs().List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List() returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != second.ID || runs[1].ID != first.ID {
		t.Errorf("List() order = [%s %s], want newest first", runs[0].ID, runs[1].ID)
	}
}

func TestRunRepository_Delete(t *testing.T) {
	s := testStore(t)
	run := testRun(t)
	if err := s.Runs().Create(run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.Runs().Delete(run.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Runs().GetByID(run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}

	if err := s.Runs().Delete(run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() of deleted run error = %v, want ErrNotFound", err)
	}
}
