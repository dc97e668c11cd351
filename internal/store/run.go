package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/ayusman/egomotion/internal/camera"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Run represents one pipeline execution stored in the database.
type Run struct {
	ID         string
	Source     string
	Decoder    string
	Estimator  string
	Intrinsics camera.Intrinsics
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RunRepository provides CRUD operations for runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run into the database.
func (r *RunRepository) Create(run *Run) error {
	run.StartedAt = time.Now()

	_, err := r.db.Exec(
		`INSERT INTO runs (id, source, decoder, estimator, fx, fy, cx, cy, width, height, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Decoder, run.Estimator,
		run.Intrinsics.Fx, run.Intrinsics.Fy, run.Intrinsics.Cx, run.Intrinsics.Cy,
		run.Intrinsics.Width, run.Intrinsics.Height, run.StartedAt,
	)
	if err != nil {
		return err
	}

	return nil
}

// Finish stamps the run's completion time.
func (r *RunRepository) Finish(id string) error {
	now := time.Now()
	result, err := r.db.Exec(`UPDATE runs SET finished_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run := &Run{}
	var finished sql.NullTime

	err := r.db.QueryRow(
		`SELECT id, source, decoder, estimator, fx, fy, cx, cy, width, height, started_at, finished_at
		 FROM runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.Source, &run.Decoder, &run.Estimator,
		&run.Intrinsics.Fx, &run.Intrinsics.Fy, &run.Intrinsics.Cx, &run.Intrinsics.Cy,
		&run.Intrinsics.Width, &run.Intrinsics.Height, &run.StartedAt, &finished)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// List retrieves all runs from the database, newest first.
func (r *RunRepository) List() ([]*Run, error) {
	rows, err := r.db.Query(
		`SELECT id, source, decoder, estimator, fx, fy, cx, cy, width, height, started_at, finished_at
		 FROM runs ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var finished sql.NullTime

		err := rows.Scan(&run.ID, &run.Source, &run.Decoder, &run.Estimator,
			&run.Intrinsics.Fx, &run.Intrinsics.Fy, &run.Intrinsics.Cx, &run.Intrinsics.Cy,
			&run.Intrinsics.Width, &run.Intrinsics.Height, &run.StartedAt, &finished)
		if err != nil {
			return nil, err
		}

		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Delete removes a run and its trajectory records.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
