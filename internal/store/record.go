package store

import (
	"database/sql"

	"github.com/ayusman/egomotion/internal/pipeline"
)

// TrajectoryRecord is one persisted trajectory row. Individual inlier
// indexes are not stored; only the count survives persistence.
type TrajectoryRecord struct {
	FrameIndex  int
	Missing     bool
	Rotation    [9]float64
	Translation [3]float64
	InlierCount int
	Confidence  float64
}

// RecordRepository persists trajectory records for a run.
type RecordRepository struct {
	db *sql.DB
}

// Records returns the trajectory record repository for this store.
func (s *Store) Records() *RecordRepository {
	return &RecordRepository{db: s.db}
}

// Append inserts one trajectory record. Gap records are stored with the
// missing flag set and NULL pose columns.
func (r *RecordRepository) Append(runID string, rec pipeline.Record) error {
	if rec.Missing || rec.Pose == nil {
		_, err := r.db.Exec(
			`INSERT INTO trajectory_records (run_id, frame_index, missing, inlier_count, confidence)
			 VALUES (?, ?, 1, 0, 0)`,
			runID, rec.FrameIndex,
		)
		return err
	}

	rot := rec.Pose.Rotation()
	_, err := r.db.Exec(
		`INSERT INTO trajectory_records
		 (run_id, frame_index, missing,
		  r00, r01, r02, r10, r11, r12, r20, r21, r22,
		  tx, ty, tz, inlier_count, confidence)
		 VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.FrameIndex,
		rot[0], rot[1], rot[2], rot[3], rot[4], rot[5], rot[6], rot[7], rot[8],
		rec.Pose.T.X, rec.Pose.T.Y, rec.Pose.T.Z,
		rec.Inliers, rec.Confidence,
	)
	return err
}

// ListByRun retrieves a run's trajectory records in frame order.
func (r *RecordRepository) ListByRun(runID string) ([]TrajectoryRecord, error) {
	rows, err := r.db.Query(
		`SELECT frame_index, missing,
		        r00, r01, r02, r10, r11, r12, r20, r21, r22,
		        tx, ty, tz, inlier_count, confidence
		 FROM trajectory_records WHERE run_id = ? ORDER BY frame_index ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TrajectoryRecord
	for rows.Next() {
		var rec TrajectoryRecord
		var missing int
		var rot [9]sql.NullFloat64
		var tx, ty, tz sql.NullFloat64

		err := rows.Scan(&rec.FrameIndex, &missing,
			&rot[0], &rot[1], &rot[2], &rot[3], &rot[4], &rot[5], &rot[6], &rot[7], &rot[8],
			&tx, &ty, &tz, &rec.InlierCount, &rec.Confidence)
		if err != nil {
			return nil, err
		}

		rec.Missing = missing != 0
		if !rec.Missing {
			for i, v := range rot {
				rec.Rotation[i] = v.Float64
			}
			rec.Translation = [3]float64{tx.Float64, ty.Float64, tz.Float64}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// CountByRun returns the number of records stored for a run.
func (r *RecordRepository) CountByRun(runID string) (int, error) {
	var n int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM trajectory_records WHERE run_id = ?`, runID,
	).Scan(&n)
	return n, err
}
