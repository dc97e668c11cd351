package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per pipeline execution
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			decoder TEXT NOT NULL,
			estimator TEXT NOT NULL,
			fx REAL NOT NULL,
			fy REAL NOT NULL,
			cx REAL NOT NULL,
			cy REAL NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,

		// Trajectory records table - cumulative pose per frame pair, with
		// gaps stored as rows carrying a missing flag and no pose
		`CREATE TABLE IF NOT EXISTS trajectory_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			frame_index INTEGER NOT NULL,
			missing INTEGER NOT NULL DEFAULT 0,
			r00 REAL, r01 REAL, r02 REAL,
			r10 REAL, r11 REAL, r12 REAL,
			r20 REAL, r21 REAL, r22 REAL,
			tx REAL, ty REAL, tz REAL,
			inlier_count INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			UNIQUE(run_id, frame_index)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_trajectory_records_run_id ON trajectory_records(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
