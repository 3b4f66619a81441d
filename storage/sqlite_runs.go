package storage

import (
	"context"
	"database/sql"
	"time"

	"domain_ingest/models"
)

// =============================================================================
// Ingest runs
// =============================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.IngestRun) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (run_uuid, profile_id, started_at, status, pages_fetched,
			listings_found, listings_saved, listings_skipped, errors_count)
		VALUES (?, ?, ?, ?, 0, 0, 0, 0, 0)`,
		run.RunUUID, run.ProfileID, run.StartedAt, run.Status)
	if err != nil {
		return err
	}
	run.ID, err = result.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.IngestRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET finished_at = ?, status = ?, pages_fetched = ?, listings_found = ?,
			listings_saved = ?, listings_skipped = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.PagesFetched, run.ListingsFound,
		run.ListingsSaved, run.ListingsSkipped, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, profileID string, limit int) ([]models.IngestRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_uuid, profile_id, started_at, finished_at, status, pages_fetched,
			listings_found, listings_saved, listings_skipped, errors_count
		FROM ingest_runs
		WHERE profile_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, profileID, sqliteLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.IngestRun
	for rows.Next() {
		var r models.IngestRun
		var status string
		if err := rows.Scan(&r.ID, &r.RunUUID, &r.ProfileID, &r.StartedAt, &r.FinishedAt, &status,
			&r.PagesFetched, &r.ListingsFound, &r.ListingsSaved, &r.ListingsSkipped, &r.ErrorsCount); err != nil {
			return nil, err
		}
		r.Status = models.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Log(ctx context.Context, runID *int64, level models.LogLevel, message, profileID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_logs (run_id, timestamp, level, message, profile_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, s.now(), string(level), message, profileID)
	return err
}

func (s *SQLiteStore) RunLogs(ctx context.Context, runID int64) ([]models.IngestLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message, profile_id
		FROM ingest_logs WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.IngestLog
	for rows.Next() {
		var l models.IngestLog
		var level string
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &level, &l.Message, &l.ProfileID); err != nil {
			return nil, err
		}
		l.Level = models.LogLevel(level)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================================================
// Profile stats
// =============================================================================

// UpdateProfileStats recomputes the aggregates for one profile from ingest_runs,
// leaving resume_page untouched.
func (s *SQLiteStore) UpdateProfileStats(ctx context.Context, profileID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_stats (profile_id, last_run_at, last_run_status, total_runs,
			total_saved, success_rate, avg_run_duration_sec)
		SELECT
			?,
			(SELECT started_at FROM ingest_runs WHERE profile_id = ? ORDER BY started_at DESC, id DESC LIMIT 1),
			(SELECT status FROM ingest_runs WHERE profile_id = ? ORDER BY started_at DESC, id DESC LIMIT 1),
			(SELECT COUNT(*) FROM ingest_runs WHERE profile_id = ?),
			(SELECT COALESCE(SUM(listings_saved), 0) FROM ingest_runs WHERE profile_id = ?),
			(SELECT COALESCE(CAST(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS REAL) /
				NULLIF(COUNT(*), 0), 0) FROM ingest_runs WHERE profile_id = ?),
			(SELECT COALESCE(AVG(CAST(ROUND((julianday(finished_at) - julianday(started_at)) * 86400) AS INTEGER)), 0)
				FROM ingest_runs WHERE profile_id = ? AND finished_at IS NOT NULL)
		ON CONFLICT(profile_id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			total_runs = excluded.total_runs,
			total_saved = excluded.total_saved,
			success_rate = excluded.success_rate,
			avg_run_duration_sec = excluded.avg_run_duration_sec`,
		profileID, profileID, profileID, profileID, profileID, profileID, profileID)
	return err
}

func (s *SQLiteStore) GetProfileStats(ctx context.Context, profileID string) (*models.ProfileStats, error) {
	var st models.ProfileStats
	var lastRunAt sql.NullTime
	var lastStatus sql.NullString
	var avgDuration float64
	err := s.db.QueryRowContext(ctx, `
		SELECT profile_id, last_run_at, last_run_status, total_runs, total_saved,
			success_rate, avg_run_duration_sec, resume_page
		FROM profile_stats WHERE profile_id = ?`, profileID).Scan(
		&st.ProfileID, &lastRunAt, &lastStatus, &st.TotalRuns, &st.TotalSaved,
		&st.SuccessRate, &avgDuration, &st.ResumePage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.LastRunStatus = lastStatus.String
	st.AvgRunDurationSec = int(avgDuration)
	if lastRunAt.Valid {
		st.LastRunAt = &lastRunAt.Time
	}
	return &st, nil
}

// =============================================================================
// Resume pages
// =============================================================================

func (s *SQLiteStore) GetResumePage(ctx context.Context, profileID string) (int, error) {
	var page int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(resume_page, 0) FROM profile_stats WHERE profile_id = ?`, profileID).Scan(&page)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return page, err
}

func (s *SQLiteStore) SetResumePage(ctx context.Context, profileID string, page int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_stats (profile_id, resume_page)
		VALUES (?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET resume_page = excluded.resume_page`, profileID, page)
	return err
}

func (s *SQLiteStore) ClearResumePage(ctx context.Context, profileID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profile_stats SET resume_page = 0 WHERE profile_id = ?`, profileID)
	return err
}

// ProfilesToResume returns profiles whose last run stopped partway and whose
// last run started before cutoff.
func (s *SQLiteStore) ProfilesToResume(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT profile_id FROM profile_stats
		WHERE resume_page > 0 AND (last_run_at IS NULL OR julianday(last_run_at) <= julianday(?))
		ORDER BY profile_id`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
