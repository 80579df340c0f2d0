package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tradeloop/internal/core"
)

// StartRun inserts a run-log row in the running state and returns its id.
func (s *Store) StartRun(ctx context.Context, kind core.RunKind) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (kind, started_at, status) VALUES (?, ?, ?)`,
		string(kind), time.Now().UTC(), string(core.RunRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

// FinishRun finalizes a run-log row exactly once with its outcome.
func (s *Store) FinishRun(ctx context.Context, id int64, status core.RunStatus, usageJSON, errorText string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, usage_json = ?, error_text = ?
		WHERE id = ? AND status = ?`,
		time.Now().UTC(), string(status), usageJSON, errorText, id, string(core.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to finish run %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %d is not in running state", id)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first, optionally filtered
// by kind (empty kind means all kinds).
func (s *Store) RecentRuns(ctx context.Context, kind core.RunKind, limit int) ([]core.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, kind, started_at, finished_at, status, usage_json, error_text FROM runs`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []core.RunRecord
	for rows.Next() {
		var rec core.RunRecord
		var kindStr, statusStr string
		var finished sql.NullTime
		if err := rows.Scan(&rec.ID, &kindStr, &rec.StartedAt, &finished, &statusStr, &rec.UsageJSON, &rec.ErrorText); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Kind = core.RunKind(kindStr)
		rec.Status = core.RunStatus(statusStr)
		rec.StartedAt = rec.StartedAt.UTC()
		if finished.Valid {
			t := finished.Time.UTC()
			rec.FinishedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// StuckRuns returns runs still marked running that started before the given
// threshold. A stuck running row signals a process crash to ops tooling.
func (s *Store) StuckRuns(ctx context.Context, olderThan time.Time) ([]core.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, started_at, finished_at, status, usage_json, error_text
		FROM runs WHERE status = ? AND started_at < ?
		ORDER BY started_at`, string(core.RunRunning), olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck runs: %w", err)
	}
	defer rows.Close()

	var records []core.RunRecord
	for rows.Next() {
		var rec core.RunRecord
		var kindStr, statusStr string
		var finished sql.NullTime
		if err := rows.Scan(&rec.ID, &kindStr, &rec.StartedAt, &finished, &statusStr, &rec.UsageJSON, &rec.ErrorText); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Kind = core.RunKind(kindStr)
		rec.Status = core.RunStatus(statusStr)
		rec.StartedAt = rec.StartedAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
