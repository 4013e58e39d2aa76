package store

import (
	"fmt"
	"time"

	"github.com/lotwatch/lotwatch/internal/model"
)

// RecordCheck appends one check-log row for a target.
func (r *Repo) RecordCheck(e model.CheckLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO check_logs (target_id, checked_at_ns, outcome, elapsed_ms, found_available, snapshot_hash, error_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.TargetID, e.CheckedAtNs, e.Outcome, e.ElapsedMs, e.FoundAvailable, e.SnapshotHash, e.ErrorText)
	if err != nil {
		return fmt.Errorf("insert check log: %w", err)
	}
	return nil
}

// RecentChecks returns the latest check-log rows for a target.
func (r *Repo) RecentChecks(targetID string, limit int) ([]model.CheckLogEntry, error) {
	rows, err := r.db.Query(`
		SELECT id, target_id, checked_at_ns, outcome, elapsed_ms, found_available, snapshot_hash, error_text
		FROM check_logs WHERE target_id = ?
		ORDER BY checked_at_ns DESC LIMIT ?
	`, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.CheckLogEntry
	for rows.Next() {
		var e model.CheckLogEntry
		if err := rows.Scan(&e.ID, &e.TargetID, &e.CheckedAtNs, &e.Outcome,
			&e.ElapsedMs, &e.FoundAvailable, &e.SnapshotHash, &e.ErrorText); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// PruneCheckLogs removes check-log rows older than the retention window.
// Returns the number of rows removed.
func (r *Repo) PruneCheckLogs(retention time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-retention).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec("DELETE FROM check_logs WHERE checked_at_ns < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune check logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
