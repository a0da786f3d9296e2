package repo

import (
	"context"
	"database/sql"
	"time"

	"prunsync/internal/domain"
)

// NextEligiblePlanet picks the stalest planet due for a refresh.
// Planets already being refreshed, permanently failed, or waiting on a
// backoff window are excluded; never-refreshed planets sort first.
func (r Repo) NextEligiblePlanet(ctx context.Context, now time.Time, maxRetries int) (domain.Planet, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+planetColumns+` FROM planets
WHERE automation_status NOT IN ('pending','failed')
AND automation_error_count < ?
AND (automation_next_retry_at IS NULL OR automation_next_retry_at <= ?)
ORDER BY automation_last_refreshed_at IS NOT NULL, automation_last_refreshed_at ASC
LIMIT 1`, maxRetries, now.UTC().Format(time.RFC3339))
	return scanPlanet(row.Scan)
}

// MarkPlanetPending is the single-flight guard: it flips the planet to
// pending only if no other worker holds it. The zero-row case means
// someone else won the race.
func (r Repo) MarkPlanetPending(ctx context.Context, naturalID string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE planets SET automation_status=?, automation_pending_since=? WHERE natural_id=? AND automation_status<>?`,
		domain.StatusPending, now.UTC().Format(time.RFC3339), naturalID, domain.StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) MarkPlayerPending(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE players SET automation_status=?, automation_pending_since=? WHERE user_id=? AND automation_status<>?`,
		domain.StatusPending, now.UTC().Format(time.RFC3339), userID, domain.StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) UpdatePlanetAutomation(ctx context.Context, naturalID string, st domain.AutomationState) error {
	args := automationArgs(st)
	args = append(args, naturalID)
	res, err := r.DB.ExecContext(ctx, `UPDATE planets SET automation_status=?, automation_last_refreshed_at=?, automation_next_retry_at=?, automation_error_count=?, automation_last_error=?, automation_pending_since=NULL WHERE natural_id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdatePlanetAutomationTx(ctx context.Context, tx *sql.Tx, naturalID string, st domain.AutomationState) error {
	args := automationArgs(st)
	args = append(args, naturalID)
	res, err := tx.ExecContext(ctx, `UPDATE planets SET automation_status=?, automation_last_refreshed_at=?, automation_next_retry_at=?, automation_error_count=?, automation_last_error=?, automation_pending_since=NULL WHERE natural_id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdatePlayerAutomation(ctx context.Context, userID string, st domain.AutomationState) error {
	args := automationArgs(st)
	args = append(args, userID)
	res, err := r.DB.ExecContext(ctx, `UPDATE players SET automation_status=?, automation_last_refreshed_at=?, automation_next_retry_at=?, automation_error_count=?, automation_last_error=?, automation_pending_since=NULL WHERE user_id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StalePendingPlanets lists planets claimed as pending before the
// cutoff, meaning the worker that claimed them never reported back.
func (r Repo) StalePendingPlanets(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.stalePending(ctx, `SELECT natural_id FROM planets WHERE automation_status=? AND (automation_pending_since IS NULL OR automation_pending_since <= ?)`, cutoff)
}

func (r Repo) StalePendingPlayers(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.stalePending(ctx, `SELECT user_id FROM players WHERE automation_status=? AND (automation_pending_since IS NULL OR automation_pending_since <= ?)`, cutoff)
}

func (r Repo) stalePending(ctx context.Context, query string, cutoff time.Time) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, domain.StatusPending, cutoff.UTC().Format(time.RFC3339))
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

// StatusCounts returns automation status tallies for the dashboard.
func (r Repo) StatusCounts(ctx context.Context, table string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT automation_status, count(*) FROM `+table+` GROUP BY automation_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
