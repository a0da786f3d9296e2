package repo

import (
	"context"
	"database/sql"
	"time"

	"prunsync/internal/domain"
)

const playerColumns = `user_id,username,api_key,last_active_at,storage_json,sites_json,warehouses_json,ships_json,` + automationColumns

func scanPlayer(scan func(dest ...any) error) (domain.Player, error) {
	var p domain.Player
	var apiKey, lastActive, storage, sites, warehouses, ships sql.NullString
	var status string
	var lastRefreshed, nextRetry, lastError sql.NullString
	var errCount int
	err := scan(&p.UserID, &p.Username, &apiKey, &lastActive, &storage, &sites, &warehouses, &ships,
		&status, &lastRefreshed, &nextRetry, &errCount, &lastError)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if apiKey.Valid {
		p.APIKey = apiKey.String
	}
	if lastActive.Valid {
		t, err := time.Parse(time.RFC3339, lastActive.String)
		if err != nil {
			return p, err
		}
		p.LastActiveAt = &t
	}
	if storage.Valid {
		p.StorageJSON = storage.String
	}
	if sites.Valid {
		p.SitesJSON = sites.String
	}
	if warehouses.Valid {
		p.WarehousesJSON = warehouses.String
	}
	if ships.Valid {
		p.ShipsJSON = ships.String
	}
	p.Automation, err = automationFromRow(status, lastRefreshed, nextRetry, lastError, errCount)
	return p, err
}

// UpsertPlayer registers or updates a linked FIO account. Snapshot and
// automation columns are untouched on conflict.
func (r Repo) UpsertPlayer(ctx context.Context, p domain.Player) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO players(user_id,username,api_key,last_active_at,automation_status)
VALUES (?,?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET username=excluded.username, api_key=excluded.api_key, last_active_at=excluded.last_active_at`,
		p.UserID, p.Username, nullable(p.APIKey), nullableTime(p.LastActiveAt), p.Automation.Status)
	return err
}

func (r Repo) GetPlayer(ctx context.Context, userID string) (domain.Player, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE user_id=?`, userID)
	return scanPlayer(row.Scan)
}

func (r Repo) ListPlayers(ctx context.Context) ([]domain.Player, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+playerColumns+` FROM players ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) TouchPlayerActivity(ctx context.Context, userID string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE players SET last_active_at=? WHERE user_id=?`, at.UTC().Format(time.RFC3339), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePlayerData stores fresh snapshots together with the automation
// outcome of the refresh that produced them.
func (r Repo) UpdatePlayerData(ctx context.Context, userID string, storage, sites, warehouses, ships string, st domain.AutomationState) error {
	args := []any{nullable(storage), nullable(sites), nullable(warehouses), nullable(ships)}
	args = append(args, automationArgs(st)...)
	args = append(args, userID)
	res, err := r.DB.ExecContext(ctx, `UPDATE players SET storage_json=?, sites_json=?, warehouses_json=?, ships_json=?,
automation_status=?, automation_last_refreshed_at=?, automation_next_retry_at=?, automation_error_count=?, automation_last_error=?, automation_pending_since=NULL WHERE user_id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EligiblePlayers selects players whose snapshots have gone stale.
// Recently active players (seen within activeWithin) age out after
// activeCut, everyone else after idleCut. Players mid-refresh, failed
// for good, or waiting on a retry are skipped.
func (r Repo) EligiblePlayers(ctx context.Context, now time.Time, activeWithin, activeCut, idleCut time.Duration, maxRetries, limit int) ([]domain.Player, error) {
	nowStr := now.UTC().Format(time.RFC3339)
	activeSince := now.Add(-activeWithin).UTC().Format(time.RFC3339)
	activeStale := now.Add(-activeCut).UTC().Format(time.RFC3339)
	idleStale := now.Add(-idleCut).UTC().Format(time.RFC3339)
	query := `SELECT ` + playerColumns + ` FROM players
WHERE automation_status NOT IN ('pending','failed')
AND automation_error_count < ?
AND (automation_next_retry_at IS NULL OR automation_next_retry_at <= ?)
AND api_key IS NOT NULL
AND (
	automation_last_refreshed_at IS NULL
	OR (last_active_at IS NOT NULL AND last_active_at >= ? AND automation_last_refreshed_at <= ?)
	OR ((last_active_at IS NULL OR last_active_at < ?) AND automation_last_refreshed_at <= ?)
)
ORDER BY automation_last_refreshed_at IS NOT NULL, automation_last_refreshed_at ASC
LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, maxRetries, nowStr, activeSince, activeStale, activeSince, idleStale, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
