// Package repo is the persistence layer. All writes that must be
// atomic take a *sql.Tx so callers control transaction boundaries.
package repo

import (
	"database/sql"
	"errors"
	"time"

	"prunsync/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// automationColumns is the column list shared by every table that
// carries an automation state. Keep scanAutomation in sync with it.
const automationColumns = `automation_status,automation_last_refreshed_at,automation_next_retry_at,automation_error_count,automation_last_error`

func automationFromRow(status string, lastRefreshed, nextRetry, lastError sql.NullString, errCount int) (domain.AutomationState, error) {
	st := domain.AutomationState{
		Status:     status,
		ErrorCount: errCount,
	}
	if lastRefreshed.Valid {
		t, err := time.Parse(time.RFC3339, lastRefreshed.String)
		if err != nil {
			return st, err
		}
		st.LastRefreshedAt = &t
	}
	if nextRetry.Valid {
		t, err := time.Parse(time.RFC3339, nextRetry.String)
		if err != nil {
			return st, err
		}
		st.NextRetryAt = &t
	}
	if lastError.Valid {
		st.LastError = lastError.String
	}
	return st, nil
}

func automationArgs(st domain.AutomationState) []any {
	return []any{
		st.Status,
		nullableTime(st.LastRefreshedAt),
		nullableTime(st.NextRetryAt),
		st.ErrorCount,
		nullable(st.LastError),
	}
}
