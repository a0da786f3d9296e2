package domain

import "time"

// Refresh status values. An entity in pending is owned by exactly one
// in-flight refresh; failed requires operator intervention.
const (
	StatusOK       = "ok"
	StatusPending  = "pending"
	StatusRetrying = "retrying"
	StatusFailed   = "failed"
)

// MaxRetries is the error count at which an entity is considered
// permanently failed and excluded from automatic refresh.
const MaxRetries = 10

// Fixed retry delays per entity type. Backoff is flat, not exponential:
// the upstream either recovers within minutes or not at all.
const (
	PlanetRetryDelay = 15 * time.Minute
	PlayerRetryDelay = 30 * time.Minute
)

const maxErrorLen = 2000

// AutomationState tracks refresh health for one entity. The zero value
// is not valid; new entities start via NewAutomationState.
type AutomationState struct {
	Status          string
	LastRefreshedAt *time.Time
	NextRetryAt     *time.Time
	ErrorCount      int
	LastError       string
}

func NewAutomationState(now time.Time) AutomationState {
	return AutomationState{Status: StatusOK, LastRefreshedAt: &now}
}

// PermanentlyFailed reports whether the entity has exhausted its
// automatic retries.
func (s AutomationState) PermanentlyFailed() bool {
	return s.ErrorCount >= MaxRetries
}

// RecordSuccess resets the state to ok. Legal from any state, including
// failed: a successful operator-triggered refresh clears the failure.
func (s *AutomationState) RecordSuccess(now time.Time) {
	s.Status = StatusOK
	s.ErrorCount = 0
	s.LastError = ""
	s.NextRetryAt = nil
	s.LastRefreshedAt = &now
}

// RecordFailure counts the failure and schedules the next retry after
// the fixed delay, or transitions to failed once MaxRetries is reached.
func (s *AutomationState) RecordFailure(err error, now time.Time, delay time.Duration) {
	s.ErrorCount++

	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	s.LastError = msg
	s.LastRefreshedAt = &now

	if s.PermanentlyFailed() {
		s.Status = StatusFailed
		s.NextRetryAt = nil
		return
	}
	retryAt := now.Add(delay)
	s.Status = StatusRetrying
	s.NextRetryAt = &retryAt
}
