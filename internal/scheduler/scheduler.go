// Package scheduler drives the background refresh loops: picking stale
// entities, claiming them, running the import and recording the
// outcome. All retry policy lives here and in domain.AutomationState;
// importers and the upstream client never retry on their own.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"prunsync/internal/analytics"
	"prunsync/internal/cache"
	"prunsync/internal/config"
	"prunsync/internal/domain"
	"prunsync/internal/events"
	"prunsync/internal/importer"
	"prunsync/internal/metrics"
	"prunsync/internal/repo"
)

// Event collections.
const (
	CollectionPlanet   = "planet"
	CollectionPlayer   = "player"
	CollectionExchange = "exchange"
	CollectionPrices   = "prices"
	CollectionMaterial = "material"
	CollectionBuilding = "building"
	CollectionRecipe   = "recipe"
)

// Player staleness policy: players seen within the last day are
// refreshed every 30 minutes, everyone else every 6 hours.
const (
	playerActiveWithin = 24 * time.Hour
	playerActiveCut    = 30 * time.Minute
	playerIdleCut      = 6 * time.Hour
)

const playerWorkers = 4

type Scheduler struct {
	Cfg       *config.Config
	Repo      repo.Repo
	Importer  *importer.Importer
	Analytics *analytics.Aggregator
	Events    *events.Writer
	Metrics   *metrics.Metrics
	Cache     *cache.Store
	Log       *slog.Logger
	Now       func() time.Time
}

func New(cfg *config.Config, r repo.Repo, im *importer.Importer, agg *analytics.Aggregator, ev *events.Writer, m *metrics.Metrics, store *cache.Store, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		Cfg:       cfg,
		Repo:      r,
		Importer:  im,
		Analytics: agg,
		Events:    ev,
		Metrics:   m,
		Cache:     store,
		Log:       log,
		Now:       time.Now,
	}
}

// Start runs all refresh loops until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"planet", s.Cfg.Scheduler.PlanetInterval.Std(), func(ctx context.Context) {
			if _, err := s.RefreshNextPlanet(ctx); err != nil {
				s.Log.Error("planet_refresh_failed", "error", err)
			}
		}},
		{"player_dispatch", s.Cfg.Scheduler.PlayerDispatchInterval.Std(), func(ctx context.Context) {
			if _, err := s.DispatchPlayerRefresh(ctx); err != nil {
				s.Log.Error("player_dispatch_failed", "error", err)
			}
		}},
		{"exchange", s.Cfg.Scheduler.ExchangeInterval.Std(), func(ctx context.Context) {
			if err := s.RefreshExchanges(ctx); err != nil {
				s.Log.Error("exchange_refresh_failed", "error", err)
			}
		}},
		{"prices", s.Cfg.Scheduler.PriceInterval.Std(), func(ctx context.Context) {
			if err := s.RefreshPrices(ctx); err != nil {
				s.Log.Error("price_refresh_failed", "error", err)
			}
		}},
		{"static", s.Cfg.Scheduler.StaticInterval.Std(), func(ctx context.Context) {
			if err := s.RefreshStatic(ctx); err != nil {
				s.Log.Error("static_refresh_failed", "error", err)
			}
		}},
		{"reclaim", s.Cfg.Scheduler.ReclaimInterval.Std(), func(ctx context.Context) {
			if n, err := s.ReclaimStalePending(ctx); err != nil {
				s.Log.Error("pending_reclaim_failed", "error", err)
			} else if n > 0 {
				s.Log.Warn("pending_reclaimed", "count", n)
			}
		}},
	}
	for _, l := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, run func(context.Context)) {
			defer wg.Done()
			s.Log.Info("scheduler_loop_started", "loop", name, "interval", interval.String())
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					run(ctx)
				case <-ctx.Done():
					return
				}
			}
		}(l.name, l.interval, l.run)
	}
	wg.Wait()
}

// RefreshNextPlanet refreshes the single stalest eligible planet.
// Returns the natural ID refreshed, or "" when nothing was due or the
// claim was lost to a concurrent worker.
func (s *Scheduler) RefreshNextPlanet(ctx context.Context) (string, error) {
	planet, err := s.Repo.NextEligiblePlanet(ctx, s.Now(), domain.MaxRetries)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	claimed, err := s.Repo.MarkPlanetPending(ctx, planet.NaturalID, s.Now())
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", nil
	}
	return planet.NaturalID, s.RefreshPlanet(ctx, planet)
}

// RefreshPlanet runs one claimed planet refresh to completion. The
// caller must already hold the pending claim.
func (s *Scheduler) RefreshPlanet(ctx context.Context, planet domain.Planet) error {
	start := s.Now()
	importErr := s.Importer.ImportPlanet(ctx, planet.NaturalID)
	duration := s.Now().Sub(start)

	st := planet.Automation
	if importErr == nil {
		st.RecordSuccess(s.Now())
	} else {
		st.RecordFailure(importErr, s.Now(), domain.PlanetRetryDelay)
	}
	if err := s.Repo.UpdatePlanetAutomation(ctx, planet.NaturalID, st); err != nil {
		return err
	}
	s.recordOutcome(ctx, CollectionPlanet, planet.NaturalID, importErr, duration)
	return importErr
}

// DispatchPlayerRefresh claims every stale player and refreshes them on
// a bounded worker pool. Returns how many players were dispatched.
func (s *Scheduler) DispatchPlayerRefresh(ctx context.Context) (int, error) {
	players, err := s.Repo.EligiblePlayers(ctx, s.Now(), playerActiveWithin, playerActiveCut, playerIdleCut,
		domain.MaxRetries, s.Cfg.Scheduler.PlayerBatchLimit)
	if err != nil {
		return 0, err
	}
	claimed := make([]domain.Player, 0, len(players))
	for _, p := range players {
		ok, err := s.Repo.MarkPlayerPending(ctx, p.UserID, s.Now())
		if err != nil {
			return 0, err
		}
		if ok {
			claimed = append(claimed, p)
		}
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	jobs := make(chan domain.Player)
	var wg sync.WaitGroup
	for i := 0; i < playerWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				s.RefreshPlayer(ctx, p)
			}
		}()
	}
	for _, p := range claimed {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	return len(claimed), nil
}

// RefreshPlayer runs one claimed player refresh. Snapshots and the
// automation outcome are written in a single update so readers never
// see fresh data under a stale status.
func (s *Scheduler) RefreshPlayer(ctx context.Context, player domain.Player) {
	start := s.Now()
	snaps, fetchErr := s.Importer.FetchPlayerSnapshots(ctx, player.Username, player.APIKey)
	duration := s.Now().Sub(start)

	st := player.Automation
	if fetchErr == nil {
		st.RecordSuccess(s.Now())
		if err := s.Repo.UpdatePlayerData(ctx, player.UserID, snaps.Storage, snaps.Sites, snaps.Warehouses, snaps.Ships, st); err != nil {
			s.Log.Error("player_data_write_failed", "user_id", player.UserID, "error", err)
			return
		}
		s.Cache.Delete(cache.KeyPlayerStorage(player.UserID))
	} else {
		st.RecordFailure(fetchErr, s.Now(), domain.PlayerRetryDelay)
		if err := s.Repo.UpdatePlayerAutomation(ctx, player.UserID, st); err != nil {
			s.Log.Error("player_automation_write_failed", "user_id", player.UserID, "error", err)
			return
		}
	}
	s.recordOutcome(ctx, CollectionPlayer, player.UserID, fetchErr, duration)
}

func (s *Scheduler) RefreshExchanges(ctx context.Context) error {
	return s.RefreshCollection(ctx, CollectionExchange)
}

// RefreshCollection runs one full-collection import and records the
// outcome, so manual triggers leave the same audit trail as the
// ticker loops.
func (s *Scheduler) RefreshCollection(ctx context.Context, collection string) error {
	var run func(context.Context) (int, error)
	switch collection {
	case CollectionMaterial:
		run = s.Importer.ImportAllMaterials
	case CollectionBuilding:
		run = s.Importer.ImportAllBuildings
	case CollectionRecipe:
		run = s.Importer.ImportAllRecipes
	case CollectionExchange:
		run = s.Importer.ImportAllExchanges
	case CollectionPlanet:
		run = s.Importer.ImportAllPlanets
	default:
		return fmt.Errorf("unknown collection %q", collection)
	}
	start := s.Now()
	_, err := run(ctx)
	s.recordOutcome(ctx, collection, "", err, s.Now().Sub(start))
	return err
}

// RefreshPrices fans the price pull out over every known ticker pair,
// waits for all workers to finish, then recomputes the analytics and
// purges the derived cache entries. The aggregate step never runs
// against a half-written batch.
func (s *Scheduler) RefreshPrices(ctx context.Context) error {
	pairs, err := s.Repo.ListTickerPairs(ctx)
	if err != nil {
		return err
	}
	start := s.Now()

	jobs := make(chan [2]string)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures int
	var firstErr error
	for i := 0; i < s.Cfg.Scheduler.PriceWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pair := range jobs {
				if _, err := s.Importer.ImportPrices(ctx, pair[0], pair[1]); err != nil {
					s.Log.Error("price_pull_failed", "ticker", pair[0], "exchange_code", pair[1], "error", err)
					mu.Lock()
					failures++
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}
	for _, pair := range pairs {
		jobs <- pair
	}
	close(jobs)
	wg.Wait()

	if _, err := s.Analytics.Recompute(ctx); err != nil {
		return err
	}
	duration := s.Now().Sub(start)
	if failures > 0 {
		s.recordOutcome(ctx, CollectionPrices, "", firstErr, duration)
		s.Log.Warn("price_refresh_partial", "pairs", len(pairs), "failures", failures)
		return nil
	}
	s.recordOutcome(ctx, CollectionPrices, "", nil, duration)
	return nil
}

// RefreshStatic reloads the versionless collections and does a full
// planet sync.
func (s *Scheduler) RefreshStatic(ctx context.Context) error {
	for _, collection := range []string{CollectionMaterial, CollectionBuilding, CollectionRecipe, CollectionPlanet} {
		if err := s.RefreshCollection(ctx, collection); err != nil {
			return err
		}
	}
	return nil
}

// ReclaimStalePending recovers entities whose claim outlived the
// reclaim window, meaning the worker died without reporting back.
// Recovery is recorded as a failure so the retry bookkeeping stays
// consistent.
func (s *Scheduler) ReclaimStalePending(ctx context.Context) (int, error) {
	cutoff := s.Now().Add(-s.Cfg.Scheduler.ReclaimPendingAfter.Std())
	lost := errors.New("refresh worker lost; reclaimed stale pending")

	planets, err := s.Repo.StalePendingPlanets(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, naturalID := range planets {
		planet, err := s.Repo.GetPlanet(ctx, naturalID)
		if err != nil {
			return reclaimed, err
		}
		st := planet.Automation
		st.RecordFailure(lost, s.Now(), domain.PlanetRetryDelay)
		if err := s.Repo.UpdatePlanetAutomation(ctx, naturalID, st); err != nil {
			return reclaimed, err
		}
		s.Events.Append(ctx, CollectionPlanet, naturalID, events.OutcomeReclaimed, lost.Error(), 0)
		s.Metrics.PendingReclaims.Inc()
		reclaimed++
	}

	players, err := s.Repo.StalePendingPlayers(ctx, cutoff)
	if err != nil {
		return reclaimed, err
	}
	for _, userID := range players {
		player, err := s.Repo.GetPlayer(ctx, userID)
		if err != nil {
			return reclaimed, err
		}
		st := player.Automation
		st.RecordFailure(lost, s.Now(), domain.PlayerRetryDelay)
		if err := s.Repo.UpdatePlayerAutomation(ctx, userID, st); err != nil {
			return reclaimed, err
		}
		s.Events.Append(ctx, CollectionPlayer, userID, events.OutcomeReclaimed, lost.Error(), 0)
		s.Metrics.PendingReclaims.Inc()
		reclaimed++
	}
	return reclaimed, nil
}

func (s *Scheduler) recordOutcome(ctx context.Context, collection, naturalID string, err error, duration time.Duration) {
	outcome := events.OutcomeSuccess
	detail := ""
	if err != nil {
		outcome = events.OutcomeFailure
		detail = err.Error()
	}
	s.Events.Append(ctx, collection, naturalID, outcome, detail, duration)
	s.Metrics.ObserveRefresh(collection, outcome, duration.Seconds())
}
