// Package analytics derives rolling price statistics from the stored
// bar series. Aggregates are stored separately from the series and
// recomputed after every price refresh.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"prunsync/internal/cache"
	"prunsync/internal/domain"
	"prunsync/internal/repo"
)

// Rolling windows computed per ticker/exchange pair, in days.
var Windows = []int{7, 30}

type Aggregator struct {
	Repo  repo.Repo
	Cache *cache.Store
	Log   *slog.Logger
	Now   func() time.Time
}

func New(r repo.Repo, store *cache.Store, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{Repo: r, Cache: store, Log: log, Now: time.Now}
}

// Recompute rebuilds all window aggregates for every known pair, then
// purges the derived cache entries. Pairs without bars inside a window
// get no row for that window.
func (a *Aggregator) Recompute(ctx context.Context) (int, error) {
	pairs, err := a.Repo.ListTickerPairs(ctx)
	if err != nil {
		return 0, err
	}
	now := a.Now()
	written := 0
	for _, pair := range pairs {
		ticker, code := pair[0], pair[1]
		for _, window := range Windows {
			since := now.AddDate(0, 0, -window)
			bars, err := a.Repo.ListPriceBars(ctx, ticker, code, since)
			if err != nil {
				return written, err
			}
			if len(bars) == 0 {
				continue
			}
			agg := aggregate(ticker, code, window, bars, now)
			if err := a.Repo.UpsertAnalytics(ctx, agg); err != nil {
				return written, err
			}
			written++
		}
	}
	a.Log.Info("analytics_recomputed", "pairs", len(pairs), "rows", written)

	a.Cache.Delete(cache.KeyAnalyticsList())
	a.Cache.DeletePattern(cache.Key(cache.NamespaceGamedata, "exchange", "cxpc") + "*")
	return written, nil
}

func aggregate(ticker, code string, window int, bars []domain.PriceBar, now time.Time) domain.ExchangeAnalytics {
	var priceSum, volumeSum float64
	for _, b := range bars {
		priceSum += b.Close
		volumeSum += b.Volume
	}
	n := float64(len(bars))
	return domain.ExchangeAnalytics{
		Ticker:       ticker,
		ExchangeCode: code,
		WindowDays:   window,
		AvgPrice:     priceSum / n,
		AvgVolume:    volumeSum / n,
		BarCount:     int64(len(bars)),
		ComputedAt:   now,
	}
}
