package repo

import (
	"context"
	"database/sql"
	"time"

	"prunsync/internal/domain"
)

func nullableIntPtr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r Repo) UpsertExchangeTx(ctx context.Context, tx *sql.Tx, e domain.Exchange) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO exchanges(ticker_id,ticker,exchange_code,mm_buy,mm_sell,price_average,ask,bid,ask_count,bid_count,supply,demand)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(ticker_id) DO UPDATE SET
ticker=excluded.ticker, exchange_code=excluded.exchange_code, mm_buy=excluded.mm_buy, mm_sell=excluded.mm_sell,
price_average=excluded.price_average, ask=excluded.ask, bid=excluded.bid, ask_count=excluded.ask_count,
bid_count=excluded.bid_count, supply=excluded.supply, demand=excluded.demand`,
		e.TickerID, e.Ticker, e.ExchangeCode, nullableFloatPtr(e.MMBuy), nullableFloatPtr(e.MMSell), e.PriceAverage,
		nullableFloatPtr(e.Ask), nullableFloatPtr(e.Bid), nullableIntPtr(e.AskCount), nullableIntPtr(e.BidCount),
		nullableIntPtr(e.Supply), nullableIntPtr(e.Demand))
	return err
}

func scanExchange(scan func(dest ...any) error) (domain.Exchange, error) {
	var e domain.Exchange
	var mmBuy, mmSell, ask, bid sql.NullFloat64
	var askCount, bidCount, supply, demand sql.NullInt64
	err := scan(&e.TickerID, &e.Ticker, &e.ExchangeCode, &mmBuy, &mmSell, &e.PriceAverage, &ask, &bid, &askCount, &bidCount, &supply, &demand)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if mmBuy.Valid {
		e.MMBuy = &mmBuy.Float64
	}
	if mmSell.Valid {
		e.MMSell = &mmSell.Float64
	}
	if ask.Valid {
		e.Ask = &ask.Float64
	}
	if bid.Valid {
		e.Bid = &bid.Float64
	}
	if askCount.Valid {
		e.AskCount = &askCount.Int64
	}
	if bidCount.Valid {
		e.BidCount = &bidCount.Int64
	}
	if supply.Valid {
		e.Supply = &supply.Int64
	}
	if demand.Valid {
		e.Demand = &demand.Int64
	}
	return e, nil
}

const exchangeColumns = `ticker_id,ticker,exchange_code,mm_buy,mm_sell,price_average,ask,bid,ask_count,bid_count,supply,demand`

func (r Repo) GetExchange(ctx context.Context, tickerID string) (domain.Exchange, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE ticker_id=?`, tickerID)
	return scanExchange(row.Scan)
}

func (r Repo) ListExchanges(ctx context.Context) ([]domain.Exchange, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges ORDER BY ticker_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Exchange
	for rows.Next() {
		e, err := scanExchange(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListTickerPairs returns the (ticker, exchange code) pairs known to the
// exchange table. The price refresh fans out over this set.
func (r Repo) ListTickerPairs(ctx context.Context) ([][2]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT ticker,exchange_code FROM exchanges ORDER BY ticker_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res [][2]string
	for rows.Next() {
		var pair [2]string
		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, err
		}
		res = append(res, pair)
	}
	return res, rows.Err()
}

// InsertPriceBarsTx appends bars to the series. The series is
// append-only; a bar already present for (ticker, code, date) wins.
func (r Repo) InsertPriceBarsTx(ctx context.Context, tx *sql.Tx, bars []domain.PriceBar) error {
	for _, b := range bars {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO exchange_prices(ticker,exchange_code,date_epoch_ms,open,close,high,low,volume,traded) VALUES (?,?,?,?,?,?,?,?,?)`,
			b.Ticker, b.ExchangeCode, b.DateEpochMs, b.Open, b.Close, b.High, b.Low, b.Volume, b.Traded)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListPriceBars(ctx context.Context, ticker, exchangeCode string, since time.Time) ([]domain.PriceBar, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT ticker,exchange_code,date_epoch_ms,open,close,high,low,volume,traded FROM exchange_prices
WHERE ticker=? AND exchange_code=? AND date_epoch_ms>=? ORDER BY date_epoch_ms`, ticker, exchangeCode, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PriceBar
	for rows.Next() {
		var b domain.PriceBar
		if err := rows.Scan(&b.Ticker, &b.ExchangeCode, &b.DateEpochMs, &b.Open, &b.Close, &b.High, &b.Low, &b.Volume, &b.Traded); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) UpsertAnalytics(ctx context.Context, a domain.ExchangeAnalytics) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO exchange_analytics(ticker,exchange_code,window_days,avg_price,avg_volume,bar_count,computed_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(ticker,exchange_code,window_days) DO UPDATE SET
avg_price=excluded.avg_price, avg_volume=excluded.avg_volume, bar_count=excluded.bar_count, computed_at=excluded.computed_at`,
		a.Ticker, a.ExchangeCode, a.WindowDays, a.AvgPrice, a.AvgVolume, a.BarCount, a.ComputedAt.UTC().Format(time.RFC3339))
	return err
}

func (r Repo) ListAnalytics(ctx context.Context) ([]domain.ExchangeAnalytics, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT ticker,exchange_code,window_days,avg_price,avg_volume,bar_count,computed_at FROM exchange_analytics ORDER BY ticker,exchange_code,window_days`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExchangeAnalytics
	for rows.Next() {
		var a domain.ExchangeAnalytics
		var computed string
		if err := rows.Scan(&a.Ticker, &a.ExchangeCode, &a.WindowDays, &a.AvgPrice, &a.AvgVolume, &a.BarCount, &computed); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, computed)
		if err != nil {
			return nil, err
		}
		a.ComputedAt = t
		res = append(res, a)
	}
	return res, rows.Err()
}
