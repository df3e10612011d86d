package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PegWatch/internal/domain/models"
	applogger "PegWatch/pkg/logger"
)

const ClickHouseSourceName = "clickhouse"

// ClickHousePriceSource reads the latest tick per upstream source from a
// ClickHouse table filled by external collectors.
type ClickHousePriceSource struct {
	db       *sql.DB
	table    string
	lookback time.Duration
	l        *applogger.Logger
	now      func() time.Time
}

func NewClickHousePriceSource(db *sql.DB, table string, lookback time.Duration) *ClickHousePriceSource {
	if lookback <= 0 {
		lookback = 5 * time.Minute
	}
	return &ClickHousePriceSource{db: db, table: table, lookback: lookback, l: applogger.NewNop(), now: time.Now}
}

// SetLogger injects a structured logger.
func (s *ClickHousePriceSource) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// SetClock overrides the clock used for the lookback window.
func (s *ClickHousePriceSource) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *ClickHousePriceSource) Name() string { return ClickHouseSourceName }

func (s *ClickHousePriceSource) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

// FetchPrices returns, for each symbol, the most recent price of every source
// seen within the lookback window.
func (s *ClickHousePriceSource) FetchPrices(ctx context.Context, symbols []string, chain string) ([]models.PriceObservation, error) {
	const qtpl = `
        SELECT source, argMax(price, ts) AS price, max(ts) AS last_ts, argMax(volume, ts) AS volume
        FROM %s
        WHERE symbol = ? AND chain = ? AND ts >= ?
        GROUP BY source
        ORDER BY source ASC
    `
	q := fmt.Sprintf(qtpl, s.table)
	since := s.now().Add(-s.lookback)

	out := make([]models.PriceObservation, 0, len(symbols))
	for _, raw := range symbols {
		symbol := strings.ToUpper(raw)
		rows, err := s.db.QueryContext(ctx, q, symbol, chain, since)
		if err != nil {
			s.l.Error("clickhouse latest_prices query error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.String("chain", chain),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("latest prices: %w", err)
		}

		for rows.Next() {
			var (
				source string
				price  float64
				ts     time.Time
				volume float64
			)
			if err := rows.Scan(&source, &price, &ts, &volume); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan price: %w", err)
			}
			obs := models.PriceObservation{Symbol: symbol, Price: price, Source: ClickHouseSourceName + ":" + source, Timestamp: ts}
			if volume > 0 {
				v := volume
				obs.Volume24h = &v
			}
			out = append(out, obs)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("rows: %w", err)
		}
	}
	return out, nil
}

// PriceTicksSchema returns the DDL for the table read by ClickHousePriceSource.
func PriceTicksSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            ts     DateTime64(3),
            symbol LowCardinality(String),
            chain  LowCardinality(String),
            source LowCardinality(String),
            price  Float64,
            volume Float64
        ) ENGINE = MergeTree
        ORDER BY (symbol, chain, ts)
        TTL toDateTime(ts) + INTERVAL 7 DAY
    `, table)}
}
