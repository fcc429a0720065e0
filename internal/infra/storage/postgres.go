package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"orderflow_go/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
)

// Existing deployments already have the orderflow table with float4 quantity
// columns and without the tick columns. Cumulative quantities pass 2^24, so
// the quantity columns are widened to BIGINT and ltp to DOUBLE PRECISION.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS orderflow (
	id SERIAL PRIMARY KEY,
	security_id TEXT,
	timestamp TIMESTAMP,
	buy_volume BIGINT,
	sell_volume BIGINT,
	ltp DOUBLE PRECISION,
	volume BIGINT
);
DO $$
BEGIN
	IF EXISTS (SELECT 1 FROM information_schema.columns
		WHERE table_name = 'orderflow' AND column_name = 'buy_volume' AND data_type = 'real') THEN
		ALTER TABLE orderflow
			ALTER COLUMN buy_volume TYPE BIGINT USING round(buy_volume)::bigint,
			ALTER COLUMN sell_volume TYPE BIGINT USING round(sell_volume)::bigint,
			ALTER COLUMN volume TYPE BIGINT USING round(volume)::bigint,
			ALTER COLUMN ltp TYPE DOUBLE PRECISION;
	END IF;
END
$$;
ALTER TABLE orderflow ADD COLUMN IF NOT EXISTS buy_initiated BIGINT DEFAULT 0;
ALTER TABLE orderflow ADD COLUMN IF NOT EXISTS sell_initiated BIGINT DEFAULT 0;
ALTER TABLE orderflow ADD COLUMN IF NOT EXISTS tick_delta BIGINT DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_orderflow_security_ts ON orderflow (security_id, timestamp);

CREATE TABLE IF NOT EXISTS instruments (
	security_id BIGINT PRIMARY KEY,
	symbol TEXT NOT NULL,
	exchange TEXT NOT NULL,
	segment TEXT NOT NULL,
	exchange_segment TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const (
	insertFlowSQL = `
		INSERT INTO orderflow (security_id, timestamp, buy_volume, sell_volume, ltp, volume,
			buy_initiated, sell_initiated, tick_delta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	selectFlowSQL = `
		SELECT id, timestamp, COALESCE(buy_volume, 0), COALESCE(sell_volume, 0),
			COALESCE(ltp, 0), COALESCE(volume, 0),
			COALESCE(buy_initiated, 0), COALESCE(sell_initiated, 0), COALESCE(tick_delta, 0)
		FROM orderflow
		WHERE security_id = $1 AND timestamp >= $2 AND ($3::timestamp IS NULL OR timestamp <= $3)
		ORDER BY timestamp ASC, id ASC`

	upsertInstrumentSQL = `
		INSERT INTO instruments (security_id, symbol, exchange, segment, exchange_segment, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (security_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			exchange = EXCLUDED.exchange,
			segment = EXCLUDED.segment,
			exchange_segment = EXCLUDED.exchange_segment,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()`

	selectInstrumentsSQL = `
		SELECT security_id, symbol, exchange, segment, exchange_segment, is_active, created_at, updated_at
		FROM instruments ORDER BY security_id ASC`
)

// PostgresStorage keeps flow rows in the orderflow table.
// Timestamps are written as UTC wall time into the TIMESTAMP column.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to dsn and migrates the schema.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

func (s *PostgresStorage) Append(ctx context.Context, row domain.FlowRow) error {
	ltp, _ := row.LTP.Float64()
	_, err := s.pool.Exec(ctx, insertFlowSQL,
		strconv.FormatUint(uint64(row.SecurityID), 10),
		row.Timestamp.UTC(),
		row.BuyVolume,
		row.SellVolume,
		ltp,
		row.Volume,
		row.BuyInitiated,
		row.SellInitiated,
		row.TickDelta,
	)
	if err != nil {
		return fmt.Errorf("insert orderflow row: %w", err)
	}
	return nil
}

func (s *PostgresStorage) QueryRange(ctx context.Context, securityID uint32, from, to time.Time) ([]domain.FlowRow, error) {
	var upper *time.Time
	if !to.IsZero() {
		u := to.UTC()
		upper = &u
	}

	rows, err := s.pool.Query(ctx, selectFlowSQL,
		strconv.FormatUint(uint64(securityID), 10), from.UTC(), upper)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.FlowRow{}
	for rows.Next() {
		var (
			r   domain.FlowRow
			id  int32
			ltp float64
		)
		if err := rows.Scan(&id, &r.Timestamp, &r.BuyVolume, &r.SellVolume, &ltp, &r.Volume,
			&r.BuyInitiated, &r.SellInitiated, &r.TickDelta); err != nil {
			return nil, err
		}
		r.ID = uint64(id)
		r.SecurityID = securityID
		r.LTP = decimal.NewFromFloat(ltp).Round(2)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) UpsertInstruments(ctx context.Context, instruments []domain.Instrument) error {
	batch := &pgx.Batch{}
	for _, in := range instruments {
		batch.Queue(upsertInstrumentSQL, int64(in.SecurityID), in.Symbol, in.Exchange,
			in.Segment, in.ExchangeSegment, in.IsActive)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range instruments {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert instrument: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) AllInstruments(ctx context.Context) ([]domain.Instrument, error) {
	rows, err := s.pool.Query(ctx, selectInstrumentsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []domain.Instrument
	for rows.Next() {
		var (
			in domain.Instrument
			id int64
		)
		if err := rows.Scan(&id, &in.Symbol, &in.Exchange, &in.Segment, &in.ExchangeSegment,
			&in.IsActive, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, err
		}
		in.SecurityID = uint32(id)
		instruments = append(instruments, in)
	}
	return instruments, rows.Err()
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}
