package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/retry"
	"go.uber.org/zap"
)

const (
	windowsTable = "balance_windows"
	actionsTable = "actions"
)

// Conn is the subset of driver.Conn the sink uses.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

// ClickHouse inserts batches into balance_windows and actions.
type ClickHouse struct {
	conn     Conn
	database string
	logger   *zap.Logger
}

// OpenClickHouse connects with a clickhouse:// DSN, creates the database and tables if
// missing and returns the sink.
func OpenClickHouse(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouse, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	database := opts.Auth.Database
	if database == "" {
		database = "exposure"
	}
	opts.Auth.Database = "default"
	opts.DialTimeout = 30 * time.Second
	opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}

	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	var conn driver.Conn
	err = retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "clickhouse_connection", func() error {
		c, err := clickhouse.Open(opts)
		if err != nil {
			return fmt.Errorf("failed to open clickhouse connection: %w", err)
		}
		if err := c.Ping(connCtx); err != nil {
			_ = c.Close()
			return fmt.Errorf("failed to ping clickhouse: %w", err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("ClickHouse connection ready", zap.String("database", database))

	s := NewClickHouse(conn, database, logger)
	if err := s.Init(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func NewClickHouse(conn Conn, database string, logger *zap.Logger) *ClickHouse {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickHouse{conn: conn, database: database, logger: logger}
}

// Init creates the database and both tables.
func (s *ClickHouse) Init(ctx context.Context) error {
	queries := []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS "%s"`, s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s"."%s" (
			user String,
			asset String,
			activity LowCardinality(String),
			start_ts DateTime64(3),
			end_ts DateTime64(3),
			start_height UInt64,
			end_height UInt64,
			trigger LowCardinality(String),
			raw_before String,
			raw_after String,
			start_tx_ref String,
			end_tx_ref String,
			log_index Nullable(Int64),
			meta Map(String, String),
			decimals Int32,
			twa_price Decimal(76, 18),
			value_usd Decimal(76, 18),
			duration_ms Int64,
			covered_ms Int64,
			samples UInt32
		) ENGINE = ReplacingMergeTree
		ORDER BY (asset, user, start_ts)`, s.database, windowsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s"."%s" (
			key String,
			user String,
			priceable Bool,
			asset String,
			amount String,
			ts DateTime64(3),
			height UInt64,
			tx_hash String,
			log_index Nullable(Int64),
			gas_used String,
			gas_price String,
			from_address String,
			to_address String,
			meta Map(String, String),
			price_usd Nullable(Decimal(76, 18)),
			value_usd Nullable(Decimal(76, 18))
		) ENGINE = ReplacingMergeTree
		ORDER BY (key)`, s.database, actionsTable),
	}
	for _, q := range queries {
		if err := s.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("init clickhouse schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouse) WriteWindows(ctx context.Context, windows []models.EnrichedWindow) error {
	if len(windows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO "%s"."%s"`, s.database, windowsTable))
	if err != nil {
		return err
	}
	defer func() { _ = batch.Close() }()

	for _, w := range windows {
		err = batch.Append(
			w.User,
			w.Asset,
			w.Activity,
			time.UnixMilli(w.StartTs).UTC(),
			time.UnixMilli(w.EndTs).UTC(),
			uint64(w.StartHeight),
			uint64(w.EndHeight),
			string(w.Trigger),
			w.RawBefore,
			w.RawAfter,
			w.StartTxRef,
			w.EndTxRef,
			w.LogIndex,
			metaOrEmpty(w.Meta),
			w.Decimals,
			w.TwaPrice,
			w.ValueUsd,
			w.DurationMs,
			w.CoveredMs,
			uint32(w.Samples),
		)
		if err != nil {
			_ = batch.Abort()
			return err
		}
	}
	return batch.Send()
}

func (s *ClickHouse) WriteActions(ctx context.Context, actions []models.EnrichedAction) error {
	if len(actions) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO "%s"."%s"`, s.database, actionsTable))
	if err != nil {
		return err
	}
	defer func() { _ = batch.Close() }()

	for _, a := range actions {
		err = batch.Append(
			a.Key,
			a.User,
			a.Priceable,
			a.Asset,
			a.Amount,
			time.UnixMilli(a.Ts).UTC(),
			uint64(a.Height),
			a.TxHash,
			a.LogIndex,
			a.GasUsed,
			a.GasPrice,
			a.From,
			a.To,
			metaOrEmpty(a.Meta),
			a.PriceUsd,
			a.ValueUsd,
		)
		if err != nil {
			_ = batch.Abort()
			return err
		}
	}
	return batch.Send()
}

func (s *ClickHouse) Close() error { return s.conn.Close() }

func metaOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
