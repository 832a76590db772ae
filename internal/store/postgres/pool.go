// Package postgres implements store.Store on top of jackc/pgx/v5, adapted
// from the teacher's internal/db package: same pooled-connection,
// otel-instrumented Query/Exec/Begin wrapper style, generalized from a
// generic Database helper to the Store's typed per-entity operations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/dukepan/muclumbus/internal/rediscache"
	"github.com/dukepan/muclumbus/internal/store"
	"github.com/dukepan/muclumbus/internal/workerpool"
)

var (
	dbLatency           metric.Float64Histogram
	dbActiveConnections metric.Int64UpDownCounter
)

// Store is the postgres-backed store.Store implementation.
type Store struct {
	pool       *pgxpool.Pool
	signals    *store.Signals
	negLRU     *negativeCache
	redis      *rediscache.Cache // optional cross-replica mirror
	avatarPool *workerpool.Pool  // bridges avatar raster scaling off the request path
}

// Config configures New.
type Config struct {
	DSN string
	// NegativeCacheSize bounds the in-memory LRU of non-positive address
	// classifications (spec §3: "LRU-bounded (≈512 entries)").
	NegativeCacheSize int
	// Redis, if non-nil, mirrors negative-cache writes to other replicas.
	Redis *rediscache.Cache
}

// New connects the pool and wires metrics, matching internal/db/db.go's
// instrumentation setup.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var err error

	meter := otel.Meter("postgres-store")
	dbLatency, err = meter.Float64Histogram("db.query.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create db.query.latency instrument: %w", err)
	}
	dbActiveConnections, err = meter.Int64UpDownCounter("db.active.connections", metric.WithUnit("connections"))
	if err != nil {
		return nil, fmt.Errorf("failed to create db.active.connections instrument: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	poolConfig.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		_, span := otel.Tracer("postgres-store").Start(ctx, "db.connection.acquire")
		defer span.End()
		dbActiveConnections.Add(ctx, 1)
		return true
	}
	poolConfig.AfterRelease = func(conn *pgx.Conn) bool {
		dbActiveConnections.Add(context.Background(), -1)
		return true
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, span := otel.Tracer("postgres-store").Start(ctx, "db.ping")
	defer span.End()
	if err := pool.Ping(pingCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ping database")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	size := cfg.NegativeCacheSize
	if size <= 0 {
		size = 512
	}

	avatarPool, err := workerpool.New(workerpool.Config{
		Workers:        2,
		MaxQueueSize:   32,
		PerTaskTimeout: 5 * time.Second,
	}, processAvatarResizeTask)
	if err != nil {
		return nil, fmt.Errorf("failed to start avatar resize pool: %w", err)
	}

	s := &Store{
		pool:       pool,
		signals:    store.NewSignals(),
		negLRU:     newNegativeCache(size),
		redis:      cfg.Redis,
		avatarPool: avatarPool,
	}

	if cfg.Redis != nil {
		s.watchRedisInvalidations(ctx)
	}

	return s, nil
}

// Signals implements store.Store.
func (s *Store) Signals() *store.Signals { return s.signals }

// Close releases the pool and the avatar resize workers.
func (s *Store) Close() {
	s.avatarPool.Close(false)
	s.avatarPool.Wait()
	s.pool.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error, matching spec §4.1: "every public operation executes
// inside a scoped transaction that commits on success, rolls back on
// exception".
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	start := time.Now()
	ctx, span := otel.Tracer("postgres-store").Start(ctx, "db.transaction")
	defer func() {
		dbLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		span.End()
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to begin transaction")
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction rolled back")
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to commit transaction")
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
