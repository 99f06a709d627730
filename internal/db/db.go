package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/socialchef/easel/internal/config"
	"go.opentelemetry.io/otel/trace"
)

// ErrPoolNotInitialized is returned by every operation that needs a
// connection while no pool exists.
var ErrPoolNotInitialized = errors.New("db: connection pool is not initialized")

// Row is a single result row keyed by column name.
type Row = map[string]any

// Stats is a snapshot of the pool's connection counts.
type Stats struct {
	Open          bool
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	MaxConns      int32
}

// Pool owns a lazily created pgx connection pool. Startup and Shutdown may be
// called repeatedly; statement execution relies on pgxpool for concurrency.
type Pool struct {
	settings       config.PoolSettings
	logger         *slog.Logger
	tracerProvider trace.TracerProvider

	// connect builds a pool from cfg; tests swap it for a lazy constructor.
	connect func(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error)

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithTracerProvider sets the provider used by the query tracer. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pool) {
		p.tracerProvider = tp
	}
}

func New(settings config.PoolSettings, opts ...Option) *Pool {
	p := &Pool{
		settings: settings,
		logger:   slog.Default(),
		connect:  connect,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsConfigured reports whether the settings carry a database URL.
func (p *Pool) IsConfigured() bool {
	return p.settings.IsConfigured()
}

// Startup creates the pool. It is a no-op when no database URL is configured
// or when the pool already exists.
func (p *Pool) Startup(ctx context.Context) error {
	if !p.settings.IsConfigured() {
		p.logger.Warn("DATABASE_URL is not set, database pool disabled")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return nil
	}

	cfg, err := p.poolConfig()
	if err != nil {
		return err
	}

	pool, err := p.connect(ctx, cfg)
	if err != nil {
		return err
	}
	p.pool = pool

	p.logger.Info("Database pool started",
		"min_conns", cfg.MinConns,
		"max_conns", cfg.MaxConns,
		"command_timeout", p.settings.CommandTimeout,
	)
	return nil
}

// Shutdown closes the pool and forgets it so that Startup can create a new
// one.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	pool := p.pool
	p.pool = nil
	p.mu.Unlock()

	if pool == nil {
		return
	}
	pool.Close()
	p.logger.Info("Database pool closed")
}

// connect creates the pool and dials the server once, so an unreachable
// database or bad credentials fail here rather than on the first query.
func connect(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

func (p *Pool) poolConfig() (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(p.settings.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	cfg.MinConns = p.settings.MinSize
	cfg.MaxConns = p.settings.MaxSize
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 1 * time.Minute

	if p.settings.CommandTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(p.settings.CommandTimeout.Milliseconds(), 10)
	}

	var tracerOpts []otelpgx.Option
	if p.tracerProvider != nil {
		tracerOpts = append(tracerOpts, otelpgx.WithTracerProvider(p.tracerProvider))
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer(tracerOpts...)

	return cfg, nil
}

func (p *Pool) current() *pgxpool.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool
}

// WithConnection acquires a connection for the duration of fn. The
// connection goes back to the pool on every return path, panics included.
func (p *Pool) WithConnection(ctx context.Context, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	pool := p.current()
	if pool == nil {
		return ErrPoolNotInitialized
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	return fn(ctx, conn)
}

// Execute runs a statement that returns no rows.
func (p *Pool) Execute(ctx context.Context, stmt Statement) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := p.WithConnection(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		var err error
		tag, err = conn.Exec(ctx, stmt.SQL(), stmt.Args()...)
		return err
	})
	return tag, err
}

// Fetch returns every row produced by the statement, in order. The slice is
// empty, not nil, when there are no rows.
func (p *Pool) Fetch(ctx context.Context, stmt Statement) ([]Row, error) {
	result := []Row{}
	err := p.WithConnection(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, stmt.SQL(), stmt.Args()...)
		if err != nil {
			return err
		}
		collected, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return err
		}
		result = append(result, collected...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchOne returns the first row produced by the statement, or nil when
// there is none.
func (p *Pool) FetchOne(ctx context.Context, stmt Statement) (Row, error) {
	var row Row
	err := p.WithConnection(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, stmt.SQL(), stmt.Args()...)
		if err != nil {
			return err
		}
		row, err = pgx.CollectOneRow(rows, pgx.RowToMap)
		if errors.Is(err, pgx.ErrNoRows) {
			row = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Ping checks that a connection can be acquired and is alive.
func (p *Pool) Ping(ctx context.Context) error {
	return p.WithConnection(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.Ping(ctx)
	})
}

func (p *Pool) Stats() Stats {
	pool := p.current()
	if pool == nil {
		return Stats{}
	}
	s := pool.Stat()
	return Stats{
		Open:          true,
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
	}
}
