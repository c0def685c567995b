// Package postgres is a reference Driver implementation (spec.md §4.6)
// backed by pgx, demonstrating how a real backend builds the conditional
// insert edgesemantics.IncompatibleKeys requires. Connection pooling here
// mirrors the teacher harness's DatabaseManager: a pgxpool.Pool plus a
// background health checker, adapted to the narrower Driver surface this
// repo needs.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tracebench/tracebench/internal/config"
	"github.com/tracebench/tracebench/internal/logging"
)

// connPool wraps a pgxpool.Pool with connection-lifecycle logging and a
// background health checker, modeled on the harness's original connection
// manager.
type connPool struct {
	pool   *pgxpool.Pool
	cfg    config.DatabaseConfig
	logger logging.Logger

	connectionAttempts int64
	connectionFailures int64
	connectionsCreated int64

	health *healthChecker

	mutex sync.RWMutex
}

type healthChecker struct {
	pool     *connPool
	interval time.Duration
	stop     chan struct{}
	logger   logging.Logger

	consecutiveFails int64
}

func newConnPool(cfg config.DatabaseConfig, logger logging.Logger) *connPool {
	if logger == nil {
		logger = logging.NewDefault()
	}
	p := &connPool{cfg: cfg, logger: logger}
	p.health = &healthChecker{
		pool:     p,
		interval: cfg.HealthCheckPeriod,
		stop:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "health_checker")),
	}
	return p
}

func (p *connPool) connect(ctx context.Context) error {
	p.logger.Info("establishing database connection pool",
		zap.String("host", p.cfg.Host), zap.Int("port", p.cfg.Port), zap.String("database", p.cfg.Database))

	connString := p.buildConnectionString()
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return errors.Wrap(err, "postgres: parsing connection string")
	}

	poolConfig.MaxConns = int32(p.cfg.MaxConnections)
	poolConfig.MinConns = int32(p.cfg.MinConnections)
	poolConfig.MaxConnLifetime = p.cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = p.cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = p.cfg.HealthCheckPeriod
	poolConfig.AfterConnect = p.afterConnect

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		atomic.AddInt64(&p.connectionFailures, 1)
		return errors.Wrap(err, "postgres: creating connection pool")
	}

	p.mutex.Lock()
	p.pool = pool
	p.mutex.Unlock()

	if err := p.ping(ctx); err != nil {
		pool.Close()
		return errors.Wrap(err, "postgres: initial health check failed")
	}

	p.health.start()
	p.logger.Info("database connection pool established",
		zap.Int("max_connections", p.cfg.MaxConnections), zap.Int("min_connections", p.cfg.MinConnections))
	return nil
}

func (p *connPool) afterConnect(ctx context.Context, conn *pgx.Conn) error {
	atomic.AddInt64(&p.connectionsCreated, 1)
	return nil
}

func (p *connPool) ping(ctx context.Context) error {
	p.mutex.RLock()
	pool := p.pool
	p.mutex.RUnlock()
	if pool == nil {
		return errors.New("postgres: connection pool not initialized")
	}
	return pool.Ping(ctx)
}

func (p *connPool) close() {
	p.health.stopChecking()
	p.mutex.Lock()
	pool := p.pool
	p.pool = nil
	p.mutex.Unlock()
	if pool != nil {
		pool.Close()
	}
}

func (p *connPool) buildConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.cfg.Username, p.cfg.Password, p.cfg.Host, p.cfg.Port, p.cfg.Database, p.cfg.SSLMode)
}

func (hc *healthChecker) start() {
	if hc.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(hc.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				hc.check()
			case <-hc.stop:
				return
			}
		}
	}()
}

func (hc *healthChecker) stopChecking() {
	close(hc.stop)
}

func (hc *healthChecker) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hc.pool.ping(ctx); err != nil {
		fails := atomic.AddInt64(&hc.consecutiveFails, 1)
		hc.logger.Warn("database health check failed", zap.Error(err), zap.Int64("consecutive_failures", fails))
		return
	}
	atomic.StoreInt64(&hc.consecutiveFails, 0)
}
