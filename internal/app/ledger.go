package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Ledger bundles the assembled engine and the connections behind it.
type Ledger struct {
	Service *accounting.Service
	Checker *rbac.Checker
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Queue   *jobs.Client
	// Audit is set for the memory store; postgres writes audit_logs.
	Audit   *shared.MemoryAudit

	closers []func() error
}

// LedgerOptions tunes BuildLedger.
type LedgerOptions struct {
	Metrics *observability.Metrics
	// Migrate applies the schema on startup when the postgres store is used.
	Migrate bool
	// Notify enqueues voucher impacts on the notify queue when Redis is reachable.
	Notify bool
}

// BuildLedger wires the store, permission checker, report cache, impact
// notifier and audit trail selected by cfg.
func BuildLedger(ctx context.Context, cfg *Config, logger *slog.Logger, opts LedgerOptions) (*Ledger, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{}

	var (
		repo    accounting.RepositoryPort
		members rbac.MembershipStore
	)
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		store := memstore.New().WithMaxRetries(cfg.TxMaxRetries)
		store.OnRetry = func(int) { opts.Metrics.TxRetried(StoreDriverMemory) }
		repo = store
		seed, err := ParseMemberships(cfg.Memberships)
		if err != nil {
			return nil, fmt.Errorf("app: memberships: %w", err)
		}
		members = rbac.NewStaticMemberships(seed...)
	default:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		l.Pool = pool
		l.closers = append(l.closers, func() error { pool.Close(); return nil })
		if opts.Migrate {
			if err := accounting.Migrate(ctx, pool); err != nil {
				_ = l.Close()
				return nil, fmt.Errorf("app: migrate: %w", err)
			}
		}
		repo = accounting.NewRepository(pool, db.RetryPolicy{
			MaxRetries: cfg.TxMaxRetries,
			Backoff:    5 * time.Millisecond,
			OnRetry: func(attempt int, err error) {
				opts.Metrics.TxRetried(StoreDriverPostgres)
				logger.Debug("retrying serializable transaction", slog.Int("attempt", attempt), slog.Any("error", err))
			},
		})
		members = rbac.NewPgMemberships(pool)
	}

	l.Checker = rbac.NewChecker(members, rbac.DefaultMatrix(), logger)
	l.Service = accounting.NewService(repo, l.Checker, logger)
	if opts.Metrics != nil {
		l.Service.WithObserver(opts.Metrics)
	}
	if l.Pool != nil {
		l.Service.WithAudit(shared.NewAuditLogger(l.Pool))
	} else {
		l.Audit = shared.NewMemoryAudit(0)
		l.Service.WithAudit(l.Audit)
	}

	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, reports and notifications run without it", slog.Any("error", err))
		} else {
			l.Redis = client
			l.closers = append(l.closers, client.Close)
			reportCache := cache.NewReportCache(client, cfg.ReportCacheTTL)
			l.Service.WithReportCache(reportCache)
			if err := reportCache.ListenForInvalidation(ctx, cache.BumpChannel); err != nil {
				logger.Warn("report cache invalidation listener", slog.Any("error", err))
			}
			if opts.Notify {
				queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
				if err != nil {
					_ = l.Close()
					return nil, err
				}
				l.Queue = queue
				l.closers = append(l.closers, queue.Close)
				l.Service.WithNotifier(jobs.NewImpactNotifier(queue, cfg.NotifyQueue))
			}
		}
	}
	return l, nil
}

// Ready pings the backing connections.
func (l *Ledger) Ready(r *http.Request) error {
	if l == nil {
		return errors.New("ledger not initialised")
	}
	if l.Pool != nil {
		if err := l.Pool.Ping(r.Context()); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if l.Redis != nil {
		if err := l.Redis.Ping(r.Context()).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}
