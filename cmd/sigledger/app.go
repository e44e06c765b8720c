package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/getpup/sigledger/config"
	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/adapters/mysql"
	"github.com/getpup/sigledger/es/adapters/postgres"
	"github.com/getpup/sigledger/es/adapters/sqlite"
	"github.com/getpup/sigledger/es/eventlog"
	"github.com/getpup/sigledger/es/logging"
	"github.com/getpup/sigledger/es/migrations"
	"github.com/getpup/sigledger/es/projection"
	"github.com/getpup/sigledger/es/store"
	"github.com/getpup/sigledger/metrics"
	"github.com/getpup/sigledger/signature"
	"github.com/getpup/sigledger/tracker/projstore"
	"github.com/getpup/sigledger/tracker/reconcile"
)

// logStore is what every SQL adapter provides.
type logStore interface {
	eventlog.Store
	projection.Source
	store.SnapshotStore
}

// app holds the resources shared by commands. Fields are filled lazily so
// commands only open what they use.
type app struct {
	v       *viper.Viper
	cfgFile string
	output  string

	cfg      *config.Config
	zap      *zap.Logger
	logger   es.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db          *sql.DB
	store       logStore
	log         *eventlog.SQL
	redis       *redis.Client
	projections *projstore.Store
	engine      *reconcile.Engine
}

func (a *app) setup() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.zap, err = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	a.logger = logging.NewZap(a.zap)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	switch a.output {
	case outputTable, outputJSON, outputYAML:
	default:
		return fmt.Errorf("unsupported output %q: want table, json or yaml", a.output)
	}
	return nil
}

// close releases whatever the command opened. Safe to call more than once.
func (a *app) close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	if a.zap != nil {
		// Syncing stderr fails on some terminals; nothing to report.
		_ = a.zap.Sync()
		a.zap = nil
	}
	return errors.Join(errs...)
}

// openLog connects to the configured database and builds the log.
func (a *app) openLog(ctx context.Context) error {
	if a.log != nil {
		return nil
	}
	dbc := a.cfg.Database
	if dbc.Migrate {
		if err := migrations.Apply(ctx, dbc.Driver, dbc.DSN); err != nil {
			return err
		}
	}

	storeConfig := store.NewConfig(store.WithLogger(a.logger))
	var err error
	switch dbc.Driver {
	case migrations.SQLite:
		a.db, err = sqlite.Open(ctx, dbc.DSN)
		a.store = sqlite.NewStore(storeConfig)
	case migrations.Postgres:
		a.db, err = openDB(ctx, postgres.DriverName, dbc.DSN)
		a.store = postgres.NewStore(storeConfig)
	case migrations.MySQL:
		a.db, err = openDB(ctx, mysql.DriverName, dbc.DSN)
		a.store = mysql.NewStore(storeConfig)
	default:
		return fmt.Errorf("unsupported database driver %q", dbc.Driver)
	}
	if err != nil {
		return err
	}
	a.log = eventlog.NewSQL(a.db, a.store, eventlog.SQLConfig{PageSize: a.cfg.Log.PageSize})
	return nil
}

func openDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// openEngine builds the projection store and reconciliation engine.
func (a *app) openEngine(ctx context.Context) error {
	if a.engine != nil {
		return nil
	}
	if err := a.openLog(ctx); err != nil {
		return err
	}

	var cache projstore.Cache
	switch a.cfg.Cache.Backend {
	case "sql":
		cache = projstore.NewSQLCache(a.db, a.store)
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Addr, err)
		}
		cache = projstore.NewRedisCache(a.redis, a.cfg.Cache.TTL)
	default:
		cache = projstore.NewMemoryCache()
	}

	a.projections = projstore.New(a.log, projstore.Config{Cache: cache, Logger: a.logger, Metrics: a.metrics})
	a.engine = reconcile.New(a.log, a.projections, reconcile.Config{
		MaxRetries: a.cfg.Reconcile.MaxRetries,
		Parse:      signature.Options{AllowFractionalPercent: a.cfg.Reconcile.FractionalPercents},
		Logger:     a.logger,
		Metrics:    a.metrics,
	})
	return nil
}

// serveMetrics exposes /metrics until ctx ends. Empty addr disables it.
func (a *app) serveMetrics(ctx context.Context) func() {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info(ctx, "metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(ctx, "metrics server failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
