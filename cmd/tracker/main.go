package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boxtracker/internal/classify"
	"boxtracker/internal/config"
	"boxtracker/internal/domain"
	"boxtracker/internal/metrics"
	"boxtracker/internal/parser"
	"boxtracker/internal/publisher"
	"boxtracker/internal/scheduler"
	"boxtracker/internal/service"
	"boxtracker/internal/source/marketplace"
	"boxtracker/internal/storage/cache"
	"boxtracker/internal/storage/postgres"
	"boxtracker/internal/storage/sqlite"
)

type saleStore interface {
	service.SaleStore
	Count(ctx context.Context) (int64, error)
	DeleteSalesFrom(ctx context.Context, date string) (int64, error)
}

type fetchRunStore interface {
	service.FetchRunStore
	Recent(ctx context.Context, limit int) ([]domain.FetchRun, error)
}

type stores struct {
	db    *sqlx.DB
	sales saleStore
	runs  fetchRunStore
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (empty to use defaults and environment)")
	once := flag.Bool("once", false, "run a single cycle and exit")
	deleteFrom := flag.String("delete-from", "", "delete sales dated on or after YYYY-MM-DD and exit")
	history := flag.Int("history", 0, "print the N most recent fetch runs and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer st.db.Close()

	switch {
	case *deleteFrom != "":
		err = deleteSales(ctx, cfg.Redis, st.sales, *deleteFrom, logger)
	case *history > 0:
		err = printHistory(ctx, os.Stdout, st.runs, *history)
	default:
		err = run(ctx, cancel, cfg, st, *once, logger)
	}
	if err != nil {
		logger.Error("tracker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, st *stores, once bool, logger *slog.Logger) error {
	minDate, err := cfg.Ingest.MinDate()
	if err != nil {
		return err
	}

	pool := loadProxyPool(cfg.Marketplace, logger)
	fetcher := marketplace.NewClient(marketplace.Config{
		Endpoint:       cfg.Marketplace.Endpoint,
		Timeout:        cfg.Marketplace.Timeout,
		MaxAttempts:    cfg.Marketplace.Retry.MaxAttempts,
		InitialBackoff: cfg.Marketplace.Retry.InitialBackoff,
		MaxBackoff:     cfg.Marketplace.Retry.MaxBackoff,
		UserAgent:      cfg.Marketplace.UserAgent,
		MaxBodyBytes:   cfg.Marketplace.MaxBodyBytes,
		UseProxies:     cfg.Marketplace.ProxiesEnabled(),
	}, pool, logger)

	classifier := classify.Load(cfg.Classifier.Path, logger)
	metrics.ClassifierModelLoaded.Set(metrics.BoolToGauge(classifier.ModelLoaded()))

	var seen service.SeenCache
	seenCache, closeSeen, err := openSeenCache(ctx, cfg.Redis)
	switch {
	case err != nil:
		logger.Warn("redis unavailable, continuing without seen cache", "error", err)
	case seenCache != nil:
		defer closeSeen()
		seen = seenCache
		logger.Info("seen cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}

	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	ingest := service.NewIngestService(
		cfg.Marketplace.SearchTerms,
		fetcher,
		marketplace.NewExtractor(time.Now, logger),
		classifier,
		parser.New(time.Now, logger),
		st.sales,
		st.runs,
		seen,
		pub,
		logger,
		minDate,
	)

	sched := scheduler.NewScheduler(ingest, scheduler.Config{
		Interval:         cfg.Ingest.Interval,
		StopTimeout:      cfg.Ingest.StopTimeout,
		RunTimeout:       cfg.Ingest.RunTimeout,
		ProxyPoolSize:    fetcher.PoolSize(),
		ClassifierLoaded: classifier.ModelLoaded(),
	}, logger)
	sched.AddCallback(func(ctx context.Context, stats *domain.CycleStats) error {
		total, err := st.sales.Count(ctx)
		if err != nil {
			return fmt.Errorf("count sales: %w", err)
		}
		logger.Info("sales stored", "cycle_id", stats.CycleID, "total", total, "new", stats.New)
		return nil
	})

	if once {
		stats := sched.RunOnce(ctx)
		if len(stats.Errors) > 0 {
			return fmt.Errorf("cycle finished with %d errors", len(stats.Errors))
		}
		return nil
	}

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = startMetricsServer(cfg.Metrics.Addr, sched, logger)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting box tracker",
		"terms", len(cfg.Marketplace.SearchTerms),
		"interval", cfg.Ingest.Interval,
		"proxies", fetcher.PoolSize(),
		"use_proxies", cfg.Marketplace.ProxiesEnabled(),
		"classifier_loaded", classifier.ModelLoaded(),
		"min_sale_date", cfg.Ingest.MinSaleDate,
	)

	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", "error", err)
		}
	}

	return nil
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*stores, error) {
	if cfg.Driver == "sqlite" {
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("opened sqlite database", "path", cfg.Path)
		return &stores{db: db, sales: sqlite.NewSaleStore(db), runs: sqlite.NewFetchRunStore(db)}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("connected to database")
	return &stores{db: db, sales: postgres.NewSaleStore(db), runs: postgres.NewFetchRunStore(db)}, nil
}

// loadProxyPool never fails: a missing or unreadable proxy file leaves the
// pool empty and requests go out directly.
func loadProxyPool(cfg config.MarketplaceConfig, logger *slog.Logger) *marketplace.Pool {
	if !cfg.ProxiesEnabled() || cfg.ProxyFile == "" {
		return marketplace.NewPool(nil, nil)
	}

	proxies, skipped, err := marketplace.LoadProxies(cfg.ProxyFile)
	if err != nil {
		logger.Warn("failed to load proxies, requests go out directly", "file", cfg.ProxyFile, "error", err)
		return marketplace.NewPool(nil, nil)
	}
	if skipped > 0 {
		logger.Warn("skipped malformed proxy lines", "file", cfg.ProxyFile, "skipped", skipped)
	}
	logger.Info("loaded proxies", "count", len(proxies))
	return marketplace.NewPool(proxies, nil)
}

func startMetricsServer(addr string, sched *scheduler.Scheduler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sched.Status()); err != nil {
			logger.Error("failed to write status", "error", err)
		}
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped with error", "error", err)
		}
	}()
	return srv
}

// openSeenCache returns a nil cache when Redis is not configured.
func openSeenCache(ctx context.Context, cfg config.RedisConfig) (*cache.SeenCache, func(), error) {
	if cfg.Addr == "" {
		return nil, func() {}, nil
	}
	rdb, err := cache.Connect(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return cache.NewSeenCache(rdb, cache.DefaultKeyPrefix, cfg.TTL), func() { _ = rdb.Close() }, nil
}

// deleteSales refuses to run when the seen cache is configured but unreachable:
// its entries would keep the deleted sales from being ingested again.
func deleteSales(ctx context.Context, cfg config.RedisConfig, sales saleStore, date string, logger *slog.Logger) error {
	seen, closeSeen, err := openSeenCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open seen cache: %w", err)
	}
	defer closeSeen()
	return runDelete(ctx, sales, seen, date, logger)
}

// runDelete removes sales dated on or after date and then empties the seen
// cache, if any, so the store alone decides what is a duplicate.
func runDelete(ctx context.Context, sales saleStore, seen *cache.SeenCache, date string, logger *slog.Logger) error {
	if _, err := time.Parse(domain.SaleDateLayout, date); err != nil {
		return fmt.Errorf("invalid -delete-from date %q: %w", date, err)
	}
	deleted, err := sales.DeleteSalesFrom(ctx, date)
	if err != nil {
		return err
	}
	logger.Info("deleted sales", "from", date, "count", deleted)

	if seen == nil {
		return nil
	}
	purged, err := seen.Purge(ctx)
	if err != nil {
		return fmt.Errorf("purge seen cache: %w", err)
	}
	logger.Info("purged seen cache", "entries", purged)
	return nil
}

func printHistory(ctx context.Context, w io.Writer, runs fetchRunStore, limit int) error {
	recent, err := runs.Recent(ctx, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recent)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
