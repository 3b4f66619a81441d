package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"domain_ingest/config"
	"domain_ingest/httpapi"
	"domain_ingest/httputil"
	"domain_ingest/logging"
	"domain_ingest/metrics"
	"domain_ingest/scheduler"
	"domain_ingest/scraper"
	"domain_ingest/services"
	"domain_ingest/storage"

	"go.uber.org/zap"
)

var (
	migrateOnly = flag.Bool("migrate", false, "Apply the schema and exit")
	scrapeNow   = flag.Bool("scrape", false, "Run every enabled search profile once and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logFile, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Sync()
	if logFile != nil {
		defer logFile.Close()
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalw("domain_ingest stopped", "error", err)
	}
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	logger.Infow("starting domain_ingest", "backend", cfg.Backend, "profiles", len(cfg.Profiles))
	for _, p := range cfg.EnabledProfiles() {
		logger.Infow("search profile", "id", p.ID, "suburb", p.Suburb, "listing_type", p.ListingType)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// SQLite always holds run bookkeeping; it holds listings too unless
	// Postgres is configured.
	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer sqliteStore.Close()
	logger.Infow("sqlite database ready", "path", cfg.DBPath)

	var (
		listings storage.ListingStore = sqliteStore
		db       httpapi.Pinger       = sqliteStore
	)
	if cfg.Backend == config.BackendPostgres {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		if err := pgStore.Migrate(ctx); err != nil {
			return err
		}
		logger.Infow("connected to postgres", "url", maskConnectionString(cfg.DatabaseURL))
		listings, db = pgStore, pgStore
	}

	if *migrateOnly {
		logger.Info("schema applied")
		return nil
	}

	m := metrics.NewRegistry()

	var archiver services.Archiver
	if s3cfg := storage.S3Config(cfg.S3); s3cfg.Enabled() {
		a, err := storage.NewS3Archiver(ctx, s3cfg)
		if err != nil {
			return err
		}
		archiver = a
		logger.Infow("archiving exports to s3", "bucket", s3cfg.Bucket, "prefix", s3cfg.Prefix)
	}

	clients := httputil.NewClients(cfg.ProxyURL)
	domain := scraper.NewDomainClient(clients, cfg.Domain, logger, m)

	ingest := services.NewIngestService(listings, services.IngestOptions{SkipExisting: cfg.Ingest.SkipExisting}, logger, m)
	query := services.NewQueryService(listings)
	exports := services.NewExportService(cfg.DataDir, archiver, logger)

	orchestrator := scraper.NewOrchestrator(cfg.EnabledProfiles(), domain, ingest, sqliteStore, logger, m)

	if *scrapeNow {
		logger.Info("running every profile once")
		if err := orchestrator.RunAll(ctx); err != nil {
			return err
		}
		logger.Info("scrape complete")
		return nil
	}

	sched := scheduler.New(cfg.Scheduler, orchestrator, sqliteStore, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	api := httpapi.New(httpapi.Deps{
		DB:      db,
		Query:   query,
		Ingest:  ingest,
		Exports: exports,
		Search:  domain,
		Runs:    orchestrator,
		History: sqliteStore,
		Metrics: m,
		Log:     logger,
		DataDir: cfg.DataDir,
		Origins: cfg.HTTP.CORSOrigins,
		BaseCtx: ctx,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("http server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown", "error", err)
	}
	return nil
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
