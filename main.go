package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/adapters/featurecache"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/adapters/overpass"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/config"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/database"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/handlers"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/mcp"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/metrics"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/middleware"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/repositories"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services/workflow"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// backends holds the state stores and the dependencies the health endpoint checks.
type backends struct {
	store    repositories.JobStateStore
	records  repositories.RecordStore
	redis    *redis.Client
	checkers map[string]handlers.HealthChecker
	close    func()
}

func openBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{
		checkers: map[string]handlers.HealthChecker{},
		close:    func() {},
	}

	switch cfg.StateBackend {
	case "memory":
		b.store = repositories.NewMemoryJobStateStore()
		b.records = repositories.NewMemoryRecordStore()
		logger.Warn("Using in-memory state backend; runs and records are lost on restart")
	default:
		db, err := database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if err := database.Migrate(cfg.Database.ConnectionString(), logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		b.store = repositories.NewPostgresJobStateStore(db)
		b.records = repositories.NewPostgresRecordStore(db)
		b.checkers["postgres"] = db.Health
		b.close = db.Close
		logger.Info("Connected to Postgres",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database))
	}

	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	if client != nil {
		b.redis = client
		b.checkers["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		closeDB := b.close
		b.close = func() {
			_ = client.Close()
			closeDB()
		}
		logger.Info("Feature cache enabled", zap.String("redis", cfg.Redis.Addr()))
	}

	return b, nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("state_backend", cfg.StateBackend),
		zap.String("overpass_url", cfg.Overpass.URL),
		zap.Int("indexing_workers", cfg.Indexing.Workers),
		zap.Duration("min_request_interval", cfg.Indexing.MinRequestInterval))

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	fetcher, err := featurecache.New(
		overpass.NewClient(cfg.Overpass, logger),
		redisOrNil(b.redis),
		cfg.Redis.FeatureCacheTTL,
		logger,
	)
	if err != nil {
		return fmt.Errorf("feature cache: %w", err)
	}

	infra := workflow.NewInfra(logger)
	events := services.NewEventBroadcaster(logger)
	coordinator := services.NewCellJobCoordinator(b.store, fetcher, infra, events, cfg.Indexing, logger)

	var indexing *services.IndexingService
	var watcher *services.RunWatcher
	if cfg.Indexing.ProgressLogEvery > 0 {
		watcher = services.NewRunWatcher(infra, func(ctx context.Context, runID uuid.UUID) (*models.RunStatusView, error) {
			return indexing.GetRunStatus(ctx, runID)
		}, logger)
	}
	indexing = services.NewIndexingService(b.store, b.records, coordinator, watcher, cfg.Indexing, logger)
	mappings := services.NewMappingService(b.store, logger)
	enrichment := services.NewEnrichmentService(b.store, b.records, events, cfg.Enrichment, logger)

	if err := startup(ctx, cfg, indexing, mappings, enrichment, logger); err != nil {
		return err
	}

	mux := http.NewServeMux()
	health := handlers.NewHealthHandler(cfg, b.checkers, logger)
	health.RegisterRoutes(mux)
	handlers.NewIndexingHandler(indexing, logger).RegisterRoutes(mux)
	handlers.NewMappingHandler(mappings, logger).RegisterRoutes(mux)
	handlers.NewEnrichmentHandler(enrichment, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer("ekaya-geoenrich", cfg.Version, logger.Named("mcp"))
		mcpServer.RegisterTools(cfg.Version, &tools.GeoToolDeps{
			Indexing:   indexing,
			Mappings:   mappings,
			Enrichment: enrichment,
			Logger:     logger.Named("mcp-tools"),
		}, func(ctx context.Context) (string, map[string]string) {
			resp := health.Check(ctx)
			return resp.Status, resp.Dependencies
		})
		mux.Handle("/mcp", middleware.MCPRequestLogger(logger.Named("mcp"))(mcpServer.NewStreamableHTTPServer()))
	}

	var handler http.Handler = mux
	if cfg.API.RequestsPerMinute > 0 {
		handler = httprate.LimitByIP(cfg.API.RequestsPerMinute, time.Minute)(handler)
	}
	handler = middleware.RequestLogger(logger)(handler)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-geoenrich",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := enrichment.Shutdown(shutdownCtx); err != nil {
		logger.Error("Enrichment shutdown error", zap.Error(err))
	}
	if err := indexing.Shutdown(shutdownCtx); err != nil {
		logger.Error("Indexing shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
	return nil
}

// startup imports configured mapping files and recovers work left behind by a
// previous process.
func startup(
	ctx context.Context,
	cfg *config.Config,
	indexing *services.IndexingService,
	mappings *services.MappingService,
	enrichment *services.EnrichmentService,
	logger *zap.Logger,
) error {
	if len(cfg.Enrichment.MappingFiles) > 0 {
		n, err := mappings.ImportFiles(ctx, cfg.Enrichment.MappingFiles)
		if err != nil {
			return fmt.Errorf("import mapping files: %w", err)
		}
		logger.Info("Imported mapping configs", zap.Int("count", n))
	}

	failed, err := enrichment.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover enrichment jobs: %w", err)
	}
	if failed > 0 {
		logger.Warn("Marked interrupted enrichment jobs as failed", zap.Int("count", failed))
	}

	if cfg.Indexing.ResumeInterrupted {
		resumed, err := indexing.ResumeInterrupted(ctx)
		if err != nil {
			return fmt.Errorf("resume indexing runs: %w", err)
		}
		if resumed > 0 {
			logger.Info("Resumed interrupted indexing runs", zap.Int("count", resumed))
		}
	}
	return nil
}

// redisOrNil avoids handing featurecache a typed-nil client.
func redisOrNil(c *redis.Client) redis.UniversalClient {
	if c == nil {
		return nil
	}
	return c
}
