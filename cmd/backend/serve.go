package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/backend/bedrock"
	"github.com/hairizuan-noorazman/testflow/backend/browser"
	"github.com/hairizuan-noorazman/testflow/backend/httpapi"
	"github.com/hairizuan-noorazman/testflow/backend/sqldb"
	"github.com/hairizuan-noorazman/testflow/cmd/backend/handlers"
	"github.com/hairizuan-noorazman/testflow/database"
	"github.com/hairizuan-noorazman/testflow/evidence"
	"github.com/hairizuan-noorazman/testflow/locator"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/metrics"
	"github.com/hairizuan-noorazman/testflow/resilience"
	"github.com/hairizuan-noorazman/testflow/router"
	"github.com/hairizuan-noorazman/testflow/sheetsync"
	"github.com/hairizuan-noorazman/testflow/storage"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/testrun"
	"github.com/hairizuan-noorazman/testflow/versioning"
	"github.com/spf13/cobra"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServer,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.AddCommand(serveCmd)
}

func databaseConfig(cfg *Config) database.Config {
	return database.Config{
		Driver:       cfg.Database.Driver,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SQLitePath:   cfg.Database.SQLitePath,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Load configuration
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.NewLogrusLogger(cfg.Log.Level)
	log.Info(ctx, "starting server", map[string]interface{}{
		"version": Version,
		"commit":  Commit,
		"date":    BuildDate,
	})

	// Connect to database
	db, err := database.Connect(databaseConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	defer sqlDB.Close()

	if cfg.Database.Driver == database.DriverSQLite {
		if err := database.AutoMigrate(db); err != nil {
			return err
		}
	}

	log.Info(ctx, "database connected", map[string]interface{}{
		"driver":   cfg.Database.Driver,
		"host":     cfg.Database.Host,
		"database": cfg.Database.Database,
	})

	collector := metrics.New("testflow")

	// Initialize stores
	runStore := testrun.NewMySQLStore(db, log)
	locatorStore := locator.NewMySQLStore(db, log)

	manager := versioning.NewManager(
		versioning.NewMySQLStore(db, log),
		testcase.NewMySQLStore(db, log),
		versioning.Config{
			SimilarityThreshold:    cfg.Versioning.SimilarityThreshold,
			NearDuplicateThreshold: cfg.Versioning.NearDuplicateThreshold,
			SimilarityMaxRunes:     cfg.Versioning.SimilarityMaxRunes,
			CommitRetries:          cfg.Versioning.CommitRetries,
		},
		log,
		versioning.WithMetrics(collector),
	)

	// Initialize evidence storage
	blobStorage, err := storage.NewBlobStorage(ctx, storage.Config{
		Type:          cfg.Storage.Type,
		BaseDir:       cfg.Storage.BaseDir,
		Bucket:        cfg.Storage.S3Bucket,
		Region:        cfg.Storage.S3Region,
		Prefix:        cfg.Storage.S3Prefix,
		PresignExpiry: cfg.Storage.S3PresignExpiry,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	sink := evidence.NewBlobSink(blobStorage, log)

	log.Info(ctx, "storage initialized", map[string]interface{}{
		"type": cfg.Storage.Type,
	})

	// Resilience engine
	policy, err := cfg.Resilience.Policy()
	if err != nil {
		return fmt.Errorf("invalid resilience config: %w", err)
	}
	engine := resilience.NewEngine(policy, log,
		resilience.WithHealer(resilience.NewLocatorHealer(locatorStore, locatorStore, log)),
		resilience.WithSink(sink),
	)

	// Backends
	registry, closeBackends, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer closeBackends()

	routerOpts := []router.Option{router.WithMetrics(collector)}
	if cfg.Classifier.Enabled {
		classifier, err := bedrock.NewClassifier(ctx, bedrock.Config{
			Region:    cfg.Classifier.Region,
			ModelID:   cfg.Classifier.Model,
			MaxTokens: cfg.Classifier.MaxTokens,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize classifier: %w", err)
		}
		routerOpts = append(routerOpts, router.WithClassifier(classifier))
	}
	rtr := router.New(manager, runStore, registry, engine, cfg.Router.Config(), log, routerOpts...)

	// Runs left running by a previous process can never finish.
	if _, err := runStore.MarkAbandoned(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark abandoned runs: %w", err)
	}

	coordinator := sheetsync.NewCoordinator(manager, sheetsync.NewMySQLStore(db, log), log,
		sheetsync.WithMetrics(collector))

	// Set up router
	routes := &handlers.Routes{
		Health:   handlers.NewHealthHandler(sqlDB, log),
		Versions: handlers.NewVersionHandler(manager, log),
		Sync:     handlers.NewSyncHandler(coordinator, log),
		Runs:     handlers.NewRunHandler(rtr, runStore, sink, log),
		Locators: handlers.NewLocatorHandler(locatorStore, log),
		Metrics:  collector.Handler(),
	}
	muxRouter := mux.NewRouter()
	muxRouter.Use(handlers.NewRequestLogger(log).Handler)
	routes.Register(muxRouter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      muxRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info(ctx, "server listening", map[string]interface{}{
			"address":  addr,
			"backends": registry.Types(),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down server", nil)

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := rtr.Shutdown(shutdownCtx); err != nil {
		log.Warn(ctx, "runs still active at shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info(ctx, "server stopped", nil)
	return nil
}

// buildRegistry registers an executor for every configured backend. The
// returned func releases their resources.
func buildRegistry(cfg *Config, log logger.Logger) (*backend.Registry, func(), error) {
	registry := backend.NewRegistry()
	var closers []func() error

	registry.Register(testcase.TypeAPI, httpapi.NewExecutor(httpapi.Config{
		BaseURL: cfg.Backends.APIBaseURL,
		Timeout: cfg.Backends.APITimeout,
	}, nil, log))

	if cfg.Backends.BrowserEnabled {
		b := browser.NewExecutor(browser.Config{
			ControlURL: cfg.Backends.BrowserControl,
			Headless:   cfg.Backends.BrowserHeadless,
		}, log)
		registry.Register(testcase.TypeUI, b)
		closers = append(closers, b.Close)
	}

	if cfg.Backends.DatabaseDSN != "" {
		target, err := database.OpenDSN(cfg.Backends.DatabaseDriver, cfg.Backends.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to target database: %w", err)
		}
		registry.Register(testcase.TypeDatabase, sqldb.NewExecutor(target, log))
		if sqlDB, err := target.DB(); err == nil {
			closers = append(closers, sqlDB.Close)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn(context.Background(), "failed to close backend", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
	return registry, closeAll, nil
}
