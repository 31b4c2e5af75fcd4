package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/edgefleet/authcore/internal/api"
	"github.com/edgefleet/authcore/internal/app"
	"github.com/edgefleet/authcore/internal/audit"
	"github.com/edgefleet/authcore/internal/billing"
	"github.com/edgefleet/authcore/internal/database"
	"github.com/edgefleet/authcore/internal/events"
	"github.com/edgefleet/authcore/internal/maintenance"
	"github.com/edgefleet/authcore/internal/peers"
	"github.com/edgefleet/authcore/internal/permissions"
	"github.com/edgefleet/authcore/internal/sharing"
	"github.com/edgefleet/authcore/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("authcore-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(cfg.DatabaseOptions())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeDatabase(db, log)

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// A missing broker degrades to dropped events, never a failed start.
	var natsConn *nats.Conn
	notifier := events.Notifier(events.Noop{})
	if cfg.Events.Enabled {
		natsConn, err = nats.Connect(cfg.Events.URL, nats.Name("authcore"))
		if err != nil {
			log.Warn("nats unavailable; events will be dropped", zap.String("url", cfg.Events.URL), zap.Error(err))
			natsConn = nil
		} else {
			log.Info("nats connected", zap.String("url", cfg.Events.URL))
		}
		notifier = events.NewNATSNotifier(natsConn)
	}
	defer func() {
		if natsConn != nil {
			natsConn.Close()
		}
	}()

	validator, err := peers.NewHTTPValidator(peers.Config{
		AccountServiceURL:      cfg.Peers.AccountServiceURL,
		OrganizationServiceURL: cfg.Peers.OrganizationServiceURL,
		Timeout:                cfg.Peers.Timeout,
		CacheSize:              cfg.Peers.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("initialise peer validator: %w", err)
	}

	store, err := permissions.NewStore(db, notifier)
	if err != nil {
		return fmt.Errorf("initialise permission store: %w", err)
	}

	var auditSvc *audit.Service
	if cfg.Audit.Enabled {
		auditSvc, err = audit.NewService(db)
		if err != nil {
			return fmt.Errorf("initialise audit service: %w", err)
		}
	}

	evaluator, err := permissions.NewEvaluator(store, validator,
		permissions.WithAudit(auditSvc),
		permissions.WithStrictValidator(validator.Strict()),
	)
	if err != nil {
		return fmt.Errorf("initialise evaluator: %w", err)
	}

	sharingSvc, err := sharing.NewService(db, evaluator, validator, notifier,
		sharing.WithStrictValidator(validator.Strict()),
	)
	if err != nil {
		return fmt.Errorf("initialise sharing service: %w", err)
	}

	coordinator, err := billing.NewCoordinator(db, notifier)
	if err != nil {
		return fmt.Errorf("initialise billing coordinator: %w", err)
	}

	consumer, err := events.NewConsumer(natsConn, store, sharingSvc)
	if err != nil {
		return fmt.Errorf("initialise event consumer: %w", err)
	}
	if err := consumer.Start(); err != nil {
		log.Warn("event consumer not started", zap.Error(err))
	}
	defer consumer.Stop()

	if cfg.Maintenance.Enabled {
		sweeper, sweepErr := maintenance.NewSweeper(db, maintenance.WithSchedule(cfg.Maintenance.Schedule))
		if sweepErr != nil {
			return fmt.Errorf("initialise sweeper: %w", sweepErr)
		}
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer sweeper.Stop()
	}

	router, err := api.NewRouter(db, api.Services{
		Store:     store,
		Evaluator: evaluator,
		Sharing:   sharingSvc,
		Billing:   coordinator,
		Audit:     auditSvc,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	if strings.TrimSpace(path) == "" {
		return app.LoadConfig()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config path %q: %w", path, err)
	}
	if info.IsDir() {
		return app.LoadConfig(path)
	}
	return nil, fmt.Errorf("config path %q must be a directory", path)
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database close skipped", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
