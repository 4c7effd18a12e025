// Package app wires configuration, storage, the exchange client and the
// HTTP surface into a runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"nsecli/internal/bhavcopy"
	"nsecli/internal/config"
	"nsecli/internal/consolidate"
	"nsecli/internal/drive"
	"nsecli/internal/enrich"
	"nsecli/internal/exporter"
	"nsecli/internal/infrastructure"
	"nsecli/internal/nse"
	"nsecli/internal/services"
	"nsecli/internal/store"
	handlers "nsecli/internal/transport/http"
	"nsecli/pkg/contracts"
)

const downloadWorkers = 4

// Application is the main application container.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Metrics       *infrastructure.Metrics
	DB            *store.DB
	ReportService *services.ReportService
	Router        chi.Router
	Server        *http.Server
}

// NewApplication creates a fully wired application instance.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("version", contracts.GetVersionString()),
		slog.Int("port", cfg.Server.Port))

	app := &Application{
		Config:  cfg,
		Logger:  logger,
		Metrics: infrastructure.NewMetrics(prometheus.DefaultRegisterer),
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.Router = handlers.NewRouter(handlers.NewReportHandler(app.ReportService, logger), logger)
	app.createServer()

	return app, nil
}

// initializeServices opens the store and builds the pipeline services.
func (a *Application) initializeServices() error {
	db, err := store.Open(a.Config.Store, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	a.DB = db

	snapshots := store.NewSnapshotStore(db, a.Logger, a.Metrics)
	aggregates := store.NewAggregateStore(db, a.Logger)
	engine := consolidate.NewEngine(snapshots, a.Logger, a.Metrics)

	client := nse.NewClient(a.Config.NSE, a.Logger, a.Metrics)
	enricher := enrich.NewEnricher(client, a.Config.Enrich, a.Logger, a.Metrics)

	uploader, err := drive.NewUploader(context.Background(), a.Config.Drive, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize drive uploader: %w", err)
	}

	a.ReportService = services.NewReportService(
		client,
		bhavcopy.NewLoader(a.Logger),
		snapshots,
		aggregates,
		engine,
		enricher,
		exporter.NewWorkbook(a.Logger),
		uploader,
		a.Logger,
		a.Metrics,
		downloadWorkers,
	)
	return nil
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.GetAddress(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts the HTTP server in the background. A listen failure
// cancels the supplied context so Run can unwind.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) {
	go func() {
		a.Logger.InfoContext(ctx, "http server listening",
			slog.String("address", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()
}

// Stop gracefully shuts down the server and closes the store.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "error closing store", slog.String("error", err.Error()))
		}
	}

	infrastructure.CloseLogFile()
	a.Logger.InfoContext(ctx, "application shutdown complete")
	return nil
}

// Run runs the application until interrupted.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	a.Start(ctx, cancel)

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
