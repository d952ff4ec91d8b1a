package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"loan-upload/internal/adapters/connectivity/probe"
	"loan-upload/internal/adapters/eventbroker/nats"
	"loan-upload/internal/adapters/handlers/http/chi"
	uploadhandler "loan-upload/internal/adapters/handlers/http/chi/v1/upload"
	"loan-upload/internal/adapters/repository/memory"
	"loan-upload/internal/adapters/repository/postgres"
	"loan-upload/internal/adapters/storage/minio"
	"loan-upload/internal/adapters/transport/api"
	"loan-upload/internal/config"
	"loan-upload/internal/core/port"
	"loan-upload/internal/core/service/clock"
	"loan-upload/internal/core/service/gate"
	"loan-upload/internal/core/service/retry"
	"loan-upload/internal/core/service/status"
	"loan-upload/internal/core/service/upload"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

func main() {

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	//history
	var history port.HistoryRepository
	if cfg.Database.Host != "" {
		db, err := initDB(cfg.Database)
		if err != nil {
			logger.Error("failed to init database", "error", err)
			os.Exit(1)
		}
		defer func(db *sql.DB) {
			if err := db.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}(db)
		logger.Info("db connection established")
		history = postgres.NewSQLHistoryRepository(db)
	} else {
		logger.Info("no database configured, upload history kept in memory")
		history = memory.NewHistoryRepository()
	}

	//events
	trackerOpts := []status.Option{status.WithHistory(history)}
	var publisher *nats.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = nats.NewPublisher(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to init NATS", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("failed to close NATS", "error", err)
			}
		}()
		trackerOpts = append(trackerOpts, status.WithPublisher(publisher))
	}
	tracker := status.NewTracker(logger, trackerOpts...)

	//transport
	transport, err := initTransport(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to init transport", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup

	//connectivity
	var source port.ConnectivitySource
	switch {
	case cfg.Connectivity.Source == config.ConnectivityNATS && publisher != nil:
		source = publisher.Connectivity()
	case cfg.Connectivity.Source == config.ConnectivityNone, cfg.Connectivity.ProbeURL == "":
		logger.Info("no connectivity source, the network is assumed up")
		source = gate.NewSwitch(true)
	default:
		if cfg.Connectivity.Source == config.ConnectivityNATS {
			logger.Warn("NATS connectivity requested without NATS_URL, using the probe")
		}
		healthProbe := probe.NewProbe(cfg.Connectivity, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			healthProbe.Run(ctx)
		}()
		source = healthProbe
	}
	networkGate := gate.NewGate(source, logger)

	//upload engine
	systemClock := clock.System{}
	engine := retry.NewEngine()
	breaker := retry.BreakerFromConfig(cfg.Retry)
	executor := upload.NewExecutor(transport, cfg.Upload, cfg.Retry, engine, breaker, systemClock, logger)
	controller := upload.NewController(cfg.Upload, cfg.Retry, executor, tracker, logger,
		upload.WithGate(networkGate),
		upload.WithClock(systemClock),
	)
	controller.WatchBreaker(breaker)

	// init session GC
	wg.Add(1)
	go func() {
		defer wg.Done()
		controller.RunGC(ctx, cfg.Upload.CleanupEvery)
	}()

	//http
	uploadHandler := uploadhandler.NewUploadHandlerV1(controller, logger)
	router := chi.NewRouter(logger, uploadHandler, cfg.Env.Env)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port)
		servErr := server.ListenAndServe()
		if servErr != nil && !errors.Is(servErr, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", servErr)
			stop()
		}
	}()

	//wait for context cancel
	<-ctx.Done()
	logger.Info("gracefully shutting down uploader")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	} else {
		logger.Info("server gracefully shutdown complete")
	}

	controller.Close()
	networkGate.Close()
	tracker.Close()

	wg.Wait()
	logger.Info("uploader shutdown complete")
}

func initTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (port.Transport, error) {
	switch cfg.Upload.Transport {
	case config.TransportMinio:
		adapter, err := minio.NewAdapter(ctx, cfg.Minio, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init minio: %w", err)
		}
		return adapter, nil
	case config.TransportAPI:
		return api.NewClient(cfg.API, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Upload.Transport)
	}
}

func initDB(cfg config.DatabaseConfig) (*sql.DB, error) {

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenCons)
	db.SetMaxIdleConns(cfg.MaxIdleCons)
	db.SetConnMaxLifetime(cfg.ConMaxLifeTime)

	return db, nil
}
