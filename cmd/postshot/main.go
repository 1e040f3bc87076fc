// Package main wires together the screenshot service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/snapfeed/postshot/internal/api"
	"github.com/snapfeed/postshot/internal/browser"
	"github.com/snapfeed/postshot/internal/capture"
	"github.com/snapfeed/postshot/internal/clock/system"
	"github.com/snapfeed/postshot/internal/config"
	"github.com/snapfeed/postshot/internal/dispatcher"
	"github.com/snapfeed/postshot/internal/id/uuid"
	"github.com/snapfeed/postshot/internal/jobs"
	"github.com/snapfeed/postshot/internal/logging"
	pubsubpublisher "github.com/snapfeed/postshot/internal/publisher/pubsub"
	queuememory "github.com/snapfeed/postshot/internal/queue/memory"
	"github.com/snapfeed/postshot/internal/storage"
	"github.com/snapfeed/postshot/internal/storage/gcs"
	storagememory "github.com/snapfeed/postshot/internal/storage/memory"
	storagepostgres "github.com/snapfeed/postshot/internal/storage/postgres"
	"github.com/snapfeed/postshot/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout := storage.NewLayout(cfg.Storage.DataDir)
	if err := layout.EnsureDataDir(); err != nil {
		logger.Fatal("data dir init failed", zap.Error(err))
	}

	var jobStore capture.JobStore
	switch cfg.Storage.Provider {
	case "postgres":
		pgStore, err := storagepostgres.NewJobStore(ctx, storagepostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		if err := pgStore.Migrate(ctx); err != nil {
			logger.Fatal("postgres migrate failed", zap.Error(err))
		}
		defer pgStore.Close()
		jobStore = pgStore
	default:
		jobStore = storagememory.NewJobStore()
	}

	queue := queuememory.NewQueue(cfg.Queue.Depth)
	clock := system.New()
	idGen := uuid.New()

	executor, err := browser.NewExecutor(browser.Config{
		Concurrency: cfg.Worker.Concurrency,
		UserAgent:   cfg.Capture.UserAgent,
		ExecPath:    cfg.Capture.ChromePath,
		Headless:    cfg.Capture.Headless,
	}, logger.Named("browser"))
	if err != nil {
		logger.Fatal("browser init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := executor.Close(context.Background()); closeErr != nil {
			logger.Warn("browser close failed", zap.Error(closeErr))
		}
	}()

	var publisher capture.Publisher
	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Warn("pubsub init failed, completion events disabled", zap.Error(err))
		} else {
			defer func() {
				if closeErr := pub.Close(); closeErr != nil {
					logger.Warn("pubsub close failed", zap.Error(closeErr))
				}
			}()
			publisher = pub
		}
	}

	var artifacts capture.ArtifactStore
	if cfg.Storage.GCSBucket != "" {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			logger.Warn("gcs init failed, archive mirroring disabled", zap.Error(err))
		} else {
			store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
			if err != nil {
				logger.Warn("gcs store init failed, archive mirroring disabled", zap.Error(err))
			} else {
				artifacts = store
			}
		}
	}

	workerCfg := worker.Config{
		PageTimeout: cfg.PageTimeout(),
		MaxAttempts: cfg.Worker.MaxAttempts,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			executor,
			publisher,
			artifacts,
			layout,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	svc := jobs.NewService(jobStore, queue, idGen, clock, logger.Named("jobs"))

	apiCfg := api.Config{
		MaxBatch:       cfg.Capture.MaxBatch,
		RequestTimeout: cfg.RequestTimeout(),
	}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	apiServer := api.NewServer(svc, apiCfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Concurrency))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
}
