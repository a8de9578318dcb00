package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pitara-engine/internal/config"
	"pitara-engine/internal/domain"
	"pitara-engine/internal/downloader"
	apphttp "pitara-engine/internal/http"
	"pitara-engine/internal/repository"
	"pitara-engine/internal/repository/store"
	"pitara-engine/internal/service"
	"pitara-engine/internal/storage"
	"pitara-engine/internal/transfer"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth jwt secret not set, API is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		logger.Fatalf("init store: %v", err)
	}
	logger.Infof("using %s store", cfg.Store.Backend)

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	router := transfer.NewRouter().Handle(transfer.NewHTTPTransferer(0), "http", "https")
	if storageSvc != nil {
		router.Handle(transfer.NewS3Transferer(storageSvc), "s3")
	}

	manager := downloader.NewManager(downloader.Config{
		DataDir:       cfg.Download.DataDir,
		MaxConcurrent: cfg.Download.MaxConcurrent,
		Logger:        logger,
		OnChange: func(d domain.Download) {
			logger.WithField("download_id", d.ID).Debugf("%s %.1f%%", d.Status, d.Progress)
		},
	}, service.NewDownloadService(store), router)

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start manager: %v", err)
	}
	if err := manager.Resume(ctx); err != nil {
		logger.Warnf("resume downloads: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		manager,
		storageSvc,
		cfg.Storage.Bucket,
		cfg.Auth.JWTSecret,
	)
	handler.RegisterRoutes(engine)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: engine,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}

// buildStorage returns nil when no bucket is configured; s3:// sources are then rejected.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, s3 sources disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}

func openStore(cfg config.Config) (repository.KVStore, error) {
	return store.Open(store.Options{
		Backend:     cfg.Store.Backend,
		Dir:         cfg.Store.Dir,
		SQLitePath:  cfg.Database.Path,
		PostgresDSN: cfg.Database.DSN,
	})
}
