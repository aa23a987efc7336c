package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civicsync-dispatch/config"
	"civicsync-dispatch/events"
	"civicsync-dispatch/locks"
	"civicsync-dispatch/logging"
	"civicsync-dispatch/repository"
	"civicsync-dispatch/routes"
	"civicsync-dispatch/services/classify"
	"civicsync-dispatch/services/lifecycle"
	"civicsync-dispatch/services/optimizer"
	"civicsync-dispatch/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
)

const (
	intakeLockPrefix = "civicsync:lock"
	intakeLockTTL    = 30 * time.Second
	shutdownTimeout  = 15 * time.Second
)

func main() {
	envErr := godotenv.Load()

	settings, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(settings.LogLevel), os.Stdout, logging.ParseFormat(settings.LogFormat))
	if envErr != nil {
		logger.Info("No .env file found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.With(ctx, logger)

	if err := run(ctx, settings, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *config.Settings, logger *slog.Logger) error {
	if settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	repo, closeRepo, err := openRepository(ctx, settings)
	if err != nil {
		return err
	}
	defer closeRepo()

	redisClient, err := config.ConnectRedis(ctx, settings)
	if err != nil {
		return err
	}
	opts := []lifecycle.Option{
		lifecycle.WithDuplicateConfig(settings.Duplicate()),
		lifecycle.WithOptimizer(settings.Optimizer(), optimizer.MinCostFlow{}),
		lifecycle.WithBatchConfig(settings.Batch()),
	}
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, lifecycle.WithLocker(locks.NewRedis(redisClient, intakeLockPrefix, intakeLockTTL)))
	} else {
		logger.Warn("REDIS_ADDRESS not set, rate limiting disabled and intake locks are process local")
	}

	if settings.MinioEndpoint != "" {
		store, err := storage.NewMinio(storage.MinioConfig{
			Endpoint:  settings.MinioEndpoint,
			AccessKey: settings.MinioAccessKey,
			SecretKey: settings.MinioSecretKey,
			Bucket:    settings.MinioBucket,
			UseSSL:    settings.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		opts = append(opts, lifecycle.WithImageStore(store))
	} else {
		logger.Warn("MINIO_ENDPOINT not set, uploaded images are not kept")
	}

	if settings.NATSURL != "" {
		publisher, err := events.NewNATS(events.NATSConfig{
			URL:            settings.NATSURL,
			Name:           "civicsync-dispatch",
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  10,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, lifecycle.WithPublisher(publisher))
	}

	if settings.ClassifierURL != "" {
		opts = append(opts, lifecycle.WithClassifier(classify.NewRemote(settings.ClassifierURL, 0)))
	} else {
		opts = append(opts, lifecycle.WithClassifier(classify.Keyword{}))
	}

	svc := lifecycle.New(repo, opts...)
	router := routes.NewRouter(routes.Dependencies{
		Settings: settings,
		Logger:   logger,
		Repo:     repo,
		Service:  svc,
		Redis:    redisClient,
	})

	server := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", settings.Port, "env", settings.GoEnv)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "failed to start server")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shut down server")
	}
	return nil
}

// openRepository connects to MongoDB. Outside production a missing
// MONGODB_URI falls back to the in-memory repository.
func openRepository(ctx context.Context, settings *config.Settings) (repository.Repository, func(), error) {
	if settings.MongoURI == "" && !settings.IsProduction() {
		ctxlog.From(ctx).Warn("MONGODB_URI not set, using in-memory storage")
		return repository.NewMemory(), func() {}, nil
	}

	client, db, err := config.ConnectDB(ctx, settings)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewMongo(client, db)
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, nil, err
	}
	return repo, func() {
		if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
			ctxlog.From(ctx).Warn("failed to disconnect MongoDB", "error", err)
		}
	}, nil
}
