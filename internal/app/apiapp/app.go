package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MadarauchiaM/rouzer3.0/internal/config"
	"github.com/MadarauchiaM/rouzer3.0/internal/infra/httpclient"
	s3infra "github.com/MadarauchiaM/rouzer3.0/internal/infra/s3"
	tginfra "github.com/MadarauchiaM/rouzer3.0/internal/infra/telegram"
	"github.com/MadarauchiaM/rouzer3.0/internal/jobs/cleanup"
	pgrepo "github.com/MadarauchiaM/rouzer3.0/internal/repo/postgres"
	redrepo "github.com/MadarauchiaM/rouzer3.0/internal/repo/redis"
	authsvc "github.com/MadarauchiaM/rouzer3.0/internal/services/auth"
	"github.com/MadarauchiaM/rouzer3.0/internal/services/blobstore"
	mediasvc "github.com/MadarauchiaM/rouzer3.0/internal/services/media"
	"github.com/MadarauchiaM/rouzer3.0/internal/transport/http/handlers"
)

const (
	startupRetryWindow = 30 * time.Second
	telegramTimeout    = 2 * time.Minute
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	purge      *cleanup.Job
	httpRouter http.Handler

	jobsCancel context.CancelFunc
	jobsWG     sync.WaitGroup
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log, cfg.HTTP.WriteTimeout)

	pool, err := connectPostgres(ctx, cfg.Postgres.DSN, log)
	if err != nil {
		return nil, err
	}
	if err := pgrepo.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	var redisClient *goredis.Client
	if c, err := redrepo.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Warn("redis unavailable, blob rate limit stays per process", zap.Error(err))
	} else {
		redisClient = c
	}

	blobs, err := newBlobStore(ctx, cfg, redisClient)
	if err != nil {
		pool.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fetchClient := httpclient.New(httpclient.Config{Timeout: cfg.Media.FetchTimeout})
	mediaRepo := pgrepo.NewMediaRepo(pool)
	mediaService := mediasvc.NewService(mediasvc.Dependencies{
		Store:   mediaRepo,
		Blobs:   blobs,
		Fetcher: mediasvc.NewFetcher(fetchClient, mediasvc.NewPlatformFetcher(fetchClient, cfg.Media.YouTubeThumbBase)),
		Frames:  mediasvc.NewFrameGrabber(cfg.Media.FFmpegPath),
		Logger:  log.Named("media"),
		Metrics: mediasvc.NewMetrics(registry),
	}, mediasvc.Config{
		MaxUploadBytes:           cfg.Media.MaxUploadBytes,
		PrivilegedMaxUploadBytes: cfg.Media.PrivilegedMaxUploadBytes,
	})
	purgeJob := cleanup.NewPurgeJob(mediaRepo, blobs, cfg.Cleanup.Grace, cfg.Cleanup.BatchSize, log.Named("cleanup"))

	healthChecks := []handlers.HealthCheck{
		{Name: "postgres", Check: func(ctx context.Context) error { return pgrepo.Ping(ctx, pool) }},
	}
	if redisClient != nil {
		healthChecks = append(healthChecks, handlers.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	RegisterRoutes(r, Dependencies{
		MediaService: mediaService,
		AdminToken:   authsvc.NewAdminToken(cfg.Admin.Token),
		HealthChecks: healthChecks,
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:       log,
		Config:       cfg,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	log.Info("media pipeline configured",
		zap.String("backend", blobs.Name()),
		zap.Bool("external", blobs.External()),
		zap.Int64("max_upload_bytes", cfg.Media.MaxUploadBytes),
	)

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		purge:      purgeJob,
		httpRouter: r,
	}, nil
}

// connectPostgres retries the first ping so the api can start alongside the
// database container.
func connectPostgres(ctx context.Context, dsn string, log *zap.Logger) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	operation := func() error {
		p, err := pgrepo.NewPool(ctx, dsn)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := pgrepo.Ping(ctx, p); err != nil {
			p.Close()
			return fmt.Errorf("ping postgres: %w", err)
		}
		pool = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = startupRetryWindow
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Warn("postgres not ready", zap.Error(err), zap.Duration("retry_in", next))
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func newBlobStore(ctx context.Context, cfg config.Config, redisClient *goredis.Client) (blobstore.Store, error) {
	deps := blobstore.Dependencies{Redis: redisClient}

	switch cfg.Blob.Backend {
	case config.BlobBackendS3:
		client, err := s3infra.NewClient(s3infra.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		deps.S3 = client
	case config.BlobBackendTelegram:
		bot, err := tginfra.NewBot(tginfra.Config{
			Token:      cfg.Telegram.Token,
			HTTPClient: httpclient.New(httpclient.Config{Timeout: telegramTimeout}),
		})
		if err != nil {
			return nil, err
		}
		deps.Bot = bot
	}

	store, err := blobstore.New(blobstore.Config{
		Backend:        cfg.Blob.Backend,
		LocalDir:       cfg.Blob.LocalDir,
		Bucket:         cfg.S3.Bucket,
		TelegramChatID: cfg.Telegram.ChatID,
		RatePerMinute:  cfg.Telegram.RatePerMinute,
		RateBurst:      cfg.Telegram.RateBurst,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("create blob store: %w", err)
	}

	if objects, ok := store.(*blobstore.ObjectStore); ok {
		if err := objects.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// StartJobs launches the background purge loop. Shutdown stops it.
func (a *App) StartJobs() {
	jobsCtx, cancel := context.WithCancel(context.Background())
	a.jobsCancel = cancel
	a.jobsWG.Add(1)
	go func() {
		defer a.jobsWG.Done()
		a.purge.Loop(jobsCtx, a.cfg.Cleanup.Interval)
	}()
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.jobsCancel != nil {
		a.jobsCancel()
	}
	a.jobsWG.Wait()

	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
