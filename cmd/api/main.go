package main

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"content-protection/internal/aiclient"
	api "content-protection/internal/api"
	"content-protection/internal/auth"
	"content-protection/internal/config"
	"content-protection/internal/models"
	"content-protection/internal/protection"
	"content-protection/internal/ratelimit"
	"content-protection/internal/storage"
	"content-protection/internal/store"
	"content-protection/internal/telemetry"
)

// jobStore is what both store drivers provide.
type jobStore interface {
	CreateJob(ctx context.Context, job *models.ProtectionJob) error
	SaveJob(ctx context.Context, job *models.ProtectionJob) error
	GetJob(ctx context.Context, id, ownerID string) (*models.ProtectionJob, error)
	ListJobs(ctx context.Context, ownerID string) iter.Seq2[models.JobSummary, error]
	RecordEvent(ctx context.Context, ev models.SystemLog) error
	ListAnalyses(ctx context.Context, ownerID string) ([]models.AnalysisRecord, error)
	GetAnalysis(ctx context.Context, id, ownerID string) (models.AnalysisRecord, error)
	AnalysisStatistics(ctx context.Context, ownerID string) (models.AnalysisStatistics, error)
}

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, sessions will fail until it is up")
	}

	local, err := storage.NewLocalStore(cfg.MediaRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("media root")
	}
	signer := storage.NewURLSigner(cfg.MediaSigningKey, cfg.PublicBaseURL)

	var remote storage.ObjectStore
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("s3 storage")
		}
		remote = s3Store
	} else if cfg.UseS3 {
		logger.Fatal().Msg("USE_S3_FOR_PROTECTION requires S3_BUCKET")
	}

	resolver, err := storage.NewResolver(storage.ResolverOptions{
		Local:     local,
		Remote:    remote,
		UseRemote: cfg.UseS3,
		Signer:    signer,
		TTL:       cfg.PresignTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("storage resolver")
	}

	processor, err := aiclient.New(aiclient.Options{
		BaseURL:        cfg.AIServiceURL,
		HealthTimeout:  cfg.AIHealthTimeout,
		ProcessTimeout: cfg.AIProcessTimeout,
		Events:         st,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("ai client")
	}

	orch, err := protection.New(protection.Dependencies{
		Storage:   resolver,
		Processor: processor,
		Rewriter:  storage.NewRewriter(resolver, cfg.ResultHostSuffix, cfg.S3Bucket, logger),
		Store:     st,
	}, protection.Options{PerFile: cfg.ProcessEachFile, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator")
	}

	server := api.New(cfg, api.Deps{
		Jobs:      st,
		Analyses:  st,
		Protector: orch,
		Sessions:  auth.NewRedisSessions(rdb),
		Limiter:   ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour),
		Media:     local,
		Signer:    signer,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().Str("port", cfg.HTTPPort).Str("store", cfg.StoreDriver).Bool("s3_uploads", cfg.UseS3).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (jobStore, func()) {
	if cfg.StoreDriver == "memory" {
		logger.Warn().Msg("using in-memory store, jobs are lost on restart")
		return store.NewMemoryStore(), func() {}
	}
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}
	return st, st.Close
}
