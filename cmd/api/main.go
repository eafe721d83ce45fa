package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"docify/internal/adapter/repo"
	"docify/internal/cleanup"
	"docify/internal/convert"
	"docify/internal/domain"
	"docify/internal/events"
	"docify/internal/http/handlers"
	"docify/internal/http/httpapi"
	"docify/internal/infra"
	"docify/internal/infra/credentials"
	"docify/internal/infra/geoip"
	"docify/internal/intake"
	"docify/internal/jobs"
	"docify/internal/middleware"
	"docify/internal/providers/genai"
	"docify/internal/storage"
)

const shutdownGrace = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobRepo, dbPool := openStore(ctx, cfg, logger)
	if dbPool != nil {
		defer dbPool.Close()
	}

	files, err := storage.NewFileStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	hub := events.NewHub(logger)
	go hub.Run(ctx)
	notifier := events.Fanout{hub}
	if cfg.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("api: job events will not be published to AMQP")
		} else {
			defer publisher.Close()
			notifier = append(notifier, publisher)
		}
	}

	engineOpts := []jobs.Option{jobs.WithNotifier(notifier)}
	if cfg.MirrorEnabled() {
		mirror, err := storage.NewMirror(ctx, storage.MirrorConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("api: object storage mirror disabled")
		} else {
			engineOpts = append(engineOpts, jobs.WithMirror(mirror))
		}
	}

	geminiKey, geminiModel := cfg.GeminiAPIKey, cfg.GeminiModel
	if dbPool != nil {
		store := credentials.NewStore(infra.NewSQLRunner(dbPool, logger))
		key, model, err := store.Gemini(ctx, geminiKey, geminiModel)
		if err != nil {
			logger.Warn().Err(err).Msg("api: stored gemini key lookup failed")
		} else {
			geminiKey, geminiModel = key, model
		}
	}
	gemini := genai.NewClient(genai.Options{
		APIKey:  geminiKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   geminiModel,
		Logger:  &logger,
	})
	if !gemini.Configured() {
		logger.Warn().Str("model", gemini.Model()).Msg("api: GEMINI_API_KEY missing, AI tools will fail")
	}

	registry := convert.New(convert.Config{
		Tools: convert.Toolchain{
			LibreOffice:    cfg.LibreOfficePath,
			Ghostscript:    cfg.GhostscriptPath,
			ImageMagick:    cfg.ImageMagickPath,
			Tesseract:      cfg.TesseractPath,
			TesseractLang:  cfg.TesseractLang,
			OCRParallelism: cfg.OCRParallelism,
		},
		AI:            gemini,
		RejectUnknown: cfg.UnknownToolPolicy == infra.UnknownToolReject,
		MaxBatchSize:  cfg.MaxBatchSize,
	})

	engine := jobs.NewEngine(jobRepo, registry, files, jobs.Config{
		Workers:   cfg.MaxConcurrentJobs,
		QueueSize: cfg.JobQueueSize,
		TTL:       cfg.FileExpiry,
		Timeout:   cfg.JobTimeout,
	}, logger, engineOpts...)
	if err := engine.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("api: job recovery failed")
	}

	scheduler := cleanup.New(jobRepo, engine, files, cfg.FileExpiry, cfg.CleanupInterval, logger)
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("api: cleanup scheduler stopped")
		}
	}()

	var countryLookup middleware.CountryLookup
	if resolver, err := geoip.NewResolver(cfg.GeoIPDBPath); err != nil {
		logger.Warn().Err(err).Msg("api: geoip lookup disabled")
	} else if resolver != nil {
		defer resolver.Close()
		countryLookup = resolver.CountryCode
	}

	origins := strings.Split(cfg.FrontendURL, ",")
	app := &handlers.App{
		Jobs:    engine,
		Intake:  intake.NewService(files, cfg.MaxFileSize, logger),
		Tools:   registry,
		Hub:     hub,
		Origins: origins,
		Env:     cfg.AppEnv,
		Logger:  logger,

		MaxUploadBytes: handlers.UploadLimit(intake.MaxFilesPerRequest, cfg.MaxFileSize),
	}
	if dbPool != nil {
		app.DB = dbPool
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		Origins:         origins,
		CountryLookup:   countryLookup,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	})
	server := infra.NewHTTPServer(cfg, router)
	if err := server.Listen(); err != nil {
		logger.Fatal().Err(err).Msg("api: listen failed")
	}
	logger.Info().Str("addr", server.Addr()).Msg("api: listening")

	if err := server.Serve(ctx, shutdownGrace); err != nil {
		logger.Error().Err(err).Msg("api: http server stopped with error")
	}
	stop()
	logger.Info().Msg("api: draining job engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: job engine shutdown incomplete")
	}
	logger.Info().Msg("api: stopped")
}

// openStore returns the Postgres repository when DATABASE_URL is set and the
// in-memory one otherwise.
func openStore(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (domain.JobRepository, *pgxpool.Pool) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("api: DATABASE_URL not set, jobs are kept in memory")
		return repo.NewMemoryJobRepository(), nil
	}
	if cfg.AutoMigrate {
		if err := infra.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("api: migrations failed")
		}
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	return repo.NewJobRepository(infra.NewSQLRunner(pool, logger)), pool
}
