// Command sweep runs a single cleanup cycle against the Postgres job store.
// It is meant for cron deployments where the API runs with a long
// CLEANUP_INTERVAL_MINUTES or several API replicas share one upload volume.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"docify/internal/adapter/repo"
	"docify/internal/cleanup"
	"docify/internal/convert"
	"docify/internal/infra"
	"docify/internal/jobs"
	"docify/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	if cfg.DatabaseURL == "" {
		exitWithError(fmt.Errorf("DATABASE_URL is required"))
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		exitWithError(err)
	}
	defer pool.Close()
	jobRepo := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))

	files, err := storage.NewFileStore(cfg.UploadDir)
	if err != nil {
		exitWithError(err)
	}

	var opts []jobs.Option
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
			logger.Warn().Err(err).Msg("sweep: mirrored objects will not be removed")
		} else {
			opts = append(opts, jobs.WithMirror(mirror))
		}
	}

	// The engine only releases files here; it never runs a job.
	engine := jobs.NewEngine(jobRepo, convert.New(convert.Config{RejectUnknown: true}), files, jobs.Config{
		Workers:   1,
		QueueSize: 1,
		TTL:       cfg.FileExpiry,
		Timeout:   cfg.JobTimeout,
	}, logger, opts...)
	defer func() { _ = engine.Shutdown(context.Background()) }()

	report, err := cleanup.New(jobRepo, engine, files, cfg.FileExpiry, cfg.CleanupInterval, logger).RunOnce(ctx)
	if err != nil {
		exitWithError(err)
	}
	fmt.Printf("expired jobs: %d (aborted %d), orphaned files: %d, errors: %d\n",
		report.ExpiredJobs, report.AbortedJobs, report.OrphanedFiles, report.Errors)
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
	os.Exit(1)
}
