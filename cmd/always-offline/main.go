package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	alwaysoffline "github.com/always-offline/always-offline"
	"github.com/always-offline/always-offline/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// this is set by goreleaser
var version string

func init() {
	if version == "" {
		version = "DEV"
	}
}

func main() {
	cfg, err := loadConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Could not read configuration")
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if cfg.Trace {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if cfg.LogFile != "" {
		if logFileOutput, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(cfg.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	manifest, err := readManifest(cfg.ManifestFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.ManifestFile).Msg("Could not read manifest")
	}
	if manifest.Version == "" {
		log.Fatal().Msg("Manifest must specify a version")
	}

	workerConfig := alwaysoffline.Config{
		Provider: createProvider(ctx, cfg),
		Manifest: alwaysoffline.Manifest{
			Version:    manifest.Version,
			Critical:   manifest.Critical,
			Optional:   manifest.Optional,
			OfflineURL: manifest.OfflinePage,
		},
		OriginURL:       *originURL,
		OriginHost:      cfg.OriginHost,
		Namespace:       manifest.Namespace,
		Denylist:        manifest.Denylist,
		DeferActivation: cfg.DeferActivation,
	}

	worker := alwaysoffline.CreateWorker(workerConfig)
	if err := worker.Install(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not install worker")
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Route("/.ao", func(r chi.Router) {
		addControlRoutes(r, worker)
	})
	mux.Handle("/*", worker)

	if cfg.SyncEvery > 0 {
		go runSyncSchedule(ctx, worker, cfg.SyncEvery)
	}

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	log.Info().Msgf("Proxying %s to %s (with hostname '%s')", cfg.Listen, originURL.String(), cfg.OriginHost)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Could not shut down cleanly")
		}
		worker.DrainWrites()
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}
}

func createProvider(ctx context.Context, cfg Config) store.Provider {
	switch cfg.Provider {
	case "sqlite":
		dbFilename := cfg.DBFilename
		if dbFilename == "memory" {
			dbFilename = "file::memory:?cache=shared"
		}
		return store.NewSQLiteProvider(dbFilename)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		provider, err := store.NewRedisProvider(ctx, client)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not connect to redis")
		}
		return provider
	case "memory":
		return store.NewMemProvider()
	default:
		log.Fatal().Msgf("Unknown provider '%s'", cfg.Provider)
		return nil
	}
}

// runSyncSchedule fires every registered sync tag on a fixed interval.
// Failed routines are retried on the next tick.
func runSyncSchedule(ctx context.Context, worker *alwaysoffline.Worker, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tag := range worker.SyncTags() {
				if err := worker.Sync(ctx, tag); err != nil {
					log.Warn().Err(err).Str("tag", tag).Msg("Sync routine failed")
				}
			}
		}
	}
}
