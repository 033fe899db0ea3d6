package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/docmill/internal/api"
	cfgpkg "github.com/local/docmill/internal/config"
	"github.com/local/docmill/internal/convert"
	"github.com/local/docmill/internal/dispatcher"
	"github.com/local/docmill/internal/fetch"
	"github.com/local/docmill/internal/janitor"
	logpkg "github.com/local/docmill/internal/logger"
	"github.com/local/docmill/internal/metrics"
	"github.com/local/docmill/internal/orchestrator"
	"github.com/local/docmill/internal/queue"
	"github.com/local/docmill/internal/split"
	"github.com/local/docmill/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	st, closeStore, err := newStore(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("state store init failed")
	}
	defer closeStore()

	q, err := queue.NewRedis(cfg.Store.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("queue init failed")
	}
	defer q.Close()

	orch := orchestrator.New(orchestrator.Dependencies{
		Store:   st,
		Queue:   q,
		Fetch:   fetch.New(cfg.Limits.MaxFileSizeMB),
		Split:   split.New(),
		Convert: convert.New(),
	}, orchestrator.Config{
		TempDir:       cfg.TempDir,
		MinSplitPages: cfg.Limits.MinSplitPages,
	})

	runWorkers := os.Getenv("RUN_DISPATCHER")
	if runWorkers == "" || runWorkers == "1" || runWorkers == "true" {
		disp := dispatcher.New(dispatcher.Config{
			Concurrency:       cfg.Worker.Concurrency,
			ConversionTimeout: cfg.Worker.ConversionTimeout,
			RetryMax:          cfg.Queue.RetryMax,
			RetryBase:         cfg.Queue.RetryBase,
		}, q, orch)
		disp.Start()
		defer disp.Stop(context.Background())
	}

	jan := janitor.New(cfg.TempDir, cfg.Cleanup.MaxAge)
	if err := jan.Start(cfg.Cleanup.Interval); err != nil {
		log.Fatal().Err(err).Msg("janitor init failed")
	}
	defer jan.Stop()

	srvCfg := api.Config{
		MaxFileSizeMB: cfg.Limits.MaxFileSizeMB,
		UploadDir:     cfg.TempDir,
		APIKeys:       cfg.Server.APIKeys,
	}
	router := api.New(orch, srvCfg, st, q).Router()

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info().Msg("shutdown complete")
}

// newStore picks the backend. Memory keeps everything in process for local
// runs without Redis persistence; the queue still needs Redis either way.
func newStore(cfg cfgpkg.StoreConfig) (store.Store, func(), error) {
	opts := store.Options{StatusTTL: cfg.StatusTTL, ResultTTL: cfg.ResultTTL}
	if cfg.Backend == "memory" {
		return store.NewMemory(opts), func() {}, nil
	}
	rs, err := store.NewRedis(cfg.RedisURL, opts)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}
