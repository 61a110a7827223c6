// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"docqa-engine/internal/config"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/infra/api"
	"docqa-engine/internal/infra/api/apiv1"
	"docqa-engine/internal/infra/db"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/infra/metrics"
	"docqa-engine/internal/infra/notify"
	red "docqa-engine/internal/infra/redis"
	"docqa-engine/internal/infra/render"
	"docqa-engine/internal/infra/storage"
	"docqa-engine/internal/infra/trace"
	"docqa-engine/internal/infra/worker"
	"docqa-engine/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, header auth)")
	role := flag.String("role", "all", "process role: all|api|worker")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("dotenv: %v", err)
	}
	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	runAPI, runWorker, err := parseRole(*role)
	if err != nil {
		log.Fatalf("flags: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(reg)
	metrics.SetBuildInfo(version, commit)

	// ---- Store ----
	st, err := db.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("store")
	}
	defer st.Close()

	// ---- Redis (optional) ----
	var (
		redisClient *red.Client
		locker      worker.Locker
		publisher   adapter.JobNotifier
	)
	jobsRead := st.Jobs
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
		publisher = red.NewPublisher(redisClient, cfg.Redis.Channel)
		jobsRead = red.NewJobRepoCacheDecorator(st.Jobs, redisClient, cfg.Redis.TTL, logger)
	}

	// ---- Notifications ----
	// Across instances the relay feeds the hub; on a single node the hub is a direct sink.
	hub := notify.NewHub()
	sinks := []adapter.JobNotifier{}
	if publisher != nil {
		sinks = append(sinks, publisher)
	} else {
		sinks = append(sinks, hub)
	}
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.FailuresOnly)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier")
		}
		sinks = append(sinks, tg)
	}
	notifier := notify.NewMulti(sinks...)

	// ---- Model providers ----
	models, err := buildModels(ctx, cfg.AI, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ai providers")
	}

	// ---- Evidence ----
	fetcher := storage.NewCachingFetcher(
		storage.NewHTTPFetcher(cfg.Storage.PublicBaseURL, cfg.Storage.DownloadTimeout),
		storage.NewLRU(cfg.Storage.CacheMaxBytes),
	)
	uploads := storage.NewUploadRegistry(models.uploader, cfg.Storage.UploadTTL)
	resolver := storage.NewResolver(fetcher, uploads, render.New(cfg.Render), cfg.Storage.DownloadConcurrency, logger)

	// ---- Use cases ----
	traces := trace.NewRing(cfg.Agent.TraceCapacity)
	prompts := usecase.NewPromptBuilder(cfg.Agent.SystemPrompt, cfg.Agent.MaxHistoryPairs, cfg.Agent.HistoryTokenBudget, nil)
	agent := usecase.NewAgent(models.port, prompts, resolver, resolver, traces, logger)
	runner := usecase.NewJobRunner(agent, st.Jobs, st.Messages, st.TM, prompts, logger)

	workerID := workerIdentity()
	processor := worker.NewJobProcessor(st.Jobs, runner, notifier, worker.ProcessorConfig{
		WorkerID:   workerID,
		MaxClaims:  cfg.Worker.Concurrency,
		JobTimeout: cfg.Worker.JobTimeout,
	}, logger)
	pool := worker.NewPool(processor, cfg.Worker.Concurrency, cfg.Worker.PollInterval, logger)
	reclaimer := worker.NewReclaimer(st.Jobs, notifier, locker, cfg.Worker.ReclaimAfter, cfg.Worker.ReclaimCron, pool.Wake, logger)

	wake := pool.Wake
	if !runWorker {
		wake = nil
	}
	jobUC := usecase.NewJobUseCase(jobsRead, st.Messages, st.TM, models.catalog, wake, logger)

	// ---- Process group ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { st.ReportStats(gctx); return nil })

	if redisClient != nil {
		relay := red.NewRelay(redisClient, cfg.Redis.Channel, hub.Publish, logger)
		g.Go(func() error { return relay.Run(gctx) })
	}

	if runWorker {
		g.Go(func() error { return pool.Run(gctx) })
		g.Go(func() error { return reclaimer.Run(gctx) })
		logger.Info().Str("worker_id", workerID).Int("concurrency", cfg.Worker.Concurrency).Msg("worker pool enabled")
	}

	if runAPI {
		auth := api.NewAuthenticator(cfg.HTTP.JWTSecret, cfg.HTTP.TokenTTL)
		if !auth.Enabled() {
			if !cfg.Runtime.Dev {
				logger.Fatal().Msg("http.jwt_secret is required outside dev mode")
			}
			logger.Warn().Str("header", api.ClientIDHeader).Msg("jwt disabled; trusting client id header")
		}
		v1 := apiv1.NewServer(jobUC, hub, traces, logger)
		if redisClient != nil {
			v1.WithSubmitLimit(red.NewRateLimiter(redisClient), cfg.HTTP.SubmitRateLimit)
		}
		handler := api.NewRouter(api.RouterConfig{
			API:            v1,
			Auth:           auth,
			Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			RequestTimeout: cfg.HTTP.RequestTimeout,
			Health: func() error {
				hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				return st.Ping(hctx)
			},
		}, logger)

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", server.Addr).Msg("http listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(sctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("engine stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("engine stopped")
}

func parseRole(role string) (runAPI, runWorker bool, err error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", "all":
		return true, true, nil
	case "api":
		return true, false, nil
	case "worker":
		return false, true, nil
	}
	return false, false, fmt.Errorf("unknown role %q", role)
}

// workerIdentity is unique per process so a restarted worker never owns its
// predecessor's jobs.
func workerIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
