package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"post_orchestrator/internal/api"
	"post_orchestrator/internal/config"
	"post_orchestrator/internal/contentgen"
	"post_orchestrator/internal/credentials"
	"post_orchestrator/internal/domain"
	"post_orchestrator/internal/media"
	"post_orchestrator/internal/notify"
	"post_orchestrator/internal/platform"
	"post_orchestrator/internal/publish"
	"post_orchestrator/internal/queue"
	"post_orchestrator/internal/ratelimit"
	"post_orchestrator/internal/report"
	"post_orchestrator/internal/storage/postgres"
	"post_orchestrator/internal/transform"
	"post_orchestrator/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	sink, err := notify.NewRabbitMQ(notify.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	postStore := postgres.NewPostStore(db)
	jobStore := postgres.NewJobStore(db)
	txManager := postgres.NewTransactionManager(db)

	resolver := media.New(media.Config{Timeout: cfg.Media.Timeout}, logger)
	creds := credentials.NewStore(cfg.Accounts)
	generator := contentgen.New(contentgen.Config{
		BaseURL: cfg.Generator.BaseURL,
		APIKey:  cfg.Generator.APIKey,
		Timeout: cfg.Generator.Timeout,
	}, logger)

	registry := transform.DefaultRegistry()
	limiter := ratelimit.New(rateLimits(cfg))
	drivers := platformDrivers(cfg, logger)

	engine := publish.NewEngine(drivers, resolver, publish.Config{
		ChunkSize:    cfg.Upload.ChunkSize,
		PollInterval: cfg.Upload.PollInterval,
		PollCeiling:  cfg.Upload.PollCeiling,
	}, logger)

	reporter := report.NewReporter(postStore, jobStore, sink, logger)

	orch := queue.NewOrchestrator(postStore, jobStore, txManager, resolver, registry, reporter, queue.Config{
		MaxAttempts:    cfg.Queue.MaxAttempts,
		BackoffBase:    cfg.Queue.BackoffBase,
		BackoffCap:     cfg.Queue.BackoffCap,
		BackoffJitter:  cfg.Queue.BackoffJitter,
		LeaseTTL:       cfg.Queue.LeaseTTL,
		ReaperInterval: cfg.Queue.ReaperInterval,
	}, logger)

	pool := worker.NewPool(orch, engine, registry, limiter, creds, postStore, worker.Config{
		Workers:      cfg.Workers.Count,
		IdleInterval: cfg.Workers.IdleInterval,
	}, logger)

	handler := api.NewHandler(orch, postStore, jobStore, registry, generator, logger)
	server := api.NewServer(api.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, handler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	go orch.StartReaper(ctx)
	go pool.Run(ctx)

	logger.Info("starting post orchestrator",
		"addr", cfg.HTTP.Addr,
		"workers", cfg.Workers.Count,
		"max_attempts", cfg.Queue.MaxAttempts,
	)

	if err := server.Run(ctx); err != nil {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

func rateLimits(cfg *config.Config) map[domain.Platform]ratelimit.Limit {
	if len(cfg.RateLimits) == 0 {
		return nil
	}
	limits := ratelimit.DefaultLimits()
	for name, rl := range cfg.RateLimits {
		limits[domain.Platform(name)] = ratelimit.Limit{
			Requests: rl.Requests,
			Window:   rl.Window,
		}
	}
	return limits
}

func platformDrivers(cfg *config.Config, logger *slog.Logger) map[domain.Platform]any {
	drivers := make(map[domain.Platform]any)
	for name, pc := range cfg.Platforms {
		clientCfg := platform.Config{
			BaseURL:   pc.BaseURL,
			UploadURL: pc.UploadURL,
			Timeout:   pc.Timeout,
		}
		switch domain.Platform(name) {
		case domain.PlatformTwitter:
			drivers[domain.PlatformTwitter] = platform.NewTwitter(clientCfg, logger)
		case domain.PlatformInstagram:
			drivers[domain.PlatformInstagram] = platform.NewInstagram(clientCfg, pc.UserID, logger)
		case domain.PlatformFacebook:
			drivers[domain.PlatformFacebook] = platform.NewFacebook(clientCfg, pc.PageID, logger)
		case domain.PlatformLinkedIn:
			drivers[domain.PlatformLinkedIn] = platform.NewLinkedIn(clientCfg, pc.PersonID, logger)
		default:
			logger.Warn("unknown platform in config, skipping", "platform", name)
		}
	}
	return drivers
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
