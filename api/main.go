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

	"github.com/DeafMist/news-pulse/internal/config"
	"github.com/DeafMist/news-pulse/internal/elasticsearch"
	"github.com/DeafMist/news-pulse/internal/events"
	"github.com/DeafMist/news-pulse/internal/httpapi"
	"github.com/DeafMist/news-pulse/internal/logger"
	"github.com/DeafMist/news-pulse/internal/news"
	"github.com/DeafMist/news-pulse/internal/postgres"
	"github.com/DeafMist/news-pulse/internal/provider"
	"github.com/DeafMist/news-pulse/internal/reactions"
	"github.com/DeafMist/news-pulse/internal/sweeper"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = esClient.EnsureIndex(initCtx)
	cancel()
	if err != nil {
		log.Error("ensure article index", slog.Any("err", err))
		os.Exit(1)
	}

	initCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
	db, err := postgres.Connect(initCtx, cfg.PostgresDSN)
	if err != nil {
		cancel()
		log.Error("init postgres", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()
	reactionStore := postgres.NewReactionStorage(db)
	err = reactionStore.Migrate(initCtx)
	cancel()
	if err != nil {
		log.Error("migrate postgres", slog.Any("err", err))
		os.Exit(1)
	}

	var publisher reactions.Publisher = events.Discard{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.ReactionsTopic, log)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		log.Info("publishing reaction events", slog.String("topic", cfg.ReactionsTopic))
	} else {
		log.Info("KAFKA_BROKERS not set, reaction events disabled")
	}

	reactionSvc := reactions.NewService(reactionStore, publisher, log)
	fetcher := provider.New(provider.Config{
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Timeout: cfg.Provider.Timeout,
	}, log)
	newsSvc := news.NewService(esClient, fetcher, reactionSvc, news.Options{TTL: cfg.CacheTTL}, log)

	// The sweeper starts only once both stores are reachable and stops before the stores close.
	expiry := sweeper.New(esClient, cfg.SweepInterval, log)
	expiry.Start(ctx)
	defer expiry.Stop()

	handler := httpapi.NewHandler(newsSvc, reactionSvc, httpapi.Options{
		Production: cfg.Production(),
		Health: map[string]httpapi.Pinger{
			"elasticsearch": httpapi.PingerFunc(esClient.Health),
			"postgres":      reactionStore,
		},
	}, log)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		log.Info("api server starting",
			slog.String("addr", cfg.BindAddr),
			slog.String("env", cfg.Environment),
			slog.Duration("cache_ttl", cfg.CacheTTL),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}
