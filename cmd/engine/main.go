package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-enginev1/config"
	"order-enginev1/internal/broker"
	"order-enginev1/internal/engine"
	"order-enginev1/internal/feed"
	"order-enginev1/internal/logger"
	"order-enginev1/internal/metrics"
	"order-enginev1/internal/model"
	"order-enginev1/internal/notification"
	redisstore "order-enginev1/internal/store/redis"
	sqlitestore "order-enginev1/internal/store/sqlite"
	"order-enginev1/pkg/kiteconnect"
)

func main() {
	cfg := config.Load()
	slogger := logger.Init("order-engine", logger.ParseLevel(cfg.LogLevel))
	log.Println("[engine] starting...")

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite store (off hot path) ----
	os.MkdirAll("data", 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[engine] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)
	log.Println("[engine] sqlite store ready")

	// ---- Redis last-price view (optional) ----
	var prices model.PricePublisher
	redisPub, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[engine] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
	} else {
		prices = redisPub
		health.SetRedisConnected(true)
		defer redisPub.Close()
		log.Println("[engine] redis price view ready")
	}

	// ---- Periodic liveness checks ----
	if redisPub != nil {
		health.StartLivenessChecker(ctx, store.DB(), redisPub.Client(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, store.DB(), nil, 10*time.Second)
	}

	// ---- Broker clients ----
	kite := kiteconnect.New(kiteconnect.Config{
		APIKey:      cfg.KiteAPIKey,
		AccessToken: cfg.KiteAccessToken,
	})
	kite.SessionExpiryHook = func() {
		log.Println("[engine] kite session expired, shutting down")
		cancel()
	}
	brokerAdapter := broker.NewKite(kite, cfg.Exchange)

	ticker := kiteconnect.NewTicker(kiteconnect.TickerConfig{
		APIKey:      cfg.KiteAPIKey,
		AccessToken: cfg.KiteAccessToken,
	})

	// ---- Notifications ----
	var notifier notification.Notifier
	switch {
	case cfg.TelegramBotToken != "" && cfg.TelegramChatID != "":
		notifier = notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		log.Println("[engine] telegram notifications enabled")
	case cfg.WebhookURL != "":
		notifier = notification.NewWebhookNotifier(cfg.WebhookURL)
		log.Println("[engine] webhook notifications enabled")
	default:
		notifier = notification.NewLogNotifier()
	}

	// ---- Engine ----
	tickQueue := make(chan model.Tick, cfg.TickQueueSize)
	feedAdapter := feed.New(ticker, tickQueue)
	feedAdapter.Bind(ticker)
	feedAdapter.OnTickDrop = func() { prom.DroppedTicks.Inc() }

	eng, err := engine.New(engine.Config{
		Exchange:       cfg.Exchange,
		TickWorkers:    cfg.TickWorkers,
		DBWorkers:      cfg.DBWorkers,
		JobQueueSize:   cfg.JobQueueSize,
		SweepInterval:  cfg.SweepInterval,
		ConnectTimeout: cfg.ConnectTimeout,
	}, engine.Deps{
		Feed:      feedAdapter,
		Placer:    brokerAdapter,
		Resolver:  brokerAdapter,
		Store:     store,
		Persister: store,
		Prices:    prices,
		TickQueue: tickQueue,
		Metrics:   prom,
		Health:    health,
		Log:       slogger,
		Notifier:  notifier,
	})
	if err != nil {
		log.Fatalf("[engine] init failed: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("[engine] start failed: %v", err)
	}
	log.Printf("[engine] running: tick_workers=%d db_workers=%d exchange=%s",
		cfg.TickWorkers, cfg.DBWorkers, cfg.Exchange)

	// ---- Wait for shutdown signal ----
	select {
	case <-sigCh:
		log.Println("[engine] shutdown signal received, cleaning up...")
	case <-ctx.Done():
	}
	cancel()
	eng.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[engine] shutdown complete.")
}
