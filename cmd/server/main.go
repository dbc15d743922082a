package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	contractmq "localrank/contracts/mq"
	"localrank/internal/bootstrap"
	"localrank/internal/handler"
	"localrank/internal/httpserver"
	"localrank/internal/mqhandler"
	"localrank/internal/service"
	"localrank/pkg/config"
	"localrank/pkg/logger"
	"localrank/pkg/mq"
	"localrank/pkg/otel"
	"localrank/pkg/outbox"
	"localrank/pkg/util"
)

func main() {
	// 1. Load config
	cfg, err := config.Load(os.Getenv("CONFIG_DIR"))
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Env)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Tracing
	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    "localrank-server",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.OTel.Endpoint,
		Enabled:        cfg.OTel.Enabled,
	}, log)
	if err != nil {
		log.Warn("OpenTelemetry init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownOtel()
	}

	// 3. Storage
	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("Storage initialization failed", zap.Error(err))
	}
	defer storage.Store.Close()

	rdb, err := bootstrap.OpenRedis(cfg, log)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// 4. Engine
	engine := service.NewEngine(storage.Store, bootstrap.Locker(rdb, log), nil, log, bootstrap.EngineOptions(cfg.Engine))

	// 5. Outbox: RabbitMQ if configured, otherwise deliver in-process
	var publisher outbox.Publisher
	if cfg.MQ.URL != "" {
		p, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer p.Close()
		publisher = p
	} else {
		log.Info("MQ not configured, activity feed is built in-process")
		var deduper *util.Deduper
		if rdb != nil {
			deduper = util.NewDeduper(rdb, 24*time.Hour, log)
		}
		activity := mqhandler.NewActivityHandler(storage.Store, deduper, log)
		bus := mq.NewLocalBus(log)
		for _, key := range contractmq.RoutingKeys {
			bus.Subscribe(key, activity.Handle)
		}
		publisher = bus
	}
	dispatcher := bootstrap.Dispatcher(storage.Outbox, publisher, cfg.Outbox, log)
	go dispatcher.Start(ctx)

	// 6. HTTP
	ttl := config.Duration(cfg.JWT.TTL, 24*time.Hour)
	router := httpserver.NewRouter(httpserver.Handlers{
		Agency:  handler.NewAgencyHandler(engine, cfg.JWT.Secret, ttl, log),
		Client:  handler.NewClientHandler(engine, log),
		Project: handler.NewProjectHandler(engine, log),
	}, cfg.JWT.Secret, storage.Store, log)

	srv := router.Server(cfg.Server.Port)
	go func() {
		log.Info("Starting server",
			zap.String("port", cfg.Server.Port),
			zap.String("store", storage.Store.Driver()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server start failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}
