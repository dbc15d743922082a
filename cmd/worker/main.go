package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	contractmq "localrank/contracts/mq"
	"localrank/internal/bootstrap"
	"localrank/internal/mqhandler"
	"localrank/pkg/config"
	"localrank/pkg/logger"
	"localrank/pkg/mq"
	"localrank/pkg/otel"
	"localrank/pkg/outbox"
	"localrank/pkg/util"
)

func main() {
	replayFailed := flag.Int("replay-failed", 0, "republish up to N failed outbox events and exit")
	replayEvent := flag.String("replay-event", "", "republish one outbox event by id and exit")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_DIR"))
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Env)
	defer log.Sync()

	if cfg.MQ.URL == "" {
		log.Fatal("Worker requires mq.url; without a broker the server builds the activity feed itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    "localrank-worker",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.OTel.Endpoint,
		Enabled:        cfg.OTel.Enabled,
	}, log)
	if err != nil {
		log.Warn("OpenTelemetry init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownOtel()
	}

	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("Storage initialization failed", zap.Error(err))
	}
	defer storage.Store.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// 运维模式：重放失败事件后退出
	if *replayFailed > 0 || *replayEvent != "" {
		replay := outbox.NewReplayService(storage.Outbox, publisher, log)
		if *replayEvent != "" {
			if err := replay.ReplayEvent(ctx, *replayEvent); err != nil {
				log.Fatal("Replay failed", zap.String("event_id", *replayEvent), zap.Error(err))
			}
			return
		}
		n, err := replay.ReplayFailedEvents(ctx, *replayFailed)
		if err != nil {
			log.Fatal("Replay failed", zap.Error(err))
		}
		log.Info("Replayed failed events", zap.Int("count", n))
		return
	}

	rdb, err := bootstrap.OpenRedis(cfg, log)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	var (
		deduper  *util.Deduper
		attempts mq.AttemptCounter
	)
	if rdb != nil {
		defer rdb.Close()
		deduper = util.NewDeduper(rdb, 24*time.Hour, log)
		attempts = util.NewRetryCounter(rdb, 24*time.Hour)
	}

	activity := mqhandler.NewActivityHandler(storage.Store, deduper, log)

	log.Info("Starting worker service...")
	var wg sync.WaitGroup
	for _, key := range contractmq.RoutingKeys {
		queue := "activity." + key + ".q"
		consumer, err := mq.NewConsumer(cfg.MQ.URL, queue, key, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.String("queue", queue), zap.Error(err))
		}
		defer consumer.Close()
		consumer.SetHandler(activity.Handle)
		consumer.SetDeadLetter(publisher)
		consumer.SetRetryLimit(attempts, cfg.MQ.MaxDeliveries)

		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			log.Info("Starting consumer", zap.String("queue", queue))
			if err := consumer.StartConsuming(ctx); err != nil {
				log.Error("Consumer stopped", zap.String("queue", queue), zap.Error(err))
				stop()
			}
		}(queue)
	}

	log.Info("All consumers started, worker is ready to process messages")
	<-ctx.Done()
	wg.Wait()
	log.Info("Worker stopped")
}
