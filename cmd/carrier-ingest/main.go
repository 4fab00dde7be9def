package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/carrier"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-realtime-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/logger"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-carrier-ingest"
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Environment: cfg.Environment, ServiceName: service})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Fatal("redis", zap.Error(err))
	}

	svc := &carrier.Service{
		API:   carrier.NewAPIClient(cfg.CarrierAPIURL),
		Dedup: &redisx.Dedup{RDB: rdb, Service: "carrier-ingest"},
		Log:   log,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.CarrierGroup, cfg.CarrierTopic, cfg.CarrierWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("carrier consumer started",
			zap.String("group", cfg.CarrierGroup),
			zap.String("topic", cfg.CarrierTopic),
			zap.Int("workers", cfg.CarrierWorkers),
			zap.String("api", cfg.CarrierAPIURL))
		if err := cons.Start(ctx, svc.HandleScan); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
}
