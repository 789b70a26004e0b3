package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-produce-market/internal/config"
	kafkax "github.com/ariefcatur/go-produce-market/internal/kafka"
	"github.com/ariefcatur/go-produce-market/internal/logx"
	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/ariefcatur/go-produce-market/internal/notify"
	"github.com/ariefcatur/go-produce-market/internal/redisx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logx.New(cfg.ServiceName+"-notifier", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if len(cfg.KafkaBrokers) == 0 || cfg.RedisAddr == "" {
		log.Fatal("notifier needs KAFKA_BROKERS and REDIS_ADDR")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis (dedup)
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Fatal("redis ping", zap.Error(err))
	}

	d := &notify.Dispatcher{
		Dedup:  notify.RedisDedup{Redis: rdb, Service: cfg.NotifierGroup},
		Mailer: notify.LogMailer{Log: log},
		Log:    log,
	}

	// satu consumer per topic, gagal satu -> semua berhenti
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range []string{market.TopicDealEvents, market.TopicOrderEvents, market.TopicLedgerEvents} {
		topic := topic
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, topic, cfg.NotifierWorkers, log)
		log.Info("consumer started",
			zap.String("group", cfg.NotifierGroup), zap.String("topic", topic), zap.Int("workers", cfg.NotifierWorkers))
		g.Go(func() error {
			if err := cons.Start(gctx, d.Handle); err != nil {
				return fmt.Errorf("consume %s: %w", topic, err)
			}
			return nil
		})
	}

	// graceful shutdown
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			log.Info("shutting down consumers...")
		case <-gctx.Done():
		}
		cancel()
	}()

	if err := g.Wait(); err != nil {
		log.Error("consumer exit", zap.Error(err))
		os.Exit(1)
	}
}
