package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-produce-market/internal/checkout"
	"github.com/ariefcatur/go-produce-market/internal/config"
	"github.com/ariefcatur/go-produce-market/internal/deals"
	"github.com/ariefcatur/go-produce-market/internal/httpx"
	"github.com/ariefcatur/go-produce-market/internal/inventory"
	kafkax "github.com/ariefcatur/go-produce-market/internal/kafka"
	"github.com/ariefcatur/go-produce-market/internal/ledger"
	"github.com/ariefcatur/go-produce-market/internal/logx"
	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/ariefcatur/go-produce-market/internal/memstore"
	"github.com/ariefcatur/go-produce-market/internal/notify"
	"github.com/ariefcatur/go-produce-market/internal/orders"
	"github.com/ariefcatur/go-produce-market/internal/postgres"
	"github.com/ariefcatur/go-produce-market/internal/redisx"
	"go.uber.org/zap"
)

type store interface {
	market.ListingRepo
	market.DealRepo
	market.OrderRepo
	market.SubscriptionRepo
	market.Directory
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logx.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var st store
	if cfg.PostgresDSN != "" {
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db migrate", zap.Error(err))
		}
		st = &postgres.Store{DB: db}
	} else {
		log.Warn("POSTGRES_DSN empty, using in-memory store")
		st = memstore.New()
	}

	// Redis: action links + idempotency replay
	var (
		issuer   market.LinkIssuer
		resolver market.LinkResolver
		idem     httpx.ResponseStore
	)
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.Fatal("redis ping", zap.Error(err))
		}
		links := redisx.NewLinkStore(rdb)
		issuer, resolver = links, links
		idem = redisx.NewResponseCache(rdb)
	} else {
		log.Warn("REDIS_ADDR empty, action links and idempotency replay disabled")
	}

	// Kafka producer
	var (
		notifier market.Notifier = notify.Log{Logger: log}
		prod     *kafkax.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start(ctx)
		notifier = &notify.Kafka{Producer: prod, Service: cfg.ServiceName, Log: log}
	}

	// Services
	inv := inventory.New(st, log)
	led := ledger.New(st, notifier, log)
	led.LowBalanceThreshold = cfg.LowBalanceThreshold
	mat := orders.New(st, inv, led, notifier, log)
	mgr := &deals.Manager{
		Deals:     st,
		Listings:  st,
		Inventory: inv,
		Ledger:    led,
		Orders:    mat,
		Links:     issuer,
		Notifier:  notifier,
		Policy:    ledger.PointsPolicy{PricePerPoint: cfg.PricePerPoint},
		Log:       log,
		TTL:       cfg.DealTTL,
		BaseURL:   cfg.PublicBaseURL,
	}
	h := &httpx.Handler{
		Deals: mgr,
		Checkout: &checkout.Service{
			Listings: st, Directory: st, Inventory: inv, Ledger: led, Orders: mat, Deals: mgr, Log: log,
		},
		Orders: mat,
		Ledger: led,
		Links:  resolver,
		Idem:   idem,
		Log:    log,
	}
	router := httpx.NewRouter(log)
	h.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close() // flush inbox lalu tutup writer
	}
	cancel()
}
