package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/bulk"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/config"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/go-realtime-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/logger"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/tracking"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Environment: cfg.Environment, ServiceName: cfg.ServiceName})
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	invCfg := inventory.Config{Publisher: prod, Logger: log, ServiceName: cfg.ServiceName}
	trCfg := tracking.Config{Publisher: prod, Logger: log, ServiceName: cfg.ServiceName, StrictTerminal: cfg.TrackingStrictTerminal}
	b := bulk.New(cfg.BulkWorkers, log)
	ordCfg := orders.Config{Publisher: prod, Logger: log, ServiceName: cfg.ServiceName, Bulk: b}

	// DB
	var (
		invRepo *postgres.InventoryRepo
		ordRepo *postgres.OrdersRepo
		trRepo  *postgres.TrackingRepo
	)
	if cfg.UsePostgres() {
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db migrate", zap.Error(err))
		}
		invRepo = &postgres.InventoryRepo{DB: db}
		ordRepo = &postgres.OrdersRepo{DB: db}
		trRepo = &postgres.TrackingRepo{DB: db}
		invCfg.Repo, ordCfg.Repo, trCfg.Repo = invRepo, ordRepo, trRepo
	} else {
		log.Warn("running with in-memory storage; state is lost on restart")
	}

	store := inventory.NewStore(invCfg)
	ledger := tracking.NewLedger(trCfg)
	ordCfg.Inventory, ordCfg.Tracker = store, ledger
	machine := orders.NewMachine(ordCfg)

	if cfg.UsePostgres() {
		if err := hydrate(ctx, store, ledger, machine, invRepo, ordRepo, trRepo); err != nil {
			log.Fatal("hydrate", zap.Error(err))
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	var cache httpx.TrackingCache
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unavailable; tracking cache disabled", zap.Error(err))
	} else {
		cache = &redisx.TrackingCache{RDB: rdb, TTL: cfg.TrackingCacheTTL}
	}

	router := httpx.NewRouter(log)
	(&httpx.InventoryHandler{Store: store, Bulk: b}).Register(router)
	(&httpx.OrdersHandler{Machine: machine, Cache: cache}).Register(router)
	(&httpx.TrackingHandler{Ledger: ledger, Orders: machine, Cache: cache}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

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
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox, flush and close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}

func hydrate(ctx context.Context, store *inventory.Store, ledger *tracking.Ledger, machine *orders.Machine,
	invRepo *postgres.InventoryRepo, ordRepo *postgres.OrdersRepo, trRepo *postgres.TrackingRepo) error {
	products, variants, err := invRepo.LoadInventory(ctx)
	if err != nil {
		return err
	}
	movements, err := invRepo.LoadMovements(ctx, inventory.MovementsInMemory)
	if err != nil {
		return err
	}
	store.Hydrate(products, variants, movements)

	infos, evs, err := trRepo.LoadTracking(ctx)
	if err != nil {
		return err
	}
	ledger.Hydrate(infos, evs)

	loaded, err := ordRepo.LoadOrders(ctx)
	if err != nil {
		return err
	}
	machine.Hydrate(loaded)

	zap.L().Info("state loaded",
		zap.Int("products", len(products)),
		zap.Int("variants", len(variants)),
		zap.Int("movements", len(movements)),
		zap.Int("orders", len(loaded)),
		zap.Int("tracking_events", len(evs)))
	return nil
}
