package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	app "waiting-room/internal/app"
	httpx "waiting-room/internal/http"
	store "waiting-room/internal/store"
	"waiting-room/internal/waitlist"
	ws "waiting-room/internal/ws"
	"waiting-room/pkg/clock"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	configFile := pflag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	addr := pflag.String("addr", "", "listen address (overrides HTTP_ADDR)")
	pflag.Parse()

	cfg, err := app.LoadConfig(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	logger := app.NewLogger(cfg.Env, cfg.LogLevel)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Room state: redis shared by every instance, or memory for a single process
	var (
		st    waitlist.Store
		bus   ws.Bus = ws.LocalBus{}
		rdb   *redis.Client
		ready httpx.ReadyFunc
	)
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("store.memory", "note", "state is process-local")
		st = store.NewMemory(clock.Real())
	default:
		rdb, err = store.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("redis connect", "addr", cfg.RedisAddr, "err", err)
			log.Fatal(err)
		}
		defer rdb.Close()
		st = store.NewRedis(rdb, logger)
		bus = ws.NewRedisBus(rdb, logger)
		ready = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	coordinator := waitlist.New(st, cfg.Admission.Waitlist(), waitlist.WithLogger(logger))
	defer coordinator.Close()

	// WebSocket hub
	hub := ws.NewHub(logger, bus, coordinator, clock.Real())
	go hub.Run(ctx)

	// HTTP + WS router
	router := httpx.NewRouter(cfg, logger, hub, coordinator, ready)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("server.listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend, "capacity", cfg.Admission.Capacity)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("server.shutdown.start")

	// shutdown
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("server.shutdown.complete")
	_ = os.Stdout.Sync()
}
