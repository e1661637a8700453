package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casino-settlement/internal/app/deposit"
	"casino-settlement/internal/app/settlement"
	"casino-settlement/internal/app/withdrawal"
	"casino-settlement/internal/config"
	"casino-settlement/internal/events"
	"casino-settlement/internal/idempotency"
	"casino-settlement/internal/ledger"
	"casino-settlement/internal/logging"
	"casino-settlement/internal/robots"
	"casino-settlement/internal/rounds"
	"casino-settlement/internal/store"
	"casino-settlement/internal/store/memstore"
	httptransport "casino-settlement/internal/transport/http"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("read .env")
	}
	appCfg, err := config.LoadApp()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := logging.Init(appCfg.Log); err != nil {
		log.Fatal().Err(err).Msg("init logging")
	}
	cfg := appCfg.Server

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer repo.Close()
	if err := repo.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping store")
	}

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("ping redis")
		}
	}

	var backend idempotency.Backend
	switch cfg.IdempotencyBackend {
	case "redis":
		backend = idempotency.NewRedisBackend(rdb, cfg.IdempotencyLease)
	default:
		backend = idempotency.NewStoreBackend(repo, cfg.IdempotencyLease)
	}
	guard := idempotency.NewGuard(backend, cfg.IdempotencyTTL)

	pub := openPublisher(cfg, rdb)
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn().Err(err).Str("backend", pub.Name()).Msg("close publisher")
		}
	}()

	l := ledger.New(repo)
	registry := robots.NewRegistry(repo)
	registry.SetPublisher(pub)
	router := httptransport.NewRouter(cfg, httptransport.Services{
		DB:          repo,
		Settlement:  settlement.NewService(l, guard, registry, repo, pub),
		Withdrawals: withdrawal.NewService(l, guard, repo, pub),
		Deposits:    deposit.NewService(l, guard, repo, pub),
		Rounds:      rounds.NewAggregator(repo),
		Robots:      registry,
	})
	httptransport.LogRoutes(router)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreBackend).Str("idempotency", cfg.IdempotencyBackend).Str("events", pub.Name()).Msg("settlement server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	if p, ok := backend.(idempotency.Purger); ok {
		g.Go(func() error {
			return idempotency.RunJanitor(gctx, p, cfg.IdempotencySweepInterval)
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return
	}
	log.Info().Msg("server stopped")
}

func openRepository(cfg config.ServerConfig) (store.Repository, error) {
	if cfg.StoreBackend == "memory" {
		log.Warn().Msg("using in-memory store; balances are lost on restart")
		return memstore.New(), nil
	}
	return store.New(cfg.PostgresDSN)
}

func openPublisher(cfg config.ServerConfig, rdb redis.UniversalClient) events.Publisher {
	switch cfg.EventsBackend {
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "redis":
		return events.NewRedisPublisher(rdb, cfg.RedisEventsChannel)
	default:
		return events.LogPublisher{}
	}
}
