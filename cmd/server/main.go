package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pesanaja/backend/internal/cache"
	"pesanaja/backend/internal/config"
	"pesanaja/backend/internal/httpapi"
	"pesanaja/backend/internal/kitchen"
	"pesanaja/backend/internal/notifier"
	"pesanaja/backend/internal/sequence"
	"pesanaja/backend/internal/service"
	"pesanaja/backend/internal/store"
	"pesanaja/backend/internal/store/memory"
	pgstore "pesanaja/backend/internal/store/postgres"
)

const (
	dbConnectAttempts = 5
	dbConnectBaseWait = 2 * time.Second
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := connectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.UnitPrefix)
		log.Println("repository: in-memory")
	}

	if err := repo.EnsureSequence(ctx, cfg.UnitPrefix); err != nil {
		log.Fatalf("failed to seed receipt sequence: %v", err)
	}

	occupancy := cache.OccupancyCache(cache.NoopOccupancyCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisOccupancyCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop occupancy cache", err)
		} else {
			occupancy = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("occupancy cache: redis")
		}
	} else {
		log.Println("occupancy cache: noop")
	}

	kitchenPub := kitchen.Publisher(kitchen.NoopPublisher{})
	if cfg.AMQPURL != "" {
		amqpPub, err := kitchen.Dial(cfg.AMQPURL)
		if err != nil {
			log.Printf("rabbitmq unavailable (%v), kitchen tickets disabled", err)
		} else {
			kitchenPub = amqpPub
			closers = append(closers, amqpPub.Close)
			log.Println("kitchen tickets: rabbitmq")
		}
	} else {
		log.Println("kitchen tickets: disabled")
	}

	hub := notifier.NewHub()
	generator := sequence.New(repo)
	svc := service.New(repo, generator, hub, kitchenPub, occupancy, time.Duration(cfg.OccupancyTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, hub, cfg.AllowedOrigin)

	// No ReadTimeout/WriteTimeout: the websocket channel holds long-lived
	// connections that must outlive any fixed request deadline.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("order staging backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// connectPostgres retries the initial store connection with bounded
// exponential backoff. After startup the store is never retried; failed
// requests surface a store-unavailable error instead of queuing.
func connectPostgres(ctx context.Context, databaseURL string) (*pgstore.Store, error) {
	wait := dbConnectBaseWait
	var lastErr error
	for attempt := 1; attempt <= dbConnectAttempts; attempt++ {
		pg, err := pgstore.New(ctx, databaseURL)
		if err == nil {
			return pg, nil
		}
		lastErr = err
		log.Printf("database connection failed (%d/%d): %v", attempt, dbConnectAttempts, err)
		if attempt < dbConnectAttempts {
			log.Printf("retrying in %s", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			wait = wait * 3 / 2
		}
	}
	return nil, lastErr
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.UnitPrefix == "" {
		return fmt.Errorf("UNIT_PREFIX must not be empty")
	}
	return nil
}
