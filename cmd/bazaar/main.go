package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bazaar/internal/cache"
	"bazaar/internal/config"
	"bazaar/internal/events"
	"bazaar/internal/http/handlers"
	"bazaar/internal/metrics"
	"bazaar/internal/repos"
	"bazaar/internal/services"
)

func main() {
	cfg := config.Load()

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			defer f.Close()
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var orderCache *cache.Orders
	if cfg.RedisAddr != "" {
		rdb := cache.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[warn] redis %s unreachable, order cache disabled: %v", cfg.RedisAddr, err)
		} else {
			orderCache = cache.NewOrders(rdb)
			log.Printf("[cache] order views in redis %s", cfg.RedisAddr)
		}
	}

	m := metrics.NewRegistry()

	var pub events.Publisher = events.LogPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		log.Printf("[events] publishing to kafka %v", cfg.KafkaBrokers)
	} else {
		log.Printf("[events] no KAFKA_BROKERS; events go to the log")
	}
	defer pub.Close()

	relay := events.NewRelay(repos.NewOutboxRepo(db), pub, m, cfg.OutboxInterval)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(ctx)
	}()

	authSvc := &services.AuthService{Users: repos.NewUserRepo(db)}
	deps := handlers.NewDeps(db, cfg, authSvc, orderCache, m)
	app := handlers.NewApp(deps, handlers.Options{
		CSRF:      true,
		AccessLog: true,
		Metrics:   m.Handler(),
	})

	go func() {
		<-ctx.Done()
		log.Printf("[http] shutting down")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("[http] listen: %v", err)
	}
	stop()
	<-relayDone
}
