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

	"github.com/campusmarket/order-service/internal/catalog"
	"github.com/campusmarket/order-service/internal/config"
	"github.com/campusmarket/order-service/internal/httpx"
	kafkax "github.com/campusmarket/order-service/internal/kafka"
	"github.com/campusmarket/order-service/internal/orders"
	"github.com/campusmarket/order-service/internal/postgres"
	"github.com/campusmarket/order-service/internal/redisx"
	"github.com/campusmarket/order-service/internal/users"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024)
	prod.Start(ctx)

	store := &orders.PgStore{DB: db}
	cat := &catalog.PgCatalog{DB: db}
	flow := &orders.Workflow{
		Store:  store,
		Ledger: cat,
		Users:  &users.PgDirectory{DB: db},
		Numbers: &orders.NumberGenerator{
			Prefix: cfg.NumberPrefix,
			Exists: store.OrderNumberExists,
		},
		Cache:   orders.NewCache(rdb),
		Events:  prod,
		Service: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Flow: flow, Catalog: cat}
	oh.Mount(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()
	cancel()
	prod.WaitClosed()
}
