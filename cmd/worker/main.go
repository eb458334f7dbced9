package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/campusmarket/order-service/internal/audit"
	"github.com/campusmarket/order-service/internal/config"
	kafkax "github.com/campusmarket/order-service/internal/kafka"
	"github.com/campusmarket/order-service/internal/orders"
	"github.com/campusmarket/order-service/internal/postgres"
	"github.com/campusmarket/order-service/internal/redisx"
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

	svc := &audit.Service{
		Log:   audit.NewPgLog(db),
		Redis: rdb,
		Name:  cfg.ServiceName + "-audit",
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, "order-audit", orders.TopicOrderEvents, 4)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("shutting down...")
		cancel()
	}()

	log.Printf("audit worker consuming %s", orders.TopicOrderEvents)
	err = cons.Start(ctx, func(ctx context.Context, m kafkago.Message) error {
		return svc.HandleEvent(ctx, m.Key, m.Value)
	})
	if err != nil {
		log.Fatalf("consumer: %v", err)
	}
}
