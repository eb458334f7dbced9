package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	kafkax "github.com/campusmarket/order-service/internal/kafka"
	"github.com/campusmarket/order-service/internal/orders"
	"github.com/campusmarket/order-service/internal/redisx"
)

// Entry is one recorded order event.
type Entry struct {
	EventID    string
	EventType  string
	OrderID    string
	OccurredAt time.Time
	Producer   string
	Payload    json.RawMessage
}

// EventLog persists the order event trail. Append must tolerate replays of
// the same event_id.
type EventLog interface {
	Append(ctx context.Context, e Entry) error
}

type PgLog struct {
	Pool *pgxpool.Pool
}

func NewPgLog(pool *pgxpool.Pool) *PgLog { return &PgLog{Pool: pool} }

func (l *PgLog) Append(ctx context.Context, e Entry) error {
	_, err := l.Pool.Exec(ctx, `
		INSERT INTO order_events (event_id, event_type, order_id, occurred_at, producer, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.EventType, e.OrderID, e.OccurredAt, e.Producer, e.Payload)
	if err != nil {
		return fmt.Errorf("append order event %s: %w", e.EventID, err)
	}
	return nil
}

// Service consumes order events and writes them to the audit trail. Redis
// short-circuits replays before they reach the database; the event_id unique
// constraint is the durable backstop.
type Service struct {
	Log   EventLog
	Redis *redis.Client
	Name  string
}

func (s *Service) HandleEvent(ctx context.Context, key, value []byte) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(value, &env); err != nil {
		// Unparseable messages are logged and dropped, not retried.
		log.Printf("audit: drop malformed event (key=%s): %v", key, err)
		return nil
	}

	if s.Redis != nil {
		dedupKey := fmt.Sprintf(redisx.KeyDedup, s.Name, env.EventID)
		set, err := s.Redis.SetNX(ctx, dedupKey, 1, redisx.TTLDedup).Result()
		if err == nil && !set {
			return nil
		}
		if err != nil {
			log.Printf("audit: dedup check %s: %v", env.EventID, err)
		}
	}

	return s.Log.Append(ctx, Entry{
		EventID:    env.EventID,
		EventType:  env.EventType,
		OrderID:    env.CorrelationID,
		OccurredAt: env.OccurredAt,
		Producer:   env.Producer,
		Payload:    env.Payload,
	})
}
