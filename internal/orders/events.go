package orders

import (
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// All order lifecycle events go through one topic; consumers filter on the
// x-event-type header or the envelope.
const TopicOrderEvents = "order.events"

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderPlacedPayload struct {
	OrderID     string          `json:"order_id"`
	Number      string          `json:"order_number"`
	Type        Type            `json:"order_type"`
	UserID      string          `json:"user_id"`
	Items       []ItemQty       `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type OrderCancelledPayload struct {
	OrderID   string    `json:"order_id"`
	Type      Type      `json:"order_type"`
	Restocked bool      `json:"restocked"`
	Items     []ItemQty `json:"items"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

// EventPublisher is satisfied by the kafka producer; nil disables publishing.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// PartitionKey keeps all events of one order on one partition, in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
