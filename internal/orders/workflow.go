package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/campusmarket/order-service/internal/kafka"
	"github.com/campusmarket/order-service/internal/users"
)

// Workflow is the order lifecycle engine: it validates reservation and
// purchase requests against live stock, persists order + items + stock
// movement as one unit, and handles cancellation with conditional restock.
// Cache and Events are optional; when set, they are updated after commit and
// never fail a call.
type Workflow struct {
	Store   Store
	Ledger  StockLedger
	Users   users.Directory
	Numbers *NumberGenerator
	Cache   *Cache
	Events  EventPublisher
	Service string
}

type PlaceOrderRequest struct {
	ProductID string
	Quantity  int
	Notes     string
	// ActorID identifies the already-authenticated user placing the order.
	ActorID string
	Type    Type
}

// PlaceOrder creates a pending order with one line item. Firm orders consume
// stock in the same transaction; reservations only require stock to be on
// hand at request time.
func (w *Workflow) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", ErrValidation)
	}
	if req.ProductID == "" {
		return nil, fmt.Errorf("product_id is required: %w", ErrValidation)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown order type %q: %w", req.Type, ErrValidation)
	}
	if req.ActorID == "" {
		return nil, fmt.Errorf("missing actor: %w", ErrNoActor)
	}

	product, err := w.Ledger.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil || !product.IsActive {
		return nil, fmt.Errorf("product %s: %w", req.ProductID, ErrNotFound)
	}
	if product.StockQuantity < req.Quantity {
		return nil, fmt.Errorf("only %d of %s available: %w",
			product.StockQuantity, product.ID, ErrInsufficientStock)
	}

	actor, err := w.Users.Resolve(ctx, req.ActorID)
	if err != nil {
		if errors.Is(err, users.ErrUnknownUser) {
			return nil, fmt.Errorf("actor %s: %w", req.ActorID, ErrNoActor)
		}
		return nil, err
	}

	var order *Order
	for attempt := 0; ; attempt++ {
		number, err := w.Numbers.Generate(ctx)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		order = &Order{
			ID:        uuid.NewString(),
			Number:    number,
			Type:      req.Type,
			Status:    StatusPending,
			Notes:     req.Notes,
			UserID:    actor.ID,
			UserName:  actor.FullName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		order.Items = []OrderItem{{
			OrderID:      order.ID,
			ProductID:    product.ID,
			ProductName:  product.Name,
			ProductPrice: product.Price,
			Quantity:     req.Quantity,
			UnitPrice:    product.Price,
		}}
		order.RecalculateTotal()

		err = w.Store.CreateOrder(ctx, order, req.Type == TypeOrder)
		if err == nil {
			break
		}
		// A duplicate order number surviving to the unique constraint gets
		// a fresh candidate; everything else is final.
		if errors.Is(err, ErrConflict) && attempt < 2 {
			continue
		}
		return nil, err
	}

	w.cacheSet(ctx, order)
	w.publish(ctx, EventOrderPlaced, order.ID, OrderPlacedPayload{
		OrderID:     order.ID,
		Number:      order.Number,
		Type:        order.Type,
		UserID:      order.UserID,
		Items:       itemQtys(order.Items),
		TotalAmount: order.TotalAmount,
	})
	return order, nil
}

// CancelOrder transitions a non-terminal order to cancelled. Stock is
// restored only for firm orders, in the same unit as the status flip, and
// never twice: a second cancellation fails the terminal-state check.
func (w *Workflow) CancelOrder(ctx context.Context, id string) (*Order, error) {
	order, err := w.getStored(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, fmt.Errorf("cannot cancel %s order %s: %w", order.Status, id, ErrInvalidTransition)
	}

	restock := order.Type == TypeOrder
	if err := w.Store.MarkCancelled(ctx, order.ID, restock); err != nil {
		return nil, err
	}
	w.cacheInvalidate(ctx, id)

	order.Status = StatusCancelled
	order.UpdatedAt = time.Now().UTC()
	if fresh, err := w.Store.GetOrder(ctx, id); err == nil && fresh != nil {
		order = fresh
	}

	w.publish(ctx, EventOrderCancelled, order.ID, OrderCancelledPayload{
		OrderID:   order.ID,
		Type:      order.Type,
		Restocked: restock,
		Items:     itemQtys(order.Items),
	})
	return order, nil
}

// UpdateStatus moves an order forward along the transition table. Moves into
// cancelled go through CancelOrder so restock semantics apply.
func (w *Workflow) UpdateStatus(ctx context.Context, id string, next Status) (*Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", next, ErrValidation)
	}
	if next == StatusCancelled {
		return w.CancelOrder(ctx, id)
	}

	order, err := w.getStored(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(order.Status, next) {
		return nil, fmt.Errorf("%s -> %s: %w", order.Status, next, ErrInvalidTransition)
	}

	prev := order.Status
	if err := w.Store.UpdateStatus(ctx, id, prev, next); err != nil {
		return nil, err
	}
	w.cacheInvalidate(ctx, id)

	order.Status = next
	order.UpdatedAt = time.Now().UTC()
	if fresh, err := w.Store.GetOrder(ctx, id); err == nil && fresh != nil {
		order = fresh
	}

	w.publish(ctx, EventOrderStatusChanged, order.ID, StatusChangedPayload{
		OrderID: order.ID,
		From:    prev,
		To:      next,
	})
	return order, nil
}

func (w *Workflow) GetOrder(ctx context.Context, id string) (*Order, error) {
	if w.Cache == nil {
		return w.getStored(ctx, id)
	}
	return w.Cache.Fetch(ctx, id, func(ctx context.Context) (*Order, error) {
		return w.getStored(ctx, id)
	})
}

func (w *Workflow) ListOrders(ctx context.Context, f Filter) ([]*Order, error) {
	return w.Store.ListOrders(ctx, f)
}

func (w *Workflow) getStored(ctx context.Context, id string) (*Order, error) {
	order, err := w.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return order, nil
}

func (w *Workflow) cacheSet(ctx context.Context, o *Order) {
	if w.Cache != nil {
		w.Cache.Set(ctx, o)
	}
}

func (w *Workflow) cacheInvalidate(ctx context.Context, id string) {
	if w.Cache != nil {
		w.Cache.Invalidate(ctx, id)
	}
}

func (w *Workflow) publish(ctx context.Context, eventType, orderID string, payload any) {
	if w.Events == nil {
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      w.Service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	w.Events.Publish(PartitionKey(orderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func itemQtys(items []OrderItem) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}
