package orders

import (
	"context"
	"errors"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusmarket/order-service/internal/catalog"
	kafkax "github.com/campusmarket/order-service/internal/kafka"
	"github.com/campusmarket/order-service/internal/users"
)

type capturedEvent struct {
	key   []byte
	value []byte
}

type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *capturePublisher) Publish(key, value []byte, _ ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{key: key, value: value})
}

func (p *capturePublisher) envelopes(t *testing.T) []Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Envelope, 0, len(p.events))
	for _, e := range p.events {
		var env Envelope
		require.NoError(t, kafkax.UnmarshalEnvelope(e.value, &env))
		out = append(out, env)
	}
	return out
}

const (
	productPen  = "11111111-1111-1111-1111-111111111111"
	userAlice   = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	userNobody  = "99999999-9999-9999-9999-999999999999"
	productGone = "22222222-2222-2222-2222-222222222222"
)

func newTestWorkflow(t *testing.T) (*Workflow, *MemoryBackend, *capturePublisher) {
	t.Helper()
	be := NewMemoryBackend()
	be.AddProduct(catalog.Product{
		ID:            productPen,
		Name:          "Gel Pen",
		Price:         decimal.RequireFromString("5.00"),
		StockQuantity: 10,
		IsActive:      true,
	})
	be.AddProduct(catalog.Product{
		ID:            productGone,
		Name:          "Old Notebook",
		Price:         decimal.RequireFromString("2.50"),
		StockQuantity: 4,
		IsActive:      false,
	})
	be.AddUser(users.User{ID: userAlice, FullName: "Alice Tan", Role: users.RoleStudent})

	pub := &capturePublisher{}
	w := &Workflow{
		Store:  be,
		Ledger: be,
		Users:  be,
		Numbers: &NumberGenerator{
			Prefix: "CIT",
			Exists: be.OrderNumberExists,
		},
		Events:  pub,
		Service: "order-service-test",
	}
	return w, be, pub
}

func placeReq(t Type, qty int) PlaceOrderRequest {
	return PlaceOrderRequest{
		ProductID: productPen,
		Quantity:  qty,
		ActorID:   userAlice,
		Type:      t,
	}
}

func TestPlaceOrderConsumesStockAndTotals(t *testing.T) {
	w, be, pub := newTestWorkflow(t)
	ctx := context.Background()

	order, err := w.PlaceOrder(ctx, placeReq(TypeOrder, 3))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, order.Status)
	assert.Equal(t, TypeOrder, order.Type)
	assert.Equal(t, "Alice Tan", order.UserName)
	assert.Regexp(t, `^CIT\d{16}$`, order.Number)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Gel Pen", order.Items[0].ProductName)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("15.00")),
		"total %s", order.TotalAmount)

	p, err := be.GetProduct(ctx, productPen)
	require.NoError(t, err)
	assert.Equal(t, 7, p.StockQuantity)

	envs := pub.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, EventOrderPlaced, envs[0].EventType)
	assert.Equal(t, order.ID, envs[0].CorrelationID)
}

func TestPlaceReservationLeavesStockUntouched(t *testing.T) {
	w, be, _ := newTestWorkflow(t)
	ctx := context.Background()

	order, err := w.PlaceOrder(ctx, placeReq(TypeReservation, 4))
	require.NoError(t, err)
	assert.Equal(t, TypeReservation, order.Type)

	p, err := be.GetProduct(ctx, productPen)
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)
}

func TestPlaceOrderValidation(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()

	_, err := w.PlaceOrder(ctx, placeReq(TypeOrder, 0))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = w.PlaceOrder(ctx, placeReq(TypeOrder, -2))
	assert.ErrorIs(t, err, ErrValidation)

	req := placeReq(TypeOrder, 1)
	req.ProductID = ""
	_, err = w.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	req = placeReq(Type("giveaway"), 1)
	_, err = w.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPlaceOrderRejectsUnknownOrInactiveProduct(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()

	req := placeReq(TypeOrder, 1)
	req.ProductID = "33333333-3333-3333-3333-333333333333"
	_, err := w.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrNotFound)

	req.ProductID = productGone
	_, err = w.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlaceOrderRejectsInsufficientStock(t *testing.T) {
	w, be, _ := newTestWorkflow(t)
	ctx := context.Background()

	_, err := w.PlaceOrder(ctx, placeReq(TypeOrder, 11))
	assert.ErrorIs(t, err, ErrInsufficientStock)

	// Reservations are checked against stock on hand too.
	_, err = w.PlaceOrder(ctx, placeReq(TypeReservation, 11))
	assert.ErrorIs(t, err, ErrInsufficientStock)

	p, err := be.GetProduct(ctx, productPen)
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)
}

func TestPlaceOrderRejectsUnknownActor(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()

	req := placeReq(TypeOrder, 1)
	req.ActorID = userNobody
	_, err := w.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrNoActor)

	req.ActorID = ""
	_, err = w.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrNoActor)
}

type conflictOnceStore struct {
	Store
	mu    sync.Mutex
	fired bool
}

func (s *conflictOnceStore) CreateOrder(ctx context.Context, o *Order, dec bool) error {
	s.mu.Lock()
	fired := s.fired
	s.fired = true
	s.mu.Unlock()
	if !fired {
		return ErrConflict
	}
	return s.Store.CreateOrder(ctx, o, dec)
}

func TestPlaceOrderRetriesOnNumberConflict(t *testing.T) {
	w, be, _ := newTestWorkflow(t)
	w.Store = &conflictOnceStore{Store: be}
	ctx := context.Background()

	order, err := w.PlaceOrder(ctx, placeReq(TypeOrder, 1))
	require.NoError(t, err)
	assert.NotEmpty(t, order.Number)

	p, err := be.GetProduct(ctx, productPen)
	require.NoError(t, err)
	assert.Equal(t, 9, p.StockQuantity, "failed attempt must not consume stock")
}

func TestCancelOrderRestocksFirmOrders(t *testing.T) {
	w, be, pub := newTestWorkflow(t)
	ctx := context.Background()

	order, err := w.PlaceOrder(ctx, placeReq(TypeOrder, 3))
	require.NoError(t, err)

	cancelled, err := w.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	p, err := be.GetProduct(ctx, productPen)
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)

	envs := pub.envelopes(t)
	require.Len(t, envs, 2)
	assert.Equal(t, EventOrderCancelled, envs[1].EventType)
	payload, err := kafkax.UnwrapPayload[OrderCancelledPayload](envs[1].Payload)
	require.NoError(t, err)
	assert.True(t, payload.Restocked)
}

func TestCancelReservationDoesNotRestock(t *testing.T) {
	w, be, pub := newTestWorkflow(t)
	ctx := context.Background()

	order, err := w.PlaceOrder(ctx, placeReq(TypeReservation, 3))
	require.NoError(t, err)

	_, err = w.CancelOrder(ctx, order.ID)
	require.NoError(t, err)

	p, err := be.GetProduct(ctx, productPen)
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)

	envs := pub.envelopes(t)
	payload, err := kafkax.UnwrapPayload[OrderCancelledPayload](envs[1].Payload)
	require.NoError(t, err)
	assert.False(t, payload.Restocked)
}

func TestCancelOrderIsIdempotentOnStock(t *testing.T) {
	w, be, _ := newTestWorkflow(t)
	ctx := context.Background()

	order, err := w.PlaceOrder(ctx, placeReq(TypeOrder, 2))
	require.NoError(t, err)

	_, err = w.CancelOrder(ctx, order.ID)
	require.NoError(t, err)

	_, err = w.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	p, err := be.GetProduct(ctx, productPen)
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity, "restock must happen at most once")
}

func TestCancelUnknownOrder(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	_, err := w.CancelOrder(context.Background(), "no-such-order")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusWalksTransitionTable(t *testing.T) {
	w, _, pub := newTestWorkflow(t)
	ctx := context.Background()

	order, err := w.PlaceOrder(ctx, placeReq(TypeOrder, 1))
	require.NoError(t, err)

	// pending -> released skips approval.
	_, err = w.UpdateStatus(ctx, order.ID, StatusReleased)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := w.UpdateStatus(ctx, order.ID, StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)

	got, err = w.UpdateStatus(ctx, order.ID, StatusReleased)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, got.Status)

	_, err = w.UpdateStatus(ctx, order.ID, StatusApproved)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = w.UpdateStatus(ctx, order.ID, Status("misplaced"))
	assert.ErrorIs(t, err, ErrValidation)

	envs := pub.envelopes(t)
	require.Len(t, envs, 3)
	assert.Equal(t, EventOrderStatusChanged, envs[1].EventType)
	assert.Equal(t, EventOrderStatusChanged, envs[2].EventType)
}

func TestUpdateStatusToCancelledRestocks(t *testing.T) {
	w, be, _ := newTestWorkflow(t)
	ctx := context.Background()

	order, err := w.PlaceOrder(ctx, placeReq(TypeOrder, 5))
	require.NoError(t, err)

	got, err := w.UpdateStatus(ctx, order.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	p, err := be.GetProduct(ctx, productPen)
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	w, be, _ := newTestWorkflow(t)
	ctx := context.Background()

	be.AddProduct(catalog.Product{
		ID:            "44444444-4444-4444-4444-444444444444",
		Name:          "Limited Hoodie",
		Price:         decimal.RequireFromString("30.00"),
		StockQuantity: 1,
		IsActive:      true,
	})

	const workers = 20
	var wg sync.WaitGroup
	var okCount, stockErrCount int
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.PlaceOrder(ctx, PlaceOrderRequest{
				ProductID: "44444444-4444-4444-4444-444444444444",
				Quantity:  1,
				ActorID:   userAlice,
				Type:      TypeOrder,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				okCount++
			case errors.Is(err, ErrInsufficientStock):
				stockErrCount++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, okCount, "exactly one order may win the last unit")
	assert.Equal(t, workers-1, stockErrCount)

	p, err := be.GetProduct(ctx, "44444444-4444-4444-4444-444444444444")
	require.NoError(t, err)
	assert.Equal(t, 0, p.StockQuantity)
}

func TestGetAndListOrders(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()

	first, err := w.PlaceOrder(ctx, placeReq(TypeOrder, 1))
	require.NoError(t, err)
	second, err := w.PlaceOrder(ctx, placeReq(TypeReservation, 2))
	require.NoError(t, err)

	got, err := w.GetOrder(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Number, got.Number)

	_, err = w.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := w.ListOrders(ctx, Filter{UserID: userAlice})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	reservations, err := w.ListOrders(ctx, Filter{Type: TypeReservation})
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, second.ID, reservations[0].ID)

	none, err := w.ListOrders(ctx, Filter{Status: StatusReleased})
	require.NoError(t, err)
	assert.Empty(t, none)
}
