package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/campusmarket/order-service/internal/catalog"
	"github.com/campusmarket/order-service/internal/users"
)

// MemoryBackend keeps orders, products and users in process memory behind a
// single mutex, giving the same atomicity guarantees as the Postgres store:
// order insert, unique-number check and stock decrement succeed or fail as
// one unit. It backs tests and local runs without a database.
type MemoryBackend struct {
	mu       sync.Mutex
	orders   map[string]*Order
	numbers  map[string]string // order number -> order id
	products map[string]*catalog.Product
	users    map[string]*users.User
	nextItem int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		orders:   make(map[string]*Order),
		numbers:  make(map[string]string),
		products: make(map[string]*catalog.Product),
		users:    make(map[string]*users.User),
	}
}

var (
	_ Store           = (*MemoryBackend)(nil)
	_ StockLedger     = (*MemoryBackend)(nil)
	_ catalog.Store   = (*MemoryBackend)(nil)
	_ users.Directory = (*MemoryBackend)(nil)
)

func (m *MemoryBackend) AddProduct(p catalog.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.products[p.ID] = &cp
}

func (m *MemoryBackend) AddUser(u users.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cu := u
	m.users[u.ID] = &cu
}

func (m *MemoryBackend) CreateOrder(_ context.Context, o *Order, decrementStock bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.numbers[o.Number]; taken {
		return fmt.Errorf("order number %s: %w", o.Number, ErrConflict)
	}
	if decrementStock {
		for _, it := range o.Items {
			p, ok := m.products[it.ProductID]
			if !ok || p.StockQuantity < it.Quantity {
				return fmt.Errorf("product %s: %w", it.ProductID, ErrInsufficientStock)
			}
		}
		for _, it := range o.Items {
			m.products[it.ProductID].StockQuantity -= it.Quantity
		}
	}
	for i := range o.Items {
		m.nextItem++
		o.Items[i].ID = m.nextItem
		o.Items[i].OrderID = o.ID
	}
	m.orders[o.ID] = cloneOrder(o)
	m.numbers[o.Number] = o.ID
	return nil
}

func (m *MemoryBackend) MarkCancelled(_ context.Context, id string, restock bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("order %s is %s: %w", id, o.Status, ErrInvalidTransition)
	}
	o.Status = StatusCancelled
	if restock {
		for _, it := range o.Items {
			if p, ok := m.products[it.ProductID]; ok {
				p.StockQuantity += it.Quantity
			}
		}
	}
	return nil
}

func (m *MemoryBackend) UpdateStatus(_ context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if o.Status != from {
		return fmt.Errorf("order %s moved to %s: %w", id, o.Status, ErrConflict)
	}
	o.Status = to
	return nil
}

func (m *MemoryBackend) GetOrder(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	out := cloneOrder(o)
	m.fillDisplayLocked(out)
	return out, nil
}

func (m *MemoryBackend) ListOrders(_ context.Context, f Filter) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Type != "" && o.Type != f.Type {
			continue
		}
		cp := cloneOrder(o)
		m.fillDisplayLocked(cp)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryBackend) OrderNumberExists(_ context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.numbers[number]
	return ok, nil
}

func (m *MemoryBackend) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryBackend) ListProducts(_ context.Context) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]catalog.Product, 0, len(m.products))
	for _, p := range m.products {
		if !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryBackend) DecrementStock(_ context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok || p.StockQuantity < qty {
		return fmt.Errorf("product %s: %w", id, catalog.ErrInsufficientStock)
	}
	p.StockQuantity -= qty
	return nil
}

func (m *MemoryBackend) IncrementStock(_ context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.products[id]; ok {
		p.StockQuantity += qty
	}
	return nil
}

func (m *MemoryBackend) Resolve(_ context.Context, id string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, users.ErrUnknownUser)
	}
	cu := *u
	return &cu, nil
}

func (m *MemoryBackend) fillDisplayLocked(o *Order) {
	if u, ok := m.users[o.UserID]; ok {
		o.UserName = u.FullName
	}
	for i := range o.Items {
		if p, ok := m.products[o.Items[i].ProductID]; ok {
			o.Items[i].ProductName = p.Name
			o.Items[i].ProductPrice = p.Price
		}
	}
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}
