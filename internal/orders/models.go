package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID          string          `json:"id"`
	Number      string          `json:"order_number"`
	Type        Type            `json:"order_type"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Notes       string          `json:"notes"`
	UserID      string          `json:"user_id"`
	UserName    string          `json:"user_name"`
	Items       []OrderItem     `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID      int64  `json:"id"`
	OrderID string `json:"-"`

	ProductID string `json:"product_id"`
	// Name and price of the referenced product as of the last read; display
	// only, never used in money math.
	ProductName  string          `json:"product_name"`
	ProductPrice decimal.Decimal `json:"product_price"`

	Quantity int `json:"quantity"`
	// UnitPrice is the product price snapshotted at creation time and never
	// re-read afterwards.
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// Recalculate restores total_price = quantity * unit_price.
func (it *OrderItem) Recalculate() {
	it.TotalPrice = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// RecalculateTotal recomputes every item and the order total from them.
func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for i := range o.Items {
		o.Items[i].Recalculate()
		total = total.Add(o.Items[i].TotalPrice)
	}
	o.TotalAmount = total
}

// Filter narrows ListOrders. Zero values mean "no constraint".
type Filter struct {
	UserID string
	Status Status
	Type   Type
	Limit  int
}
