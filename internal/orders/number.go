package orders

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// NumberGenerator produces human-readable order numbers: a fixed prefix, an
// MMDDHHMMSS+milliseconds timestamp, and three random digits. The exists
// check keeps the practical collision rate near zero; the real guarantee is
// the unique constraint on orders.order_number rejecting a duplicate insert.
type NumberGenerator struct {
	Prefix string
	Exists func(ctx context.Context, number string) (bool, error)
}

const numberAttempts = 30

func (g *NumberGenerator) Generate(ctx context.Context) (string, error) {
	ts := strings.Replace(time.Now().Format("0102150405.000"), ".", "", 1)
	for i := 0; i < numberAttempts; i++ {
		n := fmt.Sprintf("%s%s%03d", g.Prefix, ts, 100+rand.Intn(900))
		taken, err := g.Exists(ctx, n)
		if err != nil {
			return "", err
		}
		if !taken {
			return n, nil
		}
	}
	return "", fmt.Errorf("order number space exhausted at %s%s: %w", g.Prefix, ts, ErrConflict)
}
