package orders

import (
	"errors"

	"github.com/campusmarket/order-service/internal/catalog"
)

var (
	// ErrValidation covers malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers absent or inactive products and absent orders.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is the ledger's sentinel, re-exported so callers
	// match on one error kind across layers.
	ErrInsufficientStock = catalog.ErrInsufficientStock

	// ErrInvalidTransition is returned when a status change violates the
	// transition table, including cancelling a terminal order.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoActor is returned when no acting user can be resolved.
	ErrNoActor = errors.New("no eligible actor")

	// ErrConflict is returned when concurrent writers collide at commit,
	// e.g. a duplicate order number surviving to the unique constraint.
	ErrConflict = errors.New("persistence conflict")
)
