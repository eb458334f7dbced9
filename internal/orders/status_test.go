package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusReleased, false},
		{StatusApproved, StatusReleased, true},
		{StatusApproved, StatusCancelled, true},
		{StatusApproved, StatusPending, false},
		{StatusReleased, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusApproved, StatusReleased, StatusCancelled} {
		assert.True(t, s.Valid(), "%s", s)
	}
	assert.False(t, Status("shipped").Valid())
	assert.False(t, Status("").Valid())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusApproved.Terminal())
	assert.True(t, StatusReleased.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestTypeValid(t *testing.T) {
	assert.True(t, TypeReservation.Valid())
	assert.True(t, TypeOrder.Valid())
	assert.False(t, Type("purchase").Valid())
}
