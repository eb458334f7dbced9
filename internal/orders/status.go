package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusReleased  Status = "released"
	StatusCancelled Status = "cancelled"
)

type Type string

const (
	TypeReservation Type = "reservation"
	TypeOrder       Type = "order"
)

// Status only moves forward, except cancellation which is reachable from any
// non-terminal state. Released and cancelled have no outgoing transitions.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusApproved: true, StatusCancelled: true},
	StatusApproved:  {StatusReleased: true, StatusCancelled: true},
	StatusReleased:  {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusCancelled
}

func (t Type) Valid() bool {
	return t == TypeReservation || t == TypeOrder
}
