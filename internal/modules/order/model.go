// README: Order aggregate, status definitions and the transition table.
package order

import (
	"time"

	"orderflow/internal/types"
)

type Status string

const (
	StatusAssigning Status = "ASSIGNING"
	StatusOngoing   Status = "ONGOING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists every status; a transition retry loop never needs more
// attempts than this since status only moves forward.
var Statuses = []Status{StatusAssigning, StatusOngoing, StatusCompleted, StatusCancelled}

type Action string

const (
	ActionTake     Action = "take"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

type Order struct {
	ID                       int64
	Stops                    []types.Point
	DrivingDistancesInMeters []int64
	Fare                     types.Money
	Status                   Status
	OrderDateTime            time.Time
	CreatedTime              time.Time
	OngoingTime              *time.Time
	CompletedAt              *time.Time
	CancelledAt              *time.Time
}

// Clone returns a deep copy so stores never hand out shared slices or pointers.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Stops = append([]types.Point(nil), o.Stops...)
	c.DrivingDistancesInMeters = append([]int64(nil), o.DrivingDistancesInMeters...)
	c.OngoingTime = cloneTime(o.OngoingTime)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return &c
}

// AllowedTransitions represents the order state flow (diagram) as code.
// CANCELLED -> CANCELLED is the idempotent re-cancel; COMPLETED is terminal.
var AllowedTransitions = map[Status][]Status{
	StatusAssigning: {StatusOngoing, StatusCancelled},
	StatusOngoing:   {StatusCompleted, StatusCancelled},
	StatusCancelled: {StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// actionTargets is the status each action moves an order to.
var actionTargets = map[Action]Status{
	ActionTake:     StatusOngoing,
	ActionComplete: StatusCompleted,
	ActionCancel:   StatusCancelled,
}

// actionRejections is what an action reports when AllowedTransitions refuses it.
var actionRejections = map[Action]error{
	ActionTake:     ErrNotAssigning,
	ActionComplete: ErrNotOngoing,
	ActionCancel:   ErrCompletedAlready,
}

// Decide evaluates action against the current status only, using
// AllowedTransitions. changed is false when the table allows the move but it
// needs no write (cancel on a cancelled order).
func Decide(from Status, action Action) (to Status, changed bool, err error) {
	to, ok := actionTargets[action]
	if !ok {
		return from, false, ErrInvalidState
	}
	if !CanTransition(from, to) {
		return from, false, actionRejections[action]
	}
	return to, from != to, nil
}

// apply moves o to status and stamps the matching timestamp if it is unset.
func (o *Order) apply(to Status, now time.Time) {
	o.Status = to
	switch to {
	case StatusOngoing:
		if o.OngoingTime == nil {
			o.OngoingTime = &now
		}
	case StatusCompleted:
		if o.CompletedAt == nil {
			o.CompletedAt = &now
		}
	case StatusCancelled:
		if o.CancelledAt == nil {
			o.CancelledAt = &now
		}
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
