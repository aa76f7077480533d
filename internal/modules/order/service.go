// README: Order service implements creation, state transitions and persistence.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"orderflow/internal/modules/distance"
	"orderflow/internal/types"
)

type Geofence interface {
	ValidateAll(stops []types.Point) error
}

type Pricing interface {
	Compute(totalMeters int64, orderAt time.Time) types.Money
}

type Deps struct {
	Store    Repository
	Geofence Geofence
	Distance distance.Provider
	Pricing  Pricing
	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger logrus.FieldLogger
}

type Service struct {
	store    Repository
	geofence Geofence
	distance distance.Provider
	pricing  Pricing
	now      func() time.Time
	log      logrus.FieldLogger
}

func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		geofence: d.Geofence,
		distance: d.Distance,
		pricing:  d.Pricing,
		now:      d.Clock,
		log:      d.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

type CreateCommand struct {
	Stops []types.Point
	// OrderAt, when set, replaces the creation time for fare tier selection.
	OrderAt *time.Time
}

type TakeCommand struct {
	OrderID int64
}

type CompleteCommand struct {
	OrderID int64
}

type CancelCommand struct {
	OrderID int64
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if len(cmd.Stops) < 2 {
		return nil, newValidationError("stops", "stops must contain at least 2 locations, got %d", len(cmd.Stops))
	}
	for i, p := range cmd.Stops {
		if !p.Valid() {
			return nil, newValidationError("stops", "stops[%d] has invalid coordinates (%v, %v)", i, p.Lat, p.Lng)
		}
	}

	// Out-of-area stops are reported as upstream unavailability (503), not as
	// bad input: the routing dependency does not operate outside the area.
	if err := s.geofence.ValidateAll(cmd.Stops); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	legs, err := s.distance.Legs(ctx, cmd.Stops)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	now := s.now()
	orderAt := now
	if cmd.OrderAt != nil {
		orderAt = *cmd.OrderAt
	}

	o := &Order{
		Stops:                    append([]types.Point(nil), cmd.Stops...),
		DrivingDistancesInMeters: legs,
		Fare:                     s.pricing.Compute(sum(legs), orderAt),
		Status:                   StatusAssigning,
		OrderDateTime:            orderAt,
		CreatedTime:              now,
	}
	id, err := s.store.Create(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	o.ID = id

	s.log.WithFields(logrus.Fields{
		"order_id": id,
		"stops":    len(o.Stops),
		"amount":   o.Fare.Amount.String(),
	}).Info("order created")
	return o, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Take(ctx context.Context, cmd TakeCommand) (*Order, error) {
	return s.transition(ctx, cmd.OrderID, ActionTake)
}

func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Order, error) {
	return s.transition(ctx, cmd.OrderID, ActionComplete)
}

// Cancel is idempotent while the order is not COMPLETED: cancelling an
// already cancelled order succeeds and returns the original cancelledAt
// rather than stamping a new one.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	return s.transition(ctx, cmd.OrderID, ActionCancel)
}

// transition reads the order, decides from its current status, and writes
// through CompareAndUpdate. Losing a race re-reads and decides again, so the
// loser sees exactly the outcome it would have seen had it run second.
func (s *Service) transition(ctx context.Context, id int64, action Action) (*Order, error) {
	for attempt := 0; attempt < len(Statuses); attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		to, changed, err := Decide(o.Status, action)
		if err != nil {
			return nil, err
		}
		if !changed {
			return o, nil
		}

		now := s.now()
		updated, err := s.store.CompareAndUpdate(ctx, id, o.Status, func(cur *Order) {
			cur.apply(to, now)
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{
			"order_id": id,
			"action":   string(action),
			"from":     string(o.Status),
			"to":       string(to),
		}).Info("order transitioned")
		return updated, nil
	}
	return nil, ErrConflict
}

func sum(legs []int64) int64 {
	var total int64
	for _, l := range legs {
		total += l
	}
	return total
}
