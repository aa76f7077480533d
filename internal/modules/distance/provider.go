// README: Distance provider contract and the timeout guard applied to every call.
package distance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderflow/internal/types"
)

// ErrUnavailable is returned whenever driving distances cannot be produced.
var ErrUnavailable = errors.New("distance provider unavailable")

// Provider turns an ordered list of stops into per-leg driving distances in
// metres, one per consecutive pair.
type Provider interface {
	Legs(ctx context.Context, stops []types.Point) ([]int64, error)
}

type ProviderFunc func(ctx context.Context, stops []types.Point) ([]int64, error)

func (f ProviderFunc) Legs(ctx context.Context, stops []types.Point) ([]int64, error) {
	return f(ctx, stops)
}

// Bounded wraps a provider with a per-call timeout and result checks. Any
// failure, including a deadline, comes back wrapped in ErrUnavailable.
type Bounded struct {
	next    Provider
	timeout time.Duration
}

func NewBounded(next Provider, timeout time.Duration) *Bounded {
	return &Bounded{next: next, timeout: timeout}
}

func (b *Bounded) Legs(ctx context.Context, stops []types.Point) ([]int64, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 stops, got %d", ErrUnavailable, len(stops))
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		legs []int64
		err  error
	}
	// The provider may ignore ctx; the select keeps the caller bounded anyway.
	done := make(chan result, 1)
	go func() {
		legs, err := b.next.Legs(ctx, stops)
		done <- result{legs, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
	if r.err != nil {
		if errors.Is(r.err, ErrUnavailable) {
			return nil, r.err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, r.err)
	}
	if err := checkLegs(r.legs, len(stops)); err != nil {
		return nil, err
	}
	return r.legs, nil
}

func checkLegs(legs []int64, stops int) error {
	if len(legs) != stops-1 {
		return fmt.Errorf("%w: got %d legs for %d stops", ErrUnavailable, len(legs), stops)
	}
	for i, l := range legs {
		if l < 0 {
			return fmt.Errorf("%w: leg %d has negative distance %d", ErrUnavailable, i, l)
		}
	}
	return nil
}
