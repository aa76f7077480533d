// README: Redis-backed leg cache in front of a distance provider.
package distance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"orderflow/internal/types"
)

const legKeyPrefix = "distance:leg:"

// Cached stores each leg under its (from, to) pair. A trip is served from
// Redis only when every leg is present; otherwise the whole trip is fetched
// once and all legs are written back.
//
// Concurrent misses for the same trip share one upstream fetch. That fetch
// is detached from any single caller and bounded by fetchTimeout instead;
// each caller still returns as soon as its own ctx is done.
type Cached struct {
	next         Provider
	redis        *redis.Client
	ttl          time.Duration
	fetchTimeout time.Duration
	log          logrus.FieldLogger
	group        singleflight.Group
}

func NewCached(next Provider, rdb *redis.Client, ttl, fetchTimeout time.Duration, log logrus.FieldLogger) *Cached {
	return &Cached{next: next, redis: rdb, ttl: ttl, fetchTimeout: fetchTimeout, log: log}
}

func (c *Cached) Legs(ctx context.Context, stops []types.Point) ([]int64, error) {
	keys := legKeys(stops)

	if legs, ok := c.lookup(ctx, keys); ok {
		return legs, nil
	}

	ch := c.group.DoChan(strings.Join(keys, "|"), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		legs, err := c.next.Legs(fetchCtx, stops)
		if err != nil {
			return nil, err
		}
		c.store(fetchCtx, keys, legs)
		return legs, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	// Callers sharing a flight must not alias the same slice.
	legs := res.Val.([]int64)
	out := make([]int64, len(legs))
	copy(out, legs)
	return out, nil
}

func (c *Cached) lookup(ctx context.Context, keys []string) ([]int64, bool) {
	if len(keys) == 0 {
		return nil, false
	}
	vals, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.WithError(err).Warn("distance cache read failed")
		return nil, false
	}
	legs := make([]int64, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false
		}
		legs[i] = n
	}
	return legs, true
}

func (c *Cached) store(ctx context.Context, keys []string, legs []int64) {
	if len(legs) != len(keys) {
		return
	}
	pipe := c.redis.Pipeline()
	for i, k := range keys {
		pipe.Set(ctx, k, legs[i], c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithError(err).Warn("distance cache write failed")
	}
}

func legKeys(stops []types.Point) []string {
	if len(stops) < 2 {
		return nil
	}
	keys := make([]string, len(stops)-1)
	for i := 1; i < len(stops); i++ {
		keys[i-1] = legKey(stops[i-1], stops[i])
	}
	return keys
}

func legKey(from, to types.Point) string {
	return fmt.Sprintf("%s%s:%s", legKeyPrefix, from, to)
}
