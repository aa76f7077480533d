// README: Concurrency tests for order state transitions (run with -race).
package order

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/infra"
	"orderflow/internal/types"
)

// storeFactories runs each race test against the in-memory store and, when
// ORDER_TEST_DSN is set, against Postgres.
func storeFactories() map[string]func(t *testing.T) Repository {
	return map[string]func(t *testing.T) Repository{
		"memory":   func(*testing.T) Repository { return NewMemoryStore() },
		"postgres": func(t *testing.T) Repository { return setupTestStore(t) },
	}
}

func runRace(t *testing.T, attempts int, op func() (*Order, error)) (successes []*Order, failures []error) {
	t.Helper()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		start = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			o, err := op()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes = append(successes, o)
		}()
	}
	close(start)
	wg.Wait()
	return successes, failures
}

func TestConcurrentTakeSameOrder(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newStore(t), legsOf(2500))
			ctx := context.Background()
			id := mustCreateOrder(t, f.svc)

			const attempts = 8
			ok, failed := runRace(t, attempts, func() (*Order, error) {
				return f.svc.Take(ctx, TakeCommand{OrderID: id})
			})

			require.Len(t, ok, 1, "exactly one take must win")
			require.Len(t, failed, attempts-1)
			for _, err := range failed {
				require.ErrorIs(t, err, ErrNotAssigning)
			}
			assertStatus(t, f.svc, id, StatusOngoing)
		})
	}
}

func TestConcurrentCancelSameOrder(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newStore(t), legsOf(2500))
			ctx := context.Background()
			id := mustCreateOrder(t, f.svc)

			ok, failed := runRace(t, 6, func() (*Order, error) {
				f.clock.Advance(time.Second)
				return f.svc.Cancel(ctx, CancelCommand{OrderID: id})
			})

			require.Empty(t, failed)
			require.Len(t, ok, 6)
			want := ok[0].CancelledAt
			require.NotNil(t, want)
			for _, o := range ok {
				assert.True(t, want.Equal(*o.CancelledAt), "all cancels must report the original cancelledAt")
			}
		})
	}
}

func TestConcurrentTakeVsCancel(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newStore(t), legsOf(2500))
			ctx := context.Background()
			id := mustCreateOrder(t, f.svc)

			var wg sync.WaitGroup
			var takeErr, cancelErr error
			start := make(chan struct{})
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				_, takeErr = f.svc.Take(ctx, TakeCommand{OrderID: id})
			}()
			go func() {
				defer wg.Done()
				<-start
				_, cancelErr = f.svc.Cancel(ctx, CancelCommand{OrderID: id})
			}()
			close(start)
			wg.Wait()

			// Cancel always wins eventually: either it ran first (take then
			// fails) or it ran on an ONGOING order.
			require.NoError(t, cancelErr)
			if takeErr != nil {
				require.ErrorIs(t, takeErr, ErrNotAssigning)
			}
			assertStatus(t, f.svc, id, StatusCancelled)
		})
	}
}

func TestConcurrentCompleteVsCancel(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newStore(t), legsOf(2500))
			ctx := context.Background()
			id := mustCreateOrder(t, f.svc)
			_, err := f.svc.Take(ctx, TakeCommand{OrderID: id})
			require.NoError(t, err)

			var wg sync.WaitGroup
			var completeErr, cancelErr error
			start := make(chan struct{})
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				_, completeErr = f.svc.Complete(ctx, CompleteCommand{OrderID: id})
			}()
			go func() {
				defer wg.Done()
				<-start
				_, cancelErr = f.svc.Cancel(ctx, CancelCommand{OrderID: id})
			}()
			close(start)
			wg.Wait()

			// Exactly one side wins and the loser gets the sequential rejection.
			o, err := f.svc.Get(ctx, id)
			require.NoError(t, err)
			switch o.Status {
			case StatusCompleted:
				require.NoError(t, completeErr)
				require.ErrorIs(t, cancelErr, ErrCompletedAlready)
				assert.Nil(t, o.CancelledAt)
			case StatusCancelled:
				require.NoError(t, cancelErr)
				require.ErrorIs(t, completeErr, ErrNotOngoing)
				assert.Nil(t, o.CompletedAt)
			default:
				t.Fatalf("unexpected final status: %s", o.Status)
			}
		})
	}
}

func TestConcurrentTransitionsOnDifferentOrders(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	const n = 32
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = mustCreateOrder(t, f.svc)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := f.svc.Take(ctx, TakeCommand{OrderID: id}); err != nil {
				errs <- err
				return
			}
			if _, err := f.svc.Complete(ctx, CompleteCommand{OrderID: id}); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	for _, id := range ids {
		assertStatus(t, f.svc, id, StatusCompleted)
	}
}

func TestConcurrentCreateMintsUniqueIDs(t *testing.T) {
	f := newMemoryFixture(t)
	const n = 64
	ok, failed := runRace(t, n, func() (*Order, error) {
		return f.svc.Create(context.Background(), CreateCommand{Stops: []types.Point{central, tsimShaTsui}})
	})
	require.Empty(t, failed)
	seen := make(map[int64]bool, n)
	for _, o := range ok {
		require.False(t, seen[o.ID], "duplicate id %d", o.ID)
		seen[o.ID] = true
	}
}

func TestPGStoreNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.Get(context.Background(), 987654321)
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	_, err = store.CompareAndUpdate(context.Background(), 987654321, StatusAssigning, func(*Order) {})
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestPGStoreRoundTrip(t *testing.T) {
	f := newFixture(t, setupTestStore(t), legsOf(2100))
	ctx := context.Background()
	created, err := f.svc.Create(ctx, CreateCommand{Stops: []types.Point{central, tsimShaTsui, mongKok}})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Stops, got.Stops)
	assert.Equal(t, []int64{2100, 2100}, got.DrivingDistancesInMeters)
	assert.True(t, created.Fare.Amount.Equal(got.Fare.Amount), "%s vs %s", created.Fare.Amount, got.Fare.Amount)
	assert.Equal(t, "HKD", got.Fare.Currency)
	assert.True(t, created.OrderDateTime.Equal(got.OrderDateTime))
	assert.Nil(t, got.OngoingTime)
}

func setupTestStore(t *testing.T) *PGStore {
	t.Helper()

	dsn := os.Getenv("ORDER_TEST_DSN")
	if dsn == "" {
		t.Skip("ORDER_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	path, err := migrationPath()
	if err != nil {
		t.Fatalf("locate migration: %v", err)
	}
	if err := infra.ApplyMigration(ctx, db, path); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	if _, err := db.Exec(ctx, "TRUNCATE TABLE orders RESTART IDENTITY"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewPGStore(db)
}

func migrationPath() (string, error) {
	root, err := repoRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "migrations", "0001_init.sql"), nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}
