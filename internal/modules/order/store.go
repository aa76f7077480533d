// README: Order store contract and its PostgreSQL implementation.
package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"orderflow/internal/types"
)

// Repository is the storage contract the lifecycle engine depends on.
// CompareAndUpdate applies mutate only while the stored status equals
// expected and returns ErrConflict otherwise; it is the only write path for
// status and transition timestamps.
type Repository interface {
	Create(ctx context.Context, o *Order) (int64, error)
	Get(ctx context.Context, id int64) (*Order, error)
	CompareAndUpdate(ctx context.Context, id int64, expected Status, mutate func(*Order)) (*Order, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const selectOrder = `
        SELECT id, stops::text, driving_distances::text,
               fare_amount::text, fare_currency, status,
               order_date_time, created_time, ongoing_time, completed_at, cancelled_at
        FROM orders
        WHERE id = $1`

func (s *PGStore) Create(ctx context.Context, o *Order) (int64, error) {
	stops, err := json.Marshal(o.Stops)
	if err != nil {
		return 0, fmt.Errorf("encode stops: %w", err)
	}
	legs, err := json.Marshal(o.DrivingDistancesInMeters)
	if err != nil {
		return 0, fmt.Errorf("encode distances: %w", err)
	}

	var id int64
	err = s.db.QueryRow(ctx, `
        INSERT INTO orders (
            stops, driving_distances, fare_amount, fare_currency,
            status, order_date_time, created_time
        ) VALUES (
            $1::jsonb, $2::jsonb, $3::numeric, $4,
            $5, $6, $7
        )
        RETURNING id`,
		string(stops),
		string(legs),
		o.Fare.Amount.String(),
		o.Fare.Currency,
		string(o.Status),
		o.OrderDateTime,
		o.CreatedTime,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PGStore) Get(ctx context.Context, id int64) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, selectOrder, id))
}

// CompareAndUpdate locks the row for the duration of the transaction, so two
// transitions racing on the same order are applied one after the other.
func (s *PGStore) CompareAndUpdate(ctx context.Context, id int64, expected Status, mutate func(*Order)) (*Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, selectOrder+" FOR UPDATE", id))
	if err != nil {
		return nil, err
	}
	if o.Status != expected {
		return nil, ErrConflict
	}
	mutate(o)
	o.ID = id

	tag, err := tx.Exec(ctx, `
        UPDATE orders
        SET status = $1,
            ongoing_time = $2,
            completed_at = $3,
            cancelled_at = $4
        WHERE id = $5 AND status = $6`,
		string(o.Status),
		o.OngoingTime,
		o.CompletedAt,
		o.CancelledAt,
		id,
		string(expected),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrConflict
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var stops, legs, amount string
	var ongoingTime, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&o.ID, &stops, &legs,
		&amount, &o.Fare.Currency, &o.Status,
		&o.OrderDateTime, &o.CreatedTime, &ongoingTime, &completedAt, &cancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stops), &o.Stops); err != nil {
		return nil, fmt.Errorf("decode stops of order %d: %w", o.ID, err)
	}
	if err := json.Unmarshal([]byte(legs), &o.DrivingDistancesInMeters); err != nil {
		return nil, fmt.Errorf("decode distances of order %d: %w", o.ID, err)
	}
	if o.Fare.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decode fare of order %d: %w", o.ID, err)
	}
	if o.Fare.Currency == "" {
		o.Fare.Currency = types.CurrencyHKD
	}
	o.OngoingTime = toTimePtr(ongoingTime)
	o.CompletedAt = toTimePtr(completedAt)
	o.CancelledAt = toTimePtr(cancelledAt)
	return &o, nil
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
