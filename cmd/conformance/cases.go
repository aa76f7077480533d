// README: Conformance cases for the order API; covers lifecycle, status codes, fare tiers and concurrent takes.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"orderflow/internal/infra"
	"orderflow/internal/modules/pricing"
)

type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusSkip Status = "SKIP"
)

var fareTolerance = decimal.RequireFromString("0.01")

const (
	central     = `{"lat":22.2819,"lng":114.1582}`
	tsimShaTsui = `{"lat":22.2988,"lng":114.1722}`
	mongKok     = `{"lat":22.3193,"lng":114.1694}`
	shaTin      = `{"lat":22.3820,"lng":114.1880}`
	london      = `{"lat":51.5074,"lng":-0.1278}`
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	loc   *time.Location
	calc  *pricing.Calculator
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  Status
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

// orderBody is the union of every response shape the API returns.
type orderBody struct {
	ID                       int64      `json:"id"`
	Message                  *string    `json:"message"`
	Status                   string     `json:"status"`
	Stops                    []any      `json:"stops"`
	DrivingDistancesInMeters []int64    `json:"drivingDistancesInMeters"`
	Fare                     *fareBody  `json:"fare"`
	OrderDateTime            time.Time  `json:"orderDateTime"`
	OngoingTime              *time.Time `json:"ongoingTime"`
	CompletedAt              *time.Time `json:"completedAt"`
	CancelledAt              *time.Time `json:"cancelledAt"`
}

type fareBody struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type response struct {
	Code    int
	Body    orderBody
	Latency time.Duration
}

func NewRunner(cfg Config) (*Runner, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.normalize()
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.RequestTimeout},
		loc:   loc,
		calc:  pricing.NewCalculator(loc),
	}, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		apiCase("API: health", func(ctx context.Context, r *Runner) error {
			resp, err := r.httpc.Get(r.cfg.BaseURL + "/health")
			if err != nil {
				return err
			}
			_ = resp.Body.Close()
			return expectCode(resp.StatusCode, http.StatusOK)
		}),

		// Create
		apiCase("Create: two stops -> 201", func(ctx context.Context, r *Runner) error {
			res, err := r.createOrder(ctx, stops(central, tsimShaTsui), "")
			if err != nil {
				return err
			}
			if err := expectCode(res.Code, http.StatusCreated); err != nil {
				return err
			}
			if res.Body.ID <= 0 {
				return fmt.Errorf("id=%d", res.Body.ID)
			}
			if len(res.Body.DrivingDistancesInMeters) != 1 {
				return fmt.Errorf("legs=%v, want 1", res.Body.DrivingDistancesInMeters)
			}
			if res.Body.Fare == nil || res.Body.Fare.Currency != "HKD" {
				return fmt.Errorf("fare=%+v", res.Body.Fare)
			}
			return nil
		}),
		apiCase("Create: fare matches the tier of orderDateTime", func(ctx context.Context, r *Runner) error {
			id, err := r.mustCreate(ctx, stops(central, tsimShaTsui, mongKok), "")
			if err != nil {
				return err
			}
			res, err := r.call(ctx, http.MethodGet, orderPath(id, ""), "")
			if err != nil {
				return err
			}
			if err := expectCode(res.Code, http.StatusOK); err != nil {
				return err
			}
			return r.checkFare(res.Body, res.Body.OrderDateTime)
		}),
		apiCase("Create: daytime orderAt -> normal tier", func(ctx context.Context, r *Runner) error {
			return r.checkOrderAtTier(ctx, 10, pricing.TierNormal)
		}),
		apiCase("Create: night orderAt -> surcharge tier", func(ctx context.Context, r *Runner) error {
			return r.checkOrderAtTier(ctx, 23, pricing.TierSurcharge)
		}),
		apiCase("Create: 12 stops -> 11 legs", func(ctx context.Context, r *Runner) error {
			points := make([]string, 12)
			for i := range points {
				points[i] = []string{central, tsimShaTsui, mongKok, shaTin}[i%4]
			}
			res, err := r.createOrder(ctx, stops(points...), "")
			if err != nil {
				return err
			}
			if err := expectCode(res.Code, http.StatusCreated); err != nil {
				return err
			}
			if n := len(res.Body.DrivingDistancesInMeters); n != 11 {
				return fmt.Errorf("legs=%d, want 11", n)
			}
			return nil
		}),
		apiCase("Create: missing body -> 400 with empty message", func(ctx context.Context, r *Runner) error {
			res, err := r.call(ctx, http.MethodPost, "/v1/orders", "")
			if err != nil {
				return err
			}
			if err := expectCode(res.Code, http.StatusBadRequest); err != nil {
				return err
			}
			if res.Body.Message == nil || *res.Body.Message != "" {
				return fmt.Errorf("message=%v, want empty", res.Body.Message)
			}
			return nil
		}),
		apiCase("Create: one stop -> 400 mentioning stops", func(ctx context.Context, r *Runner) error {
			res, err := r.createOrder(ctx, stops(central), "")
			if err != nil {
				return err
			}
			return expectError(res, http.StatusBadRequest, "stops")
		}),
		apiCase("Create: stop outside service area -> 503", func(ctx context.Context, r *Runner) error {
			res, err := r.createOrder(ctx, stops(central, london), "")
			if err != nil {
				return err
			}
			return expectCode(res.Code, http.StatusServiceUnavailable)
		}),

		// Lookup
		apiCase("Get: unknown id -> 404", func(ctx context.Context, r *Runner) error {
			return r.expectNotFound(ctx, http.MethodGet, "")
		}),
		apiCase("Take: unknown id -> 404", func(ctx context.Context, r *Runner) error {
			return r.expectNotFound(ctx, http.MethodPut, "/take")
		}),
		apiCase("Complete: unknown id -> 404", func(ctx context.Context, r *Runner) error {
			return r.expectNotFound(ctx, http.MethodPut, "/complete")
		}),
		apiCase("Cancel: unknown id -> 404", func(ctx context.Context, r *Runner) error {
			return r.expectNotFound(ctx, http.MethodPut, "/cancel")
		}),

		// Lifecycle
		apiCase("Lifecycle: take, complete, reject further changes", func(ctx context.Context, r *Runner) error {
			id, err := r.mustCreate(ctx, stops(central, tsimShaTsui), "")
			if err != nil {
				return err
			}
			steps := []struct {
				suffix  string
				code    int
				message string
				status  string
			}{
				{"/complete", http.StatusUnprocessableEntity, "not ONGOING", ""},
				{"/take", http.StatusOK, "", "ONGOING"},
				{"/take", http.StatusUnprocessableEntity, "not ASSIGNING", ""},
				{"/complete", http.StatusOK, "", "COMPLETED"},
				{"/cancel", http.StatusUnprocessableEntity, "COMPLETED already", ""},
				{"/take", http.StatusUnprocessableEntity, "not ASSIGNING", ""},
			}
			for _, s := range steps {
				res, err := r.call(ctx, http.MethodPut, orderPath(id, s.suffix), "")
				if err != nil {
					return err
				}
				if s.code != http.StatusOK {
					if err := expectError(res, s.code, s.message); err != nil {
						return fmt.Errorf("%s: %w", s.suffix, err)
					}
					continue
				}
				if err := expectCode(res.Code, s.code); err != nil {
					return fmt.Errorf("%s: %w", s.suffix, err)
				}
				if res.Body.Status != s.status {
					return fmt.Errorf("%s: status=%s, want %s", s.suffix, res.Body.Status, s.status)
				}
			}
			return nil
		}),
		apiCase("Lifecycle: cancel ONGOING order", func(ctx context.Context, r *Runner) error {
			id, err := r.mustCreate(ctx, stops(central, tsimShaTsui), "")
			if err != nil {
				return err
			}
			if res, err := r.call(ctx, http.MethodPut, orderPath(id, "/take"), ""); err != nil {
				return err
			} else if err := expectCode(res.Code, http.StatusOK); err != nil {
				return err
			}
			res, err := r.call(ctx, http.MethodPut, orderPath(id, "/cancel"), "")
			if err != nil {
				return err
			}
			if err := expectCode(res.Code, http.StatusOK); err != nil {
				return err
			}
			if res.Body.Status != "CANCELLED" {
				return fmt.Errorf("status=%s", res.Body.Status)
			}
			res, err = r.call(ctx, http.MethodPut, orderPath(id, "/complete"), "")
			if err != nil {
				return err
			}
			return expectError(res, http.StatusUnprocessableEntity, "not ONGOING")
		}),
		apiCase("Cancel: repeat cancel keeps original cancelledAt", func(ctx context.Context, r *Runner) error {
			id, err := r.mustCreate(ctx, stops(central, tsimShaTsui), "")
			if err != nil {
				return err
			}
			var first *time.Time
			for i := 0; i < 3; i++ {
				res, err := r.call(ctx, http.MethodPut, orderPath(id, "/cancel"), "")
				if err != nil {
					return err
				}
				if err := expectCode(res.Code, http.StatusOK); err != nil {
					return err
				}
				if res.Body.CancelledAt == nil {
					return errors.New("cancelledAt missing")
				}
				if first == nil {
					first = res.Body.CancelledAt
				} else if !first.Equal(*res.Body.CancelledAt) {
					return fmt.Errorf("cancelledAt moved from %s to %s", first, res.Body.CancelledAt)
				}
				time.Sleep(20 * time.Millisecond)
			}
			return nil
		}),

		// Concurrency
		apiCase("Concurrency: parallel take on one order", concurrentTake),
	}
}

func apiCase(name string, fn func(ctx context.Context, r *Runner) error) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			if err := fn(ctx, r); err != nil {
				return Result{Status: StatusFail, Latency: time.Since(start), Note: err.Error()}
			}
			return Result{Status: StatusPass, Latency: time.Since(start)}
		},
	}
}

func concurrentTake(ctx context.Context, r *Runner) error {
	id, err := r.mustCreate(ctx, stops(central, tsimShaTsui), "")
	if err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		codes = map[int]int{}
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			res, err := r.call(gctx, http.MethodPut, orderPath(id, "/take"), "")
			if err != nil {
				return err
			}
			mu.Lock()
			codes[res.Code]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if codes[http.StatusOK] != 1 || codes[http.StatusUnprocessableEntity] != r.cfg.Concurrency-1 {
		return fmt.Errorf("codes=%v, want one 200 and %d x 422", codes, r.cfg.Concurrency-1)
	}
	return nil
}

func (r *Runner) checkOrderAtTier(ctx context.Context, hour int, want pricing.Tier) error {
	now := time.Now().In(r.loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, r.loc)
	if tier := r.calc.TierAt(at); tier != want {
		return fmt.Errorf("local calculator picked %s for %s", tier, at)
	}
	res, err := r.createOrder(ctx, stops(central, mongKok), at.Format(time.RFC3339))
	if err != nil {
		return err
	}
	if err := expectCode(res.Code, http.StatusCreated); err != nil {
		return err
	}
	return r.checkFare(res.Body, at)
}

func (r *Runner) checkFare(body orderBody, orderAt time.Time) error {
	if body.Fare == nil {
		return errors.New("fare missing")
	}
	var total int64
	for _, l := range body.DrivingDistancesInMeters {
		total += l
	}
	want := r.calc.Compute(total, orderAt)
	if body.Fare.Amount.Sub(want.Amount).Abs().GreaterThan(fareTolerance) {
		return fmt.Errorf("fare=%s, want %s (%s tier, %dm)", body.Fare.Amount, want.Amount, r.calc.TierAt(orderAt), total)
	}
	if body.Fare.Currency != want.Currency {
		return fmt.Errorf("currency=%s, want %s", body.Fare.Currency, want.Currency)
	}
	return nil
}

func (r *Runner) expectNotFound(ctx context.Context, method, suffix string) error {
	res, err := r.call(ctx, method, orderPath(987654321, suffix), "")
	if err != nil {
		return err
	}
	return expectError(res, http.StatusNotFound, "ORDER_NOT_FOUND")
}

func (r *Runner) mustCreate(ctx context.Context, body, orderAt string) (int64, error) {
	res, err := r.createOrder(ctx, body, orderAt)
	if err != nil {
		return 0, err
	}
	if err := expectCode(res.Code, http.StatusCreated); err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}
	return res.Body.ID, nil
}

func (r *Runner) createOrder(ctx context.Context, stopsJSON, orderAt string) (response, error) {
	body := `{"stops":` + stopsJSON
	if orderAt != "" {
		body += `,"orderAt":"` + orderAt + `"`
	}
	return r.call(ctx, http.MethodPost, "/v1/orders", body+"}")
}

// call sends one request, retrying with exponential backoff on transport
// errors only. Any HTTP response, including 5xx, is returned as is.
func (r *Runner) call(ctx context.Context, method, path, body string) (response, error) {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < r.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return response{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		res, err := r.do(ctx, method, path, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return response{}, fmt.Errorf("%s %s: %w", method, path, lastErr)
}

func (r *Runner) do(ctx context.Context, method, path, body string) (response, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return response{}, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	out := response{Code: resp.StatusCode, Latency: time.Since(start)}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out.Body); err != nil {
			return response{}, fmt.Errorf("decode %d response: %w", resp.StatusCode, err)
		}
	}
	return out, nil
}

func expectCode(got, want int) error {
	if got != want {
		return fmt.Errorf("status=%d, want %d", got, want)
	}
	return nil
}

func expectError(res response, code int, fragment string) error {
	if err := expectCode(res.Code, code); err != nil {
		return err
	}
	if res.Body.Message == nil {
		return errors.New("message missing")
	}
	if !strings.Contains(*res.Body.Message, fragment) {
		return fmt.Errorf("message=%q, want it to contain %q", *res.Body.Message, fragment)
	}
	return nil
}

func stops(points ...string) string {
	return "[" + strings.Join(points, ",") + "]"
}

func orderPath(id int64, suffix string) string {
	return fmt.Sprintf("/v1/orders/%d%s", id, suffix)
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: StatusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	if err := infra.ApplyMigration(ctx, r.db, r.cfg.MigrationPath); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	tables, err := infra.MigrationTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass, Note: strings.Join(tables, ",")}
}
