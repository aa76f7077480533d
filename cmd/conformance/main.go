// README: Conformance runner; executes black-box API checks (plus optional DB/Redis checks) against a live server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	runner, err := NewRunner(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	results := runner.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusFail:
			fail++
		case StatusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	MigrationPath  string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	RequestTimeout time.Duration
	Retries        int
	Concurrency    int
	Timezone       string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("ORDER_CONFORMANCE_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("ORDER_DB_DSN"), "Postgres DSN (DB checks are skipped when empty)")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("ORDER_REDIS_ADDR"), "Redis address (cache checks are skipped when empty)")
	flag.StringVar(&cfg.MigrationPath, "migration", envOrDefault("ORDER_CONFORMANCE_MIGRATION", "migrations/0001_init.sql"), "Migration SQL path")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", envOrDefaultBool("ORDER_CONFORMANCE_APPLY_MIGRATION", false), "Apply migration SQL before tests")
	flag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("ORDER_CONFORMANCE_STRICT", false), "Fail when any case is skipped")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("ORDER_CONFORMANCE_TIMEOUT", 60*time.Second), "Total timeout")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", envOrDefaultDuration("ORDER_CONFORMANCE_REQUEST_TIMEOUT", 15*time.Second), "Per-request timeout")
	flag.IntVar(&cfg.Retries, "retries", envOrDefaultInt("ORDER_CONFORMANCE_RETRIES", 3), "Attempts per request on transport errors")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("ORDER_CONFORMANCE_CONCURRENCY", 10), "Parallel clients for race cases")
	flag.StringVar(&cfg.Timezone, "timezone", envOrDefault("ORDER_TIMEZONE", "Asia/Hong_Kong"), "Timezone the server prices in")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.normalize()
	return cfg
}

// normalize clamps values the flags accept but the runner cannot use.
func (c *Config) normalize() {
	if c.Retries < 1 {
		c.Retries = 1
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
