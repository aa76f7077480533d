// README: Entry point; loads config, wires the order service and serves the HTTP API until signalled.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"orderflow/internal/config"
	httptransport "orderflow/internal/http"
	"orderflow/internal/infra"
	"orderflow/internal/maps"
	"orderflow/internal/modules/distance"
	"orderflow/internal/modules/location"
	"orderflow/internal/modules/order"
	"orderflow/internal/modules/pricing"
	"orderflow/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := newStore(ctx, cfg, log)
	defer closeStore()

	provider, closeProvider := newDistanceProvider(ctx, cfg, log)
	defer closeProvider()

	orderSvc := order.NewService(order.Deps{
		Store:    store,
		Geofence: location.NewGeofence(types.Point{Lat: cfg.Area.CenterLat, Lng: cfg.Area.CenterLng}, cfg.Area.RadiusKm),
		Distance: distance.NewBounded(provider, cfg.Distance.Timeout),
		Pricing:  pricing.NewCalculator(cfg.Location),
		Logger:   log,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httptransport.NewRouter(orderSvc, cfg.Location, log),
		ReadHeaderTimeout: 5 * time.Second,
		// Create may wait up to the distance timeout on the provider.
		WriteTimeout: cfg.Distance.Timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("graceful shutdown failed")
		}
	}
}

func newStore(ctx context.Context, cfg config.Config, log *logrus.Logger) (order.Repository, func()) {
	if cfg.DB.DSN == "" {
		log.Warn("ORDER_DB_DSN not set; orders are kept in memory")
		return order.NewMemoryStore(), func() {}
	}
	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.WithError(err).Fatal("postgres init")
	}
	return order.NewPGStore(pool), pool.Close
}

// newDistanceProvider prefers the Maps directions API and falls back to
// straight-line distances when no key is configured. Redis, when configured,
// caches legs in front of either.
func newDistanceProvider(ctx context.Context, cfg config.Config, log *logrus.Logger) (distance.Provider, func()) {
	var provider distance.Provider = distance.StraightLine{}
	if cfg.Distance.MapsAPIKey != "" {
		routes, err := maps.NewRouteService(cfg.Distance.MapsAPIKey, cfg.Distance.MapsRegion)
		if err != nil {
			log.WithError(err).Fatal("maps init")
		}
		provider = routes
	} else {
		log.Warn("ORDER_MAPS_API_KEY not set; using straight-line distances")
	}

	if cfg.Redis.Addr == "" {
		return provider, func() {}
	}
	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		log.WithError(err).Fatal("redis init")
	}
	return distance.NewCached(provider, rdb, cfg.Distance.CacheTTL, cfg.Distance.Timeout, log), func() { _ = rdb.Close() }
}
