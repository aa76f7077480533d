// README: Config loader with env defaults for HTTP, DB, Redis, distance, pricing and service area.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type DistanceConfig struct {
	MapsAPIKey string
	MapsRegion string
	Timeout    time.Duration
	CacheTTL   time.Duration
}

type AreaConfig struct {
	CenterLat float64
	CenterLng float64
	RadiusKm  float64
}

type Config struct {
	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Log struct {
		Level  string
		Format string
	}
	Distance DistanceConfig
	Area     AreaConfig
	// Location is the civil timezone used to pick the fare tier.
	Location *time.Location
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	cfg.HTTP.Addr = envOrDefault("ORDER_HTTP_ADDR", ":8080")
	cfg.HTTP.ShutdownTimeout = envOrDefaultDuration("ORDER_SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.DB.DSN = os.Getenv("ORDER_DB_DSN")
	cfg.Redis.Addr = os.Getenv("ORDER_REDIS_ADDR")
	cfg.Log.Level = envOrDefault("ORDER_LOG_LEVEL", "info")
	cfg.Log.Format = envOrDefault("ORDER_LOG_FORMAT", "json")

	cfg.Distance.MapsAPIKey = os.Getenv("ORDER_MAPS_API_KEY")
	cfg.Distance.MapsRegion = envOrDefault("ORDER_MAPS_REGION", "hk")
	cfg.Distance.Timeout = envOrDefaultDuration("ORDER_DISTANCE_TIMEOUT", 5*time.Second)
	cfg.Distance.CacheTTL = envOrDefaultDuration("ORDER_DISTANCE_CACHE_TTL", 24*time.Hour)

	cfg.Area.CenterLat = envOrDefaultFloat("ORDER_AREA_CENTER_LAT", 22.3193)
	cfg.Area.CenterLng = envOrDefaultFloat("ORDER_AREA_CENTER_LNG", 114.1694)
	cfg.Area.RadiusKm = envOrDefaultFloat("ORDER_AREA_RADIUS_KM", 50)

	tz := envOrDefault("ORDER_TIMEZONE", "Asia/Hong_Kong")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	cfg.Location = loc

	if cfg.Distance.Timeout <= 0 {
		return Config{}, fmt.Errorf("ORDER_DISTANCE_TIMEOUT must be positive, got %s", cfg.Distance.Timeout)
	}
	if cfg.Area.RadiusKm <= 0 {
		return Config{}, fmt.Errorf("ORDER_AREA_RADIUS_KM must be positive, got %v", cfg.Area.RadiusKm)
	}
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
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
