package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	StoreBackend   string
	DatabaseURL    string
	MigrateOnStart bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	HTTPAddr    string
	MetricsAddr string

	RouteFile            string
	EvalInterval         time.Duration
	TripsRefreshInterval time.Duration
	ArrivalRadiusM       float64
	DepartureRadiusM     float64
	Location             *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.StoreBackend = strings.ToLower(getenvDefault("STORE_BACKEND", BackendPostgres))
	switch cfg.StoreBackend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND: %q", cfg.StoreBackend)
	}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	if cfg.StoreBackend == BackendPostgres {
		dsn := firstNonEmpty(
			os.Getenv("DATABASE_URL"),
			os.Getenv("PG_DSN"),
		)
		if dsn == "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			db := os.Getenv("PGDATABASE")
			if db == "" {
				return nil, errors.New("PGDATABASE or DATABASE_URL must be set for STORE_BACKEND=postgres")
			}
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		} else {
			cfg.DatabaseURL = dsn
		}
		cfg.MigrateOnStart = parseBool(getenvDefault("MIGRATE_ON_START", "true"))
	}

	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "127.0.0.1:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		cfg.RedisDB = n
	}
	cfg.RedisPrefix = getenvDefault("REDIS_PREFIX", "buswait")

	// An explicitly empty NATS_URL disables fan-out.
	if v, ok := os.LookupEnv("NATS_URL"); ok {
		cfg.NATSURL = strings.TrimSpace(v)
	} else {
		cfg.NATSURL = "nats://127.0.0.1:4222"
	}
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "buswait")

	// Debug logging for NATS publish subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		cfg.LogNATSSubjects = parseBool(v)
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	// Metrics listen address (e.g., ":9102"). Empty serves /metrics on HTTP_ADDR only.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.RouteFile = getenvDefault("ROUTE_FILE", "route.yaml")

	// Evaluation tick
	if v := os.Getenv("EVAL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid EVAL_INTERVAL_MS: %q", v)
		}
		cfg.EvalInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.EvalInterval = time.Second
	}

	// Trips refresh interval (seconds)
	if v := os.Getenv("TRIPS_REFRESH_INTERVAL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid TRIPS_REFRESH_INTERVAL_SEC: %q", v)
		}
		cfg.TripsRefreshInterval = time.Duration(sec) * time.Second
	} else {
		cfg.TripsRefreshInterval = 60 * time.Second
	}

	// Auto arrival/departure radii (meters). Zero disables auto arrival.
	var err error
	if cfg.ArrivalRadiusM, err = parseMeters("ARRIVAL_RADIUS_M", 0); err != nil {
		return nil, err
	}
	if cfg.DepartureRadiusM, err = parseMeters("DEPARTURE_RADIUS_M", 0); err != nil {
		return nil, err
	}

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func parseMeters(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
