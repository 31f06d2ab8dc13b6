package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Authentication modes for the /api/v1 routes.
const (
	AuthJWT      = "jwt"
	AuthFirebase = "firebase"
)

// Store backends.
const (
	BackendPebble   = "pebble"
	BackendFirebase = "firebase"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type Config struct {
	Port                    string        `yaml:"port"`
	Env                     string        `yaml:"env"`
	MetricsPort             string        `yaml:"metrics_port"`
	LogLevel                string        `yaml:"log_level"`
	StoreBackend            string        `yaml:"store_backend"`
	StorePath               string        `yaml:"store_path"`
	FirebaseCredentialsPath string        `yaml:"firebase_credentials_path"`
	FirebaseDatabaseURL     string        `yaml:"firebase_database_url"`
	MongoURI                string        `yaml:"mongo_uri"`
	MongoDatabase           string        `yaml:"mongo_database"`
	PostgresConnStr         string        `yaml:"postgres_conn_str"`
	JWTSecret               string        `yaml:"jwt_secret"`
	AuthMode                string        `yaml:"auth_mode"`
	RedisAddr               string        `yaml:"redis_addr"`
	RedisPassword           string        `yaml:"redis_password"`
	RateLimitPerSecond      float64       `yaml:"rate_limit_per_second"`
	RateLimitBurst          int           `yaml:"rate_limit_burst"`
	ReconcileCron           string        `yaml:"reconcile_cron"`
	JoinConcurrency         int           `yaml:"join_concurrency"`
	ObserveInterval         time.Duration `yaml:"observe_interval"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:                    "8080",
		Env:                     "development",
		MetricsPort:             "9090",
		LogLevel:                "info",
		StoreBackend:            BackendPebble,
		StorePath:               "./data",
		FirebaseCredentialsPath: "./firebase_credentials.json",
		MongoDatabase:           "socialmedia",
		JWTSecret:               "supersecretjwtkey",
		AuthMode:                AuthJWT,
		RateLimitPerSecond:      20,
		RateLimitBurst:          40,
		ReconcileCron:           "0 3 * * *",
		JoinConcurrency:         16,
		ObserveInterval:         time.Second,
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE (if
// set), then the environment. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.Env = getEnv("ENV", c.Env)
	c.MetricsPort = getEnv("METRICS_PORT", c.MetricsPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", c.StoreBackend))
	c.StorePath = getEnv("STORE_PATH", c.StorePath)
	c.FirebaseCredentialsPath = getEnv("FIREBASE_CREDENTIALS_PATH", c.FirebaseCredentialsPath)
	c.FirebaseDatabaseURL = getEnv("FIREBASE_DATABASE_URL", c.FirebaseDatabaseURL)
	c.MongoURI = getEnv("MONGO_URI", c.MongoURI)
	c.MongoDatabase = getEnv("MONGO_DATABASE", c.MongoDatabase)
	c.PostgresConnStr = getEnv("POSTGRES_CONN_STR", c.PostgresConnStr)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.AuthMode = strings.ToLower(getEnv("AUTH_MODE", c.AuthMode))
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.ReconcileCron = getEnv("RECONCILE_CRON", c.ReconcileCron)

	var err error
	if c.RateLimitPerSecond, err = getEnvFloat("RATE_LIMIT_PER_SECOND", c.RateLimitPerSecond); err != nil {
		return err
	}
	if c.RateLimitBurst, err = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst); err != nil {
		return err
	}
	if c.JoinConcurrency, err = getEnvInt("JOIN_CONCURRENCY", c.JoinConcurrency); err != nil {
		return err
	}
	if v := os.Getenv("OBSERVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("OBSERVE_INTERVAL: %w", err)
		}
		c.ObserveInterval = d
	}
	return nil
}

// Validate rejects unknown backends and missing backend settings.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPebble:
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required for the pebble backend")
		}
	case BackendFirebase:
		if c.FirebaseDatabaseURL == "" {
			return fmt.Errorf("FIREBASE_DATABASE_URL is required for the firebase backend")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo backend")
		}
	case BackendPostgres:
		if c.PostgresConnStr == "" {
			return fmt.Errorf("POSTGRES_CONN_STR is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.AuthMode != AuthJWT && c.AuthMode != AuthFirebase {
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.ReconcileCron != "" && !gronx.IsValid(c.ReconcileCron) {
		return fmt.Errorf("invalid RECONCILE_CRON %q", c.ReconcileCron)
	}
	if c.RateLimitPerSecond < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
