package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Database DatabaseConfig
	Ingest   IngestConfig
	Fetch    FetchConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

type DatabaseConfig struct {
	Driver       string // postgres, pgx or sqlite
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
}

// IngestConfig tunes the persistence coordinator and concurrent feed runs.
type IngestConfig struct {
	BatchSize   int
	Workers     int
	Concurrency int
	RunTimeout  time.Duration
}

type FetchConfig struct {
	Timeout     time.Duration
	Attempts    int
	DownloadDir string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

type LoggingConfig struct {
	Level    string
	FilePath string
	// JSON writes raw JSON lines to stdout instead of the console format.
	JSON              bool
	DiscordWebhookURL string
}

type MetricsConfig struct {
	// Addr is the listen address of the metrics server; empty disables it.
	Addr string
}

// maxPostgresParams caps a single statement's bind parameters.
const maxPostgresParams = 65535

func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "transit_schedules"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "schedules.db"),
		},
		Ingest: IngestConfig{
			BatchSize:   getIntEnv("INGEST_BATCH_SIZE", 1000),
			Workers:     getIntEnv("INGEST_WORKERS", 4),
			Concurrency: getIntEnv("INGEST_CONCURRENCY", 1),
			RunTimeout:  getDurationEnv("RUN_TIMEOUT", 30*time.Minute),
		},
		Fetch: FetchConfig{
			Timeout:     getDurationEnv("FETCH_TIMEOUT", 5*time.Minute),
			Attempts:    getIntEnv("FETCH_ATTEMPTS", 3),
			DownloadDir: getEnv("DOWNLOAD_DIR", ""),
			S3Region:    getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3PathStyle: getBoolEnv("S3_PATH_STYLE", false),
		},
		Logging: LoggingConfig{
			Level:             getEnv("LOG_LEVEL", "info"),
			FilePath:          getEnv("LOG_FILE", "schedule-ingest.log"),
			JSON:              getBoolEnv("LOG_JSON", false),
			DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
	}
	cfg.Database.MaxOpenConns = getIntEnv("DB_MAX_OPEN_CONNS", cfg.Ingest.Concurrency*cfg.Ingest.Workers+2)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres, pgx or sqlite, got %q", c.Database.Driver)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", c.Ingest.BatchSize)
	}
	// Widest table plus its id column.
	if c.Ingest.BatchSize*7 > maxPostgresParams {
		return fmt.Errorf("INGEST_BATCH_SIZE %d exceeds the statement parameter limit", c.Ingest.BatchSize)
	}
	if c.Ingest.Workers < 1 || c.Ingest.Concurrency < 1 {
		return fmt.Errorf("INGEST_WORKERS and INGEST_CONCURRENCY must be at least 1")
	}
	if c.Fetch.Attempts < 1 {
		return fmt.Errorf("FETCH_ATTEMPTS must be at least 1, got %d", c.Fetch.Attempts)
	}
	if c.Database.MaxOpenConns < c.Ingest.Concurrency {
		return fmt.Errorf("DB_MAX_OPEN_CONNS %d cannot serve %d concurrent runs", c.Database.MaxOpenConns, c.Ingest.Concurrency)
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL renders the connection as a postgres:// URL for pgxpool.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
