package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"heather"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"660"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver: postgres (lib/pq) or pgx
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost   string `env:"DB_HOST" env-default:"localhost"`
	DatabasePort   string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	DatabaseName     string `env:"DB_NAME" env-default:"heather"`
	DatabaseSSLMode  string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	// Migrations are read from this folder when set, otherwise the embedded set is used
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:""`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis is optional. Without it only the in-process run guard applies.
	RedisEnabled bool `env:"REDIS_ENABLED" env-default:"false"`
	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// TTL of the per-feed import lock
	ImportLockTTL time.Duration `env:"IMPORT_LOCK_TTL" env-default:"15m"`

	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Kafka brokers (comma-separated)
	KafkaBrokers     string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaImportTopic string `env:"KAFKA_IMPORT_TOPIC" env-default:"housing-imports"`

	// Upstream GraphQL endpoint
	FeedURL            string        `env:"FEED_URL" env-default:"https://www.sio.no/api/graphql"`
	FeedRequestTimeout time.Duration `env:"FEED_REQUEST_TIMEOUT" env-default:"30s"`
	// Calendar dates of the availability feed are taken in this zone
	FeedTimezone string `env:"FEED_TIMEZONE" env-default:"Europe/Oslo"`

	FetchMaxAttempts  int           `env:"FETCH_MAX_ATTEMPTS" env-default:"3"`
	FetchInitialDelay time.Duration `env:"FETCH_INITIAL_DELAY" env-default:"1s"`
	FetchMultiplier   float64       `env:"FETCH_MULTIPLIER" env-default:"2"`
	FetchMaxDelay     time.Duration `env:"FETCH_MAX_DELAY" env-default:"30s"`

	CatalogImportEnabled           bool   `env:"CATALOG_IMPORT_ENABLED" env-default:"true"`
	CatalogImportCron              string `env:"CATALOG_IMPORT_CRON" env-default:"0 16 * * *"`
	CatalogImportRunOnStartup      bool   `env:"CATALOG_IMPORT_RUN_ON_STARTUP" env-default:"true"`
	AvailabilityImportEnabled      bool   `env:"AVAILABILITY_IMPORT_ENABLED" env-default:"true"`
	AvailabilityImportCron         string `env:"AVAILABILITY_IMPORT_CRON" env-default:"@every 1m"`
	AvailabilityImportRunOnStartup bool   `env:"AVAILABILITY_IMPORT_RUN_ON_STARTUP" env-default:"true"`
	SchedulerTimezone              string `env:"SCHEDULER_TIMEZONE" env-default:"Europe/Oslo"`
	// Upper bound for one run from any trigger
	ImportRunTimeout time.Duration `env:"IMPORT_RUN_TIMEOUT" env-default:"10m"`
	// Run history older than this is pruned daily. Zero keeps everything.
	ImportRunRetention time.Duration `env:"IMPORT_RUN_RETENTION" env-default:"720h"`

	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
	// Extra exporter headers as k1=v1,k2=v2
	OTLPHeaders      string  `env:"OTLP_HEADERS" env-default:""`
	TraceSampleRatio float64 `env:"TRACE_SAMPLE_RATIO" env-default:"1"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.FeedURL == "" {
		problems = append(problems, "FEED_URL is required")
	}
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "pgx" {
		problems = append(problems, fmt.Sprintf("DB_DRIVER must be postgres or pgx, got %q", c.DatabaseDriver))
	}
	if c.FetchMaxAttempts < 1 {
		problems = append(problems, "FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.FetchMultiplier < 1 {
		problems = append(problems, "FETCH_MULTIPLIER must be at least 1")
	}
	if _, err := time.LoadLocation(c.SchedulerTimezone); err != nil {
		problems = append(problems, fmt.Sprintf("SCHEDULER_TIMEZONE: %v", err))
	}
	if _, err := time.LoadLocation(c.FeedTimezone); err != nil {
		problems = append(problems, fmt.Sprintf("FEED_TIMEZONE: %v", err))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DatabaseDSN builds a postgres URL accepted by both lib/pq and pgx.
func (c *Config) DatabaseDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DatabaseUserName, c.DatabasePassword),
		Host:   c.DatabaseHost + ":" + c.DatabasePort,
		Path:   c.DatabaseName,
	}
	q := u.Query()
	q.Set("sslmode", c.DatabaseSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func (c *Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
