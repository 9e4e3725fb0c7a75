package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = ""

// Config holds the configuration for the grabwell binary.
type Config struct {
	Environment

	Server
	Worker
	Tool
	Hub
	Postgres
	Redis
}

// Environment holds the runtime environment.
type Environment struct {
	Env string `envconfig:"ENV" default:"development"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	Host              string        `envconfig:"SERVER_HOST" default:"localhost"`
	Port              int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout       time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"2s"`
	ReadHeaderTimeout time.Duration `envconfig:"SERVER_READ_HEADER_TIMEOUT" default:"1s"`
	IdleTimeout       time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"30s"`
	RequestBodyLimit  int64         `envconfig:"SERVER_REQUEST_BODY_LIMIT" default:"1048576"`
}

// Worker holds the configuration for the job worker pool.
type Worker struct {
	Workers                int           `envconfig:"WORKER_POOL_SIZE" default:"2"`
	QueueCapacity          int           `envconfig:"WORKER_QUEUE_CAPACITY" default:"64"`
	ExecutionTimeout       time.Duration `envconfig:"WORKER_EXECUTION_TIMEOUT" default:"2h"`
	GracePeriod            time.Duration `envconfig:"WORKER_GRACE_PERIOD" default:"10s"`
	RetentionPeriod        time.Duration `envconfig:"WORKER_RETENTION_PERIOD" default:"1h"`
	JanitorInterval        time.Duration `envconfig:"WORKER_JANITOR_INTERVAL" default:"1m"`
	ArchiveRetentionPeriod time.Duration `envconfig:"WORKER_ARCHIVE_RETENTION_PERIOD" default:"720h"`
}

// Tool holds the configuration for the external acquisition tool.
type Tool struct {
	Binary      string `envconfig:"TOOL_BINARY" default:"gamdl"`
	CookiesPath string `envconfig:"TOOL_COOKIES_PATH" default:"./cookies.txt"`
	OutputDir   string `envconfig:"TOOL_OUTPUT_DIR" default:"./downloads"`
	ExtraArgs   string `envconfig:"TOOL_EXTRA_ARGS" default:""`
}

// Hub holds the configuration for the status broadcast hub.
type Hub struct {
	BufferSize          int `envconfig:"HUB_BUFFER_SIZE" default:"512"`
	SubscriberQueueSize int `envconfig:"HUB_SUBSCRIBER_QUEUE_SIZE" default:"64"`
}

// Postgres holds the configuration for the optional jobs archive.
type Postgres struct {
	Enabled     bool          `envconfig:"POSTGRES_ENABLED" default:"false"`
	Host        string        `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port        int           `envconfig:"POSTGRES_PORT" default:"5432"`
	User        string        `envconfig:"POSTGRES_USER" default:"postgres"`
	Password    string        `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	Database    string        `envconfig:"POSTGRES_DB" default:"grabwell"`
	MaxConns    int32         `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
	MinConns    int32         `envconfig:"POSTGRES_MIN_CONNS" default:"5"`
	MaxConnLife time.Duration `envconfig:"POSTGRES_MAX_CONN_LIFE" default:"1h"`
	MaxConnIdle time.Duration `envconfig:"POSTGRES_MAX_CONN_IDLE" default:"30m"`
	DialTimeout time.Duration `envconfig:"POSTGRES_DIAL_TIMEOUT" default:"5s"`
	SSLMode     string        `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
}

// Redis holds the configuration for the optional event mirror.
type Redis struct {
	Enabled      bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Host         string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port         int           `envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `envconfig:"REDIS_PASSWORD" default:""`
	DB           int           `envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"5"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
