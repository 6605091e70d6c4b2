package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "approvalflow/pkg/platform/strings"
)

// Config is the process configuration of approvald. Every field has an
// APPROVALFLOW_* environment variable; command-line flags override it.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Engine   EngineConfig

	// WorkflowsFile is a YAML workflow declaration applied at startup and on change.
	WorkflowsFile string
	MetricsAddr   string
	LogLevel      string
	LogFormat     string
}

type DatabaseConfig struct {
	// URL of the Postgres database. Empty selects the in-memory store.
	URL string
	// Driver is "pgx" (default) or "postgres" (lib/pq).
	Driver       string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	// URL enables the sweep lease when set.
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	// Brokers enables the outbox relay when set.
	Brokers  []string
	Topic    string
	ClientID string
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type EngineConfig struct {
	LevelPolicy       string
	AllowSelfApproval bool
	SweepInterval     time.Duration
	SweepBatchSize    int
	LeaseTTL          time.Duration
	RelayInterval     time.Duration
	RelayBatchSize    int
	// ExecutionTimeout is how long a running execution claim is honoured
	// before another caller may take it over. Zero disables takeover.
	ExecutionTimeout  time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	e := envReader{}
	cfg := Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("APPROVALFLOW_DATABASE_URL"),
			Driver:       e.str("APPROVALFLOW_DATABASE_DRIVER", "pgx"),
			MaxOpenConns: e.int("APPROVALFLOW_DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns: e.int("APPROVALFLOW_DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("APPROVALFLOW_REDIS_URL"),
			PoolSize:     e.int("APPROVALFLOW_REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("APPROVALFLOW_REDIS_MIN_IDLE_CONNS", 1),
			DialTimeout:  e.duration("APPROVALFLOW_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("APPROVALFLOW_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("APPROVALFLOW_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:  e.list("APPROVALFLOW_KAFKA_BROKERS"),
			Topic:    e.str("APPROVALFLOW_KAFKA_TOPIC", "approval.audit"),
			ClientID: e.str("APPROVALFLOW_KAFKA_CLIENT_ID", "approvald"),
		},
		Auth: AuthConfig{
			JWTSecret:   os.Getenv("APPROVALFLOW_JWT_SECRET"),
			JWTIssuer:   e.str("APPROVALFLOW_JWT_ISSUER", "approvalflow"),
			JWTAudience: e.str("APPROVALFLOW_JWT_AUDIENCE", "approvalflow-api"),
		},
		Engine: EngineConfig{
			LevelPolicy:       e.str("APPROVALFLOW_LEVEL_POLICY", "parallel"),
			AllowSelfApproval: e.bool("APPROVALFLOW_ALLOW_SELF_APPROVAL", false),
			SweepInterval:     e.duration("APPROVALFLOW_SWEEP_INTERVAL", time.Minute),
			SweepBatchSize:    e.int("APPROVALFLOW_SWEEP_BATCH_SIZE", 100),
			LeaseTTL:          e.duration("APPROVALFLOW_SWEEP_LEASE_TTL", 2*time.Minute),
			RelayInterval:     e.duration("APPROVALFLOW_RELAY_INTERVAL", time.Second),
			RelayBatchSize:    e.int("APPROVALFLOW_RELAY_BATCH_SIZE", 100),
			ExecutionTimeout:  e.duration("APPROVALFLOW_EXECUTION_TIMEOUT", 15*time.Minute),
		},
		WorkflowsFile: os.Getenv("APPROVALFLOW_WORKFLOWS_FILE"),
		MetricsAddr:   e.str("APPROVALFLOW_METRICS_ADDR", ":9090"),
		LogLevel:      e.str("APPROVALFLOW_LOG_LEVEL", "info"),
		LogFormat:     e.str("APPROVALFLOW_LOG_FORMAT", "json"),
	}
	if err := e.err(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("APPROVALFLOW_DATABASE_DRIVER: unsupported driver %q", c.Database.Driver)
	}
	switch c.Engine.LevelPolicy {
	case "parallel", "sequential":
	default:
		return fmt.Errorf("APPROVALFLOW_LEVEL_POLICY: must be parallel or sequential, got %q", c.Engine.LevelPolicy)
	}
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("APPROVALFLOW_SWEEP_INTERVAL: must be positive")
	}
	if c.Engine.LeaseTTL <= 0 {
		return fmt.Errorf("APPROVALFLOW_SWEEP_LEASE_TTL: must be positive")
	}
	if c.Engine.SweepBatchSize <= 0 || c.Engine.RelayBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	return nil
}

type envReader struct {
	errs []string
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (e *envReader) bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (e *envReader) list(key string) []string {
	return platformstrings.SplitList(os.Getenv(key))
}

func (e *envReader) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(e.errs, "; "))
}
