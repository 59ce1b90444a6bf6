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
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreScylla = "scylla"

	SessionsMemory = "memory"
	SessionsRedis  = "redis"

	MediaLocal = "local"
	MediaS3    = "s3"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env            string
	HTTPAddr       string
	GRPCHealthAddr string

	StoreDriver       string
	MongoURI          string
	MongoDB           string
	MongoTransactions bool

	ScyllaHosts             []string
	ScyllaKeyspace          string
	ScyllaUsername          string
	ScyllaPassword          string
	ScyllaConsistency       string
	ScyllaTimeout           time.Duration
	ScyllaReplicationFactor int

	SessionStore  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JWTSecret     string
	SessionTTL    time.Duration

	KafkaBrokers       []string
	KafkaTopicPrefix   string
	KafkaGroupID       string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration

	MediaStorage       string
	UploadDir          string
	UploadPublicPrefix string
	UploadMaxBytes     int64
	S3Endpoint         string
	S3PublicEndpoint   string
	S3AccessKey        string
	S3SecretKey        string
	S3Bucket           string
	S3UseSSL           bool

	ViewBuffer int

	AdminEmails   []string
	AdminPassword string
}

// ErrDevFallback wraps the load error when the dev environment falls back to Dev.
var ErrDevFallback = errors.New("config: using in-memory dev fallback")

// LoadDotEnv reads files (default ".env") into the environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:                getEnv("APP_ENV", "dev"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		GRPCHealthAddr:     os.Getenv("GRPC_HEALTH_ADDR"),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		MongoURI:           os.Getenv("MONGO_URI"),
		MongoDB:            getEnv("MONGO_DB", "neighborhub"),
		ScyllaHosts:        splitList(getEnv("SCYLLA_HOSTS", "127.0.0.1")),
		ScyllaKeyspace:     getEnv("SCYLLA_KEYSPACE", "neighborhub_chat"),
		ScyllaUsername:     os.Getenv("SCYLLA_USERNAME"),
		ScyllaPassword:     os.Getenv("SCYLLA_PASSWORD"),
		ScyllaConsistency:  getEnv("SCYLLA_CONSISTENCY", "quorum"),
		SessionStore:       strings.ToLower(getEnv("SESSION_STORE", SessionsMemory)),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicPrefix:   getEnv("KAFKA_TOPIC_PREFIX", ""),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "neighborhub-views"),
		MediaStorage:       strings.ToLower(getEnv("MEDIA_STORAGE", MediaLocal)),
		UploadDir:          getEnv("UPLOAD_DIR", "uploads"),
		UploadPublicPrefix: getEnv("UPLOAD_PUBLIC_PREFIX", "/uploads"),
		S3Endpoint:         getEnv("S3_ENDPOINT", "http://localhost:9000"),
		S3PublicEndpoint:   getEnv("S3_PUBLIC_ENDPOINT", ""),
		S3AccessKey:        getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:        getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:           getEnv("S3_BUCKET", "neighborhub-chat"),
		AdminEmails:        splitList(os.Getenv("ADMIN_EMAILS")),
		AdminPassword:      os.Getenv("ADMIN_PASSWORD"),
	}

	var err error
	if cfg.MongoTransactions, err = parseBoolEnv("MONGO_TRANSACTIONS", false); err != nil {
		return Config{}, err
	}
	if cfg.ScyllaTimeout, err = parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ScyllaReplicationFactor, err = parseIntEnv("SCYLLA_REPLICATION_FACTOR", 1); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = parseIntEnv("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = parseDurationEnv("SESSION_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	maxBytes, err := parseIntEnv("UPLOAD_MAX_BYTES", 10<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.UploadMaxBytes = int64(maxBytes)
	if cfg.S3UseSSL, err = parseBoolEnv("S3_USE_SSL", false); err != nil {
		return Config{}, err
	}
	if cfg.ViewBuffer, err = parseIntEnv("VIEW_BUFFER", 256); err != nil {
		return Config{}, err
	}

	for _, raw := range strings.Split(getEnv("RETRY_BACKOFF", "1s,5s,30s"), ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", raw, err)
		}
		cfg.RetryBackoff = append(cfg.RetryBackoff, d)
	}
	if cfg.S3PublicEndpoint == "" {
		cfg.S3PublicEndpoint = cfg.S3Endpoint
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDev loads the configuration for env. In the dev environment an invalid
// configuration yields Dev and an error wrapping ErrDevFallback; elsewhere the
// load error is returned as is.
func LoadOrDev(env string) (Config, error) {
	cfg, err := Load()
	if err == nil {
		return cfg, nil
	}
	if !strings.EqualFold(strings.TrimSpace(env), "dev") {
		return Config{}, err
	}
	dev := Dev()
	dev.AdminEmails = splitList(os.Getenv("ADMIN_EMAILS"))
	dev.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	return dev, fmt.Errorf("%w: %w", ErrDevFallback, err)
}

// Dev is the fallback used when Load fails: every backend in memory.
func Dev() Config {
	return Config{
		Env:                "dev",
		HTTPAddr:           ":8080",
		StoreDriver:        StoreMemory,
		SessionStore:       SessionsMemory,
		JWTSecret:          "dev-secret",
		SessionTTL:         24 * time.Hour,
		KafkaGroupID:       "neighborhub-views",
		OutboxPollInterval: 500 * time.Millisecond,
		RetryBackoff:       []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		MediaStorage:       MediaLocal,
		UploadDir:          "uploads",
		UploadPublicPrefix: "/uploads",
		UploadMaxBytes:     10 << 20,
		ViewBuffer:         256,
	}
}

func (c Config) validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for STORE_DRIVER=mongo"))
		}
	case StoreScylla:
		if len(c.ScyllaHosts) == 0 {
			errs = append(errs, errors.New("SCYLLA_HOSTS is required for STORE_DRIVER=scylla"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.SessionStore {
	case SessionsMemory, SessionsRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore))
	}
	switch c.MediaStorage {
	case MediaLocal, MediaS3:
	default:
		errs = append(errs, fmt.Errorf("unknown MEDIA_STORAGE %q", c.MediaStorage))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.UploadMaxBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_BYTES must be positive"))
	}
	if c.AdminPassword != "" && len([]rune(c.AdminPassword)) < 8 {
		errs = append(errs, errors.New("ADMIN_PASSWORD must be at least 8 characters"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return v, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
