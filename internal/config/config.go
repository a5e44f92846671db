package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/davicafu/hexagonal-orders/internal/shared/infra/messaging"
)

// Backends de persistencia soportados por los binarios.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongoDB  = "mongodb"
)

type Config struct {
	Environment string
	LogLevel    string

	// Persistencia
	OrderStore    string
	DeliveryStore string
	SQLitePath    string
	DeliveryDB    string
	PostgresURL   string
	MongoURI      string
	MongoDatabase string

	// Cache
	RedisAddr string
	CacheTTL  time.Duration

	// Kafka
	UseKafka              bool
	KafkaBrokers          []string
	ProducerRetries       int
	ProducerLinger        time.Duration
	ProducerWriteTimeout  time.Duration
	ConsumerGroup         string
	ConsumerTimeout       time.Duration
	ConsumerMaxAttempts   int
	DeadLetterPath        string
	Topics                messaging.TopicConfig
	DeliverySourceEvent   string
	DeliverySourceAggType string

	// Outbox relay
	OutboxPeriod     time.Duration
	OutboxLimit      int
	OutboxLease      time.Duration
	OutboxMaxBackoff time.Duration

	// Analítica
	ClickHouseAddr string
	ClickHouseDB   string

	HTTPPort         string
	DeliveryHTTPPort string

	// SeedDemo crea y confirma un pedido de ejemplo al arrancar (modo local)
	SeedDemo bool
}

// LoadConfig lee la configuración una única vez desde variables de entorno.
func LoadConfig() (*Config, error) {
	overrides := messaging.DefaultOverrides()
	if raw := getEnv("KAFKA_TOPIC_OVERRIDES", ""); raw != "" {
		parsed, err := messaging.ParseOverrides(raw)
		if err != nil {
			return nil, fmt.Errorf("KAFKA_TOPIC_OVERRIDES: %w", err)
		}
		for k, v := range parsed {
			overrides[k] = v
		}
	}

	cfg := &Config{
		Environment: getEnv("APP_ENV", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		OrderStore:    strings.ToLower(getEnv("ORDER_STORE", StoreSQLite)),
		DeliveryStore: strings.ToLower(getEnv("DELIVERY_STORE", StoreSQLite)),
		SQLitePath:    getEnv("SQLITE_PATH", "./hexagonal_orders.db"),
		DeliveryDB:    getEnv("DELIVERY_SQLITE_PATH", "./delivery.db"),
		PostgresURL:   getEnv("DATABASE_URL", ""),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDatabase: getEnv("MONGO_DB", "hexagonal_orders"),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "default"),

		ConsumerGroup:         getEnv("KAFKA_CONSUMER_GROUP", "delivery-service"),
		DeadLetterPath:        getEnv("DEAD_LETTER_PATH", ""),
		DeliverySourceAggType: getEnv("DELIVERY_SOURCE_AGGREGATE", "Order"),
		DeliverySourceEvent:   getEnv("DELIVERY_SOURCE_EVENT", "OrderConfirmedIntegrationEvent"),

		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		DeliveryHTTPPort: getEnv("DELIVERY_HTTP_PORT", "8081"),
	}

	brokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	var err error
	if cfg.UseKafka, err = getBool("USE_KAFKA", true); err != nil {
		return nil, err
	}
	if cfg.SeedDemo, err = getBool("SEED_DEMO", false); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ProducerRetries, err = getInt("KAFKA_PRODUCER_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.ProducerLinger, err = getDuration("KAFKA_PRODUCER_LINGER", 5*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ProducerWriteTimeout, err = getDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ConsumerTimeout, err = getDuration("KAFKA_CONSUMER_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ConsumerMaxAttempts, err = getInt("KAFKA_CONSUMER_MAX_ATTEMPTS", 0); err != nil {
		return nil, err
	}
	if cfg.OutboxPeriod, err = getDuration("OUTBOX_PERIOD", time.Second); err != nil {
		return nil, err
	}
	if cfg.OutboxLimit, err = getInt("OUTBOX_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.OutboxLease, err = getDuration("OUTBOX_LEASE", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.OutboxMaxBackoff, err = getDuration("OUTBOX_MAX_BACKOFF", time.Minute); err != nil {
		return nil, err
	}

	cfg.Topics = messaging.TopicConfig{
		Prefix:      getEnv("KAFKA_TOPIC_PREFIX", "hexagonal-orders"),
		Environment: getEnv("KAFKA_TOPIC_ENV", cfg.Environment),
		Overrides:   overrides,
	}

	if cfg.OutboxLimit <= 0 {
		return nil, fmt.Errorf("OUTBOX_LIMIT must be positive (got %d)", cfg.OutboxLimit)
	}
	switch cfg.OrderStore {
	case StoreSQLite, StorePostgres, StoreMongoDB:
	default:
		return nil, fmt.Errorf("ORDER_STORE %q not supported", cfg.OrderStore)
	}
	switch cfg.DeliveryStore {
	case StoreSQLite, StoreMongoDB:
	default:
		return nil, fmt.Errorf("DELIVERY_STORE %q not supported", cfg.DeliveryStore)
	}
	if cfg.OrderStore == StorePostgres && cfg.PostgresURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when ORDER_STORE=%s", StorePostgres)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, v)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean (got %q)", key, v)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (got %q)", key, v)
	}
	return d, nil
}
