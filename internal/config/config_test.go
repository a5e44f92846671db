package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/hexagonal-orders/internal/shared/infra/messaging"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, StoreSQLite, cfg.OrderStore)
	assert.Equal(t, StoreSQLite, cfg.DeliveryStore)
	assert.True(t, cfg.UseKafka)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Second, cfg.OutboxPeriod)
	assert.Equal(t, 10, cfg.OutboxLimit)
	assert.Equal(t, 0, cfg.ConsumerMaxAttempts)
	assert.Equal(t, "hexagonal-orders", cfg.Topics.Prefix)
	assert.Equal(t, "dev", cfg.Topics.Environment)
	assert.Equal(t, "order-confirmed", cfg.Topics.Overrides[messaging.OverrideKey("Order", "OrderConfirmedIntegrationEvent")])
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("USE_KAFKA", "false")
	t.Setenv("OUTBOX_PERIOD", "250ms")
	t.Setenv("ORDER_STORE", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/orders")
	t.Setenv("KAFKA_TOPIC_OVERRIDES", "Order.OrderCreatedEvent=created-v2")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.UseKafka)
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxPeriod)
	assert.Equal(t, StorePostgres, cfg.OrderStore)
	assert.Equal(t, "prod", cfg.Topics.Environment)
	assert.Equal(t, "created-v2", cfg.Topics.Overrides[messaging.OverrideKey("Order", "OrderCreatedEvent")])
	// los overrides documentados siguen presentes
	assert.Equal(t, "order-confirmed", cfg.Topics.Overrides[messaging.OverrideKey("Order", "OrderConfirmedEvent")])
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"entero inválido", "OUTBOX_LIMIT", "diez"},
		{"límite no positivo", "OUTBOX_LIMIT", "0"},
		{"duración inválida", "OUTBOX_PERIOD", "soon"},
		{"booleano inválido", "USE_KAFKA", "maybe"},
		{"backend desconocido", "ORDER_STORE", "cassandra"},
		{"entregas sin soporte postgres", "DELIVERY_STORE", "postgres"},
		{"postgres sin DSN", "ORDER_STORE", "postgres"},
		{"override mal formado", "KAFKA_TOPIC_OVERRIDES", "Order.OrderCreatedEvent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
