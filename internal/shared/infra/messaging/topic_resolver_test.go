package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDevResolver(t *testing.T, overrides map[string]string) *TopicResolver {
	t.Helper()
	r, err := NewTopicResolver(TopicConfig{Prefix: "hexagonal-orders", Environment: "dev", Overrides: overrides})
	require.NoError(t, err)
	return r
}

func TestResolve_DocumentedOverride(t *testing.T) {
	r := newDevResolver(t, DefaultOverrides())

	topic, err := r.Resolve("Order", "OrderConfirmedIntegrationEvent")
	require.NoError(t, err)
	assert.Equal(t, "hexagonal-orders-dev-order-confirmed", topic)

	topic, err = r.Resolve("Order", "OrderConfirmedEvent")
	require.NoError(t, err)
	assert.Equal(t, "hexagonal-orders-dev-order-confirmed", topic)
}

func TestResolve_DefaultRule(t *testing.T) {
	r := newDevResolver(t, nil)

	topic, err := r.Resolve("Order", "OrderConfirmedIntegrationEvent")
	require.NoError(t, err)
	assert.Equal(t, "hexagonal-orders-dev-order-orderconfirmed", topic)

	topic, err = r.Resolve("Invoice", "Paid")
	require.NoError(t, err)
	assert.Equal(t, "hexagonal-orders-dev-invoice-paid", topic)
}

func TestResolve_OverrideWins(t *testing.T) {
	r := newDevResolver(t, map[string]string{OverrideKey("Order", "ShippedIntegrationEvent"): "shipping"})

	topic, err := r.Resolve("Order", "ShippedIntegrationEvent")
	require.NoError(t, err)
	assert.Equal(t, "hexagonal-orders-dev-shipping", topic)
}

func TestResolve_IsDeterministic(t *testing.T) {
	r := newDevResolver(t, DefaultOverrides())
	first, err := r.Resolve("Order", "OrderCreatedEvent")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := r.Resolve("Order", "OrderCreatedEvent")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolve_ConfigIsCopied(t *testing.T) {
	overrides := map[string]string{OverrideKey("Order", "OrderCreatedEvent"): "created"}
	r := newDevResolver(t, overrides)

	overrides[OverrideKey("Order", "OrderCreatedEvent")] = "mutated"

	topic, err := r.Resolve("Order", "OrderCreatedEvent")
	require.NoError(t, err)
	assert.Equal(t, "hexagonal-orders-dev-created", topic)
}

func TestResolve_RejectsMalformedInput(t *testing.T) {
	r := newDevResolver(t, nil)

	tests := []struct {
		name          string
		aggregateType string
		eventType     string
	}{
		{"separador en agregado", "Order.V2", "OrderCreatedEvent"},
		{"separador en evento", "Order", "Order.Created"},
		{"agregado vacío", "", "OrderCreatedEvent"},
		{"evento en blanco", "Order", "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.aggregateType, tt.eventType)
			assert.ErrorIs(t, err, ErrMalformedTopicInput)
		})
	}
}

func TestNewTopicResolver_RequiresPrefixAndEnv(t *testing.T) {
	_, err := NewTopicResolver(TopicConfig{Prefix: "", Environment: "dev"})
	assert.ErrorIs(t, err, ErrInvalidTopicConfig)

	_, err = NewTopicResolver(TopicConfig{Prefix: "p", Environment: ""})
	assert.ErrorIs(t, err, ErrInvalidTopicConfig)
}

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides("Order.OrderCreatedEvent=order-new, Order.OrderDeletedEvent=gone")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Order.OrderCreatedEvent": "order-new",
		"Order.OrderDeletedEvent": "gone",
	}, got)

	_, err = ParseOverrides("Order.OrderCreatedEvent")
	assert.ErrorIs(t, err, ErrInvalidTopicConfig)

	_, err = ParseOverrides("OrderCreatedEvent=x")
	assert.ErrorIs(t, err, ErrInvalidTopicConfig)

	_, err = ParseOverrides("Order.A.B=x")
	assert.ErrorIs(t, err, ErrMalformedTopicInput)
}
