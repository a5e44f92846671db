package application

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
)

func TestIntegrationMapper_Confirmed(t *testing.T) {
	o, _, err := domain.NewOrder("ORD-0001", "C-1", time.Now(), []domain.OrderItem{})
	require.NoError(t, err)
	evts, err := o.Confirm(time.Date(2024, 3, 2, 9, 30, 15, 999, time.UTC))
	require.NoError(t, err)

	now := time.Date(2024, 3, 2, 9, 31, 0, 0, time.UTC)
	msg, ok, err := NewIntegrationMapper().ToOutbox(evts[0], now)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, evts[0].EventID(), msg.IdempotencyKey)
	assert.Equal(t, "Order", msg.AggregateType)
	assert.Equal(t, "ORD-0001", msg.AggregateID)
	assert.Equal(t, "OrderConfirmedEvent", msg.EventType)
	assert.Equal(t, sharedDomain.OutboxPending, msg.Status)
	assert.Equal(t, now, msg.CreatedAt)
	assert.JSONEq(t,
		`{"orderNumber":"ORD-0001","eventType":"OrderConfirmedEvent","confirmedAt":"2024-03-02T09:30:15"}`,
		string(msg.Payload))
}

func TestIntegrationMapper_ItemEventsStayInside(t *testing.T) {
	o, _, err := domain.NewOrder("ORD-0001", "C-1", time.Now(), []domain.OrderItem{})
	require.NoError(t, err)
	evts, err := o.AddItem(domain.OrderItem{ProductNumber: "P-1", Quantity: 1})
	require.NoError(t, err)

	_, ok, err := NewIntegrationMapper().ToOutbox(evts[0], time.Now())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestIntegrationMapper_EncodeFailure(t *testing.T) {
	_, evts, err := domain.NewOrder("ORD-0001", "C-1", time.Now(), []domain.OrderItem{})
	require.NoError(t, err)

	m := &IntegrationMapper{encode: func(any) ([]byte, error) { return nil, errors.New("boom") }}
	_, ok, err := m.ToOutbox(evts[0], time.Now())
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrPayloadEncoding)
}
