package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/hexagonal-orders/internal/delivery/domain"
	"github.com/davicafu/hexagonal-orders/tests/mocks"
)

func TestCreateDelivery_IdempotentOnOrderNumber(t *testing.T) {
	svc := NewDeliveryService(mocks.NewInMemoryDeliveryRepo(), zap.NewNop())
	ctx := context.Background()
	at := time.Date(2024, 3, 2, 9, 30, 15, 0, time.UTC)

	first, created, err := svc.CreateDelivery(ctx, "ORD-0001", at)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := svc.CreateDelivery(ctx, "ORD-0001", at)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	got, err := svc.GetDelivery(ctx, "ORD-0001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	list, err := svc.ListDeliveries(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateDelivery_RejectsEmptyOrderNumber(t *testing.T) {
	svc := NewDeliveryService(mocks.NewInMemoryDeliveryRepo(), zap.NewNop())
	_, _, err := svc.CreateDelivery(context.Background(), "", time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidDelivery)
}
