package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDelivery(t *testing.T) {
	confirmedAt := time.Date(2024, 3, 2, 9, 30, 15, 0, time.UTC)
	d, err := NewDelivery("ORD-0001", confirmedAt, time.Now())
	require.NoError(t, err)
	assert.Equal(t, DeliveryScheduled, d.Status)
	assert.Equal(t, confirmedAt, d.OrderConfirmedAt)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", d.ID.String())

	_, err = NewDelivery("  ", confirmedAt, time.Now())
	assert.ErrorIs(t, err, ErrInvalidDelivery)

	_, err = NewDelivery("ORD-0001", time.Time{}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidDelivery)
}
