package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/hexagonal-orders/internal/delivery/domain"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, InitSQLite(db))
	return db
}

func TestDeliveryRepoSQLite_CreateIfAbsentIsIdempotent(t *testing.T) {
	repo := NewDeliveryRepoSQLite(setupDB(t))
	ctx := context.Background()
	confirmedAt := time.Date(2024, 3, 2, 9, 30, 15, 0, time.UTC)

	first, err := domain.NewDelivery("ORD-0001", confirmedAt, time.Now())
	require.NoError(t, err)
	stored, created, err := repo.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, stored.ID)

	second, err := domain.NewDelivery("ORD-0001", confirmedAt, time.Now())
	require.NoError(t, err)
	stored, created, err = repo.CreateIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, confirmedAt, stored.OrderConfirmedAt)

	all, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeliveryRepoSQLite_NotFound(t *testing.T) {
	repo := NewDeliveryRepoSQLite(setupDB(t))
	_, err := repo.GetByOrderNumber(context.Background(), "ORD-9999")
	assert.ErrorIs(t, err, domain.ErrDeliveryNotFound)
}
