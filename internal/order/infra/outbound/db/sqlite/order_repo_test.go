package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db"
	sharedSQLite "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db/sqlite"
)

func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, InitSQLite(sqlDB))
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func newOrder(t *testing.T, number string) *domain.Order {
	t.Helper()
	o, _, err := domain.NewOrder(domain.OrderNumber(number), "C-1",
		time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		[]domain.OrderItem{{ProductNumber: "P-1", Quantity: 2}, {ProductNumber: "P-2", Quantity: 1}})
	require.NoError(t, err)
	return o
}

func TestOrderRepoSQLite_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepoSQLite(setupSQLite(t))

	o := newOrder(t, "ORD-0001")
	require.NoError(t, repo.Create(ctx, o))
	assert.NotZero(t, o.ID)
	assert.Equal(t, 1, o.Version)

	got, err := repo.GetByNumber(ctx, "ORD-0001")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.Items, got.Items)
	assert.Equal(t, domain.OrderPending, got.Status)
	assert.True(t, o.OrderDate.Equal(got.OrderDate))

	err = repo.Create(ctx, newOrder(t, "ORD-0001"))
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyExists)

	_, err = repo.GetByNumber(ctx, "ORD-9999")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepoSQLite_OptimisticLocking(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepoSQLite(setupSQLite(t))

	o := newOrder(t, "ORD-0001")
	require.NoError(t, repo.Create(ctx, o))

	first, err := repo.GetByNumber(ctx, "ORD-0001")
	require.NoError(t, err)
	stale, err := repo.GetByNumber(ctx, "ORD-0001")
	require.NoError(t, err)

	_, err = first.Confirm(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, 2, first.Version)

	_, err = stale.AddItem(domain.OrderItem{ProductNumber: "P-3", Quantity: 1})
	require.NoError(t, err)
	err = repo.Update(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	err = repo.Delete(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	got, err := repo.GetByNumber(ctx, "ORD-0001")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, got.Status)
	assert.Len(t, got.Items, 2)
}

func TestOrderRepoSQLite_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepoSQLite(setupSQLite(t))

	o := newOrder(t, "ORD-0001")
	require.NoError(t, repo.Create(ctx, o))
	require.NoError(t, repo.Delete(ctx, o))

	_, err := repo.GetByNumber(ctx, "ORD-0001")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	err = repo.Delete(ctx, o)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepoSQLite_List(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepoSQLite(setupSQLite(t))

	for _, n := range []string{"ORD-0001", "ORD-0002", "ORD-0003"} {
		require.NoError(t, repo.Create(ctx, newOrder(t, n)))
	}
	o, err := repo.GetByNumber(ctx, "ORD-0002")
	require.NoError(t, err)
	_, err = o.Confirm(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, o))

	all, err := repo.List(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Len(t, all[0].Items, 2)

	confirmed := domain.OrderConfirmed
	only, err := repo.List(ctx, domain.OrderFilter{Status: &confirmed})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, domain.OrderNumber("ORD-0002"), only[0].Number)

	page, err := repo.List(ctx, domain.OrderFilter{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, domain.OrderNumber("ORD-0003"), page[0].Number)
}

// El pedido y su fila de outbox se confirman juntos o no se confirma ninguno.
func TestOrderRepoSQLite_AtomicWithOutbox(t *testing.T) {
	ctx := context.Background()
	sqlDB := setupSQLite(t)
	repo := NewOrderRepoSQLite(sqlDB)
	outbox := sharedSQLite.NewOutboxRepoSQLite(sqlDB)
	tx := db.NewTxManager(sqlDB)

	msg := sharedDomain.NewPendingMessage(uuid.New(), "Order", "ORD-0001", "OrderCreatedEvent", []byte(`{}`), time.Now())
	require.NoError(t, outbox.Save(ctx, msg))

	// Misma clave de idempotencia: la outbox falla y el pedido no debe quedar
	err := tx.WithinTx(ctx, func(txCtx context.Context) error {
		if err := repo.Create(txCtx, newOrder(t, "ORD-0001")); err != nil {
			return err
		}
		dup := sharedDomain.NewPendingMessage(msg.IdempotencyKey, "Order", "ORD-0001", "OrderCreatedEvent", []byte(`{}`), time.Now())
		return outbox.Save(txCtx, dup)
	})
	assert.ErrorIs(t, err, sharedDomain.ErrDuplicateOutboxMessage)

	_, err = repo.GetByNumber(ctx, "ORD-0001")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	boom := errors.New("boom")
	err = tx.WithinTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, repo.Create(txCtx, newOrder(t, "ORD-0002")))
		require.NoError(t, outbox.Save(txCtx, sharedDomain.NewPendingMessage(uuid.New(), "Order", "ORD-0002", "OrderCreatedEvent", []byte(`{}`), time.Now())))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	pending, err := outbox.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
