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

	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// :memory: es por conexión
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, InitOutbox(sqlDB))
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMsg(aggregateID string, created time.Time) sharedDomain.OutboxMessage {
	return sharedDomain.NewPendingMessage(uuid.New(), "Order", aggregateID, "OrderConfirmedEvent",
		[]byte(`{"orderNumber":"`+aggregateID+`"}`), created)
}

func newRepoAt(t *testing.T, now time.Time) *OutboxRepoSQLite {
	repo := NewOutboxRepoSQLite(newTestDB(t))
	repo.now = func() time.Time { return now }
	return repo
}

func TestOutboxSQLite_FindPendingOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newRepoAt(t, base.Add(time.Hour))

	second := newMsg("ORD-0002", base.Add(2*time.Second))
	first := newMsg("ORD-0001", base.Add(time.Second))
	require.NoError(t, repo.Save(ctx, second))
	require.NoError(t, repo.Save(ctx, first))

	got, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.Equal(t, first.IdempotencyKey, got[0].IdempotencyKey)
	assert.Equal(t, sharedDomain.OutboxPending, got[0].Status)
	assert.JSONEq(t, `{"orderNumber":"ORD-0001"}`, string(got[0].Payload))
	assert.Nil(t, got[0].PublishedAt)

	limited, err := repo.FindPending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOutboxSQLite_SaveDuplicateKey(t *testing.T) {
	ctx := context.Background()
	repo := newRepoAt(t, base)

	msg := newMsg("ORD-0001", base)
	require.NoError(t, repo.Save(ctx, msg))

	dup := newMsg("ORD-0001", base)
	dup.IdempotencyKey = msg.IdempotencyKey
	err := repo.Save(ctx, dup)
	assert.ErrorIs(t, err, sharedDomain.ErrDuplicateOutboxMessage)
}

func TestOutboxSQLite_SaveJoinsAmbientTx(t *testing.T) {
	ctx := context.Background()
	sqlDB := newTestDB(t)
	repo := NewOutboxRepoSQLite(sqlDB)
	tx := db.NewTxManager(sqlDB)

	boom := errors.New("boom")
	err := tx.WithinTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, repo.Save(txCtx, newMsg("ORD-0001", base)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	err = tx.WithinTx(ctx, func(txCtx context.Context) error {
		return repo.Save(txCtx, newMsg("ORD-0002", base))
	})
	require.NoError(t, err)

	got, err = repo.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOutboxSQLite_ClaimIsDisjointUntilLeaseExpires(t *testing.T) {
	ctx := context.Background()
	repo := newRepoAt(t, base.Add(time.Minute))

	var ids []uuid.UUID
	for i, n := range []string{"ORD-0001", "ORD-0002", "ORD-0003"} {
		m := newMsg(n, base.Add(time.Duration(i)*time.Second))
		ids = append(ids, m.ID)
		require.NoError(t, repo.Save(ctx, m))
	}

	first, err := repo.ClaimPending(ctx, 2, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids[0], first[0].ID)
	assert.Equal(t, ids[1], first[1].ID)

	second, err := repo.ClaimPending(ctx, 2, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, ids[2], second[0].ID)

	none, err := repo.ClaimPending(ctx, 2, 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, none)

	// Lease vencido: las filas vuelven a estar disponibles
	repo.now = func() time.Time { return base.Add(2 * time.Minute) }
	again, err := repo.ClaimPending(ctx, 10, 30*time.Second)
	require.NoError(t, err)
	assert.Len(t, again, 3)
}

func TestOutboxSQLite_MarkPublishedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newRepoAt(t, base.Add(time.Minute))

	msg := newMsg("ORD-0001", base)
	require.NoError(t, repo.Save(ctx, msg))

	require.NoError(t, repo.MarkPublished(ctx, msg.ID))
	require.NoError(t, repo.MarkPublished(ctx, msg.ID))

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Un fallo tardío no devuelve la fila a PENDING
	require.NoError(t, repo.MarkFailed(ctx, msg.ID, base.Add(time.Hour)))
	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Published)
	assert.Nil(t, stats.OldestPending)
}

func TestOutboxSQLite_UnknownID(t *testing.T) {
	ctx := context.Background()
	repo := newRepoAt(t, base)

	assert.ErrorIs(t, repo.MarkPublished(ctx, uuid.New()), sharedDomain.ErrOutboxNotFound)
	assert.ErrorIs(t, repo.MarkFailed(ctx, uuid.New(), base), sharedDomain.ErrOutboxNotFound)
}

func TestOutboxSQLite_MarkFailedReschedules(t *testing.T) {
	ctx := context.Background()
	repo := newRepoAt(t, base.Add(time.Minute))

	msg := newMsg("ORD-0001", base)
	require.NoError(t, repo.Save(ctx, msg))

	claimed, err := repo.ClaimPending(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	retryAt := base.Add(10 * time.Minute)
	require.NoError(t, repo.MarkFailed(ctx, msg.ID, retryAt))

	// Antes de retryAt no se puede reclamar
	repo.now = func() time.Time { return base.Add(5 * time.Minute) }
	claimed, err = repo.ClaimPending(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	repo.now = func() time.Time { return retryAt }
	claimed, err = repo.ClaimPending(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)
}

func TestOutboxSQLite_Stats(t *testing.T) {
	ctx := context.Background()
	repo := newRepoAt(t, base.Add(time.Minute))

	a := newMsg("ORD-0001", base)
	b := newMsg("ORD-0002", base.Add(time.Second))
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, repo.Save(ctx, b))
	require.NoError(t, repo.MarkPublished(ctx, a.ID))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Published)
	require.NotNil(t, stats.OldestPending)
	assert.True(t, stats.OldestPending.Equal(base.Add(time.Second)))
}

func TestOutboxSQLite_ClaimKeepsAggregateOrder(t *testing.T) {
	ctx := context.Background()
	repo := newRepoAt(t, base.Add(time.Minute))

	created := newMsg("ORD-0001", base)
	confirmed := newMsg("ORD-0001", base.Add(time.Second))
	other := newMsg("ORD-0002", base.Add(2*time.Second))
	for _, m := range []sharedDomain.OutboxMessage{created, confirmed, other} {
		require.NoError(t, repo.Save(ctx, m))
	}

	first, err := repo.ClaimPending(ctx, 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, created.ID, first[0].ID)
	assert.Equal(t, other.ID, first[1].ID)

	// La cabeza falla y se reprograma: la siguiente del agregado sigue esperando
	require.NoError(t, repo.MarkFailed(ctx, created.ID, base.Add(5*time.Minute)))
	repo.now = func() time.Time { return base.Add(2 * time.Minute) }
	blocked, err := repo.ClaimPending(ctx, 10, 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, blocked)

	repo.now = func() time.Time { return base.Add(5 * time.Minute) }
	retried, err := repo.ClaimPending(ctx, 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, created.ID, retried[0].ID)

	require.NoError(t, repo.MarkPublished(ctx, created.ID))
	next, err := repo.ClaimPending(ctx, 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, confirmed.ID, next[0].ID)
}
