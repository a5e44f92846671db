package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
)

// setupMongo necesita MONGO_TEST_URI apuntando a un replica set desechable.
func setupMongo(t *testing.T) (*mongo.Client, string) {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI no definida, se omiten los tests de MongoDB")
	}

	ctx := context.Background()
	client, err := Connect(ctx, uri)
	require.NoError(t, err)

	dbName := "outbox_test_" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_ = client.Database(dbName).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return client, dbName
}

func TestOutboxMongo_SaveClaimPublish(t *testing.T) {
	client, dbName := setupMongo(t)
	repo := NewOutboxRepoMongoDB(client, dbName)
	ctx := context.Background()
	require.NoError(t, repo.InitIndexes(ctx))

	base := time.Now().Add(-time.Minute)
	first := sharedDomain.NewPendingMessage(uuid.New(), "Order", "ORD-0001", "OrderCreatedEvent", []byte(`{}`), base)
	second := sharedDomain.NewPendingMessage(uuid.New(), "Order", "ORD-0002", "OrderCreatedEvent", []byte(`{}`), base.Add(time.Second))
	require.NoError(t, repo.Save(ctx, second))
	require.NoError(t, repo.Save(ctx, first))

	dup := first
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.Save(ctx, dup), sharedDomain.ErrDuplicateOutboxMessage)

	claimed, err := repo.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "ORD-0001", claimed[0].AggregateID)

	again, err := repo.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, repo.MarkPublished(ctx, first.ID))
	require.NoError(t, repo.MarkPublished(ctx, first.ID))
	assert.ErrorIs(t, repo.MarkPublished(ctx, uuid.New()), sharedDomain.ErrOutboxNotFound)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Published)
}

func TestOutboxMongo_TxRollback(t *testing.T) {
	client, dbName := setupMongo(t)
	repo := NewOutboxRepoMongoDB(client, dbName)
	tx := NewTxManager(client)
	ctx := context.Background()
	require.NoError(t, repo.InitIndexes(ctx))

	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		msg := sharedDomain.NewPendingMessage(uuid.New(), "Order", "ORD-0001", "OrderCreatedEvent", []byte(`{}`), time.Now())
		if err := repo.Save(ctx, msg); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxMongo_ClaimKeepsAggregateOrder(t *testing.T) {
	client, dbName := setupMongo(t)
	repo := NewOutboxRepoMongoDB(client, dbName)
	ctx := context.Background()
	require.NoError(t, repo.InitIndexes(ctx))

	base := time.Now().Add(-time.Minute)
	created := sharedDomain.NewPendingMessage(uuid.New(), "Order", "ORD-0001", "OrderCreatedEvent", []byte(`{}`), base)
	confirmed := sharedDomain.NewPendingMessage(uuid.New(), "Order", "ORD-0001", "OrderConfirmedEvent", []byte(`{}`), base.Add(time.Second))
	other := sharedDomain.NewPendingMessage(uuid.New(), "Order", "ORD-0002", "OrderCreatedEvent", []byte(`{}`), base.Add(2*time.Second))
	for _, m := range []sharedDomain.OutboxMessage{created, confirmed, other} {
		require.NoError(t, repo.Save(ctx, m))
	}

	first, err := repo.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, created.ID, first[0].ID)
	assert.Equal(t, other.ID, first[1].ID)

	require.NoError(t, repo.MarkPublished(ctx, created.ID))
	next, err := repo.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, confirmed.ID, next[0].ID)
}
