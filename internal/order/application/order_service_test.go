package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
	"github.com/davicafu/hexagonal-orders/internal/order/infra/outbound/numbering"
	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	"github.com/davicafu/hexagonal-orders/tests/mocks"
)

type serviceFixture struct {
	svc       *OrderService
	store     *mocks.InMemoryOrderStore
	cache     *mocks.DummyCache
	publisher *mocks.DummyPublisher
	notifier  *mocks.CountingNotifier
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		store:     mocks.NewInMemoryOrderStore(),
		cache:     mocks.NewDummyCache(),
		publisher: &mocks.DummyPublisher{},
		notifier:  &mocks.CountingNotifier{},
	}
	f.svc = NewOrderService(f.store, f.store, f.store, numbering.NewSequenceGenerator(0),
		f.cache, f.publisher, f.notifier, zap.NewNop())
	return f
}

var draft = OrderDraft{
	CustomerID: "C-1",
	OrderDate:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	Items:      []domain.OrderItem{{ProductNumber: "P-1", Quantity: 2}},
}

func TestCreateOrder_WritesOrderAndOutbox(t *testing.T) {
	f := newServiceFixture()

	o, err := f.svc.CreateOrder(context.Background(), draft)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderNumber("ORD-0001"), o.Number)
	assert.Equal(t, domain.OrderPending, o.Status)
	assert.NotZero(t, o.ID)

	outbox := f.store.OutboxSnapshot()
	require.Len(t, outbox, 1)
	assert.Equal(t, "OrderCreatedEvent", outbox[0].EventType)
	assert.Equal(t, "ORD-0001", outbox[0].AggregateID)
	assert.Equal(t, sharedDomain.OutboxPending, outbox[0].Status)

	assert.Len(t, f.publisher.Events(), 1)
	assert.Equal(t, 1, f.notifier.Calls())
	assert.Eventually(t, func() bool { return f.cache.Has(domain.CacheKeyByNumber(o.Number)) },
		time.Second, 10*time.Millisecond)
}

func TestCreateOrder_InvalidDraftWritesNothing(t *testing.T) {
	f := newServiceFixture()

	_, err := f.svc.CreateOrder(context.Background(), OrderDraft{CustomerID: "", OrderDate: time.Now(), Items: []domain.OrderItem{}})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Empty(t, f.store.Orders)
	assert.Empty(t, f.store.OutboxSnapshot())
	assert.Empty(t, f.publisher.Events())
	assert.Equal(t, 0, f.notifier.Calls())
}

// Escenario documentado: crear y confirmar ORD-0001 deja dos filas en la outbox.
func TestConfirmOrder_Scenario(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, draft)
	require.NoError(t, err)

	o, err := f.svc.ConfirmOrder(ctx, "ORD-0001")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, o.Status)

	outbox := f.store.OutboxSnapshot()
	require.Len(t, outbox, 2)
	confirmed := outbox[1]
	assert.Equal(t, "Order", confirmed.AggregateType)
	assert.Equal(t, "ORD-0001", confirmed.AggregateID)
	assert.Equal(t, "OrderConfirmedEvent", confirmed.EventType)
	assert.Contains(t, string(confirmed.Payload), `"orderNumber":"ORD-0001"`)
	assert.NotEqual(t, outbox[0].IdempotencyKey, confirmed.IdempotencyKey)
}

func TestConfirmOrder_AlreadyConfirmed(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, draft)
	require.NoError(t, err)
	_, err = f.svc.ConfirmOrder(ctx, "ORD-0001")
	require.NoError(t, err)

	_, err = f.svc.ConfirmOrder(ctx, "ORD-0001")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Len(t, f.store.OutboxSnapshot(), 2)
}

func TestConfirmOrder_NotFound(t *testing.T) {
	f := newServiceFixture()
	_, err := f.svc.ConfirmOrder(context.Background(), "ORD-404")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, f.store.OutboxSnapshot())
}

// Si la outbox falla, el cambio de estado tampoco se guarda.
func TestConfirmOrder_OutboxFailureRollsBack(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, draft)
	require.NoError(t, err)
	published := len(f.publisher.Events())

	boom := errors.New("disk full")
	f.store.FailOutbox = boom

	_, err = f.svc.ConfirmOrder(ctx, "ORD-0001")
	assert.ErrorIs(t, err, boom)

	stored, err := f.store.GetByNumber(ctx, "ORD-0001")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, stored.Status)
	assert.Equal(t, 1, stored.Version)
	assert.Len(t, f.store.OutboxSnapshot(), 1)
	assert.Len(t, f.publisher.Events(), published)
}

func TestConfirmOrder_EncodeFailureRollsBack(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, draft)
	require.NoError(t, err)

	f.svc.mapper = &IntegrationMapper{encode: func(any) ([]byte, error) { return nil, errors.New("unsupported") }}

	_, err = f.svc.ConfirmOrder(ctx, "ORD-0001")
	assert.ErrorIs(t, err, ErrPayloadEncoding)

	stored, err := f.store.GetByNumber(ctx, "ORD-0001")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, stored.Status)
	assert.Len(t, f.store.OutboxSnapshot(), 1)
}

func TestAddAndRemoveItem_NoOutboxRows(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, draft)
	require.NoError(t, err)

	o, err := f.svc.AddItem(ctx, "ORD-0001", domain.OrderItem{ProductNumber: "P-2", Quantity: 3})
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)

	o, err = f.svc.RemoveItem(ctx, "ORD-0001", "P-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.OrderItem{{ProductNumber: "P-2", Quantity: 3}}, o.Items)

	_, err = f.svc.RemoveItem(ctx, "ORD-0001", "P-404")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	// Las líneas no tienen contrato de integración: sólo la fila de creación
	assert.Len(t, f.store.OutboxSnapshot(), 1)
	// Pero sí se entregan en proceso
	assert.Len(t, f.publisher.Events(), 3)
}

func TestDeleteOrder(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, draft)
	require.NoError(t, err)
	key := domain.CacheKeyByNumber(o.Number)
	assert.Eventually(t, func() bool { return f.cache.Has(key) }, time.Second, 10*time.Millisecond)

	require.NoError(t, f.svc.DeleteOrder(ctx, "ORD-0001"))

	// El borrado de caché es asíncrono
	assert.Eventually(t, func() bool { return !f.cache.Has(key) }, time.Second, 10*time.Millisecond)
	_, err = f.svc.GetOrder(ctx, "ORD-0001")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	outbox := f.store.OutboxSnapshot()
	require.Len(t, outbox, 2)
	assert.Equal(t, "OrderDeletedEvent", outbox[1].EventType)

	assert.ErrorIs(t, f.svc.DeleteOrder(ctx, "ORD-0001"), domain.ErrOrderNotFound)
}

func TestPublisherFailureDoesNotFailUseCase(t *testing.T) {
	f := newServiceFixture()
	f.publisher.Err = errors.New("bus closed")

	o, err := f.svc.CreateOrder(context.Background(), draft)
	require.NoError(t, err)
	assert.NotNil(t, o)
	assert.Len(t, f.store.OutboxSnapshot(), 1)
}

func TestGetOrder_CacheHit(t *testing.T) {
	f := newServiceFixture()
	cached := &domain.Order{Number: "ORD-0042", CustomerID: "cached", Status: domain.OrderConfirmed}
	f.cache.SetForTest(domain.CacheKeyByNumber("ORD-0042"), cached)

	o, err := f.svc.GetOrder(context.Background(), "ORD-0042")
	require.NoError(t, err)
	assert.Equal(t, "cached", o.CustomerID)
}

func TestGetOrder_NotFoundIsNotRetried(t *testing.T) {
	f := newServiceFixture()

	start := time.Now()
	_, err := f.svc.GetOrder(context.Background(), "ORD-404")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestListOrders(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateOrder(ctx, draft)
		require.NoError(t, err)
	}
	_, err := f.svc.ConfirmOrder(ctx, "ORD-0002")
	require.NoError(t, err)

	confirmed := domain.OrderConfirmed
	list, err := f.svc.ListOrders(ctx, domain.OrderFilter{Status: &confirmed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.OrderNumber("ORD-0002"), list[0].Number)
}

var errTransientTx = errors.New("TransientTransactionError")

// retryingTx aborta el primer intento de cada transacción y repite fn, como session.WithTransaction.
type retryingTx struct {
	inner   *mocks.InMemoryOrderStore
	retries int
}

func (r *retryingTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := r.inner.WithinTx(ctx, func(txCtx context.Context) error {
		if err := fn(txCtx); err != nil {
			return err
		}
		return errTransientTx
	})
	if !errors.Is(err, errTransientTx) {
		return err
	}
	r.retries++
	return r.inner.WithinTx(ctx, fn)
}

func TestRetriedTransaction_WritesOneOutboxRowPerEvent(t *testing.T) {
	store := mocks.NewInMemoryOrderStore()
	publisher := &mocks.DummyPublisher{}
	tx := &retryingTx{inner: store}
	svc := NewOrderService(tx, store, store, numbering.NewSequenceGenerator(0),
		mocks.NewDummyCache(), publisher, nil, zap.NewNop())

	o, err := svc.CreateOrder(context.Background(), draft)
	require.NoError(t, err)
	_, err = svc.ConfirmOrder(context.Background(), o.Number)
	require.NoError(t, err)
	require.Equal(t, 2, tx.retries)

	outbox := store.OutboxSnapshot()
	require.Len(t, outbox, 2)
	assert.Equal(t, "OrderCreatedEvent", outbox[0].EventType)
	assert.Equal(t, "OrderConfirmedEvent", outbox[1].EventType)
	assert.NotEqual(t, outbox[0].IdempotencyKey, outbox[1].IdempotencyKey)

	assert.Len(t, publisher.Events(), 2)
}
