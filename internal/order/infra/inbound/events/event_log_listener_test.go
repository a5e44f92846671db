package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
)

type recordingLog struct {
	mu      sync.Mutex
	batches [][]domain.OrderEventRecord
}

func (r *recordingLog) LogBatch(ctx context.Context, records []domain.OrderEventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]domain.OrderEventRecord(nil), records...))
	return nil
}

func (r *recordingLog) all() []domain.OrderEventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OrderEventRecord
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func newOrderEvents(t *testing.T) []domain.DomainEvent {
	t.Helper()
	o, created, err := domain.NewOrder("ORD-0001", "cust-1", time.Now(), []domain.OrderItem{})
	require.NoError(t, err)
	confirmed, err := o.Confirm(time.Now())
	require.NoError(t, err)
	return append(created, confirmed...)
}

func TestEventLogListener_FlushesWhenBatchIsFull(t *testing.T) {
	ch := make(chan interface{}, 4)
	sink := &recordingLog{}
	l := NewEventLogListener(ch, sink, 2, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	for _, evt := range newOrderEvents(t) {
		ch <- evt
	}
	ch <- "no es un evento de dominio"

	assert.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 5*time.Millisecond)
	records := sink.all()
	assert.Equal(t, domain.OrderCreatedEvent, records[0].EventName)
	assert.Equal(t, domain.OrderConfirmedEvent, records[1].EventName)
	assert.Equal(t, "ORD-0001", records[1].OrderNumber)
}

func TestEventLogListener_FlushesOnClose(t *testing.T) {
	ch := make(chan interface{}, 4)
	sink := &recordingLog{}
	l := NewEventLogListener(ch, sink, 100, time.Hour, zap.NewNop())

	evts := newOrderEvents(t)
	ch <- evts[0]
	close(ch)

	l.Run(context.Background())

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, evts[0].EventID().String(), records[0].EventID)
}
