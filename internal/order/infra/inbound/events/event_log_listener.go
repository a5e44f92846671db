package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
)

// EventLogListener escucha los eventos de dominio publicados en proceso y los registra por lotes.
// Es best effort: si el almacén falla, el lote se descarta y se registra en el log.
type EventLogListener struct {
	events    <-chan interface{}
	sink      domain.OrderEventLog
	batchSize int
	interval  time.Duration
	log       *zap.Logger
}

func NewEventLogListener(events <-chan interface{}, sink domain.OrderEventLog, batchSize int, interval time.Duration, log *zap.Logger) *EventLogListener {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &EventLogListener{events: events, sink: sink, batchSize: batchSize, interval: interval, log: log}
}

// Run consume hasta que ctx se cancela o el canal se cierra, volcando lo pendiente al salir.
func (l *EventLogListener) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	batch := make([]domain.OrderEventRecord, 0, l.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := l.sink.LogBatch(ctx, batch); err != nil {
			l.log.Warn("⚠️ No se pudo registrar el lote de eventos", zap.Int("size", len(batch)), zap.Error(err))
		} else {
			l.log.Debug("Lote de eventos registrado", zap.Int("size", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(flushCtx)
			cancel()
			return

		case raw, ok := <-l.events:
			if !ok {
				flush(ctx)
				return
			}
			evt, isDomain := raw.(domain.DomainEvent)
			if !isDomain {
				continue
			}
			batch = append(batch, ToRecord(evt))
			if len(batch) >= l.batchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}

func ToRecord(evt domain.DomainEvent) domain.OrderEventRecord {
	return domain.OrderEventRecord{
		EventID:     evt.EventID().String(),
		EventName:   evt.EventName(),
		OrderNumber: evt.AggregateNumber().String(),
		OccurredAt:  evt.OccurredAt(),
	}
}
