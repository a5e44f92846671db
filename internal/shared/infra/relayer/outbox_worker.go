package relayer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
)

// Dispatcher entrega un mensaje al broker sin esperar la confirmación.
// done se invoca exactamente una vez con el resultado, normalmente desde otra goroutine.
// Si Dispatch devuelve error, done no se invoca.
type Dispatcher interface {
	Dispatch(ctx context.Context, topic string, msg sharedDomain.OutboxMessage, done func(error)) error
}

type TopicResolver interface {
	Resolve(aggregateType, eventType string) (string, error)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	// Lease es el tiempo durante el que una fila reclamada es invisible para otros relays.
	Lease          time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

const markTimeout = 5 * time.Second

// Worker procesa las filas pendientes de la outbox.
type Worker struct {
	repo       sharedDomain.OutboxRepository
	dispatcher Dispatcher
	resolver   TopicResolver
	cfg        Config
	log        *zap.Logger
	now        func() time.Time

	wake     chan struct{}
	inflight atomic.Int64 // callbacks de entrega pendientes
}

func NewOutboxWorker(
	repo sharedDomain.OutboxRepository,
	dispatcher Dispatcher,
	resolver TopicResolver,
	cfg Config,
	log *zap.Logger,
) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = time.Minute
	}

	return &Worker{
		repo:       repo,
		dispatcher: dispatcher,
		resolver:   resolver,
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		wake:       make(chan struct{}, 1),
	}
}

// Start inicia el bucle de polling del worker. Bloquea hasta que ctx se cancela.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.Info("🚀 Outbox worker iniciado",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Duration("lease", w.cfg.Lease),
	)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), markTimeout)
			if err := w.Flush(flushCtx); err != nil {
				w.log.Warn("⚠️ Outbox worker detenido con entregas en vuelo", zap.Error(err))
			}
			cancel()
			w.log.Info("🛑 Outbox worker detenido.")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		case <-w.wake:
			w.ProcessBatch(ctx)
		}
	}
}

// Notify adelanta la siguiente pasada. Nunca bloquea.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// ProcessBatch reclama hasta BatchSize filas y las despacha. Devuelve cuántas se despacharon.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	msgs, err := w.repo.ClaimPending(ctx, w.cfg.BatchSize, w.cfg.Lease)
	if err != nil {
		w.log.Warn("⚠️ Error al reclamar mensajes pendientes", zap.Error(err))
		return 0
	}
	if len(msgs) == 0 {
		return 0
	}
	w.log.Debug("📬 Mensajes reclamados", zap.Int("count", len(msgs)))

	dispatched := 0
	for _, msg := range msgs {
		if w.dispatch(ctx, msg) {
			dispatched++
		}
	}
	return dispatched
}

// Flush espera a que terminen los callbacks de entrega pendientes.
// Puede llamarse mientras Start sigue despachando.
func (w *Worker) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for w.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (w *Worker) dispatch(ctx context.Context, msg sharedDomain.OutboxMessage) bool {
	topic, err := w.resolver.Resolve(msg.AggregateType, msg.EventType)
	if err != nil {
		w.log.Error("❌ Topic no resoluble, se reintentará con el máximo backoff",
			zap.String("outbox_id", msg.ID.String()),
			zap.String("aggregate_type", msg.AggregateType),
			zap.String("event_type", msg.EventType),
			zap.Error(err),
		)
		w.markFailed(ctx, msg, w.cfg.MaxBackoff)
		return false
	}

	w.inflight.Add(1)
	err = w.dispatcher.Dispatch(ctx, topic, msg, func(sendErr error) {
		defer w.inflight.Add(-1)
		w.complete(ctx, topic, msg, sendErr)
	})
	if err != nil {
		w.inflight.Add(-1)
		w.log.Warn("⚠️ No se pudo despachar el mensaje",
			zap.String("outbox_id", msg.ID.String()),
			zap.String("topic", topic),
			zap.Error(err),
		)
		w.markFailed(ctx, msg, w.retryDelay(msg.Attempts))
		return false
	}
	return true
}

// complete se ejecuta cuando el broker confirma o rechaza el envío.
func (w *Worker) complete(ctx context.Context, topic string, msg sharedDomain.OutboxMessage, sendErr error) {
	if sendErr != nil {
		w.log.Warn("⚠️ Entrega fallida, la fila sigue PENDING",
			zap.String("outbox_id", msg.ID.String()),
			zap.String("topic", topic),
			zap.Int("attempts", msg.Attempts+1),
			zap.Error(sendErr),
		)
		w.markFailed(ctx, msg, w.retryDelay(msg.Attempts))
		return
	}

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	if err := w.repo.MarkPublished(markCtx, msg.ID); err != nil {
		// La fila volverá a salir al vencer el lease: entrega al-menos-una-vez
		w.log.Warn("⚠️ No se pudo marcar como publicado",
			zap.String("outbox_id", msg.ID.String()),
			zap.Error(err),
		)
		return
	}
	w.log.Info("✅ Evento publicado y marcado",
		zap.String("outbox_id", msg.ID.String()),
		zap.String("topic", topic),
		zap.String("key", msg.PartitionKey()),
	)
}

func (w *Worker) markFailed(ctx context.Context, msg sharedDomain.OutboxMessage, delay time.Duration) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	if err := w.repo.MarkFailed(markCtx, msg.ID, w.now().Add(delay)); err != nil {
		w.log.Warn("⚠️ No se pudo reprogramar el mensaje",
			zap.String("outbox_id", msg.ID.String()),
			zap.Error(err),
		)
	}
}

// retryDelay crece exponencialmente con los intentos previos, acotado por MaxBackoff.
func (w *Worker) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff
	b.RandomizationFactor = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempts && delay < w.cfg.MaxBackoff; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
