package events

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/bus"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/kafkax"
)

// MessageReader es lo que el adapter necesita de *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterSink guarda los mensajes que no se pueden procesar.
type DeadLetterSink interface {
	Send(ctx context.Context, msg kafka.Message, cause error, attempts int) error
}

type ConsumerConfig struct {
	// Timeout acota cada intento de procesamiento.
	Timeout time.Duration
	// MaxAttempts 0 = reintentar sin límite los errores transitorios.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ConsumerAdapter es el "oído" que escucha en Kafka.
// El offset sólo avanza cuando el handler termina bien o el mensaje acaba en la DLQ.
type ConsumerAdapter struct {
	reader  MessageReader
	topic   string
	handler sharedBus.MessageHandler
	dlq     DeadLetterSink
	cfg     ConsumerConfig
	tracer  trace.Tracer
	log     *zap.Logger
}

func NewConsumerAdapter(reader MessageReader, topic string, handler sharedBus.MessageHandler, dlq DeadLetterSink, cfg ConsumerConfig, log *zap.Logger) *ConsumerAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &ConsumerAdapter{
		reader:  reader,
		topic:   topic,
		handler: handler,
		dlq:     dlq,
		cfg:     cfg,
		tracer:  otel.Tracer("github.com/davicafu/hexagonal-orders/consumer"),
		log:     log,
	}
}

// Start inicia el bucle de consumo de mensajes en una goroutine.
func (c *ConsumerAdapter) Start(ctx context.Context) {
	go c.Run(ctx)
}

// Run consume hasta que ctx se cancela. Un mensaje a la vez.
func (c *ConsumerAdapter) Run(ctx context.Context) {
	c.log.Info("🎧 Iniciando consumidor", zap.String("topic", c.topic))

	fetchBackoff := c.newBackoff()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Consumidor detenido.", zap.String("topic", c.topic))
				return
			}
			c.log.Error("Error al leer mensaje", zap.String("topic", c.topic), zap.Error(err))
			if !sleepCtx(ctx, fetchBackoff.NextBackOff()) {
				return
			}
			continue
		}
		fetchBackoff.Reset()

		c.process(ctx, msg)
	}
}

func (c *ConsumerAdapter) process(ctx context.Context, msg kafka.Message) {
	retry := c.newBackoff()

	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, msg, attempt)
		switch {
		case err == nil:
			c.commit(ctx, msg)
			return

		case errors.Is(err, sharedBus.ErrPoisonMessage):
			c.log.Error("☠️ Mensaje irrecuperable, a la DLQ",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			if c.deadLetter(ctx, msg, err, attempt) {
				c.commit(ctx, msg)
			}
			return

		case c.cfg.MaxAttempts > 0 && attempt >= c.cfg.MaxAttempts:
			c.log.Error("❌ Reintentos agotados, a la DLQ",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			if c.deadLetter(ctx, msg, err, attempt) {
				c.commit(ctx, msg)
			}
			return
		}

		wait := retry.NextBackOff()
		c.log.Warn("⚠️ Fallo transitorio, se reintenta el mismo mensaje",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if !sleepCtx(ctx, wait) {
			return // sin commit: se reentrega tras reiniciar
		}
	}
}

func (c *ConsumerAdapter) handle(ctx context.Context, msg kafka.Message, attempt int) error {
	spanCtx, span := c.tracer.Start(kafkax.ExtractTraceContext(ctx, msg), "consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
			attribute.Int("messaging.attempt", attempt),
		),
	)
	defer span.End()

	handlerCtx, cancel := context.WithTimeout(spanCtx, c.cfg.Timeout)
	defer cancel()

	err := c.handler.HandleMessage(handlerCtx, string(msg.Key), msg.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// deadLetter insiste hasta guardar el mensaje o hasta que ctx se cancele.
func (c *ConsumerAdapter) deadLetter(ctx context.Context, msg kafka.Message, cause error, attempts int) bool {
	if c.dlq == nil {
		c.log.Warn("Sin DLQ configurada, el mensaje se descarta",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
		)
		return true
	}

	retry := c.newBackoff()
	for {
		err := c.dlq.Send(ctx, msg, cause, attempts)
		if err == nil {
			return true
		}
		c.log.Error("Error al enviar a la DLQ", zap.String("topic", msg.Topic), zap.Error(err))
		if !sleepCtx(ctx, retry.NextBackOff()) {
			return false
		}
	}
}

func (c *ConsumerAdapter) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		// Se reentregará: el handler es idempotente
		c.log.Warn("⚠️ Commit fallido",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

func (c *ConsumerAdapter) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Reset()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
