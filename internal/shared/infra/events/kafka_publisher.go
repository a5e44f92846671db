package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/kafkax"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/relayer"
)

var (
	ErrPublisherClosed = errors.New("kafka publisher closed")
	ErrAlreadyInFlight = errors.New("outbox message already in flight")
)

// messageWriter es la parte de *kafka.Writer que usa el publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriterConfig traduce el contrato del productor a kafka-go.
type KafkaWriterConfig struct {
	Brokers      []string
	MaxAttempts  int           // reintentos del productor
	BatchTimeout time.Duration // linger
	WriteTimeout time.Duration
}

// KafkaPublisher despacha filas de outbox con un writer asíncrono.
// El resultado llega por Completion y se enruta al callback de cada fila por la cabecera outbox_id.
type KafkaPublisher struct {
	writer  messageWriter
	pending sync.Map // outbox_id -> func(error)
	closed  chan struct{}
	once    sync.Once
	log     *zap.Logger
}

func NewKafkaPublisher(cfg KafkaWriterConfig, log *zap.Logger) *KafkaPublisher {
	p := newPublisher(nil, log)

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{}, // mismo pedido, misma partición
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  cfg.MaxAttempts,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Async:        true,
		Completion:   p.onCompletion,
	}
	return p
}

func newPublisher(writer messageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, closed: make(chan struct{}), log: log}
}

// Dispatch encola el mensaje en el writer y vuelve sin esperar al ack del broker.
func (p *KafkaPublisher) Dispatch(ctx context.Context, topic string, msg sharedDomain.OutboxMessage, done func(error)) error {
	select {
	case <-p.closed:
		return ErrPublisherClosed
	default:
	}

	id := msg.ID.String()
	if _, loaded := p.pending.LoadOrStore(id, done); loaded {
		return fmt.Errorf("%w: %s", ErrAlreadyInFlight, id)
	}

	headers := []kafka.Header{
		{Key: kafkax.HeaderOutboxID, Value: []byte(id)},
		{Key: kafkax.HeaderEventType, Value: []byte(msg.EventType)},
		{Key: kafkax.HeaderIdempotencyKey, Value: []byte(msg.IdempotencyKey.String())},
		{Key: kafkax.HeaderAttempts, Value: []byte(strconv.Itoa(msg.Attempts))},
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.PartitionKey()),
		Value:   msg.Payload,
		Headers: kafkax.InjectTraceHeaders(ctx, headers),
	})
	if err != nil {
		p.pending.Delete(id)
		p.log.Error("Error publishing to Kafka", zap.String("topic", topic), zap.Error(err))
		return err
	}

	p.log.Debug("Mensaje encolado", zap.String("topic", topic), zap.String("outbox_id", id))
	return nil
}

func (p *KafkaPublisher) onCompletion(messages []kafka.Message, err error) {
	for _, m := range messages {
		id := kafkax.HeaderValue(m.Headers, kafkax.HeaderOutboxID)
		if cb, ok := p.pending.LoadAndDelete(id); ok {
			cb.(func(error))(err)
		}
	}
}

// Close vacía el writer y falla los callbacks que no llegaron a completarse.
func (p *KafkaPublisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		err = p.writer.Close()
		p.pending.Range(func(key, cb any) bool {
			p.pending.Delete(key)
			cb.(func(error))(ErrPublisherClosed)
			return true
		})
	})
	return err
}

// Verificación estática
var _ relayer.Dispatcher = (*KafkaPublisher)(nil)
