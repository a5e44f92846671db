package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"

	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/kafkax"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/relayer"
)

var ErrBrokerFull = errors.New("in-memory topic buffer full")

// defaultTopicBuffer es la capacidad de un topic creado por Dispatch antes de tener lector.
const defaultTopicBuffer = 256

// InMemoryBroker sustituye a Kafka en modo local: un canal acotado por topic.
// Un topic sin lectores retiene los mensajes hasta que se crea su Reader, igual que un log de Kafka.
type InMemoryBroker struct {
	mu     sync.RWMutex
	topics map[string]chan kafka.Message
}

func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{topics: make(map[string]chan kafka.Message)}
}

// Dispatch entrega en el canal del topic y confirma en el acto.
func (b *InMemoryBroker) Dispatch(ctx context.Context, topic string, msg sharedDomain.OutboxMessage, done func(error)) error {
	ch := b.topicChan(topic, defaultTopicBuffer)

	m := kafka.Message{
		Topic: topic,
		Key:   []byte(msg.PartitionKey()),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderOutboxID, Value: []byte(msg.ID.String())},
			{Key: kafkax.HeaderEventType, Value: []byte(msg.EventType)},
			{Key: kafkax.HeaderIdempotencyKey, Value: []byte(msg.IdempotencyKey.String())},
			{Key: kafkax.HeaderAttempts, Value: []byte(strconv.Itoa(msg.Attempts))},
		},
	}

	select {
	case ch <- m:
		done(nil)
	default:
		done(fmt.Errorf("%w: %s", ErrBrokerFull, topic))
	}
	return nil
}

// Reader devuelve un lector del topic compatible con ConsumerAdapter.
// Si el topic ya existe se reutiliza su canal (y lo ya publicado) y bufferSize se ignora.
func (b *InMemoryBroker) Reader(topic string, bufferSize int) *InMemoryReader {
	return &InMemoryReader{topic: topic, ch: b.topicChan(topic, bufferSize)}
}

func (b *InMemoryBroker) topicChan(topic string, bufferSize int) chan kafka.Message {
	b.mu.RLock()
	ch, ok := b.topics[topic]
	b.mu.RUnlock()
	if ok {
		return ch
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok = b.topics[topic]; !ok {
		ch = make(chan kafka.Message, bufferSize)
		b.topics[topic] = ch
	}
	return ch
}

// InMemoryReader: el commit es implícito al sacar el mensaje del canal.
type InMemoryReader struct {
	topic string
	ch    <-chan kafka.Message
}

func (r *InMemoryReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.ch:
		return m, nil
	}
}

func (r *InMemoryReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	return nil
}

func (r *InMemoryReader) Topic() string { return r.topic }

func (r *InMemoryReader) Close() error { return nil }

var (
	_ relayer.Dispatcher = (*InMemoryBroker)(nil)
	_ MessageReader      = (*InMemoryReader)(nil)
)
