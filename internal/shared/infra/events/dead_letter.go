package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/kafkax"
)

// DeadLetterSuffix se añade al topic de origen.
const DeadLetterSuffix = ".dlq"

// KafkaDeadLetter reenvía el mensaje original a "<topic>.dlq" con la causa en cabeceras.
type KafkaDeadLetter struct {
	writer messageWriter
}

func NewKafkaDeadLetter(brokers []string, writeTimeout time.Duration) *KafkaDeadLetter {
	return &KafkaDeadLetter{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           writeTimeout,
		AllowAutoTopicCreation: true,
	}}
}

func (d *KafkaDeadLetter) Send(ctx context.Context, msg kafka.Message, cause error, attempts int) error {
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: kafkax.HeaderSourceTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: kafkax.HeaderError, Value: []byte(cause.Error())},
		kafka.Header{Key: kafkax.HeaderAttempts, Value: []byte(strconv.Itoa(attempts))},
	)
	return d.writer.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic + DeadLetterSuffix,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}

func (d *KafkaDeadLetter) Close() error {
	return d.writer.Close()
}

// DeadLetterEntry es una línea del fichero de mensajes muertos.
type DeadLetterEntry struct {
	Topic     string            `json:"topic"`
	Partition int               `json:"partition"`
	Offset    int64             `json:"offset"`
	Key       string            `json:"key"`
	Value     string            `json:"value"`
	Headers   map[string]string `json:"headers,omitempty"`
	Error     string            `json:"error"`
	Attempts  int               `json:"attempts"`
	FailedAt  time.Time         `json:"failed_at"`
}

// FileDeadLetter guarda los mensajes muertos como JSON, uno por línea.
type FileDeadLetter struct {
	filePath string
	mu       sync.Mutex
}

func NewFileDeadLetter(filePath string) *FileDeadLetter {
	return &FileDeadLetter{filePath: filePath}
}

func (d *FileDeadLetter) Send(ctx context.Context, msg kafka.Message, cause error, attempts int) error {
	entry := DeadLetterEntry{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     string(msg.Value),
		Error:     cause.Error(),
		Attempts:  attempts,
		FailedAt:  time.Now().UTC(),
	}
	if len(msg.Headers) > 0 {
		entry.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			entry.Headers[h.Key] = string(h.Value)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open dead letter file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write dead letter: %w", err)
	}
	return f.Close()
}

// Entries lee todas las entradas guardadas. Un fichero inexistente equivale a cero entradas.
func (d *FileDeadLetter) Entries(ctx context.Context) ([]DeadLetterEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []DeadLetterEntry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	entries := []DeadLetterEntry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e DeadLetterEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupted dead letter line: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

var (
	_ DeadLetterSink = (*KafkaDeadLetter)(nil)
	_ DeadLetterSink = (*FileDeadLetter)(nil)
)
