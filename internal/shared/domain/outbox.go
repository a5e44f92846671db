package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
)

var (
	ErrOutboxNotFound         = errors.New("outbox message not found")
	ErrDuplicateOutboxMessage = errors.New("outbox message already recorded")
)

// OutboxMessage representa un evento de integración pendiente de publicar en el broker.
type OutboxMessage struct {
	ID uuid.UUID `json:"id"`
	// IdempotencyKey se genera una sola vez al capturar el evento de dominio (UNIQUE en la tabla).
	IdempotencyKey uuid.UUID    `json:"idempotency_key"`
	AggregateType  string       `json:"aggregate_type"` // ej. "Order"
	AggregateID    string       `json:"aggregate_id"`   // clave de negocio, ej. "ORD-0001"
	EventType      string       `json:"event_type"`     // ej. "OrderConfirmedEvent"
	Payload        []byte       `json:"payload"`        // JSON del evento de integración
	Status         OutboxStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	CreatedAt      time.Time    `json:"created_at"`
	PublishedAt    *time.Time   `json:"published_at,omitempty"`
}

// NewPendingMessage crea una fila nueva en estado PENDING.
func NewPendingMessage(idempotencyKey uuid.UUID, aggregateType, aggregateID, eventType string, payload []byte, now time.Time) OutboxMessage {
	return OutboxMessage{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		AggregateType:  aggregateType,
		AggregateID:    aggregateID,
		EventType:      eventType,
		Payload:        payload,
		Status:         OutboxPending,
		CreatedAt:      now.UTC(),
	}
}

// PartitionKey mantiene el orden por agregado en el broker.
func (m OutboxMessage) PartitionKey() string {
	return m.AggregateID
}

// OutboxStats resume el estado de la tabla outbox.
type OutboxStats struct {
	Pending       int        `json:"pending"`
	Published     int        `json:"published"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// ---------- Interfaces (Ports) ----------

// OutboxWriter es lo único que necesita el orquestador: insertar filas dentro de su transacción.
type OutboxWriter interface {
	// Save inserta exactamente una fila usando la transacción presente en ctx.
	// Nunca actualiza: devuelve ErrDuplicateOutboxMessage si la clave de idempotencia ya existe.
	Save(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository es el contrato que usa el relay.
type OutboxRepository interface {
	// FindPending devuelve hasta limit filas PENDING, las más antiguas primero.
	FindPending(ctx context.Context, limit int) ([]OutboxMessage, error)

	// ClaimPending reserva hasta limit filas PENDING disponibles durante lease, las más antiguas primero.
	// Dos relays concurrentes nunca reciben la misma fila mientras el lease siga vigente.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]OutboxMessage, error)

	// MarkPublished pasa la fila a PUBLISHED. Repetirlo es un no-op.
	// Devuelve ErrOutboxNotFound si la fila no existe.
	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed incrementa los intentos y deja la fila PENDING hasta retryAt.
	MarkFailed(ctx context.Context, id uuid.UUID, retryAt time.Time) error

	Stats(ctx context.Context) (OutboxStats, error)
}

// OutboxStore agrupa ambos lados de la tabla outbox.
type OutboxStore interface {
	OutboxWriter
	OutboxRepository
}

// TxManager abre una transacción y la propaga por ctx a los repositorios.
// Si ctx ya lleva una transacción, fn se ejecuta dentro de ella.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
