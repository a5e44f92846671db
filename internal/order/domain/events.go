package domain

import (
	"time"

	"github.com/google/uuid"
)

// Nombres de los eventos de dominio. Coinciden con la etiqueta event_type de la outbox.
const (
	OrderCreatedEvent     = "OrderCreatedEvent"
	OrderConfirmedEvent   = "OrderConfirmedEvent"
	OrderItemAddedEvent   = "OrderItemAddedEvent"
	OrderItemRemovedEvent = "OrderItemRemovedEvent"
	OrderDeletedEvent     = "OrderDeletedEvent"
)

// DomainEvent es un hecho ocurrido en el agregado. EventID se genera una sola vez al capturarlo
// y sirve después como clave de idempotencia en la outbox.
type DomainEvent interface {
	EventID() uuid.UUID
	EventName() string
	AggregateNumber() OrderNumber
	OccurredAt() time.Time
}

type eventMeta struct {
	ID uuid.UUID `json:"eventId"`
	At time.Time `json:"occurredAt"`
}

func newEventMeta() eventMeta {
	return eventMeta{ID: uuid.New(), At: time.Now().UTC()}
}

func (m eventMeta) EventID() uuid.UUID    { return m.ID }
func (m eventMeta) OccurredAt() time.Time { return m.At }

type OrderCreated struct {
	eventMeta
	OrderID    int64
	Number     OrderNumber
	CustomerID string
	OrderDate  time.Time
	ItemCount  int
}

func (e OrderCreated) EventName() string            { return OrderCreatedEvent }
func (e OrderCreated) AggregateNumber() OrderNumber { return e.Number }

type OrderConfirmedDomainEvent struct {
	eventMeta
	OrderID     int64
	Number      OrderNumber
	ConfirmedAt time.Time
}

func (e OrderConfirmedDomainEvent) EventName() string            { return OrderConfirmedEvent }
func (e OrderConfirmedDomainEvent) AggregateNumber() OrderNumber { return e.Number }

type OrderItemAdded struct {
	eventMeta
	OrderID       int64
	Number        OrderNumber
	ProductNumber string
	Quantity      int
}

func (e OrderItemAdded) EventName() string            { return OrderItemAddedEvent }
func (e OrderItemAdded) AggregateNumber() OrderNumber { return e.Number }

type OrderItemRemoved struct {
	eventMeta
	OrderID       int64
	Number        OrderNumber
	ProductNumber string
	Quantity      int
}

func (e OrderItemRemoved) EventName() string            { return OrderItemRemovedEvent }
func (e OrderItemRemoved) AggregateNumber() OrderNumber { return e.Number }

type OrderDeleted struct {
	eventMeta
	OrderID   int64
	Number    OrderNumber
	DeletedAt time.Time
}

func (e OrderDeleted) EventName() string            { return OrderDeletedEvent }
func (e OrderDeleted) AggregateNumber() OrderNumber { return e.Number }

var (
	_ DomainEvent = OrderCreated{}
	_ DomainEvent = OrderConfirmedDomainEvent{}
	_ DomainEvent = OrderItemAdded{}
	_ DomainEvent = OrderItemRemoved{}
	_ DomainEvent = OrderDeleted{}
)
