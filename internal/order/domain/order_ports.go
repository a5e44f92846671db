package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidOrder           = errors.New("invalid order")
	ErrInvalidItem            = errors.New("invalid order item")
	ErrInvalidState           = errors.New("invalid order state")
	ErrOrderNotFound          = errors.New("order not found")
	ErrOrderAlreadyExists     = errors.New("order already exists")
	ErrItemNotFound           = errors.New("order item not found")
	ErrConcurrentModification = errors.New("order modified concurrently")
)

// OrderFilter selecciona pedidos para ListOrders. Los campos nil no filtran.
type OrderFilter struct {
	Status     *OrderStatus
	CustomerID *string
	Limit      int
	Offset     int
}

// OrderRepository persiste el agregado. Todas las escrituras usan la transacción de ctx si existe.
type OrderRepository interface {
	// Create asigna o.ID y deja o.Version = 1.
	Create(ctx context.Context, o *Order) error
	// Update aplica bloqueo optimista: falla con ErrConcurrentModification si la versión cambió.
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, o *Order) error
	GetByNumber(ctx context.Context, number OrderNumber) (*Order, error)
	List(ctx context.Context, f OrderFilter) ([]*Order, error)
}

type OrderNumberGenerator interface {
	Generate(ctx context.Context) (OrderNumber, error)
}

// OrderCache guarda lecturas de pedidos (cache-aside).
type OrderCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, val interface{}, ttlSecs int) error
	Delete(ctx context.Context, key string) error
}

// EventPublisher recibe los eventos de dominio ya confirmados (entrega en proceso, best effort).
type EventPublisher interface {
	Publish(ctx context.Context, event interface{}) error
}

// OrderEventRecord es la fila que se registra en el almacén analítico.
type OrderEventRecord struct {
	EventID     string
	EventName   string
	OrderNumber string
	OccurredAt  time.Time
}

type OrderEventLog interface {
	LogBatch(ctx context.Context, records []OrderEventRecord) error
}

func CacheKeyByNumber(n OrderNumber) string {
	return "order:" + n.String()
}
