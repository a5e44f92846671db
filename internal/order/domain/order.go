package domain

import (
	"fmt"
	"strings"
	"time"
)

// AggregateType es la etiqueta con la que el pedido viaja en la outbox.
const AggregateType = "Order"

// OrderNumber identifica un pedido de forma única; se asigna una vez y nunca se reutiliza.
type OrderNumber string

func (n OrderNumber) String() string { return string(n) }

func (n OrderNumber) IsZero() bool { return strings.TrimSpace(string(n)) == "" }

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
)

func (s OrderStatus) Valid() bool {
	return s == OrderPending || s == OrderConfirmed
}

type OrderItem struct {
	ProductNumber string `json:"productNumber"`
	Quantity      int    `json:"quantity"`
}

func (i OrderItem) Validate() error {
	if strings.TrimSpace(i.ProductNumber) == "" {
		return fmt.Errorf("%w: product number cannot be empty", ErrInvalidItem)
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive (got %d)", ErrInvalidItem, i.Quantity)
	}
	return nil
}

// Order es la raíz del agregado. Las mutaciones devuelven los eventos que generan;
// el agregado no guarda ninguna lista interna de eventos.
type Order struct {
	ID         int64       `json:"id"` // asignado por la persistencia, 0 hasta entonces
	Number     OrderNumber `json:"orderNumber"`
	CustomerID string      `json:"customerId"`
	OrderDate  time.Time   `json:"orderDate"`
	Items      []OrderItem `json:"items"`
	Status     OrderStatus `json:"status"`
	Version    int         `json:"version"`
}

// NewOrder construye un pedido PENDING y devuelve su evento OrderCreated.
func NewOrder(number OrderNumber, customerID string, orderDate time.Time, items []OrderItem) (*Order, []DomainEvent, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, nil, fmt.Errorf("%w: customer id cannot be empty", ErrInvalidOrder)
	}
	if orderDate.IsZero() {
		return nil, nil, fmt.Errorf("%w: order date cannot be zero", ErrInvalidOrder)
	}
	if items == nil {
		return nil, nil, fmt.Errorf("%w: items cannot be nil", ErrInvalidOrder)
	}
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
	}

	o := &Order{
		Number:     number,
		CustomerID: customerID,
		OrderDate:  orderDate,
		Items:      append([]OrderItem{}, items...),
		Status:     OrderPending,
	}

	return o, []DomainEvent{OrderCreated{
		eventMeta:  newEventMeta(),
		OrderID:    o.ID,
		Number:     o.Number,
		CustomerID: o.CustomerID,
		OrderDate:  o.OrderDate,
		ItemCount:  len(o.Items),
	}}, nil
}

// Rehydrate reconstruye un pedido leído de la persistencia, sin generar eventos.
func Rehydrate(id int64, number OrderNumber, customerID string, orderDate time.Time, items []OrderItem, status OrderStatus, version int) (*Order, error) {
	if number.IsZero() || !status.Valid() {
		return nil, fmt.Errorf("%w: corrupted order %q (status %q)", ErrInvalidOrder, number, status)
	}
	if items == nil {
		items = []OrderItem{}
	}
	return &Order{
		ID:         id,
		Number:     number,
		CustomerID: customerID,
		OrderDate:  orderDate,
		Items:      items,
		Status:     status,
		Version:    version,
	}, nil
}

func (o *Order) PartitionKey() string {
	return o.Number.String()
}

// --- Métodos de dominio ---

// Confirm: PENDING -> CONFIRMED. En cualquier otro estado falla sin tocar nada.
func (o *Order) Confirm(at time.Time) ([]DomainEvent, error) {
	if o.Status != OrderPending {
		return nil, fmt.Errorf("%w: order %s cannot be confirmed from status %s", ErrInvalidState, o.Number, o.Status)
	}
	o.Status = OrderConfirmed
	return []DomainEvent{OrderConfirmedDomainEvent{
		eventMeta:   newEventMeta(),
		OrderID:     o.ID,
		Number:      o.Number,
		ConfirmedAt: at.UTC(),
	}}, nil
}

func (o *Order) AddItem(item OrderItem) ([]DomainEvent, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	o.Items = append(o.Items, item)
	return []DomainEvent{OrderItemAdded{
		eventMeta:     newEventMeta(),
		OrderID:       o.ID,
		Number:        o.Number,
		ProductNumber: item.ProductNumber,
		Quantity:      item.Quantity,
	}}, nil
}

// RemoveItem quita la primera línea con ese producto.
func (o *Order) RemoveItem(productNumber string) ([]DomainEvent, error) {
	for i, it := range o.Items {
		if it.ProductNumber != productNumber {
			continue
		}
		o.Items = append(o.Items[:i:i], o.Items[i+1:]...)
		return []DomainEvent{OrderItemRemoved{
			eventMeta:     newEventMeta(),
			OrderID:       o.ID,
			Number:        o.Number,
			ProductNumber: it.ProductNumber,
			Quantity:      it.Quantity,
		}}, nil
	}
	return nil, fmt.Errorf("%w: product %q in order %s", ErrItemNotFound, productNumber, o.Number)
}

// Delete no cambia el estado: la eliminación la ejecuta el repositorio.
func (o *Order) Delete(at time.Time) []DomainEvent {
	return []DomainEvent{OrderDeleted{
		eventMeta: newEventMeta(),
		OrderID:   o.ID,
		Number:    o.Number,
		DeletedAt: at.UTC(),
	}}
}
