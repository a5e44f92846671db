package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const DeliveryScheduled DeliveryStatus = "SCHEDULED"

var (
	ErrInvalidDelivery  = errors.New("invalid delivery")
	ErrDeliveryNotFound = errors.New("delivery not found")
)

// Delivery es el efecto local de un pedido confirmado. Hay como mucho una por número de pedido.
type Delivery struct {
	ID               uuid.UUID      `json:"id"`
	OrderNumber      string         `json:"orderNumber"`
	Status           DeliveryStatus `json:"status"`
	OrderConfirmedAt time.Time      `json:"orderConfirmedAt"`
	CreatedAt        time.Time      `json:"createdAt"`
}

func NewDelivery(orderNumber string, confirmedAt, now time.Time) (*Delivery, error) {
	if strings.TrimSpace(orderNumber) == "" {
		return nil, fmt.Errorf("%w: order number cannot be empty", ErrInvalidDelivery)
	}
	if confirmedAt.IsZero() {
		return nil, fmt.Errorf("%w: confirmation time is required", ErrInvalidDelivery)
	}
	return &Delivery{
		ID:               uuid.New(),
		OrderNumber:      orderNumber,
		Status:           DeliveryScheduled,
		OrderConfirmedAt: confirmedAt.UTC(),
		CreatedAt:        now.UTC(),
	}, nil
}

// DeliveryRepository. CreateIfAbsent es la pieza de idempotencia del consumidor.
type DeliveryRepository interface {
	// CreateIfAbsent inserta d salvo que ya exista una entrega para su número de pedido.
	// Devuelve la entrega almacenada y si la llamada la ha creado.
	CreateIfAbsent(ctx context.Context, d *Delivery) (*Delivery, bool, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*Delivery, error)
	List(ctx context.Context, limit, offset int) ([]*Delivery, error)
}
