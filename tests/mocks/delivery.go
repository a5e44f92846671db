package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/davicafu/hexagonal-orders/internal/delivery/domain"
)

// InMemoryDeliveryRepo cumple DeliveryRepository con un mapa por número de pedido.
type InMemoryDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[string]domain.Delivery
	order      []string
	Err        error
}

func NewInMemoryDeliveryRepo() *InMemoryDeliveryRepo {
	return &InMemoryDeliveryRepo{deliveries: make(map[string]domain.Delivery)}
}

func (r *InMemoryDeliveryRepo) CreateIfAbsent(ctx context.Context, d *domain.Delivery) (*domain.Delivery, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, false, r.Err
	}
	if existing, ok := r.deliveries[d.OrderNumber]; ok {
		return &existing, false, nil
	}
	r.deliveries[d.OrderNumber] = *d
	r.order = append(r.order, d.OrderNumber)
	return d, true, nil
}

func (r *InMemoryDeliveryRepo) GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[orderNumber]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDeliveryNotFound, orderNumber)
	}
	return &d, nil
}

func (r *InMemoryDeliveryRepo) List(ctx context.Context, limit, offset int) ([]*domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.Delivery{}
	for i, n := range r.order {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		d := r.deliveries[n]
		out = append(out, &d)
	}
	return out, nil
}

func (r *InMemoryDeliveryRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

var _ domain.DeliveryRepository = (*InMemoryDeliveryRepo)(nil)
