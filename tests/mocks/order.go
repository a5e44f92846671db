package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	orderDomain "github.com/davicafu/hexagonal-orders/internal/order/domain"
	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
)

type memTxKey struct{}

// InMemoryOrderStore simula la base de datos de pedidos con su outbox.
// Implementa TxManager, OrderRepository y OutboxWriter: una transacción fallida
// restaura pedidos y outbox al estado previo.
type InMemoryOrderStore struct {
	Orders map[orderDomain.OrderNumber]orderDomain.Order
	Outbox []sharedDomain.OutboxMessage

	// FailOutbox, si no es nil, hace fallar el siguiente Save.
	FailOutbox error
	Commits    int

	nextID int64
	mu     sync.Mutex
}

func NewInMemoryOrderStore() *InMemoryOrderStore {
	return &InMemoryOrderStore{
		Orders: make(map[orderDomain.OrderNumber]orderDomain.Order),
		Outbox: []sharedDomain.OutboxMessage{},
	}
}

func (s *InMemoryOrderStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	orders := make(map[orderDomain.OrderNumber]orderDomain.Order, len(s.Orders))
	for k, v := range s.Orders {
		orders[k] = v
	}
	outbox := append([]sharedDomain.OutboxMessage{}, s.Outbox...)
	nextID := s.nextID
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.Orders, s.Outbox, s.nextID = orders, outbox, nextID
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.Commits++
	s.mu.Unlock()
	return nil
}

func (s *InMemoryOrderStore) Create(ctx context.Context, o *orderDomain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Orders[o.Number]; ok {
		return orderDomain.ErrOrderAlreadyExists
	}
	s.nextID++
	o.ID = s.nextID
	o.Version = 1
	s.Orders[o.Number] = cloneOrder(o)
	return nil
}

func (s *InMemoryOrderStore) Update(ctx context.Context, o *orderDomain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.Orders[o.Number]
	if !ok {
		return orderDomain.ErrOrderNotFound
	}
	if stored.Version != o.Version {
		return orderDomain.ErrConcurrentModification
	}
	o.Version++
	s.Orders[o.Number] = cloneOrder(o)
	return nil
}

func (s *InMemoryOrderStore) Delete(ctx context.Context, o *orderDomain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.Orders[o.Number]
	if !ok {
		return orderDomain.ErrOrderNotFound
	}
	if stored.Version != o.Version {
		return orderDomain.ErrConcurrentModification
	}
	delete(s.Orders, o.Number)
	return nil
}

func (s *InMemoryOrderStore) GetByNumber(ctx context.Context, number orderDomain.OrderNumber) (*orderDomain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.Orders[number]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orderDomain.ErrOrderNotFound, number)
	}
	o := cloneOrder(&stored)
	return &o, nil
}

func (s *InMemoryOrderStore) List(ctx context.Context, f orderDomain.OrderFilter) ([]*orderDomain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*orderDomain.Order
	for _, stored := range s.Orders {
		if f.Status != nil && stored.Status != *f.Status {
			continue
		}
		if f.CustomerID != nil && stored.CustomerID != *f.CustomerID {
			continue
		}
		o := cloneOrder(&stored)
		list = append(list, &o)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	if f.Offset >= len(list) {
		return nil, nil
	}
	list = list[f.Offset:]
	if f.Limit > 0 && f.Limit < len(list) {
		list = list[:f.Limit]
	}
	return list, nil
}

// Save (OutboxWriter)
func (s *InMemoryOrderStore) Save(ctx context.Context, msg sharedDomain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOutbox != nil {
		err := s.FailOutbox
		s.FailOutbox = nil
		return err
	}
	for _, m := range s.Outbox {
		if m.IdempotencyKey == msg.IdempotencyKey {
			return sharedDomain.ErrDuplicateOutboxMessage
		}
	}
	s.Outbox = append(s.Outbox, msg)
	return nil
}

// OutboxSnapshot devuelve una copia segura de las filas escritas.
func (s *InMemoryOrderStore) OutboxSnapshot() []sharedDomain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sharedDomain.OutboxMessage{}, s.Outbox...)
}

// Stats cuenta las filas como lo haría el repositorio de outbox.
func (s *InMemoryOrderStore) Stats(ctx context.Context) (sharedDomain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats sharedDomain.OutboxStats
	for _, m := range s.Outbox {
		switch m.Status {
		case sharedDomain.OutboxPublished:
			stats.Published++
		default:
			stats.Pending++
			if stats.OldestPending == nil || m.CreatedAt.Before(*stats.OldestPending) {
				t := m.CreatedAt
				stats.OldestPending = &t
			}
		}
	}
	return stats, nil
}

func cloneOrder(o *orderDomain.Order) orderDomain.Order {
	c := *o
	c.Items = append([]orderDomain.OrderItem{}, o.Items...)
	return c
}

var (
	_ sharedDomain.TxManager      = (*InMemoryOrderStore)(nil)
	_ sharedDomain.OutboxWriter   = (*InMemoryOrderStore)(nil)
	_ orderDomain.OrderRepository = (*InMemoryOrderStore)(nil)
)
