package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	sharedCache "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/cache"
)

// RelayNotifier despierta al relay cuando hay filas nuevas en la outbox.
type RelayNotifier interface {
	Notify()
}

// OrderDraft son los datos de entrada para crear un pedido.
type OrderDraft struct {
	CustomerID string
	OrderDate  time.Time
	Items      []domain.OrderItem
}

// OrderService orquesta los casos de uso de Order. Es el único que escribe en la outbox.
type OrderService struct {
	tx        sharedDomain.TxManager
	repo      domain.OrderRepository
	outbox    sharedDomain.OutboxWriter
	numbers   domain.OrderNumberGenerator
	cache     domain.OrderCache
	publisher domain.EventPublisher
	notifier  RelayNotifier
	mapper    *IntegrationMapper
	log       *zap.Logger
	now       func() time.Time
}

// NewOrderService constructor. cache, publisher y notifier pueden ser nil.
func NewOrderService(
	tx sharedDomain.TxManager,
	repo domain.OrderRepository,
	outbox sharedDomain.OutboxWriter,
	numbers domain.OrderNumberGenerator,
	cache domain.OrderCache,
	publisher domain.EventPublisher,
	notifier RelayNotifier,
	log *zap.Logger,
) *OrderService {
	return &OrderService{
		tx:        tx,
		repo:      repo,
		outbox:    outbox,
		numbers:   numbers,
		cache:     cache,
		publisher: publisher,
		notifier:  notifier,
		mapper:    NewIntegrationMapper(),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ------------------ Escrituras ------------------

func (s *OrderService) CreateOrder(ctx context.Context, draft OrderDraft) (*domain.Order, error) {
	number, err := s.numbers.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate order number: %w", err)
	}

	buf := NewEventBuffer()
	var order *domain.Order

	err = s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		// WithinTx puede reintentar fn: cada intento empieza sin eventos
		buf.Clear()

		o, events, err := domain.NewOrder(number, draft.CustomerID, draft.OrderDate, draft.Items)
		if err != nil {
			return err
		}
		buf.Record(events...)

		if err := s.persist(txCtx, buf, func() error { return s.repo.Create(txCtx, o) }); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, order, buf, false)
	s.log.Info("✅ Pedido creado", zap.String("order_number", order.Number.String()), zap.Int64("order_id", order.ID))
	return order, nil
}

func (s *OrderService) ConfirmOrder(ctx context.Context, number domain.OrderNumber) (*domain.Order, error) {
	return s.mutate(ctx, number, func(o *domain.Order) ([]domain.DomainEvent, error) {
		return o.Confirm(s.now())
	})
}

func (s *OrderService) AddItem(ctx context.Context, number domain.OrderNumber, item domain.OrderItem) (*domain.Order, error) {
	return s.mutate(ctx, number, func(o *domain.Order) ([]domain.DomainEvent, error) {
		return o.AddItem(item)
	})
}

func (s *OrderService) RemoveItem(ctx context.Context, number domain.OrderNumber, productNumber string) (*domain.Order, error) {
	return s.mutate(ctx, number, func(o *domain.Order) ([]domain.DomainEvent, error) {
		return o.RemoveItem(productNumber)
	})
}

func (s *OrderService) DeleteOrder(ctx context.Context, number domain.OrderNumber) error {
	buf := NewEventBuffer()
	var order *domain.Order

	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		// WithinTx puede reintentar fn: cada intento empieza sin eventos
		buf.Clear()

		o, err := s.repo.GetByNumber(txCtx, number)
		if err != nil {
			return err
		}
		buf.Record(o.Delete(s.now())...)

		if err := s.persist(txCtx, buf, func() error { return s.repo.Delete(txCtx, o) }); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, order, buf, true)
	s.log.Info("🗑️ Pedido eliminado", zap.String("order_number", number.String()))
	return nil
}

// mutate carga el pedido, aplica la transición y guarda pedido + outbox en la misma transacción.
func (s *OrderService) mutate(ctx context.Context, number domain.OrderNumber, fn func(o *domain.Order) ([]domain.DomainEvent, error)) (*domain.Order, error) {
	buf := NewEventBuffer()
	var order *domain.Order

	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		// WithinTx puede reintentar fn: cada intento empieza sin eventos
		buf.Clear()

		o, err := s.repo.GetByNumber(txCtx, number)
		if err != nil {
			return err
		}

		events, err := fn(o)
		if err != nil {
			return err
		}
		buf.Record(events...)

		if err := s.persist(txCtx, buf, func() error { return s.repo.Update(txCtx, o) }); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, order, buf, false)
	return order, nil
}

// persist escribe el agregado y una fila de outbox por cada evento con contrato de integración.
// Todo dentro de la transacción de txCtx: cualquier error deshace ambas escrituras.
func (s *OrderService) persist(txCtx context.Context, buf *EventBuffer, write func() error) error {
	events := buf.Snapshot()

	if err := write(); err != nil {
		return err
	}

	now := s.now()
	for _, evt := range events {
		msg, ok, err := s.mapper.ToOutbox(evt, now)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("Evento sin contrato de integración, no se publica fuera",
				zap.String("event", evt.EventName()),
				zap.String("order_number", evt.AggregateNumber().String()),
			)
			continue
		}
		if err := s.outbox.Save(txCtx, msg); err != nil {
			return fmt.Errorf("append outbox %s: %w", evt.EventName(), err)
		}
	}
	return nil
}

// afterCommit: limpiar el buffer, entrega en proceso (best effort), caché y aviso al relay.
func (s *OrderService) afterCommit(ctx context.Context, o *domain.Order, buf *EventBuffer, deleted bool) {
	events := buf.Snapshot()
	buf.Clear()

	if s.publisher != nil {
		for _, evt := range events {
			if err := s.publisher.Publish(ctx, evt); err != nil {
				s.log.Warn("⚠️ Publicación en proceso fallida",
					zap.String("event", evt.EventName()),
					zap.String("order_number", evt.AggregateNumber().String()),
					zap.Error(err),
				)
			}
		}
	}

	key := domain.CacheKeyByNumber(o.Number)
	if deleted {
		sharedCache.AsyncCacheDelete(ctx, s.cache, key, s.log)
	} else {
		sharedCache.AsyncCacheSet(ctx, s.cache, key, o, 0, s.log)
	}

	if s.notifier != nil && len(events) > 0 {
		s.notifier.Notify()
	}
}

// ------------------ Lecturas ------------------

// GetOrder obtiene un pedido (primero intenta desde cache).
func (s *OrderService) GetOrder(ctx context.Context, number domain.OrderNumber) (*domain.Order, error) {
	key := domain.CacheKeyByNumber(number)

	// 1. Intentar cache
	if s.cache != nil {
		var o domain.Order
		if ok, _ := s.cache.Get(ctx, key, &o); ok {
			return &o, nil
		}
	}

	// 2. Ir al repo con reintentos; "no encontrado" no se reintenta
	order, err := backoff.Retry(ctx, func() (*domain.Order, error) {
		o, err := s.repo.GetByNumber(ctx, number)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, backoff.Permanent(err)
		}
		return o, err
	}, backoff.WithBackOff(backoff.NewConstantBackOff(100*time.Millisecond)), backoff.WithMaxTries(3))
	if err != nil {
		return nil, err
	}

	// 3. Actualizar cache en background sin bloquear la respuesta
	sharedCache.AsyncCacheSet(ctx, s.cache, key, order, 0, s.log)
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	return s.repo.List(ctx, f)
}
