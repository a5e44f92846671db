package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/hexagonal-orders/internal/delivery/domain"
)

type DeliveryService struct {
	repo domain.DeliveryRepository
	log  *zap.Logger
	now  func() time.Time
}

func NewDeliveryService(repo domain.DeliveryRepository, log *zap.Logger) *DeliveryService {
	return &DeliveryService{repo: repo, log: log, now: time.Now}
}

// CreateDelivery es idempotente por número de pedido: una segunda llamada devuelve la entrega existente.
func (s *DeliveryService) CreateDelivery(ctx context.Context, orderNumber string, confirmedAt time.Time) (*domain.Delivery, bool, error) {
	d, err := domain.NewDelivery(orderNumber, confirmedAt, s.now())
	if err != nil {
		return nil, false, err
	}

	stored, created, err := s.repo.CreateIfAbsent(ctx, d)
	if err != nil {
		return nil, false, err
	}

	if created {
		s.log.Info("🚚 Entrega programada", zap.String("order_number", orderNumber), zap.String("delivery_id", stored.ID.String()))
	} else {
		s.log.Info("Entrega ya existente, evento duplicado ignorado", zap.String("order_number", orderNumber))
	}
	return stored, created, nil
}

func (s *DeliveryService) GetDelivery(ctx context.Context, orderNumber string) (*domain.Delivery, error) {
	return s.repo.GetByOrderNumber(ctx, orderNumber)
}

func (s *DeliveryService) ListDeliveries(ctx context.Context, limit, offset int) ([]*domain.Delivery, error) {
	return s.repo.List(ctx, limit, offset)
}
