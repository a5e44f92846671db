package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/hexagonal-orders/internal/delivery/domain"
	sharedEvents "github.com/davicafu/hexagonal-orders/internal/shared/events"
	sharedBus "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/bus"
)

// DeliveryCreator es lo único que el consumidor necesita del servicio.
type DeliveryCreator interface {
	CreateDelivery(ctx context.Context, orderNumber string, confirmedAt time.Time) (*domain.Delivery, bool, error)
}

// OrderConfirmedConsumer traduce OrderConfirmedIntegrationEvent en una entrega programada.
type OrderConfirmedConsumer struct {
	service DeliveryCreator
	log     *zap.Logger
}

func NewOrderConfirmedConsumer(service DeliveryCreator, logger *zap.Logger) *OrderConfirmedConsumer {
	return &OrderConfirmedConsumer{service: service, log: logger}
}

// HandleMessage devuelve ErrPoisonMessage para payloads que nunca podrán procesarse,
// y el error tal cual para fallos transitorios (el mensaje se reintenta sin avanzar el offset).
func (c *OrderConfirmedConsumer) HandleMessage(ctx context.Context, key string, payload []byte) error {
	var evt sharedEvents.OrderConfirmedIntegrationEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		c.log.Warn("Failed to unmarshal OrderConfirmed event", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %v", sharedBus.ErrPoisonMessage, err)
	}

	if evt.EventType != "" && evt.EventType != sharedEvents.OrderConfirmedEventType {
		c.log.Debug("Evento ignorado", zap.String("key", key), zap.String("event_type", evt.EventType))
		return nil
	}
	if strings.TrimSpace(evt.OrderNumber) == "" {
		c.log.Warn("OrderConfirmed sin orderNumber", zap.String("key", key))
		return fmt.Errorf("%w: missing orderNumber", sharedBus.ErrPoisonMessage)
	}

	_, _, err := c.service.CreateDelivery(ctx, evt.OrderNumber, evt.ConfirmedAt.Time)
	if errors.Is(err, domain.ErrInvalidDelivery) {
		return fmt.Errorf("%w: %v", sharedBus.ErrPoisonMessage, err)
	}
	if err != nil {
		c.log.Error("Error al crear la entrega", zap.String("order_number", evt.OrderNumber), zap.Error(err))
		return err
	}
	return nil
}

var _ sharedBus.MessageHandler = (*OrderConfirmedConsumer)(nil)
