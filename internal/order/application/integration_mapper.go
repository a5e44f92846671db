package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexagonal-orders/internal/shared/events"
)

var ErrPayloadEncoding = errors.New("integration payload encoding failed")

// IntegrationMapper proyecta eventos de dominio a contratos de integración y a filas de outbox.
type IntegrationMapper struct {
	encode func(v any) ([]byte, error)
}

func NewIntegrationMapper() *IntegrationMapper {
	return &IntegrationMapper{encode: json.Marshal}
}

// ToIntegration devuelve false para los eventos que no salen del servicio (líneas de pedido).
func (m *IntegrationMapper) ToIntegration(evt domain.DomainEvent) (sharedEvents.IntegrationEvent, bool) {
	switch e := evt.(type) {
	case domain.OrderCreated:
		return sharedEvents.OrderCreatedIntegrationEvent{
			OrderNumber: e.Number.String(),
			EventType:   sharedEvents.OrderCreatedEventType,
			CustomerID:  e.CustomerID,
			OrderDate:   sharedEvents.NewLocalDateTime(e.OrderDate),
			ItemCount:   e.ItemCount,
		}, true
	case domain.OrderConfirmedDomainEvent:
		return sharedEvents.OrderConfirmedIntegrationEvent{
			OrderNumber: e.Number.String(),
			EventType:   sharedEvents.OrderConfirmedEventType,
			ConfirmedAt: sharedEvents.NewLocalDateTime(e.ConfirmedAt),
		}, true
	case domain.OrderDeleted:
		return sharedEvents.OrderDeletedIntegrationEvent{
			OrderNumber: e.Number.String(),
			EventType:   sharedEvents.OrderDeletedEventType,
			DeletedAt:   sharedEvents.NewLocalDateTime(e.DeletedAt),
		}, true
	default:
		return nil, false
	}
}

// ToOutbox serializa el contrato y construye la fila PENDING.
// La clave de idempotencia es el EventID del evento de dominio.
func (m *IntegrationMapper) ToOutbox(evt domain.DomainEvent, now time.Time) (sharedDomain.OutboxMessage, bool, error) {
	integration, ok := m.ToIntegration(evt)
	if !ok {
		return sharedDomain.OutboxMessage{}, false, nil
	}

	payload, err := m.encode(integration)
	if err != nil {
		return sharedDomain.OutboxMessage{}, true, fmt.Errorf("%w: %s: %v", ErrPayloadEncoding, evt.EventName(), err)
	}

	return sharedDomain.NewPendingMessage(
		evt.EventID(),
		domain.AggregateType,
		evt.AggregateNumber().String(),
		integration.IntegrationEventType(),
		payload,
		now,
	), true, nil
}
