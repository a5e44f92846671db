package events

// Estos son contratos de integración, NO entidades del dominio.
// Se definen planos para intercambio entre servicios.

const (
	OrderCreatedEventType   = "OrderCreatedEvent"
	OrderConfirmedEventType = "OrderConfirmedEvent"
	OrderDeletedEventType   = "OrderDeletedEvent"
)

type OrderCreatedIntegrationEvent struct {
	OrderNumber string        `json:"orderNumber"`
	EventType   string        `json:"eventType"`
	CustomerID  string        `json:"customerId"`
	OrderDate   LocalDateTime `json:"orderDate"`
	ItemCount   int           `json:"itemCount"`
}

func (e OrderCreatedIntegrationEvent) IntegrationEventType() string { return OrderCreatedEventType }

type OrderConfirmedIntegrationEvent struct {
	OrderNumber string        `json:"orderNumber"`
	EventType   string        `json:"eventType"`
	ConfirmedAt LocalDateTime `json:"confirmedAt"`
}

func (e OrderConfirmedIntegrationEvent) IntegrationEventType() string {
	return OrderConfirmedEventType
}

type OrderDeletedIntegrationEvent struct {
	OrderNumber string        `json:"orderNumber"`
	EventType   string        `json:"eventType"`
	DeletedAt   LocalDateTime `json:"deletedAt"`
}

func (e OrderDeletedIntegrationEvent) IntegrationEventType() string { return OrderDeletedEventType }
