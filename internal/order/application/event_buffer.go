package application

import (
	"sync"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
)

// EventBuffer acumula los eventos de dominio de un caso de uso.
// Vive lo que dura la llamada y sólo se limpia tras el commit.
type EventBuffer struct {
	mu     sync.Mutex
	events []domain.DomainEvent
}

func NewEventBuffer() *EventBuffer {
	return &EventBuffer{}
}

func (b *EventBuffer) Record(events ...domain.DomainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
}

// Snapshot devuelve una copia; modificarla no afecta al buffer.
func (b *EventBuffer) Snapshot() []domain.DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.DomainEvent, len(b.events))
	copy(out, b.events)
	return out
}

func (b *EventBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
