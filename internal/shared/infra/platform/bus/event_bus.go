package bus

import (
	"context"
	"errors"
)

// ErrPoisonMessage marca un mensaje que nunca podrá procesarse (payload ilegible, campos obligatorios ausentes).
// El consumidor lo desvía a la cola de mensajes muertos y avanza el offset.
var ErrPoisonMessage = errors.New("poison message")

type Keyer interface {
	PartitionKey() string
}

// La semántica de topic/nombre y formato del payload la decides en los adapters.
type EventBus interface {
	Publish(ctx context.Context, event interface{}) error
}

// MessageHandler procesa un mensaje recibido del broker. Devolver nil confirma el mensaje.
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, payload []byte) error
}
