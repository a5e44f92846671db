package cache

import (
	"context"
)

// Reader rellena dest (un puntero) si la clave existe. (false, nil) es un miss.
type Reader interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
}

// Writer es lo único que necesitan los helpers asíncronos.
type Writer interface {
	// Set guarda val serializado; ttlSecs <= 0 usa el TTL por defecto del adaptador.
	Set(ctx context.Context, key string, val interface{}, ttlSecs int) error
	Delete(ctx context.Context, key string) error
}

// Cache es la caché clave-valor completa (Redis o memoria).
type Cache interface {
	Reader
	Writer
}
