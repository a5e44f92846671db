package events

import (
	"fmt"
	"strings"
	"time"
)

// LocalDateTimeLayout es el formato fijo del contrato externo: sin zona horaria.
const LocalDateTimeLayout = "2006-01-02T15:04:05"

// IntegrationEvent es la proyección externa y versionable de un evento de dominio.
// Los contratos solo pueden crecer con campos nuevos; nunca renombrar ni quitar.
type IntegrationEvent interface {
	IntegrationEventType() string
}

// LocalDateTime serializa un instante como "yyyy-MM-dd'T'HH:mm:ss" en UTC.
type LocalDateTime struct {
	time.Time
}

func NewLocalDateTime(t time.Time) LocalDateTime {
	return LocalDateTime{Time: t.UTC().Truncate(time.Second)}
}

func (d LocalDateTime) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.UTC().Format(LocalDateTimeLayout) + `"`), nil
}

func (d *LocalDateTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(LocalDateTimeLayout, s)
	if err != nil {
		return fmt.Errorf("invalid local date-time %q: %w", s, err)
	}
	d.Time = t
	return nil
}
