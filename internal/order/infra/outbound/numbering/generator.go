package numbering

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
)

const prefix = "ORD-"

// UUIDGenerator produce números "ORD-<uuid>": únicos sin coordinación entre instancias.
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator { return &UUIDGenerator{} }

func (g *UUIDGenerator) Generate(ctx context.Context) (domain.OrderNumber, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("order number: %w", err)
	}
	return domain.OrderNumber(prefix + strings.ToUpper(id.String())), nil
}

// SequenceGenerator produce ORD-0001, ORD-0002... Sólo vale para un proceso (tests, modo local).
type SequenceGenerator struct {
	next atomic.Int64
}

// NewSequenceGenerator empieza después de start.
func NewSequenceGenerator(start int64) *SequenceGenerator {
	g := &SequenceGenerator{}
	g.next.Store(start)
	return g
}

func (g *SequenceGenerator) Generate(ctx context.Context) (domain.OrderNumber, error) {
	return domain.OrderNumber(fmt.Sprintf("%s%04d", prefix, g.next.Add(1))), nil
}

var (
	_ domain.OrderNumberGenerator = (*UUIDGenerator)(nil)
	_ domain.OrderNumberGenerator = (*SequenceGenerator)(nil)
)
