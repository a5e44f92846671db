package messaging

import (
	"errors"
	"fmt"
	"strings"
)

// FieldSeparator separa agregado y tipo de evento en las claves de override ("Order.OrderConfirmedEvent").
const FieldSeparator = "."

const integrationSuffix = "IntegrationEvent"

var (
	ErrMalformedTopicInput = errors.New("malformed topic input")
	ErrInvalidTopicConfig  = errors.New("invalid topic config")
)

// TopicConfig se carga una vez al arrancar y se pasa al resolver.
type TopicConfig struct {
	Prefix      string
	Environment string
	// Overrides: "Aggregate.EventType" -> nombre base del topic (sin prefijo ni entorno).
	Overrides map[string]string
}

// DefaultOverrides devuelve una copia nueva de los overrides documentados.
func DefaultOverrides() map[string]string {
	return map[string]string{
		OverrideKey("Order", "OrderConfirmedIntegrationEvent"): "order-confirmed",
		OverrideKey("Order", "OrderConfirmedEvent"):            "order-confirmed",
		OverrideKey("Order", "OrderCreatedEvent"):              "order-created",
		OverrideKey("Order", "OrderDeletedEvent"):              "order-deleted",
	}
}

// OverrideKey construye la clave de la tabla de overrides.
func OverrideKey(aggregateType, eventType string) string {
	return aggregateType + FieldSeparator + eventType
}

// ParseOverrides interpreta "Order.OrderCreatedEvent=order-created,Order.X=y".
func ParseOverrides(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, topic, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q has no '='", ErrInvalidTopicConfig, pair)
		}
		agg, evt, ok := strings.Cut(strings.TrimSpace(key), FieldSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: %q must be Aggregate%sEventType", ErrInvalidTopicConfig, key, FieldSeparator)
		}
		if err := validatePart(agg); err != nil {
			return nil, err
		}
		if err := validatePart(evt); err != nil {
			return nil, err
		}
		topic = strings.TrimSpace(topic)
		if topic == "" {
			return nil, fmt.Errorf("%w: empty topic for %q", ErrInvalidTopicConfig, key)
		}
		out[OverrideKey(agg, evt)] = topic
	}
	return out, nil
}

// TopicResolver traduce (aggregateType, eventType) al nombre real del topic.
// Es inmutable tras su construcción y seguro para uso concurrente.
type TopicResolver struct {
	prefix    string
	env       string
	overrides map[string]string
}

func NewTopicResolver(cfg TopicConfig) (*TopicResolver, error) {
	if strings.TrimSpace(cfg.Prefix) == "" || strings.TrimSpace(cfg.Environment) == "" {
		return nil, fmt.Errorf("%w: prefix and environment are required", ErrInvalidTopicConfig)
	}

	overrides := make(map[string]string, len(cfg.Overrides))
	for k, v := range cfg.Overrides {
		overrides[k] = v
	}

	return &TopicResolver{
		prefix:    cfg.Prefix,
		env:       cfg.Environment,
		overrides: overrides,
	}, nil
}

// Resolve aplica primero el override explícito y si no la regla por defecto:
// <prefix>-<env>-<aggregate>-<event sin sufijo IntegrationEvent>, todo en minúsculas.
func (r *TopicResolver) Resolve(aggregateType, eventType string) (string, error) {
	if err := validatePart(aggregateType); err != nil {
		return "", err
	}
	if err := validatePart(eventType); err != nil {
		return "", err
	}

	base, ok := r.overrides[OverrideKey(aggregateType, eventType)]
	if !ok {
		base = strings.ToLower(aggregateType) + "-" +
			strings.ToLower(strings.TrimSuffix(eventType, integrationSuffix))
	}

	return fmt.Sprintf("%s-%s-%s", r.prefix, r.env, base), nil
}

func validatePart(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: empty value", ErrMalformedTopicInput)
	}
	if strings.Contains(s, FieldSeparator) {
		return fmt.Errorf("%w: %q contains %q", ErrMalformedTopicInput, s, FieldSeparator)
	}
	return nil
}
