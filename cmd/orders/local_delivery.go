package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/davicafu/hexagonal-orders/internal/config"
	deliveryApp "github.com/davicafu/hexagonal-orders/internal/delivery/application"
	deliveryEvents "github.com/davicafu/hexagonal-orders/internal/delivery/infra/inbound/events"
	deliverySQLite "github.com/davicafu/hexagonal-orders/internal/delivery/infra/outbound/db/sqlite"
	infraEvents "github.com/davicafu/hexagonal-orders/internal/shared/infra/events"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/messaging"
	sharedSQLite "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db/sqlite"
)

// startLocalDelivery arranca el consumidor de entregas sobre el broker en memoria.
func startLocalDelivery(ctx context.Context, cfg *config.Config, resolver *messaging.TopicResolver, broker *infraEvents.InMemoryBroker, log *zap.Logger) (func(), error) {
	topic, err := resolver.Resolve(cfg.DeliverySourceAggType, cfg.DeliverySourceEvent)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sharedSQLite.Open(cfg.DeliveryDB)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := deliverySQLite.InitSQLite(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	deliveryLog := log.With(zap.String("component", "delivery"))
	service := deliveryApp.NewDeliveryService(deliverySQLite.NewDeliveryRepoSQLite(sqlDB), deliveryLog)
	handler := deliveryEvents.NewOrderConfirmedConsumer(service, deliveryLog)

	var dlq infraEvents.DeadLetterSink
	if cfg.DeadLetterPath != "" {
		dlq = infraEvents.NewFileDeadLetter(cfg.DeadLetterPath)
	}

	reader := broker.Reader(topic, 256)
	consumer := infraEvents.NewConsumerAdapter(reader, topic, handler, dlq, infraEvents.ConsumerConfig{
		Timeout:     cfg.ConsumerTimeout,
		MaxAttempts: cfg.ConsumerMaxAttempts,
	}, deliveryLog)
	consumer.Start(ctx)

	return func() { sqlDB.Close() }, nil
}
