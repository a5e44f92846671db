package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/davicafu/hexagonal-orders/internal/config"
	deliveryApp "github.com/davicafu/hexagonal-orders/internal/delivery/application"
	deliveryDomain "github.com/davicafu/hexagonal-orders/internal/delivery/domain"
	deliveryEvents "github.com/davicafu/hexagonal-orders/internal/delivery/infra/inbound/events"
	deliveryHttp "github.com/davicafu/hexagonal-orders/internal/delivery/infra/inbound/http"
	deliveryMongo "github.com/davicafu/hexagonal-orders/internal/delivery/infra/outbound/db/mongodb"
	deliverySQLite "github.com/davicafu/hexagonal-orders/internal/delivery/infra/outbound/db/sqlite"
	infraEvents "github.com/davicafu/hexagonal-orders/internal/shared/infra/events"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/messaging"
	sharedMongo "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db/mongodb"
	sharedSQLite "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db/sqlite"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/kafkax"
	"github.com/davicafu/hexagonal-orders/pkg/logger"
	"github.com/davicafu/hexagonal-orders/pkg/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger.Init("delivery", cfg.LogLevel)
	log := logger.Logger()
	defer log.Sync()

	if !cfg.UseKafka {
		log.Fatal("USE_KAFKA=false: el consumidor de entregas corre dentro de cmd/orders")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- DB ----------------
	repo, check, closeDB, err := openDeliveryStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open delivery store", zap.String("store", cfg.DeliveryStore), zap.Error(err))
	}
	defer closeDB()

	checks := map[string]utils.HealthCheck{
		"store": check,
		"kafka": kafkax.ReadyCheck(cfg.KafkaBrokers),
	}

	service := deliveryApp.NewDeliveryService(repo, log)

	// ---------------- Kafka ----------------
	resolver, err := messaging.NewTopicResolver(cfg.Topics)
	if err != nil {
		log.Fatal("invalid topic configuration", zap.Error(err))
	}
	topic, err := resolver.Resolve(cfg.DeliverySourceAggType, cfg.DeliverySourceEvent)
	if err != nil {
		log.Fatal("failed to resolve source topic", zap.Error(err))
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.ConsumerGroup,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	var dlq infraEvents.DeadLetterSink
	var deadLetters deliveryHttp.DeadLetterReader
	if cfg.DeadLetterPath != "" {
		fileDLQ := infraEvents.NewFileDeadLetter(cfg.DeadLetterPath)
		dlq, deadLetters = fileDLQ, fileDLQ
	} else {
		kafkaDLQ := infraEvents.NewKafkaDeadLetter(cfg.KafkaBrokers, cfg.ProducerWriteTimeout)
		defer kafkaDLQ.Close()
		dlq = kafkaDLQ
	}

	consumer := infraEvents.NewConsumerAdapter(reader, topic,
		deliveryEvents.NewOrderConfirmedConsumer(service, log), dlq,
		infraEvents.ConsumerConfig{
			Timeout:     cfg.ConsumerTimeout,
			MaxAttempts: cfg.ConsumerMaxAttempts,
		}, log)

	consumerDone := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(consumerDone)
	}()
	log.Info("👂 Consumiendo confirmaciones de pedidos",
		zap.String("topic", topic), zap.String("group", cfg.ConsumerGroup))

	// ---------------- HTTP ----------------
	router := gin.New()
	router.Use(gin.Recovery())
	deliveryHttp.RegisterRoutes(router, deliveryHttp.NewDeliveryHandler(service, deadLetters, checks))

	srv := &http.Server{Addr: ":" + cfg.DeliveryHTTPPort, Handler: router}
	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.DeliveryHTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Apagando delivery...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	<-consumerDone
}

func openDeliveryStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (deliveryDomain.DeliveryRepository, utils.HealthCheck, func(), error) {
	if cfg.DeliveryStore == config.StoreMongoDB {
		client, err := sharedMongo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, nil, err
		}
		repo := deliveryMongo.NewDeliveryRepoMongoDB(client, cfg.MongoDatabase)
		log.Info("🍃 Entregas en MongoDB")
		closeFn := func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(shutdownCtx)
		}
		return repo, func(ctx context.Context) error { return client.Ping(ctx, nil) }, closeFn, nil
	}

	sqlDB, err := sharedSQLite.Open(cfg.DeliveryDB)
	if err != nil {
		return nil, nil, nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := deliverySQLite.InitSQLite(sqlDB); err != nil {
		sqlDB.Close()
		return nil, nil, nil, err
	}
	log.Info("🗃️ Entregas en SQLite", zap.String("path", cfg.DeliveryDB))
	return deliverySQLite.NewDeliveryRepoSQLite(sqlDB), sqlDB.PingContext, func() { sqlDB.Close() }, nil
}
