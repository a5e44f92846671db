package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/davicafu/hexagonal-orders/internal/config"
	orderApp "github.com/davicafu/hexagonal-orders/internal/order/application"
	orderDomain "github.com/davicafu/hexagonal-orders/internal/order/domain"
	orderEvents "github.com/davicafu/hexagonal-orders/internal/order/infra/inbound/events"
	orderHttp "github.com/davicafu/hexagonal-orders/internal/order/infra/inbound/http"
	"github.com/davicafu/hexagonal-orders/internal/order/infra/outbound/analytics/clickhouse"
	orderCache "github.com/davicafu/hexagonal-orders/internal/order/infra/outbound/cache"
	orderMongo "github.com/davicafu/hexagonal-orders/internal/order/infra/outbound/db/mongodb"
	orderPostgres "github.com/davicafu/hexagonal-orders/internal/order/infra/outbound/db/postgre"
	orderSQLite "github.com/davicafu/hexagonal-orders/internal/order/infra/outbound/db/sqlite"
	"github.com/davicafu/hexagonal-orders/internal/order/infra/outbound/numbering"
	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	infraEvents "github.com/davicafu/hexagonal-orders/internal/shared/infra/events"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/messaging"
	sharedCache "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/cache"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db"
	sharedMongo "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db/mongodb"
	sharedPostgres "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db/postgres"
	sharedSQLite "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db/sqlite"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/kafkax"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/relayer"
	"github.com/davicafu/hexagonal-orders/pkg/logger"
	"github.com/davicafu/hexagonal-orders/pkg/utils"
)

// stores agrupa los puertos de persistencia del backend elegido.
type stores struct {
	tx     sharedDomain.TxManager
	orders orderDomain.OrderRepository
	outbox sharedDomain.OutboxStore
	check  utils.HealthCheck
	close  func()
}

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger.Init("orders", cfg.LogLevel)
	log := logger.Logger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- DB ----------------
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open order store", zap.String("store", cfg.OrderStore), zap.Error(err))
	}
	defer st.close()

	checks := map[string]utils.HealthCheck{"store": st.check}

	// ---------------- Cache ----------------
	var cacheInstance sharedCache.Cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
		memCache := orderCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
		defer memCache.Stop()
		cacheInstance = memCache
	} else {
		cacheInstance = orderCache.NewRedisCache(rdb, cfg.CacheTTL)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info("✅ Redis conectado, cache habilitado")
	}
	defer rdb.Close()

	// ---------------- Topics ----------------
	resolver, err := messaging.NewTopicResolver(cfg.Topics)
	if err != nil {
		log.Fatal("invalid topic configuration", zap.Error(err))
	}

	// ---------------- Events ---------------
	var dispatcher relayer.Dispatcher
	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como broker", zap.Strings("brokers", cfg.KafkaBrokers))
		publisher := infraEvents.NewKafkaPublisher(infraEvents.KafkaWriterConfig{
			Brokers:      cfg.KafkaBrokers,
			MaxAttempts:  cfg.ProducerRetries,
			BatchTimeout: cfg.ProducerLinger,
			WriteTimeout: cfg.ProducerWriteTimeout,
		}, log)
		defer publisher.Close()
		dispatcher = publisher
		checks["kafka"] = kafkax.ReadyCheck(cfg.KafkaBrokers)
	} else {
		log.Info("⚡️ Usando broker en memoria, el servicio de entregas corre en este proceso")
		broker := infraEvents.NewInMemoryBroker()
		dispatcher = broker

		closeDelivery, err := startLocalDelivery(ctx, cfg, resolver, broker, log)
		if err != nil {
			log.Fatal("failed to start local delivery consumer", zap.Error(err))
		}
		defer closeDelivery()
	}

	// Bus en proceso: best effort, independiente de la outbox
	bus := infraEvents.NewInMemoryEventBus()
	defer bus.Close()

	var eventCounter orderHttp.EventCounter

	if cfg.ClickHouseAddr != "" {
		eventLog, err := clickhouse.NewEventLogRepo(cfg.ClickHouseAddr, cfg.ClickHouseDB)
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, sin registro analítico", zap.Error(err))
		} else {
			defer eventLog.Close()
			if err := eventLog.InitSchema(ctx); err != nil {
				log.Fatal("failed to initialize ClickHouse schema", zap.Error(err))
			}
			listener := orderEvents.NewEventLogListener(bus.Subscribe(256), eventLog, 100, 2*time.Second, log)
			go listener.Run(ctx)
			eventCounter = eventLog
			log.Info("📊 Registro analítico de eventos en ClickHouse habilitado")
		}
	}

	// ------------ Outbox Worker ------------
	worker := relayer.NewOutboxWorker(st.outbox, dispatcher, resolver, relayer.Config{
		Interval:   cfg.OutboxPeriod,
		BatchSize:  cfg.OutboxLimit,
		Lease:      cfg.OutboxLease,
		MaxBackoff: cfg.OutboxMaxBackoff,
	}, log)
	workerDone := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(workerDone)
	}()

	// --------------- Servicio --------------
	orderService := orderApp.NewOrderService(st.tx, st.orders, st.outbox, numbering.NewUUIDGenerator(),
		cacheInstance, bus, worker, log)

	if cfg.SeedDemo {
		seedDemoOrder(ctx, orderService, log)
	}

	// ---------------- HTTP ----------------
	router := gin.New()
	router.Use(gin.Recovery())
	opsHandler := orderHttp.NewOpsHandler(orderService, st.outbox, worker, checks)
	if eventCounter != nil {
		opsHandler.WithEventCounter(eventCounter)
	}
	orderHttp.RegisterRoutes(router, opsHandler)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}
	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Apagando orders...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	<-workerDone
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	switch cfg.OrderStore {
	case config.StorePostgres:
		sqlDB, err := sharedPostgres.Open(cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := orderPostgres.InitPostgres(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
		log.Info("🐘 Pedidos en Postgres")
		return sqlStores(sqlDB, orderPostgres.NewOrderRepoPostgres(sqlDB), sharedPostgres.NewOutboxRepoPostgres(sqlDB)), nil

	case config.StoreMongoDB:
		client, err := sharedMongo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		orders := orderMongo.NewOrderRepoMongoDB(client, cfg.MongoDatabase)
		outbox := sharedMongo.NewOutboxRepoMongoDB(client, cfg.MongoDatabase)
		if err := orders.InitIndexes(ctx); err != nil {
			return nil, err
		}
		if err := outbox.InitIndexes(ctx); err != nil {
			return nil, err
		}
		log.Info("🍃 Pedidos en MongoDB")
		return &stores{
			tx:     sharedMongo.NewTxManager(client),
			orders: orders,
			outbox: outbox,
			check:  func(ctx context.Context) error { return client.Ping(ctx, nil) },
			close:  func() { disconnect(client) },
		}, nil

	default:
		sqlDB, err := sharedSQLite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1) // un único escritor
		if err := orderSQLite.InitSQLite(sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
		log.Info("🗃️ Pedidos en SQLite", zap.String("path", cfg.SQLitePath))
		return sqlStores(sqlDB, orderSQLite.NewOrderRepoSQLite(sqlDB), sharedSQLite.NewOutboxRepoSQLite(sqlDB)), nil
	}
}

func sqlStores(sqlDB *sql.DB, orders orderDomain.OrderRepository, outbox sharedDomain.OutboxStore) *stores {
	return &stores{
		tx:     db.NewTxManager(sqlDB),
		orders: orders,
		outbox: outbox,
		check:  sqlDB.PingContext,
		close:  func() { sqlDB.Close() },
	}
}

func disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Disconnect(ctx)
}

// seedDemoOrder recorre el flujo completo: creación, confirmación y entrega vía outbox.
func seedDemoOrder(ctx context.Context, svc *orderApp.OrderService, log *zap.Logger) {
	order, err := svc.CreateOrder(ctx, orderApp.OrderDraft{
		CustomerID: "cust-demo",
		OrderDate:  time.Now().UTC(),
		Items:      []orderDomain.OrderItem{{ProductNumber: "P-001", Quantity: 2}},
	})
	if err != nil {
		log.Error("Fallo al crear el pedido de ejemplo", zap.Error(err))
		return
	}
	if _, err := svc.ConfirmOrder(ctx, order.Number); err != nil {
		log.Error("Fallo al confirmar el pedido de ejemplo", zap.Error(err))
		return
	}
	log.Info("✅ Pedido de ejemplo creado y confirmado", zap.String("order_number", string(order.Number)))
}
