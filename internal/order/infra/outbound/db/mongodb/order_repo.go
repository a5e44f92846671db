package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
)

// OrderRepoMongoDB usa el número de pedido como _id. Order.ID se queda en 0: Mongo no tiene secuencias.
type OrderRepoMongoDB struct {
	ordersColl *mongo.Collection
}

func NewOrderRepoMongoDB(client *mongo.Client, dbName string) *OrderRepoMongoDB {
	return &OrderRepoMongoDB{ordersColl: client.Database(dbName).Collection("orders")}
}

// --- Structs de BSON ---

type mongoOrderItem struct {
	ProductNumber string `bson:"productNumber"`
	Quantity      int    `bson:"quantity"`
}

type mongoOrder struct {
	Number     string           `bson:"_id"`
	CustomerID string           `bson:"customerId"`
	OrderDate  time.Time        `bson:"orderDate"`
	Items      []mongoOrderItem `bson:"items"`
	Status     string           `bson:"status"`
	Version    int              `bson:"version"`
}

// InitIndexes crea el índice usado por los filtros de List.
func (r *OrderRepoMongoDB) InitIndexes(ctx context.Context) error {
	_, err := r.ordersColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "customerId", Value: 1}},
	})
	return err
}

// --- CRUD ---

func (r *OrderRepoMongoDB) Create(ctx context.Context, o *domain.Order) error {
	doc := toMongoOrder(o)
	doc.Version = 1
	if _, err := r.ordersColl.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", domain.ErrOrderAlreadyExists, o.Number)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	o.Version = 1
	return nil
}

func (r *OrderRepoMongoDB) Update(ctx context.Context, o *domain.Order) error {
	doc := toMongoOrder(o)
	res, err := r.ordersColl.UpdateOne(ctx,
		bson.M{"_id": doc.Number, "version": o.Version},
		bson.M{
			"$set": bson.M{
				"customerId": doc.CustomerID,
				"orderDate":  doc.OrderDate,
				"items":      doc.Items,
				"status":     doc.Status,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if res.MatchedCount == 0 {
		return r.missingOrStale(ctx, o)
	}
	o.Version++
	return nil
}

func (r *OrderRepoMongoDB) Delete(ctx context.Context, o *domain.Order) error {
	res, err := r.ordersColl.DeleteOne(ctx, bson.M{"_id": o.Number.String(), "version": o.Version})
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if res.DeletedCount == 0 {
		return r.missingOrStale(ctx, o)
	}
	return nil
}

func (r *OrderRepoMongoDB) GetByNumber(ctx context.Context, number domain.OrderNumber) (*domain.Order, error) {
	var mo mongoOrder
	err := r.ordersColl.FindOne(ctx, bson.M{"_id": number.String()}).Decode(&mo)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, number)
	}
	if err != nil {
		return nil, err
	}
	return fromMongoOrder(&mo)
}

func (r *OrderRepoMongoDB) List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	filter := bson.M{}
	if f.Status != nil {
		filter["status"] = string(*f.Status)
	}
	if f.CustomerID != nil {
		filter["customerId"] = *f.CustomerID
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(limit))

	cursor, err := r.ordersColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var orders []*domain.Order
	for cursor.Next(ctx) {
		var mo mongoOrder
		if err := cursor.Decode(&mo); err != nil {
			return nil, err
		}
		o, err := fromMongoOrder(&mo)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, cursor.Err()
}

func (r *OrderRepoMongoDB) missingOrStale(ctx context.Context, o *domain.Order) error {
	var current mongoOrder
	err := r.ordersColl.FindOne(ctx, bson.M{"_id": o.Number.String()}).Decode(&current)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.Number)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s (expected version %d, found %d)", domain.ErrConcurrentModification, o.Number, o.Version, current.Version)
}

// --- Helpers de conversión ---

func toMongoOrder(o *domain.Order) *mongoOrder {
	items := make([]mongoOrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, mongoOrderItem{ProductNumber: it.ProductNumber, Quantity: it.Quantity})
	}
	return &mongoOrder{
		Number:     o.Number.String(),
		CustomerID: o.CustomerID,
		OrderDate:  o.OrderDate.UTC(),
		Items:      items,
		Status:     string(o.Status),
		Version:    o.Version,
	}
}

func fromMongoOrder(mo *mongoOrder) (*domain.Order, error) {
	items := make([]domain.OrderItem, 0, len(mo.Items))
	for _, it := range mo.Items {
		items = append(items, domain.OrderItem{ProductNumber: it.ProductNumber, Quantity: it.Quantity})
	}
	return domain.Rehydrate(0, domain.OrderNumber(mo.Number), mo.CustomerID, mo.OrderDate.UTC(), items, domain.OrderStatus(mo.Status), mo.Version)
}

// Verificación en tiempo de compilación.
var _ domain.OrderRepository = (*OrderRepoMongoDB)(nil)
