package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davicafu/hexagonal-orders/internal/delivery/domain"
)

// DeliveryRepoMongoDB usa el número de pedido como _id, así la unicidad la garantiza Mongo.
type DeliveryRepoMongoDB struct {
	coll *mongo.Collection
}

func NewDeliveryRepoMongoDB(client *mongo.Client, dbName string) *DeliveryRepoMongoDB {
	return &DeliveryRepoMongoDB{coll: client.Database(dbName).Collection("deliveries")}
}

type mongoDelivery struct {
	OrderNumber      string    `bson:"_id"`
	ID               string    `bson:"deliveryId"`
	Status           string    `bson:"status"`
	OrderConfirmedAt time.Time `bson:"orderConfirmedAt"`
	CreatedAt        time.Time `bson:"createdAt"`
}

// CreateIfAbsent hace un upsert con $setOnInsert: si el documento existe no se modifica.
func (r *DeliveryRepoMongoDB) CreateIfAbsent(ctx context.Context, d *domain.Delivery) (*domain.Delivery, bool, error) {
	doc := toMongoDelivery(d)
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": doc.OrderNumber},
		bson.M{"$setOnInsert": bson.M{
			"deliveryId":       doc.ID,
			"status":           doc.Status,
			"orderConfirmedAt": doc.OrderConfirmedAt,
			"createdAt":        doc.CreatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("upsert delivery: %w", err)
	}
	if err == nil && res.UpsertedCount == 1 {
		return d, true, nil
	}

	// Ya existía (o dos upserts concurrentes y perdimos la carrera)
	existing, err := r.GetByOrderNumber(ctx, d.OrderNumber)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *DeliveryRepoMongoDB) GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Delivery, error) {
	var md mongoDelivery
	err := r.coll.FindOne(ctx, bson.M{"_id": orderNumber}).Decode(&md)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrDeliveryNotFound, orderNumber)
	}
	if err != nil {
		return nil, err
	}
	return fromMongoDelivery(&md)
}

func (r *DeliveryRepoMongoDB) List(ctx context.Context, limit, offset int) ([]*domain.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var deliveries []*domain.Delivery
	for cursor.Next(ctx) {
		var md mongoDelivery
		if err := cursor.Decode(&md); err != nil {
			return nil, err
		}
		d, err := fromMongoDelivery(&md)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, cursor.Err()
}

func toMongoDelivery(d *domain.Delivery) *mongoDelivery {
	return &mongoDelivery{
		OrderNumber:      d.OrderNumber,
		ID:               d.ID.String(),
		Status:           string(d.Status),
		OrderConfirmedAt: d.OrderConfirmedAt.UTC(),
		CreatedAt:        d.CreatedAt.UTC(),
	}
}

func fromMongoDelivery(md *mongoDelivery) (*domain.Delivery, error) {
	id, err := uuid.Parse(md.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid delivery id for %s: %w", md.OrderNumber, err)
	}
	return &domain.Delivery{
		ID:               id,
		OrderNumber:      md.OrderNumber,
		Status:           domain.DeliveryStatus(md.Status),
		OrderConfirmedAt: md.OrderConfirmedAt.UTC(),
		CreatedAt:        md.CreatedAt.UTC(),
	}, nil
}

var _ domain.DeliveryRepository = (*DeliveryRepoMongoDB)(nil)
