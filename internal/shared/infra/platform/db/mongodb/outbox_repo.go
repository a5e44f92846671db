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

	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
)

// OutboxRepoMongoDB implementa sharedDomain.OutboxStore sobre la colección "outbox".
type OutboxRepoMongoDB struct {
	outboxColl *mongo.Collection
	now        func() time.Time
}

func NewOutboxRepoMongoDB(client *mongo.Client, dbName string) *OutboxRepoMongoDB {
	return &OutboxRepoMongoDB{
		outboxColl: client.Database(dbName).Collection("outbox"),
		now:        time.Now,
	}
}

// mongoOutboxMessage mapea los documentos sin poner tags BSON en el dominio.
type mongoOutboxMessage struct {
	ID             string     `bson:"_id"`
	IdempotencyKey string     `bson:"idempotencyKey"`
	AggregateType  string     `bson:"aggregateType"`
	AggregateID    string     `bson:"aggregateId"`
	EventType      string     `bson:"eventType"`
	Payload        string     `bson:"payload"`
	Status         string     `bson:"status"`
	Attempts       int        `bson:"attempts"`
	AvailableAt    time.Time  `bson:"availableAt"`
	CreatedAt      time.Time  `bson:"createdAt"`
	PublishedAt    *time.Time `bson:"publishedAt,omitempty"`
}

// InitIndexes crea la clave única de idempotencia y el índice de pendientes.
func (r *OutboxRepoMongoDB) InitIndexes(ctx context.Context) error {
	_, err := r.outboxColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "idempotencyKey", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "availableAt", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
	})
	return err
}

func (r *OutboxRepoMongoDB) Save(ctx context.Context, msg sharedDomain.OutboxMessage) error {
	doc := toMongoOutbox(msg)
	if _, err := r.outboxColl.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", sharedDomain.ErrDuplicateOutboxMessage, msg.IdempotencyKey)
		}
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

var oldestFirst = bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}

func (r *OutboxRepoMongoDB) FindPending(ctx context.Context, limit int) ([]sharedDomain.OutboxMessage, error) {
	opts := options.Find().SetSort(oldestFirst).SetLimit(int64(limit))
	cursor, err := r.outboxColl.Find(ctx, bson.M{"status": string(sharedDomain.OutboxPending)}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []sharedDomain.OutboxMessage
	for cursor.Next(ctx) {
		var mo mongoOutboxMessage
		if err := cursor.Decode(&mo); err != nil {
			return nil, err
		}
		msg, err := fromMongoOutbox(&mo)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, cursor.Err()
}

// claimScanFactor acota cuántos pendientes se miran por cada fila a reservar.
const claimScanFactor = 10

// ClaimPending reserva sólo el documento pendiente más antiguo de cada agregado.
// Cada reserva es un FindOneAndUpdate, atómico por documento.
func (r *OutboxRepoMongoDB) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]sharedDomain.OutboxMessage, error) {
	now := r.now().UTC()
	pending := string(sharedDomain.OutboxPending)

	heads, err := r.aggregateHeads(ctx, pending, now, limit)
	if err != nil {
		return nil, err
	}

	update := bson.M{"$set": bson.M{"availableAt": now.Add(lease)}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msgs []sharedDomain.OutboxMessage
	for _, id := range heads {
		if len(msgs) >= limit {
			break
		}
		filter := bson.M{"_id": id, "status": pending, "availableAt": bson.M{"$lte": now}}

		var mo mongoOutboxMessage
		err := r.outboxColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&mo)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue // otro relay se adelantó
		}
		if err != nil {
			return msgs, fmt.Errorf("claim outbox: %w", err)
		}
		msg, err := fromMongoOutbox(&mo)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// aggregateHeads devuelve, en orden de creación, los ids de la primera fila pendiente de cada agregado
// que ya está disponible. Un agregado cuya fila más antigua sigue reservada o en espera no aporta nada.
func (r *OutboxRepoMongoDB) aggregateHeads(ctx context.Context, pending string, now time.Time, limit int) ([]string, error) {
	opts := options.Find().
		SetSort(oldestFirst).
		SetLimit(int64(limit * claimScanFactor)).
		SetProjection(bson.M{"aggregateType": 1, "aggregateId": 1, "availableAt": 1})
	cursor, err := r.outboxColl.Find(ctx, bson.M{"status": pending}, opts)
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}
	defer cursor.Close(ctx)

	seen := make(map[string]struct{})
	var heads []string
	for cursor.Next(ctx) {
		var mo mongoOutboxMessage
		if err := cursor.Decode(&mo); err != nil {
			return nil, err
		}
		key := mo.AggregateType + "/" + mo.AggregateID
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if !mo.AvailableAt.After(now) {
			heads = append(heads, mo.ID)
		}
	}
	return heads, cursor.Err()
}

func (r *OutboxRepoMongoDB) MarkPublished(ctx context.Context, id uuid.UUID) error {
	res, err := r.outboxColl.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(sharedDomain.OutboxPending)},
		bson.M{"$set": bson.M{"status": string(sharedDomain.OutboxPublished), "publishedAt": r.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message %s as published: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return r.ensureExists(ctx, id)
}

func (r *OutboxRepoMongoDB) MarkFailed(ctx context.Context, id uuid.UUID, retryAt time.Time) error {
	res, err := r.outboxColl.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(sharedDomain.OutboxPending)},
		bson.M{
			"$inc": bson.M{"attempts": 1},
			"$set": bson.M{"availableAt": retryAt.UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message %s as failed: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return r.ensureExists(ctx, id)
}

func (r *OutboxRepoMongoDB) Stats(ctx context.Context) (sharedDomain.OutboxStats, error) {
	var stats sharedDomain.OutboxStats

	pending, err := r.outboxColl.CountDocuments(ctx, bson.M{"status": string(sharedDomain.OutboxPending)})
	if err != nil {
		return stats, fmt.Errorf("outbox stats: %w", err)
	}
	published, err := r.outboxColl.CountDocuments(ctx, bson.M{"status": string(sharedDomain.OutboxPublished)})
	if err != nil {
		return stats, fmt.Errorf("outbox stats: %w", err)
	}
	stats.Pending = int(pending)
	stats.Published = int(published)

	var oldest mongoOutboxMessage
	err = r.outboxColl.FindOne(ctx,
		bson.M{"status": string(sharedDomain.OutboxPending)},
		options.FindOne().SetSort(oldestFirst),
	).Decode(&oldest)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return stats, fmt.Errorf("outbox stats: %w", err)
	default:
		t := oldest.CreatedAt.UTC()
		stats.OldestPending = &t
	}
	return stats, nil
}

func (r *OutboxRepoMongoDB) ensureExists(ctx context.Context, id uuid.UUID) error {
	n, err := r.outboxColl.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", sharedDomain.ErrOutboxNotFound, id)
	}
	return nil
}

func toMongoOutbox(msg sharedDomain.OutboxMessage) *mongoOutboxMessage {
	created := msg.CreatedAt.UTC()
	return &mongoOutboxMessage{
		ID:             msg.ID.String(),
		IdempotencyKey: msg.IdempotencyKey.String(),
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        string(msg.Payload),
		Status:         string(sharedDomain.OutboxPending),
		Attempts:       msg.Attempts,
		AvailableAt:    created,
		CreatedAt:      created,
	}
}

func fromMongoOutbox(mo *mongoOutboxMessage) (sharedDomain.OutboxMessage, error) {
	id, err := uuid.Parse(mo.ID)
	if err != nil {
		return sharedDomain.OutboxMessage{}, fmt.Errorf("invalid UUID in outbox document: %w", err)
	}
	key, err := uuid.Parse(mo.IdempotencyKey)
	if err != nil {
		return sharedDomain.OutboxMessage{}, fmt.Errorf("invalid idempotency key in outbox document %s: %w", mo.ID, err)
	}
	msg := sharedDomain.OutboxMessage{
		ID:             id,
		IdempotencyKey: key,
		AggregateType:  mo.AggregateType,
		AggregateID:    mo.AggregateID,
		EventType:      mo.EventType,
		Payload:        []byte(mo.Payload),
		Status:         sharedDomain.OutboxStatus(mo.Status),
		Attempts:       mo.Attempts,
		CreatedAt:      mo.CreatedAt.UTC(),
	}
	if mo.PublishedAt != nil {
		t := mo.PublishedAt.UTC()
		msg.PublishedAt = &t
	}
	return msg, nil
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxStore = (*OutboxRepoMongoDB)(nil)
