package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "transactions"

// Mongo keeps mirror records in a MongoDB collection keyed by event id.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ Mirror = (*Mongo)(nil)

func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collectionName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "recorded_at", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create mirror index: %w", err)
	}
	return &Mongo{client: client, coll: coll}, nil
}

func (m *Mongo) Record(ctx context.Context, r Record) error {
	_, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": r.EventID},
		bson.M{"$setOnInsert": r},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("record mirror event %s: %w", r.EventID, err)
	}
	return nil
}

func (m *Mongo) History(ctx context.Context, accountID uint) (string, error) {
	cur, err := m.coll.Find(ctx,
		bson.M{"account_id": accountID},
		options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}, {Key: "transaction_id", Value: 1}}),
	)
	if err != nil {
		return "", fmt.Errorf("query mirror history: %w", err)
	}
	records := make([]Record, 0)
	if err := cur.All(ctx, &records); err != nil {
		return "", fmt.Errorf("decode mirror history: %w", err)
	}
	b, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
