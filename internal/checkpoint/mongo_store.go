package checkpoint

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoOffsetDoc is the BSON document shape for one source's checkpoint,
// keyed by source name per spec §6 ("a key-value file or table keyed by
// source Name").
type mongoOffsetDoc struct {
	SourceName string `bson:"_id"`
	LastOffset int64  `bson:"last_offset"`
	KnownSize  int64  `bson:"known_size"`
	Status     string `bson:"status"`
	LastError  string `bson:"last_error,omitempty"`
}

// MongoStore persists checkpoints as one document per source in a
// MongoDB collection — a durable, table-backed alternative to FileStore
// for deployments that already run MongoDB for other ThreatLens state.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to uri and opens database/collection for
// checkpoint storage.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Save upserts the checkpoint document for o.SourceName.
func (m *MongoStore) Save(ctx context.Context, o Offset) error {
	doc := mongoOffsetDoc{
		SourceName: o.SourceName,
		LastOffset: o.LastOffset,
		KnownSize:  o.KnownSize,
		Status:     o.Status,
		LastError:  o.LastError,
	}
	_, err := m.collection.ReplaceOne(
		ctx,
		bson.M{"_id": o.SourceName},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

// Load fetches the checkpoint document for sourceName, if any.
func (m *MongoStore) Load(ctx context.Context, sourceName string) (Offset, bool, error) {
	var doc mongoOffsetDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": sourceName}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Offset{}, false, nil
	}
	if err != nil {
		return Offset{}, false, err
	}
	return Offset{
		SourceName: doc.SourceName,
		LastOffset: doc.LastOffset,
		KnownSize:  doc.KnownSize,
		Status:     doc.Status,
		LastError:  doc.LastError,
	}, true, nil
}

// Close disconnects the underlying MongoDB client.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
