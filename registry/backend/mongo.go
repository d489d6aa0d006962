package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/types"
)

// MongoConfig configures the Mongo backend.
type MongoConfig struct {
	URI            string        `yaml:"uri" json:"uri"`
	Database       string        `yaml:"database" json:"database"`
	Collection     string        `yaml:"collection" json:"collection"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// DefaultMongoConfig returns defaults for a local server.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "storeflow",
		Collection:     "artifact_stores",
		ConnectTimeout: 10 * time.Second,
	}
}

// mongoDocument is a Record keyed by the store key string.
type mongoDocument struct {
	ID     string `bson:"_id"`
	Record `bson:",inline"`
}

func toDocument(store *types.ArtifactStore) (*mongoDocument, error) {
	rec, err := ToRecord(store)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Now().UTC()
	return &mongoDocument{ID: store.Key.String(), Record: *rec}, nil
}

func byKey(key types.StoreKey) bson.D {
	return bson.D{{Key: "_id", Value: key.String()}}
}

func byPackageAndType(packageType string, storeType types.StoreType) bson.D {
	return bson.D{
		{Key: "package_type", Value: packageType},
		{Key: "store_type", Value: string(storeType)},
	}
}

// MongoBackend keeps one document per store. Affected-by edges live in a
// sibling collection, one document per member holding its group keys.
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
	edges      *mongo.Collection
	logger     *zap.Logger
}

// edgeDocument lists the groups containing one member.
type edgeDocument struct {
	ID     string   `bson:"_id"`
	Groups []string `bson:"groups"`
}

// NewMongoBackend connects to Mongo and ensures the lookup index exists.
func NewMongoBackend(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("mongo database and collection are required")
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	b := &MongoBackend{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		edges:      client.Database(cfg.Database).Collection(cfg.Collection + "_affected"),
		logger:     logger.With(zap.String("component", "mongo_backend")),
	}

	_, err = b.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "package_type", Value: 1}, {Key: "store_type", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create mongo index: %w", err)
	}

	b.logger.Info("mongo backend initialized",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
	)
	return b, nil
}

// Close disconnects the client
func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}

// Ping checks if the primary is reachable
func (b *MongoBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx, readpref.Primary())
}

func decodeSingle(res *mongo.SingleResult) (*types.ArtifactStore, error) {
	var doc mongoDocument
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return FromRecord(&doc.Record)
}

// Get retrieves a store by key
func (b *MongoBackend) Get(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	return decodeSingle(b.collection.FindOne(ctx, byKey(key)))
}

// Put replaces or inserts a store and returns the document it replaced
func (b *MongoBackend) Put(ctx context.Context, store *types.ArtifactStore) (*types.ArtifactStore, error) {
	if err := checkStore(store); err != nil {
		return nil, err
	}
	doc, err := toDocument(store)
	if err != nil {
		return nil, err
	}
	opts := options.FindOneAndReplace().
		SetUpsert(true).
		SetReturnDocument(options.Before)
	return decodeSingle(b.collection.FindOneAndReplace(ctx, byKey(store.Key), doc, opts))
}

// Remove deletes a store and returns the deleted document
func (b *MongoBackend) Remove(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	return decodeSingle(b.collection.FindOneAndDelete(ctx, byKey(key)))
}

// Keys lists all keys
func (b *MongoBackend) Keys(ctx context.Context) ([]types.StoreKey, error) {
	opts := options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}})
	cur, err := b.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var keys []types.StoreKey
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		k, err := types.ParseStoreKey(doc.ID)
		if err != nil {
			return nil, corruptError(doc.ID, err)
		}
		keys = append(keys, k)
	}
	return keys, cur.Err()
}

// List returns all stores
func (b *MongoBackend) List(ctx context.Context) ([]*types.ArtifactStore, error) {
	return b.find(ctx, bson.D{})
}

// ListByPackageAndType returns the stores matching packageType and storeType
func (b *MongoBackend) ListByPackageAndType(ctx context.Context, packageType string, storeType types.StoreType) ([]*types.ArtifactStore, error) {
	return b.find(ctx, byPackageAndType(packageType, storeType))
}

func (b *MongoBackend) find(ctx context.Context, filter bson.D) ([]*types.ArtifactStore, error) {
	cur, err := b.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	result := make([]*types.ArtifactStore, 0)
	for cur.Next(ctx) {
		var doc mongoDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		s, err := FromRecord(&doc.Record)
		if err != nil {
			return nil, corruptError(doc.ID, err)
		}
		result = append(result, s)
	}
	return result, cur.Err()
}

// IsEmpty reports whether the collection holds no store
func (b *MongoBackend) IsEmpty(ctx context.Context) (bool, error) {
	n, err := b.collection.CountDocuments(ctx, bson.D{}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Clear removes every store and edge document
func (b *MongoBackend) Clear(ctx context.Context) error {
	if _, err := b.edges.DeleteMany(ctx, bson.D{}); err != nil {
		return err
	}
	_, err := b.collection.DeleteMany(ctx, bson.D{})
	return err
}

// AddAffectedBy records group as a direct container of members
func (b *MongoBackend) AddAffectedBy(ctx context.Context, group types.StoreKey, members []types.StoreKey) error {
	if len(members) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(members))
	for _, m := range members {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(byKey(m)).
			SetUpdate(addToGroups(group)).
			SetUpsert(true))
	}
	_, err := b.edges.BulkWrite(ctx, models)
	return err
}

// RemoveAffectedBy drops the edges from members to group
func (b *MongoBackend) RemoveAffectedBy(ctx context.Context, group types.StoreKey, members []types.StoreKey) error {
	if len(members) == 0 {
		return nil
	}
	_, err := b.edges.UpdateMany(ctx, byKeys(members), pullFromGroups(group))
	return err
}

// AffectedBy returns the groups listing member directly
func (b *MongoBackend) AffectedBy(ctx context.Context, member types.StoreKey) ([]types.StoreKey, error) {
	var doc edgeDocument
	if err := b.edges.FindOne(ctx, byKey(member)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	groups := make([]types.StoreKey, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		k, err := types.ParseStoreKey(g)
		if err != nil {
			return nil, corruptError(g, err)
		}
		groups = append(groups, k)
	}
	return groups, nil
}

func byKeys(keys []types.StoreKey) bson.D {
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.String())
	}
	return bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
}

func addToGroups(group types.StoreKey) bson.D {
	return bson.D{{Key: "$addToSet", Value: bson.D{{Key: "groups", Value: group.String()}}}}
}

func pullFromGroups(group types.StoreKey) bson.D {
	return bson.D{{Key: "$pull", Value: bson.D{{Key: "groups", Value: group.String()}}}}
}

var (
	_ Backend       = (*MongoBackend)(nil)
	_ AffectedEdges = (*MongoBackend)(nil)
)
