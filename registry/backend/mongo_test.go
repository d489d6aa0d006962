package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BaSui01/storeflow/types"
)

func TestMongoDocument_BSONRoundTrip(t *testing.T) {
	central, _, public := sampleStores()

	for _, s := range []*types.ArtifactStore{central, public} {
		doc, err := toDocument(s)
		require.NoError(t, err)
		assert.Equal(t, s.Key.String(), doc.ID)

		data, err := bson.Marshal(doc)
		require.NoError(t, err)

		var raw bson.M
		require.NoError(t, bson.Unmarshal(data, &raw))
		assert.Equal(t, s.Key.String(), raw["_id"])
		assert.Equal(t, s.Key.PackageType, raw["package_type"])
		assert.Equal(t, string(s.Key.Type), raw["store_type"])

		var decoded mongoDocument
		require.NoError(t, bson.Unmarshal(data, &decoded))
		back, err := FromRecord(&decoded.Record)
		require.NoError(t, err)
		assert.Equal(t, s.Key, back.Key)
		assert.Equal(t, s.Constituents(), back.Constituents())
	}
}

func TestMongoFilters(t *testing.T) {
	key := types.NewStoreKey("npm", types.StoreTypeGroup, "all")
	assert.Equal(t, bson.D{{Key: "_id", Value: "npm:group:all"}}, byKey(key))
	assert.Equal(t, bson.D{
		{Key: "package_type", Value: "npm"},
		{Key: "store_type", Value: "hosted"},
	}, byPackageAndType("npm", types.StoreTypeHosted))

	members := []types.StoreKey{
		types.NewStoreKey("npm", types.StoreTypeHosted, "a"),
		types.NewStoreKey("npm", types.StoreTypeRemote, "b"),
	}
	assert.Equal(t, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: []string{"npm:hosted:a", "npm:remote:b"}}}}}, byKeys(members))
	assert.Equal(t, bson.D{{Key: "$addToSet", Value: bson.D{{Key: "groups", Value: "npm:group:all"}}}}, addToGroups(key))
	assert.Equal(t, bson.D{{Key: "$pull", Value: bson.D{{Key: "groups", Value: "npm:group:all"}}}}, pullFromGroups(key))
}

func TestNewMongoBackend_RequiresNames(t *testing.T) {
	cfg := DefaultMongoConfig()
	cfg.Collection = ""
	_, err := NewMongoBackend(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewMongoBackend_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}
	cfg := DefaultMongoConfig()
	cfg.URI = "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200"
	cfg.ConnectTimeout = 200 * time.Millisecond

	_, err := NewMongoBackend(context.Background(), cfg, nil)
	assert.Error(t, err)
}
