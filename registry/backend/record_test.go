package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/storeflow/types"
)

func TestRecord_ExtrasKeys(t *testing.T) {
	_, _, public := sampleStores()
	public.Group.PrependConstituent = true

	rec, err := ToRecord(public)
	require.NoError(t, err)
	assert.Equal(t, "group", rec.StoreType)
	assert.Equal(t, `["maven:hosted:local-deployments","maven:remote:central"]`, rec.Extras["constituents"])
	assert.Equal(t, "true", rec.Extras["prepend_constituent"])

	hosted := types.NewHostedRepository(types.PackageTypeMaven, "releases")
	rec, err = ToRecord(hosted)
	require.NoError(t, err)
	assert.Equal(t, "false", rec.Extras["readonly"])
	assert.Equal(t, "true", rec.Extras["allow_releases"])
	assert.NotContains(t, rec.Extras, "storage")
}

func TestRecord_MissingVariant(t *testing.T) {
	s := &types.ArtifactStore{Key: types.NewStoreKey("maven", types.StoreTypeRemote, "r")}
	_, err := ToRecord(s)
	assert.Error(t, err)

	_, err = ToRecord(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = FromRecord(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFromRecord_BadConstituents(t *testing.T) {
	rec := &Record{
		PackageType: "maven",
		StoreType:   "group",
		Name:        "public",
		Extras:      map[string]string{"constituents": "not json"},
	}
	_, err := FromRecord(rec)
	assert.Error(t, err)

	rec.Extras["constituents"] = `["bogus"]`
	_, err = FromRecord(rec)
	assert.Error(t, err)

	rec.StoreType = "unknown"
	_, err = FromRecord(rec)
	assert.Error(t, err)
}

func TestFromRecord_LegacyConstituent(t *testing.T) {
	rec := &Record{
		PackageType: "maven",
		StoreType:   "group",
		Name:        "public",
		Extras:      map[string]string{"constituents": `["hosted:local","remote:central"]`},
	}
	s, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, []types.StoreKey{
		types.NewStoreKey("maven", types.StoreTypeHosted, "local"),
		types.NewStoreKey("maven", types.StoreTypeRemote, "central"),
	}, s.Constituents())
}

func genName() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9\-]{0,11}`)
}

func genStore() *rapid.Generator[*types.ArtifactStore] {
	return rapid.Custom(func(t *rapid.T) *types.ArtifactStore {
		pkg := rapid.SampledFrom([]string{types.PackageTypeMaven, types.PackageTypeNPM}).Draw(t, "pkg")
		name := genName().Draw(t, "name")

		var s *types.ArtifactStore
		switch rapid.SampledFrom(types.AllStoreTypes).Draw(t, "type") {
		case types.StoreTypeRemote:
			s = types.NewRemoteRepository(pkg, name, "https://"+name+".example.com:8443/repo")
			s.Remote.TimeoutSeconds = rapid.IntRange(0, 600).Draw(t, "timeout")
			s.Remote.Passthrough = rapid.Bool().Draw(t, "passthrough")
			s.Remote.User = rapid.SampledFrom([]string{"", "deployer"}).Draw(t, "user")
		case types.StoreTypeHosted:
			s = types.NewHostedRepository(pkg, name)
			s.Hosted.Readonly = rapid.Bool().Draw(t, "readonly")
			s.Hosted.AllowSnapshots = rapid.Bool().Draw(t, "snapshots")
			s.Hosted.SnapshotTimeoutSeconds = rapid.IntRange(0, 3600).Draw(t, "snapshotTimeout")
		default:
			s = types.NewGroup(pkg, name)
			members := rapid.SliceOfDistinct(genName(), func(n string) string { return n }).Draw(t, "members")
			for _, m := range members {
				s.Group.AddConstituent(types.NewStoreKey(pkg, types.StoreTypeHosted, m))
			}
			s.Group.PrependConstituent = rapid.Bool().Draw(t, "prepend")
		}
		s.Disabled = rapid.Bool().Draw(t, "disabled")
		s.DisableTimeout = rapid.IntRange(-1, 100).Draw(t, "disableTimeout")
		s.Description = rapid.SampledFrom([]string{"", "desc"}).Draw(t, "description")
		return s
	})
}

func TestRecord_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := genStore().Draw(t, "store")

		rec, err := ToRecord(s)
		if err != nil {
			t.Fatalf("ToRecord: %v", err)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded Record
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		back, err := FromRecord(&decoded)
		if err != nil {
			t.Fatalf("FromRecord: %v", err)
		}

		if !back.CreateTime.Equal(s.CreateTime) {
			t.Fatalf("create time changed: %v != %v", back.CreateTime, s.CreateTime)
		}
		back.CreateTime = s.CreateTime
		assert.Equal(t, s, back)
	})
}
