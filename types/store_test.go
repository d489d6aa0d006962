package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseStoreKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    StoreKey
		wantErr bool
	}{
		{"three part", "maven:remote:central", NewStoreKey("maven", StoreTypeRemote, "central"), false},
		{"plural type", "npm:groups:public", NewStoreKey("npm", StoreTypeGroup, "public"), false},
		{"legacy two part", "hosted:local", NewStoreKey("maven", StoreTypeHosted, "local"), false},
		{"name with colon", "maven:remote:a:b", NewStoreKey("maven", StoreTypeRemote, "a:b"), false},
		{"unknown type", "maven:bogus:x", StoreKey{}, true},
		{"missing name", "maven:remote:", StoreKey{}, true},
		{"single part", "central", StoreKey{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStoreKey(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStoreKey_StringRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := StoreKey{
			PackageType: rapid.StringMatching(`[a-z][a-z0-9-]{0,10}`).Draw(t, "pkg"),
			Type:        rapid.SampledFrom(AllStoreTypes).Draw(t, "type"),
			Name:        rapid.StringMatching(`[A-Za-z0-9_.:-]{1,20}`).Draw(t, "name"),
		}
		parsed, err := ParseStoreKey(key.String())
		if err != nil {
			t.Fatalf("parse %q: %v", key.String(), err)
		}
		if parsed != key {
			t.Fatalf("round trip mismatch: %v != %v", parsed, key)
		}
	})
}

func TestStoreKey_JSONMapKey(t *testing.T) {
	key := NewStoreKey("maven", StoreTypeHosted, "local")
	data, err := json.Marshal(map[StoreKey]int{key: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"maven:hosted:local":1}`, string(data))

	var back map[StoreKey]int
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 1, back[key])
}

func TestArtifactStore_Validate(t *testing.T) {
	remote := NewRemoteRepository("maven", "central", "https://repo.maven.apache.org/maven2/")
	require.NoError(t, remote.Validate())
	assert.Equal(t, "repo.maven.apache.org", remote.Remote.Host)
	assert.Equal(t, 443, remote.Remote.Port)

	mismatched := remote.Copy()
	mismatched.Key.Type = StoreTypeHosted
	assert.Error(t, mismatched.Validate())

	twoVariants := NewHostedRepository("maven", "local")
	twoVariants.Group = &Group{}
	assert.Error(t, twoVariants.Validate())

	noURL := NewRemoteRepository("maven", "empty", "")
	assert.Error(t, noURL.Validate())
}

func TestArtifactStore_CopyIsDeep(t *testing.T) {
	g := NewGroup("maven", "public",
		NewStoreKey("maven", StoreTypeHosted, "local"),
		NewStoreKey("maven", StoreTypeRemote, "central"))
	g.SetMetadata("k", "v")

	c := g.Copy()
	c.Group.Constituents[0] = NewStoreKey("maven", StoreTypeHosted, "other")
	c.SetMetadata("k", "changed")

	assert.Equal(t, "local", g.Group.Constituents[0].Name)
	assert.Equal(t, "v", g.GetMetadata("k"))
}

func TestGroup_Constituents(t *testing.T) {
	a := NewStoreKey("maven", StoreTypeHosted, "a")
	b := NewStoreKey("maven", StoreTypeHosted, "b")
	c := NewStoreKey("maven", StoreTypeRemote, "c")

	g := NewGroup("maven", "g", a, b, a)
	assert.Equal(t, []StoreKey{a, b}, g.Group.Constituents)

	assert.True(t, g.Group.AddConstituent(c))
	assert.False(t, g.Group.AddConstituent(c))
	assert.Equal(t, []StoreKey{a, b, c}, g.Group.Constituents)

	g.Group.PrependConstituent = true
	d := NewStoreKey("maven", StoreTypeRemote, "d")
	g.Group.AddConstituent(d)
	assert.Equal(t, d, g.Group.Constituents[0])

	assert.True(t, g.Group.RemoveConstituent(b))
	assert.False(t, g.Group.HasConstituent(b))
	assert.False(t, g.Group.RemoveConstituent(b))
}

func TestArtifactStore_IsReadonly(t *testing.T) {
	h := NewHostedRepository("maven", "releases")
	assert.False(t, h.IsReadonly())
	h.Hosted.Readonly = true
	assert.True(t, h.IsReadonly())

	assert.False(t, NewGroup("maven", "g").IsReadonly())
}

func TestSetPathMaskPatterns(t *testing.T) {
	s := NewHostedRepository("maven", "local")
	s.SetPathMaskPatterns("org/foo", "", "com/bar", "org/foo")
	assert.Equal(t, []string{"com/bar", "org/foo"}, s.PathMaskPatterns)
}
