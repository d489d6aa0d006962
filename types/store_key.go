package types

import (
	"fmt"
	"sort"
	"strings"
)

// StoreType identifies the kind of an artifact store.
type StoreType string

const (
	StoreTypeRemote StoreType = "remote"
	StoreTypeHosted StoreType = "hosted"
	StoreTypeGroup  StoreType = "group"
)

// Package types understood by the registry.
const (
	PackageTypeMaven       = "maven"
	PackageTypeNPM         = "npm"
	PackageTypeGenericHTTP = "generic-http"
)

// AllStoreTypes lists every store type in canonical order.
var AllStoreTypes = []StoreType{StoreTypeRemote, StoreTypeHosted, StoreTypeGroup}

// ConcreteStoreTypes are the store types that hold content themselves.
var ConcreteStoreTypes = []StoreType{StoreTypeRemote, StoreTypeHosted}

// ParseStoreType accepts singular and plural spellings ("remote", "remotes").
func ParseStoreType(s string) (StoreType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "remote", "remotes", "repository", "repositories":
		return StoreTypeRemote, nil
	case "hosted", "hosteds", "deploy_point", "deploy_points":
		return StoreTypeHosted, nil
	case "group", "groups":
		return StoreTypeGroup, nil
	default:
		return "", fmt.Errorf("unknown store type: %q", s)
	}
}

// Valid reports whether t is one of the known store types.
func (t StoreType) Valid() bool {
	switch t {
	case StoreTypeRemote, StoreTypeHosted, StoreTypeGroup:
		return true
	}
	return false
}

// IsConcrete reports whether stores of this type hold content directly.
func (t StoreType) IsConcrete() bool {
	return t == StoreTypeRemote || t == StoreTypeHosted
}

// StoreKey is the immutable identity of a store. It is comparable and is used
// directly as a map key and lock-table key.
type StoreKey struct {
	PackageType string    `json:"package_type"`
	Type        StoreType `json:"type"`
	Name        string    `json:"name"`
}

// NewStoreKey builds a StoreKey.
func NewStoreKey(packageType string, storeType StoreType, name string) StoreKey {
	return StoreKey{PackageType: packageType, Type: storeType, Name: name}
}

// ParseStoreKey parses "pkg:type:name". The legacy "type:name" form defaults to
// the maven package type.
func ParseStoreKey(s string) (StoreKey, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	var key StoreKey
	switch len(parts) {
	case 2:
		t, err := ParseStoreType(parts[0])
		if err != nil {
			return StoreKey{}, err
		}
		key = StoreKey{PackageType: PackageTypeMaven, Type: t, Name: parts[1]}
	case 3:
		t, err := ParseStoreType(parts[1])
		if err != nil {
			return StoreKey{}, err
		}
		key = StoreKey{PackageType: parts[0], Type: t, Name: parts[2]}
	default:
		return StoreKey{}, fmt.Errorf("invalid store key: %q", s)
	}
	if err := key.Validate(); err != nil {
		return StoreKey{}, err
	}
	return key, nil
}

// MustParseStoreKey is ParseStoreKey that panics on error. Intended for
// constants and tests.
func MustParseStoreKey(s string) StoreKey {
	k, err := ParseStoreKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// String renders the key as "pkg:type:name".
func (k StoreKey) String() string {
	return k.PackageType + ":" + string(k.Type) + ":" + k.Name
}

// IsZero reports whether k is the zero key.
func (k StoreKey) IsZero() bool {
	return k == StoreKey{}
}

// Validate checks that every component is present and the type is known.
func (k StoreKey) Validate() error {
	if k.PackageType == "" {
		return fmt.Errorf("store key %q: package type is required", k.String())
	}
	if !k.Type.Valid() {
		return fmt.Errorf("store key %q: unknown store type %q", k.String(), k.Type)
	}
	if k.Name == "" {
		return fmt.Errorf("store key %q: name is required", k.String())
	}
	if strings.Contains(k.PackageType, ":") {
		return fmt.Errorf("store key %q: package type must not contain ':'", k.String())
	}
	return nil
}

// MarshalText renders the key in its string form so it can be used as a JSON
// value and JSON object key.
func (k StoreKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the string form.
func (k *StoreKey) UnmarshalText(b []byte) error {
	parsed, err := ParseStoreKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// StoreKeySet is a set of keys.
type StoreKeySet map[StoreKey]struct{}

// NewStoreKeySet builds a set from keys.
func NewStoreKeySet(keys ...StoreKey) StoreKeySet {
	s := make(StoreKeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts k and reports whether it was absent.
func (s StoreKeySet) Add(k StoreKey) bool {
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}

// Has reports membership.
func (s StoreKeySet) Has(k StoreKey) bool {
	_, ok := s[k]
	return ok
}

// Sorted returns the keys ordered by their string form.
func (s StoreKeySet) Sorted() []StoreKey {
	out := make([]StoreKey, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	SortStoreKeys(out)
	return out
}

// SortStoreKeys sorts keys in place by their string form.
func SortStoreKeys(keys []StoreKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
