package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/BaSui01/storeflow/types"
)

// Extras keys for type-specific fields.
const (
	extraURL                        = "url"
	extraHost                       = "host"
	extraPort                       = "port"
	extraUser                       = "user"
	extraPassword                   = "password"
	extraProxyHost                  = "proxy_host"
	extraProxyPort                  = "proxy_port"
	extraProxyUser                  = "proxy_user"
	extraProxyPassword              = "proxy_password"
	extraKeyCertPem                 = "key_cert_pem"
	extraServerCertPem              = "server_cert_pem"
	extraTimeoutSeconds             = "timeout_seconds"
	extraMaxConnections             = "max_connections"
	extraMetadataTimeoutSeconds     = "metadata_timeout_seconds"
	extraCacheTimeoutSeconds        = "cache_timeout_seconds"
	extraNfcTimeoutSeconds          = "nfc_timeout_seconds"
	extraPassThrough                = "pass_through"
	extraPrefetchRescan             = "prefetch_rescan"
	extraPrefetchPriority           = "prefetch_priority"
	extraIgnoreHostnameVerification = "ignore_hostname_verification"

	extraStorage                = "storage"
	extraReadonly               = "readonly"
	extraSnapshotTimeoutSeconds = "snapshot_timeout_seconds"
	extraAllowSnapshots         = "allow_snapshots"
	extraAllowReleases          = "allow_releases"

	extraConstituents       = "constituents"
	extraPrependConstituent = "prepend_constituent"
)

// Record is the backend-agnostic persisted shape of a store. Common fields
// are columns; type-specific fields live in Extras so the schema does not
// change when a store type gains fields.
type Record struct {
	PackageType        string            `gorm:"primaryKey;size:64" bson:"package_type" json:"package_type"`
	StoreType          string            `gorm:"primaryKey;size:16" bson:"store_type" json:"store_type"`
	Name               string            `gorm:"primaryKey;size:255" bson:"name" json:"name"`
	Description        string            `gorm:"type:text" bson:"description,omitempty" json:"description,omitempty"`
	Disabled           bool              `bson:"disabled" json:"disabled"`
	DisableTimeout     int               `bson:"disable_timeout" json:"disable_timeout"`
	Metadata           map[string]string `gorm:"serializer:json;type:text" bson:"metadata,omitempty" json:"metadata,omitempty"`
	PathMaskPatterns   []string          `gorm:"serializer:json;type:text" bson:"path_mask_patterns,omitempty" json:"path_mask_patterns,omitempty"`
	AuthoritativeIndex bool              `bson:"authoritative_index" json:"authoritative_index"`
	RescanInProgress   bool              `bson:"rescan_in_progress" json:"rescan_in_progress"`
	CreateTime         time.Time         `bson:"create_time" json:"create_time"`
	Extras             map[string]string `gorm:"serializer:json;type:text" bson:"extras,omitempty" json:"extras,omitempty"`
	UpdatedAt          time.Time         `bson:"updated_at" json:"updated_at"`
}

// TableName binds Record to the artifact_stores table.
func (Record) TableName() string { return "artifact_stores" }

// Key returns the record's store key.
func (r *Record) Key() types.StoreKey {
	return types.NewStoreKey(r.PackageType, types.StoreType(r.StoreType), r.Name)
}

// ToRecord flattens a store into its persisted shape.
func ToRecord(store *types.ArtifactStore) (*Record, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	r := &Record{
		PackageType:        store.Key.PackageType,
		StoreType:          string(store.Key.Type),
		Name:               store.Key.Name,
		Description:        store.Description,
		Disabled:           store.Disabled,
		DisableTimeout:     store.DisableTimeout,
		AuthoritativeIndex: store.AuthoritativeIndex,
		RescanInProgress:   store.RescanInProgress,
		CreateTime:         store.CreateTime.UTC(),
		Extras:             make(map[string]string),
	}
	if len(store.Metadata) > 0 {
		r.Metadata = make(map[string]string, len(store.Metadata))
		for k, v := range store.Metadata {
			r.Metadata[k] = v
		}
	}
	if len(store.PathMaskPatterns) > 0 {
		r.PathMaskPatterns = append([]string(nil), store.PathMaskPatterns...)
	}

	e := r.Extras
	switch store.Key.Type {
	case types.StoreTypeRemote:
		rr := store.Remote
		if rr == nil {
			return nil, fmt.Errorf("store %s: remote settings missing", store.Key)
		}
		putString(e, extraURL, rr.URL)
		putString(e, extraHost, rr.Host)
		putInt(e, extraPort, rr.Port)
		putString(e, extraUser, rr.User)
		putString(e, extraPassword, rr.Password)
		putString(e, extraProxyHost, rr.ProxyHost)
		putInt(e, extraProxyPort, rr.ProxyPort)
		putString(e, extraProxyUser, rr.ProxyUser)
		putString(e, extraProxyPassword, rr.ProxyPassword)
		putString(e, extraKeyCertPem, rr.KeyCertPem)
		putString(e, extraServerCertPem, rr.ServerCertPem)
		putInt(e, extraTimeoutSeconds, rr.TimeoutSeconds)
		putInt(e, extraMaxConnections, rr.MaxConnections)
		putInt(e, extraMetadataTimeoutSeconds, rr.MetadataTimeoutSeconds)
		putInt(e, extraCacheTimeoutSeconds, rr.CacheTimeoutSeconds)
		putInt(e, extraNfcTimeoutSeconds, rr.NfcTimeoutSeconds)
		putBool(e, extraPassThrough, rr.Passthrough)
		putBool(e, extraPrefetchRescan, rr.PrefetchRescan)
		putInt(e, extraPrefetchPriority, rr.PrefetchPriority)
		putBool(e, extraIgnoreHostnameVerification, rr.IgnoreHostnameVerification)
	case types.StoreTypeHosted:
		h := store.Hosted
		if h == nil {
			return nil, fmt.Errorf("store %s: hosted settings missing", store.Key)
		}
		putString(e, extraStorage, h.Storage)
		putBool(e, extraReadonly, h.Readonly)
		putInt(e, extraSnapshotTimeoutSeconds, h.SnapshotTimeoutSeconds)
		putBool(e, extraAllowSnapshots, h.AllowSnapshots)
		putBool(e, extraAllowReleases, h.AllowReleases)
	case types.StoreTypeGroup:
		g := store.Group
		if g == nil {
			return nil, fmt.Errorf("store %s: group settings missing", store.Key)
		}
		names := make([]string, len(g.Constituents))
		for i, k := range g.Constituents {
			names[i] = k.String()
		}
		data, err := json.Marshal(names)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal constituents: %w", err)
		}
		e[extraConstituents] = string(data)
		putBool(e, extraPrependConstituent, g.PrependConstituent)
	default:
		return nil, fmt.Errorf("store %s: unknown store type", store.Key)
	}
	return r, nil
}

// FromRecord rebuilds a store from its persisted shape.
func FromRecord(r *Record) (*types.ArtifactStore, error) {
	if r == nil {
		return nil, ErrInvalidInput
	}
	key := r.Key()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s := &types.ArtifactStore{
		Key:                key,
		Description:        r.Description,
		Disabled:           r.Disabled,
		DisableTimeout:     r.DisableTimeout,
		AuthoritativeIndex: r.AuthoritativeIndex,
		RescanInProgress:   r.RescanInProgress,
		CreateTime:         r.CreateTime.UTC(),
	}
	if len(r.Metadata) > 0 {
		s.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			s.Metadata[k] = v
		}
	}
	if len(r.PathMaskPatterns) > 0 {
		s.PathMaskPatterns = append([]string(nil), r.PathMaskPatterns...)
	}

	e := r.Extras
	switch key.Type {
	case types.StoreTypeRemote:
		s.Remote = &types.RemoteRepository{
			URL:                        e[extraURL],
			Host:                       e[extraHost],
			Port:                       getInt(e, extraPort),
			User:                       e[extraUser],
			Password:                   e[extraPassword],
			ProxyHost:                  e[extraProxyHost],
			ProxyPort:                  getInt(e, extraProxyPort),
			ProxyUser:                  e[extraProxyUser],
			ProxyPassword:              e[extraProxyPassword],
			KeyCertPem:                 e[extraKeyCertPem],
			ServerCertPem:              e[extraServerCertPem],
			TimeoutSeconds:             getInt(e, extraTimeoutSeconds),
			MaxConnections:             getInt(e, extraMaxConnections),
			MetadataTimeoutSeconds:     getInt(e, extraMetadataTimeoutSeconds),
			CacheTimeoutSeconds:        getInt(e, extraCacheTimeoutSeconds),
			NfcTimeoutSeconds:          getInt(e, extraNfcTimeoutSeconds),
			Passthrough:                getBool(e, extraPassThrough),
			PrefetchRescan:             getBool(e, extraPrefetchRescan),
			PrefetchPriority:           getInt(e, extraPrefetchPriority),
			IgnoreHostnameVerification: getBool(e, extraIgnoreHostnameVerification),
		}
	case types.StoreTypeHosted:
		s.Hosted = &types.HostedRepository{
			Storage:                e[extraStorage],
			Readonly:               getBool(e, extraReadonly),
			SnapshotTimeoutSeconds: getInt(e, extraSnapshotTimeoutSeconds),
			AllowSnapshots:         getBool(e, extraAllowSnapshots),
			AllowReleases:          getBool(e, extraAllowReleases),
		}
	case types.StoreTypeGroup:
		g := &types.Group{PrependConstituent: getBool(e, extraPrependConstituent)}
		if raw := e[extraConstituents]; raw != "" {
			var names []string
			if err := json.Unmarshal([]byte(raw), &names); err != nil {
				return nil, fmt.Errorf("store %s: bad constituents: %w", key, err)
			}
			for _, n := range names {
				k, err := types.ParseStoreKey(n)
				if err != nil {
					return nil, fmt.Errorf("store %s: bad constituent %q: %w", key, n, err)
				}
				g.Constituents = append(g.Constituents, k)
			}
		}
		s.Group = g
	}
	return s, nil
}

func putString(e map[string]string, k, v string) {
	if v != "" {
		e[k] = v
	}
}

func putInt(e map[string]string, k string, v int) {
	if v != 0 {
		e[k] = strconv.Itoa(v)
	}
}

func putBool(e map[string]string, k string, v bool) {
	e[k] = strconv.FormatBool(v)
}

func getInt(e map[string]string, k string) int {
	n, _ := strconv.Atoi(e[k])
	return n
}

func getBool(e map[string]string, k string) bool {
	b, _ := strconv.ParseBool(e[k])
	return b
}
