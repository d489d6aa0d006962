package types

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Well-known metadata keys.
const (
	MetadataChangelog        = "changelog"
	MetadataOrigin           = "origin"
	MetadataValidationFailed = "validation.failed"
	MetadataValidationErrors = "validation.errors"
	MetadataValidatedAt      = "validation.at"
)

// ArtifactStore is a store definition. Exactly one of Remote, Hosted or Group
// is set, and it always matches Key.Type.
type ArtifactStore struct {
	Key                StoreKey          `json:"key"`
	Description        string            `json:"description,omitempty"`
	Disabled           bool              `json:"disabled"`
	DisableTimeout     int               `json:"disable_timeout"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	PathMaskPatterns   []string          `json:"path_mask_patterns,omitempty"`
	AuthoritativeIndex bool              `json:"authoritative_index"`
	RescanInProgress   bool              `json:"rescan_in_progress"`
	CreateTime         time.Time         `json:"create_time"`

	Remote *RemoteRepository `json:"remote,omitempty"`
	Hosted *HostedRepository `json:"hosted,omitempty"`
	Group  *Group            `json:"group,omitempty"`
}

// RemoteRepository holds the proxy settings of a remote store.
type RemoteRepository struct {
	URL                        string `json:"url"`
	Host                       string `json:"host,omitempty"`
	Port                       int    `json:"port,omitempty"`
	User                       string `json:"user,omitempty"`
	Password                   string `json:"password,omitempty"`
	ProxyHost                  string `json:"proxy_host,omitempty"`
	ProxyPort                  int    `json:"proxy_port,omitempty"`
	ProxyUser                  string `json:"proxy_user,omitempty"`
	ProxyPassword              string `json:"proxy_password,omitempty"`
	KeyCertPem                 string `json:"key_certificate_pem,omitempty"`
	ServerCertPem              string `json:"server_certificate_pem,omitempty"`
	TimeoutSeconds             int    `json:"timeout_seconds,omitempty"`
	MaxConnections             int    `json:"max_connections,omitempty"`
	MetadataTimeoutSeconds     int    `json:"metadata_timeout_seconds,omitempty"`
	CacheTimeoutSeconds        int    `json:"cache_timeout_seconds,omitempty"`
	NfcTimeoutSeconds          int    `json:"nfc_timeout_seconds,omitempty"`
	Passthrough                bool   `json:"is_passthrough"`
	PrefetchRescan             bool   `json:"prefetch_rescan"`
	PrefetchPriority           int    `json:"prefetch_priority,omitempty"`
	IgnoreHostnameVerification bool   `json:"ignore_hostname_verification"`
}

// HostedRepository holds the settings of a writable store.
type HostedRepository struct {
	Storage                string `json:"storage,omitempty"`
	Readonly               bool   `json:"readonly"`
	SnapshotTimeoutSeconds int    `json:"snapshot_timeout_seconds,omitempty"`
	AllowSnapshots         bool   `json:"allow_snapshots"`
	AllowReleases          bool   `json:"allow_releases"`
}

// Group aggregates other stores. Constituent order is resolution precedence.
type Group struct {
	Constituents       []StoreKey `json:"constituents"`
	PrependConstituent bool       `json:"prepend_constituent"`
}

// NewRemoteRepository builds a remote store, deriving host and port from rawURL.
func NewRemoteRepository(packageType, name, rawURL string) *ArtifactStore {
	r := &RemoteRepository{URL: rawURL}
	r.Host, r.Port = HostPort(rawURL)
	return &ArtifactStore{
		Key:        NewStoreKey(packageType, StoreTypeRemote, name),
		CreateTime: time.Now().UTC(),
		Remote:     r,
	}
}

// NewHostedRepository builds a hosted store.
func NewHostedRepository(packageType, name string) *ArtifactStore {
	return &ArtifactStore{
		Key:        NewStoreKey(packageType, StoreTypeHosted, name),
		CreateTime: time.Now().UTC(),
		Hosted:     &HostedRepository{AllowReleases: true},
	}
}

// NewGroup builds a group with the given constituents in order.
func NewGroup(packageType, name string, constituents ...StoreKey) *ArtifactStore {
	g := &Group{}
	for _, c := range constituents {
		g.add(c)
	}
	return &ArtifactStore{
		Key:        NewStoreKey(packageType, StoreTypeGroup, name),
		CreateTime: time.Now().UTC(),
		Group:      g,
	}
}

// Name returns the store name.
func (s *ArtifactStore) Name() string { return s.Key.Name }

// PackageType returns the store's package type.
func (s *ArtifactStore) PackageType() string { return s.Key.PackageType }

// Type returns the store type.
func (s *ArtifactStore) Type() StoreType { return s.Key.Type }

// IsGroup reports whether s is a group.
func (s *ArtifactStore) IsGroup() bool { return s.Key.Type == StoreTypeGroup }

// IsReadonly reports whether s is a readonly hosted repository.
func (s *ArtifactStore) IsReadonly() bool {
	return s.Key.Type == StoreTypeHosted && s.Hosted != nil && s.Hosted.Readonly
}

// Constituents returns the group's members, or nil for non-group stores.
func (s *ArtifactStore) Constituents() []StoreKey {
	if s == nil || s.Group == nil {
		return nil
	}
	return s.Group.Constituents
}

// Validate checks that the variant matches the key's store type.
func (s *ArtifactStore) Validate() error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if err := s.Key.Validate(); err != nil {
		return err
	}
	set := 0
	if s.Remote != nil {
		set++
	}
	if s.Hosted != nil {
		set++
	}
	if s.Group != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("store %s: exactly one store variant must be set, got %d", s.Key, set)
	}
	switch s.Key.Type {
	case StoreTypeRemote:
		if s.Remote == nil {
			return fmt.Errorf("store %s: remote settings missing", s.Key)
		}
		if s.Remote.URL == "" {
			return fmt.Errorf("store %s: url is required", s.Key)
		}
	case StoreTypeHosted:
		if s.Hosted == nil {
			return fmt.Errorf("store %s: hosted settings missing", s.Key)
		}
	case StoreTypeGroup:
		if s.Group == nil {
			return fmt.Errorf("store %s: group settings missing", s.Key)
		}
		for _, c := range s.Group.Constituents {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("store %s: %w", s.Key, err)
			}
		}
	}
	return nil
}

// GetMetadata returns a metadata value.
func (s *ArtifactStore) GetMetadata(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}

// SetMetadata sets a metadata value and returns the previous one.
func (s *ArtifactStore) SetMetadata(key, value string) string {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	prev := s.Metadata[key]
	s.Metadata[key] = value
	return prev
}

// SetPathMaskPatterns replaces the path masks, keeping set semantics.
func (s *ArtifactStore) SetPathMaskPatterns(patterns ...string) {
	seen := make(map[string]struct{}, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	s.PathMaskPatterns = out
}

// Copy returns a deep copy of s.
func (s *ArtifactStore) Copy() *ArtifactStore {
	if s == nil {
		return nil
	}
	c := *s
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	if s.PathMaskPatterns != nil {
		c.PathMaskPatterns = append([]string(nil), s.PathMaskPatterns...)
	}
	if s.Remote != nil {
		r := *s.Remote
		c.Remote = &r
	}
	if s.Hosted != nil {
		h := *s.Hosted
		c.Hosted = &h
	}
	if s.Group != nil {
		g := *s.Group
		g.Constituents = append([]StoreKey(nil), s.Group.Constituents...)
		c.Group = &g
	}
	return &c
}

// String implements fmt.Stringer.
func (s *ArtifactStore) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Key.String()
}

// AddConstituent adds key to the group if absent, prepending when the group
// asks for it. It reports whether the group changed.
func (g *Group) AddConstituent(key StoreKey) bool {
	if g.HasConstituent(key) {
		return false
	}
	if g.PrependConstituent {
		g.Constituents = append([]StoreKey{key}, g.Constituents...)
		return true
	}
	g.Constituents = append(g.Constituents, key)
	return true
}

func (g *Group) add(key StoreKey) {
	if !g.HasConstituent(key) {
		g.Constituents = append(g.Constituents, key)
	}
}

// RemoveConstituent removes key and reports whether it was present.
func (g *Group) RemoveConstituent(key StoreKey) bool {
	for i, c := range g.Constituents {
		if c == key {
			g.Constituents = append(g.Constituents[:i:i], g.Constituents[i+1:]...)
			return true
		}
	}
	return false
}

// HasConstituent reports whether key is a direct member.
func (g *Group) HasConstituent(key StoreKey) bool {
	for _, c := range g.Constituents {
		if c == key {
			return true
		}
	}
	return false
}

// HostPort extracts host and port from a URL, defaulting the port by scheme.
func HostPort(rawURL string) (string, int) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", 0
	}
	host := u.Hostname()
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return host, n
		}
	}
	if strings.EqualFold(u.Scheme, "https") {
		return host, 443
	}
	return host, 80
}
