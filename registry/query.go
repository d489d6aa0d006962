package registry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/idna"

	"github.com/BaSui01/storeflow/types"
)

// Resolver looks up host addresses for remote URL matching.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type defaultResolver struct{}

func (defaultResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

// =============================================================================
// 🔍 Query
// =============================================================================

// Query is a read-only view over the registry with transient filters. It is
// not safe for concurrent use; take a fresh one per request.
type Query struct {
	r           *Registry
	packageType string
	storeTypes  map[types.StoreType]bool
	enabled     *bool
}

func newQuery(r *Registry) *Query {
	return &Query{r: r}
}

// PackageType restricts results to one package type.
func (q *Query) PackageType(p string) *Query {
	q.packageType = p
	return q
}

// NoPackageType clears the package filter.
func (q *Query) NoPackageType() *Query {
	q.packageType = ""
	return q
}

// StoreTypes restricts results to the given store types.
func (q *Query) StoreTypes(ts ...types.StoreType) *Query {
	q.storeTypes = make(map[types.StoreType]bool, len(ts))
	for _, t := range ts {
		q.storeTypes[t] = true
	}
	return q
}

// Concrete restricts results to remote and hosted repositories.
func (q *Query) Concrete() *Query {
	return q.StoreTypes(types.ConcreteStoreTypes...)
}

// Enabled keeps only stores whose enabled state equals enabled.
func (q *Query) Enabled(enabled bool) *Query {
	q.enabled = &enabled
	return q
}

func (q *Query) matches(s *types.ArtifactStore) bool {
	if q.packageType != "" && s.Key.PackageType != q.packageType {
		return false
	}
	if len(q.storeTypes) > 0 && !q.storeTypes[s.Key.Type] {
		return false
	}
	if q.enabled != nil && s.Disabled == *q.enabled {
		return false
	}
	return true
}

// GetAll returns the stores passing the filters, sorted by key.
func (q *Query) GetAll(ctx context.Context) ([]*types.ArtifactStore, error) {
	var (
		all []*types.ArtifactStore
		err error
	)
	if q.packageType != "" && len(q.storeTypes) == 1 {
		for t := range q.storeTypes {
			all, err = q.r.backend.ListByPackageAndType(ctx, q.packageType, t)
		}
		if err != nil {
			return nil, types.NewBackendError(types.StoreKey{}, "list", err)
		}
	} else if all, err = q.r.GetAll(ctx); err != nil {
		return nil, err
	}

	out := make([]*types.ArtifactStore, 0, len(all))
	for _, s := range all {
		if q.matches(s) {
			out = append(out, s)
		}
	}
	sortStores(out)
	return out, nil
}

// GetByName returns the first store named name, trying types in the order
// remote, hosted, group. Nil when nothing matches.
func (q *Query) GetByName(ctx context.Context, name string) (*types.ArtifactStore, error) {
	all, err := q.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range types.AllStoreTypes {
		for _, s := range all {
			if s.Key.Name == name && s.Key.Type == t {
				return s, nil
			}
		}
	}
	return nil, nil
}

// GetAllRemoteRepositories returns remote repositories passing the filters.
func (q *Query) GetAllRemoteRepositories(ctx context.Context) ([]*types.ArtifactStore, error) {
	return q.StoreTypes(types.StoreTypeRemote).GetAll(ctx)
}

// GetAllHostedRepositories returns hosted repositories passing the filters.
func (q *Query) GetAllHostedRepositories(ctx context.Context) ([]*types.ArtifactStore, error) {
	return q.StoreTypes(types.StoreTypeHosted).GetAll(ctx)
}

// GetAllGroups returns groups passing the filters.
func (q *Query) GetAllGroups(ctx context.Context) ([]*types.ArtifactStore, error) {
	return q.StoreTypes(types.StoreTypeGroup).GetAll(ctx)
}

// =============================================================================
// 🧭 Group ordering
// =============================================================================

// GetOrderedStoresInGroup flattens a group depth-first in constituent order.
// Each key appears at most once. With enabled set, disabled stores are
// skipped and a disabled nested group contributes nothing. Without
// recurseGroups, nested groups are listed as plain members.
func (q *Query) GetOrderedStoresInGroup(ctx context.Context, packageType, groupName string, enabled, recurseGroups, includeGroups bool) ([]*types.ArtifactStore, error) {
	root := types.NewStoreKey(packageType, types.StoreTypeGroup, groupName)
	variant := orderingVariant(enabled, recurseGroups, includeGroups)

	if c := q.r.ordering; c != nil {
		if keys, ok := c.Get(ctx, root, variant); ok {
			if stores, ok := q.loadOrdered(ctx, keys); ok {
				return stores, nil
			}
		}
	}

	master, err := q.r.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	result := make([]*types.ArtifactStore, 0)
	if master == nil || (enabled && master.Disabled) {
		return result, nil
	}
	if includeGroups {
		result = append(result, master)
	}

	w := &orderWalker{
		r:             q.r,
		enabled:       enabled,
		recurseGroups: recurseGroups,
		includeGroups: includeGroups,
		seen:          map[types.StoreKey]struct{}{root: {}},
		result:        result,
	}
	if err := w.walk(ctx, master.Constituents()); err != nil {
		return nil, err
	}

	if c := q.r.ordering; c != nil {
		keys := make([]types.StoreKey, len(w.result))
		for i, s := range w.result {
			keys[i] = s.Key
		}
		c.Set(ctx, root, variant, keys)
	}
	return w.result, nil
}

// GetOrderedConcreteStoresInGroup is the effective content resolution order.
func (q *Query) GetOrderedConcreteStoresInGroup(ctx context.Context, packageType, groupName string, enabled bool) ([]*types.ArtifactStore, error) {
	return q.GetOrderedStoresInGroup(ctx, packageType, groupName, enabled, true, false)
}

// loadOrdered re-reads a cached ordering. Any missing store means the
// cached entry is stale.
func (q *Query) loadOrdered(ctx context.Context, keys []types.StoreKey) ([]*types.ArtifactStore, bool) {
	out := make([]*types.ArtifactStore, 0, len(keys))
	for _, k := range keys {
		s, err := q.r.backend.Get(ctx, k)
		if err != nil || s == nil {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

type orderWalker struct {
	r             *Registry
	enabled       bool
	recurseGroups bool
	includeGroups bool
	seen          map[types.StoreKey]struct{}
	result        []*types.ArtifactStore
}

func (w *orderWalker) walk(ctx context.Context, members []types.StoreKey) error {
	for _, k := range members {
		if _, ok := w.seen[k]; ok {
			continue
		}
		w.seen[k] = struct{}{}

		s, err := w.r.Get(ctx, k)
		if err != nil {
			return err
		}
		if s == nil || (w.enabled && s.Disabled) {
			continue
		}

		if k.Type == types.StoreTypeGroup && w.recurseGroups {
			if w.includeGroups {
				w.result = append(w.result, s)
			}
			if err := w.walk(ctx, s.Constituents()); err != nil {
				return err
			}
			continue
		}
		w.result = append(w.result, s)
	}
	return nil
}

// =============================================================================
// 👥 Membership
// =============================================================================

// GetGroupsContaining returns the groups of key's package type that list key
// directly. With enabled set, disabled groups are left out.
func (q *Query) GetGroupsContaining(ctx context.Context, key types.StoreKey, enabled bool) ([]*types.ArtifactStore, error) {
	groups, err := q.r.backend.ListByPackageAndType(ctx, key.PackageType, types.StoreTypeGroup)
	if err != nil {
		return nil, types.NewBackendError(key, "list", err)
	}
	out := make([]*types.ArtifactStore, 0)
	for _, g := range groups {
		if enabled && g.Disabled {
			continue
		}
		if g.Group != nil && g.Group.HasConstituent(key) {
			out = append(out, g)
		}
	}
	sortStores(out)
	return out, nil
}

// GetGroupsAffectedBy computes the affected-by closure from a full group
// scan without the index. Disabled groups are reported but not expanded.
func (q *Query) GetGroupsAffectedBy(ctx context.Context, keys ...types.StoreKey) ([]*types.ArtifactStore, error) {
	groups, err := q.r.GetAllByType(ctx, types.StoreTypeGroup)
	if err != nil {
		return nil, err
	}
	byKey := make(map[types.StoreKey]*types.ArtifactStore, len(groups))
	for _, g := range groups {
		byKey[g.Key] = g
	}
	membership := BuildMembership(groups)

	processed := make(map[types.StoreKey]struct{})
	queue := append([]types.StoreKey(nil), keys...)
	out := make([]*types.ArtifactStore, 0)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for gk := range membership[next] {
			if _, done := processed[gk]; done {
				continue
			}
			processed[gk] = struct{}{}
			g := byKey[gk]
			if q.r.affectedFilter == nil || !q.r.affectedFilter.MatchString(g.Key.Name) {
				out = append(out, g)
			}
			if !g.Disabled {
				queue = append(queue, gk)
			}
		}
	}
	sortStores(out)
	return out, nil
}

// =============================================================================
// 🌐 Remote lookup
// =============================================================================

// GetRemoteRepositoryByURL finds remotes of packageType pointing at rawURL.
// URLs are compared without scheme and trailing slash. When nothing matches,
// hosts are resolved and remotes sharing an address, port and path match.
func (q *Query) GetRemoteRepositoryByURL(ctx context.Context, packageType, rawURL string, enabled bool) ([]*types.ArtifactStore, error) {
	remotes, err := q.r.backend.ListByPackageAndType(ctx, packageType, types.StoreTypeRemote)
	if err != nil {
		return nil, types.NewBackendError(types.StoreKey{}, "list", err)
	}
	candidates := remotes[:0]
	for _, s := range remotes {
		if s.Remote == nil || (enabled && s.Disabled) {
			continue
		}
		candidates = append(candidates, s)
	}

	target, err := parseRemoteURL(rawURL)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid url").WithCause(err)
	}

	out := make([]*types.ArtifactStore, 0)
	for _, s := range candidates {
		u, err := parseRemoteURL(s.Remote.URL)
		if err != nil {
			continue
		}
		if u.normalized == target.normalized {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		sortStores(out)
		return out, nil
	}

	targetIPs := q.lookup(ctx, target.host)
	if len(targetIPs) == 0 {
		return out, nil
	}
	for _, s := range candidates {
		u, err := parseRemoteURL(s.Remote.URL)
		if err != nil || u.port != target.port || u.path != target.path {
			continue
		}
		if intersects(targetIPs, q.lookup(ctx, u.host)) {
			out = append(out, s)
		}
	}
	sortStores(out)
	return out, nil
}

func (q *Query) lookup(ctx context.Context, host string) map[string]struct{} {
	if ip := net.ParseIP(host); ip != nil {
		return map[string]struct{}{ip.String(): {}}
	}
	addrs, err := q.r.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		q.r.logger.Debug("host lookup failed", zap.String("host", host), zap.Error(err))
		return nil
	}
	out := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		out[a.IP.String()] = struct{}{}
	}
	return out
}

func intersects(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

type remoteURL struct {
	host       string
	port       int
	path       string
	normalized string
}

// parseRemoteURL lower-cases and punycodes the host and strips the trailing
// slash. Scheme is kept only to derive the default port.
func parseRemoteURL(raw string) (remoteURL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return remoteURL{}, err
	}
	if u.Host == "" {
		return remoteURL{}, &url.Error{Op: "parse", URL: raw, Err: errNoHost}
	}
	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		host = strings.ToLower(u.Hostname())
	}
	host = strings.ToLower(host)

	_, port := types.HostPort(u.Scheme + "://" + u.Host)
	path := strings.TrimRight(u.EscapedPath(), "/")

	authority := host
	if p := u.Port(); p != "" {
		authority = net.JoinHostPort(host, p)
	}
	norm := authority + path
	if u.RawQuery != "" {
		norm += "?" + u.RawQuery
	}
	return remoteURL{host: host, port: port, path: path, normalized: norm}, nil
}

var errNoHost = errors.New("missing host")

func orderingVariant(enabled, recurse, includeGroups bool) string {
	return strconv.FormatBool(enabled) + ":" + strconv.FormatBool(recurse) + ":" + strconv.FormatBool(includeGroups)
}
