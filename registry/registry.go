package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/internal/keylock"
	"github.com/BaSui01/storeflow/internal/metrics"
	"github.com/BaSui01/storeflow/internal/pool"
	"github.com/BaSui01/storeflow/registry/backend"
	"github.com/BaSui01/storeflow/registry/validation"
	"github.com/BaSui01/storeflow/types"
)

// DefaultLockTimeout bounds how long a mutation waits for its key.
const DefaultLockTimeout = 30 * time.Second

// Default store definitions installed into an empty registry.
const (
	DefaultCentralURL = "https://repo.maven.apache.org/maven2/"
	DefaultCentral    = "central"
	DefaultLocal      = "local-deployments"
	DefaultPublic     = "public"
)

var visitedPool = pool.NewMapPool[types.StoreKey, struct{}](32)

// =============================================================================
// 🗂️ Registry
// =============================================================================

// Registry is the authoritative store-definition catalogue. It serializes
// mutations per key, notifies listeners around each write and keeps the
// affected-by index in step with group membership.
type Registry struct {
	backend     backend.Backend
	edges       backend.AffectedEdges
	locks       *keylock.Table[types.StoreKey]
	index       *AffectedIndex
	events      *Dispatcher
	lockTimeout time.Duration

	validator      validation.Validator
	disableInvalid bool
	affectedFilter *regexp.Regexp
	ordering       OrderingCache
	resolver       Resolver

	pool    *pool.GoroutinePool
	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *zap.Logger

	listeners []Listener
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLockTimeout sets how long mutations wait for their key.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Registry) { r.lockTimeout = d }
}

// WithValidator enables store validation on non-group writes.
func WithValidator(v validation.Validator) Option {
	return func(r *Registry) { r.validator = v }
}

// WithDisableInvalid disables stores that fail validation before writing them.
func WithDisableInvalid(disable bool) Option {
	return func(r *Registry) { r.disableInvalid = disable }
}

// WithListeners registers event listeners in order.
func WithListeners(listeners ...Listener) Option {
	return func(r *Registry) { r.listeners = append(r.listeners, listeners...) }
}

// WithAffectedFilter drops groups whose name matches re from affected-by
// results. Matching groups are still traversed.
func WithAffectedFilter(re *regexp.Regexp) Option {
	return func(r *Registry) { r.affectedFilter = re }
}

// WithPool runs AffectedByAsync on p.
func WithPool(p *pool.GoroutinePool) Option {
	return func(r *Registry) { r.pool = p }
}

// WithMetrics records operation metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = c }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

// WithOrderingCache memoizes group orderings and invalidates them on change.
func WithOrderingCache(c OrderingCache) Option {
	return func(r *Registry) { r.ordering = c }
}

// WithResolver overrides the DNS resolver used for remote URL matching.
func WithResolver(res Resolver) Option {
	return func(r *Registry) { r.resolver = res }
}

// New creates a registry over b. The affected-by index starts empty; call
// Reload when b already holds data.
//
// When b implements backend.AffectedEdges the reverse edges are persisted
// through it and affected-by lookups read them from b, so registries on
// several nodes sharing b agree. The in-process index then mirrors only this
// node's view.
func New(b backend.Backend, opts ...Option) *Registry {
	r := &Registry{
		backend:     b,
		locks:       keylock.New[types.StoreKey](),
		index:       NewAffectedIndex(),
		lockTimeout: DefaultLockTimeout,
		resolver:    defaultResolver{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if edges, ok := b.(backend.AffectedEdges); ok {
		r.edges = edges
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("github.com/BaSui01/storeflow/registry")
	}
	r.logger = r.logger.With(zap.String("component", "store_registry"))
	r.events = NewDispatcher(r.logger, r.metrics)
	r.events.Add(r.listeners...)
	return r
}

// AddListener registers listeners after the configured ones.
func (r *Registry) AddListener(listeners ...Listener) {
	r.events.Add(listeners...)
}

// Backend returns the underlying backend.
func (r *Registry) Backend() backend.Backend { return r.backend }

// Index returns the affected-by index.
func (r *Registry) Index() *AffectedIndex { return r.index }

// SharedIndex reports whether affected-by edges are persisted in the backend.
func (r *Registry) SharedIndex() bool { return r.edges != nil }

// HeldLocks returns the number of keys with a lock entry. It drops back to
// zero once no mutation is in flight.
func (r *Registry) HeldLocks() int { return r.locks.Len() }

// Ping checks backend health.
func (r *Registry) Ping(ctx context.Context) error {
	return r.backend.Ping(ctx)
}

// =============================================================================
// 📖 Reads
// =============================================================================

// Get returns the store for key, or nil when it does not exist.
func (r *Registry) Get(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	s, err := r.backend.Get(ctx, key)
	if err != nil {
		return nil, types.NewBackendError(key, "get", err)
	}
	return s, nil
}

// Has reports whether key exists.
func (r *Registry) Has(ctx context.Context, key types.StoreKey) (bool, error) {
	s, err := r.Get(ctx, key)
	return s != nil, err
}

// GetAll returns every store, sorted by key.
func (r *Registry) GetAll(ctx context.Context) ([]*types.ArtifactStore, error) {
	all, err := r.backend.List(ctx)
	if err != nil {
		return nil, types.NewBackendError(types.StoreKey{}, "list", err)
	}
	sortStores(all)
	return all, nil
}

// GetAllByType returns the stores of the given types, sorted by key.
func (r *Registry) GetAllByType(ctx context.Context, storeTypes ...types.StoreType) ([]*types.ArtifactStore, error) {
	all, err := r.GetAll(ctx)
	if err != nil || len(storeTypes) == 0 {
		return all, err
	}
	want := make(map[types.StoreType]bool, len(storeTypes))
	for _, t := range storeTypes {
		want[t] = true
	}
	out := all[:0]
	for _, s := range all {
		if want[s.Key.Type] {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetAllConcrete returns every remote and hosted repository.
func (r *Registry) GetAllConcrete(ctx context.Context) ([]*types.ArtifactStore, error) {
	return r.GetAllByType(ctx, types.ConcreteStoreTypes...)
}

// Keys returns every key, sorted.
func (r *Registry) Keys(ctx context.Context) ([]types.StoreKey, error) {
	keys, err := r.backend.Keys(ctx)
	if err != nil {
		return nil, types.NewBackendError(types.StoreKey{}, "keys", err)
	}
	types.SortStoreKeys(keys)
	return keys, nil
}

// IsEmpty reports whether no store is defined.
func (r *Registry) IsEmpty(ctx context.Context) (bool, error) {
	empty, err := r.backend.IsEmpty(ctx)
	if err != nil {
		return false, types.NewBackendError(types.StoreKey{}, "is-empty", err)
	}
	return empty, nil
}

// CheckHostedReadonly reports whether key names a readonly hosted repository.
func (r *Registry) CheckHostedReadonly(ctx context.Context, key types.StoreKey) (bool, error) {
	if key.Type != types.StoreTypeHosted {
		return false, nil
	}
	s, err := r.Get(ctx, key)
	if err != nil || s == nil {
		return false, err
	}
	return IsReadonly(s), nil
}

// IsReadonly reports whether s is a readonly hosted repository.
func IsReadonly(s *types.ArtifactStore) bool {
	return s != nil && s.IsReadonly()
}

// Query returns a fresh query over this registry.
func (r *Registry) Query() *Query {
	return newQuery(r)
}

// =============================================================================
// ✍️ Writes
// =============================================================================

// Store writes store. It returns false without error when skipIfExists is
// set and the key already exists.
//
// When a validator is configured and store is not a group, the outcome is
// recorded in the store's metadata and the write proceeds either way.
func (r *Registry) Store(ctx context.Context, store *types.ArtifactStore, summary types.ChangeSummary, skipIfExists, fireEvents bool, meta *EventMetadata) (ok bool, err error) {
	if store == nil {
		return false, types.NewError(types.ErrInvalidStore, "store is nil")
	}
	key := store.Key
	ctx, span := r.startSpan(ctx, "registry.Store", key)
	start := time.Now()
	defer func() {
		status := "success"
		switch {
		case err != nil:
			status = "error"
		case !ok:
			status = "skipped"
		}
		r.finish(span, "store", status, start, err)
	}()

	if err := store.Validate(); err != nil {
		return false, types.NewError(types.ErrInvalidStore, err.Error()).WithKey(key).WithCause(err)
	}

	meta = resolveMetadata(ctx, meta, summary)
	store = store.Copy()
	if store.CreateTime.IsZero() {
		store.CreateTime = time.Now().UTC()
	}
	if meta.Summary.Summary != "" {
		store.SetMetadata(types.MetadataChangelog, meta.Summary.Summary)
	}

	if skipIfExists {
		// 提前返回，避免为注定跳过的写入发起远程探测
		existing, err := r.backend.Get(ctx, key)
		if err != nil {
			return false, types.NewBackendError(key, "load", err)
		}
		if existing != nil {
			r.logger.Debug("store exists, skipping", zap.String("key", key.String()))
			return false, nil
		}
	}

	if r.validator != nil && !store.IsGroup() {
		r.validate(ctx, store)
	}

	unlock, err := r.lock(ctx, key, "store")
	if err != nil {
		return false, err
	}
	defer unlock()

	original, err := r.backend.Get(ctx, key)
	if err != nil {
		return false, types.NewBackendError(key, "load", err)
	}
	if skipIfExists && original != nil {
		r.logger.Debug("store exists, skipping", zap.String("key", key.String()))
		return false, nil
	}

	change := StoreChange{Old: original, New: store}
	toggle := toggleEvents(original, store)

	if fireEvents {
		if err := r.events.Dispatch(ctx, newEvent(EventPreUpdate, meta, change)); err != nil {
			return false, err
		}
		if toggle.pre != "" {
			if err := r.events.Dispatch(ctx, newEvent(toggle.pre, meta, change)); err != nil {
				return false, err
			}
		}
	}

	if _, err := r.backend.Put(ctx, store); err != nil {
		return false, types.NewBackendError(key, "put", err)
	}

	if store.IsGroup() || isGroup(original) {
		if err := r.linkGroup(ctx, key, original.Constituents(), store.Constituents()); err != nil {
			r.rollbackStore(ctx, original, store)
			return false, err
		}
	}
	r.invalidateOrdering(ctx, key)

	if fireEvents {
		err := r.events.Dispatch(ctx, newEvent(EventPostUpdate, meta, change))
		if err == nil && toggle.post != "" {
			err = r.events.Dispatch(ctx, newEvent(toggle.post, meta, change))
		}
		if err != nil {
			r.rollbackStore(ctx, original, store)
			return false, err
		}
	}

	r.logger.Debug("store written",
		zap.String("key", key.String()),
		zap.Bool("created", original == nil),
		zap.String("user", meta.Summary.User),
	)
	return true, nil
}

// rollbackStore restores original after a failed post-write step. It runs
// while the key lock is still held.
func (r *Registry) rollbackStore(ctx context.Context, original, written *types.ArtifactStore) {
	key := written.Key
	var err error
	if original != nil {
		_, err = r.backend.Put(ctx, original)
	} else {
		_, err = r.backend.Remove(ctx, key)
	}
	if written.IsGroup() || isGroup(original) {
		if linkErr := r.linkGroup(ctx, key, written.Constituents(), original.Constituents()); linkErr != nil {
			err = errors.Join(err, linkErr)
		}
	}
	r.invalidateOrdering(ctx, key)
	if r.metrics != nil {
		r.metrics.RecordRollback(err)
	}
	if err != nil {
		r.logger.Error("rollback failed, backend may hold the rejected value",
			zap.String("key", key.String()), zap.Error(err))
		return
	}
	r.logger.Warn("write rolled back", zap.String("key", key.String()))
}

// Delete removes key. Deleting a missing key is a no-op. Readonly hosted
// repositories are protected unless meta ignores readonly.
func (r *Registry) Delete(ctx context.Context, key types.StoreKey, summary types.ChangeSummary, meta *EventMetadata) (err error) {
	ctx, span := r.startSpan(ctx, "registry.Delete", key)
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.finish(span, "delete", status, start, err)
	}()

	meta = resolveMetadata(ctx, meta, summary)

	unlock, err := r.lock(ctx, key, "delete")
	if err != nil {
		return err
	}
	defer unlock()

	original, err := r.backend.Get(ctx, key)
	if err != nil {
		return types.NewBackendError(key, "load", err)
	}
	if original == nil {
		return nil
	}
	if IsReadonly(original) && !meta.IgnoreReadonly {
		return types.NewReadonlyError(key)
	}

	change := StoreChange{Old: original}
	if err := r.events.Dispatch(ctx, newEvent(EventPreDelete, meta, change)); err != nil {
		return err
	}

	if _, err := r.backend.Remove(ctx, key); err != nil {
		return types.NewBackendError(key, "remove", err)
	}
	if original.IsGroup() {
		if err := r.linkGroup(ctx, key, original.Constituents(), nil); err != nil {
			return r.undoDelete(ctx, original, err)
		}
	}
	r.invalidateOrdering(ctx, key)

	if err := r.events.Dispatch(ctx, newEvent(EventPostDelete, meta, change)); err != nil {
		return r.undoDelete(ctx, original, err)
	}

	r.logger.Debug("store deleted", zap.String("key", key.String()), zap.String("user", meta.Summary.User))
	return nil
}

// undoDelete restores original and returns cause, joined with the restore
// failure if there was one.
func (r *Registry) undoDelete(ctx context.Context, original *types.ArtifactStore, cause error) error {
	if err := r.restoreDeleted(ctx, original); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// restoreDeleted puts original back after a failed post-delete step. It runs
// while the key lock is still held.
func (r *Registry) restoreDeleted(ctx context.Context, original *types.ArtifactStore) error {
	key := original.Key
	_, err := r.backend.Put(ctx, original)
	if err != nil {
		err = types.NewBackendError(key, "restore", err)
	} else if original.IsGroup() {
		err = r.linkGroup(ctx, key, nil, original.Constituents())
	}
	r.invalidateOrdering(ctx, key)
	if r.metrics != nil {
		r.metrics.RecordRollback(err)
	}
	if err != nil {
		r.logger.Error("delete rollback failed", zap.String("key", key.String()), zap.Error(err))
		return err
	}
	r.logger.Warn("delete rolled back", zap.String("key", key.String()))
	return nil
}

// Clear deletes every store, firing delete events, and empties the index.
// Readonly repositories are removed too.
func (r *Registry) Clear(ctx context.Context, summary types.ChangeSummary) error {
	keys, err := r.Keys(ctx)
	if err != nil {
		return err
	}
	meta := NewEventMetadata(resolveMetadata(ctx, nil, summary).Summary).WithIgnoreReadonly()

	var errs []error
	for _, k := range keys {
		if err := r.Delete(ctx, k, summary, meta); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.index.Rebuild(nil)
	r.recordIndexSize()
	return nil
}

// InstallDefaults seeds an empty registry with maven central, a hosted
// deployment repository and a public group over both. It reports whether
// anything was installed.
func (r *Registry) InstallDefaults(ctx context.Context) (bool, error) {
	empty, err := r.IsEmpty(ctx)
	if err != nil || !empty {
		return false, err
	}

	central := types.NewRemoteRepository(types.PackageTypeMaven, DefaultCentral, DefaultCentralURL)
	central.Description = "Maven Central"
	local := types.NewHostedRepository(types.PackageTypeMaven, DefaultLocal)
	local.Description = "Local deployments"
	local.Hosted.AllowSnapshots = true
	public := types.NewGroup(types.PackageTypeMaven, DefaultPublic, local.Key, central.Key)
	public.Description = "Public group"

	for _, s := range []*types.ArtifactStore{central, local, public} {
		summary := types.NewChangeSummary(types.SystemUser, "Adding default "+s.Key.String())
		if _, err := r.Store(ctx, s, summary, true, true, nil); err != nil {
			return false, fmt.Errorf("install %s: %w", s.Key, err)
		}
	}
	r.logger.Info("default stores installed")
	return true, nil
}

// Reload rebuilds registry-derived state from the backend.
func (r *Registry) Reload(ctx context.Context) error {
	return r.RebuildIndex(ctx)
}

// RebuildIndex replaces the affected-by index with the inversion of every
// group in the backend. On a shared backend the persisted edges are
// reconciled additively: missing edges are written back, stale ones are
// ignored by AffectedBy since it checks each group's current members.
func (r *Registry) RebuildIndex(ctx context.Context) error {
	groups, err := r.GetAllByType(ctx, types.StoreTypeGroup)
	if err != nil {
		return err
	}
	r.index.Rebuild(groups)
	r.recordIndexSize()
	if r.edges != nil {
		for _, g := range groups {
			if err := r.edges.AddAffectedBy(ctx, g.Key, g.Constituents()); err != nil {
				return types.NewBackendError(g.Key, "link", err)
			}
		}
	}
	r.logger.Info("affected-by index rebuilt",
		zap.Int("groups", len(groups)),
		zap.Int("members", r.index.Len()),
	)
	return nil
}

// =============================================================================
// 🔗 Affected-by
// =============================================================================

// AffectedBy returns every group that contains any of keys directly or
// through nested groups, sorted by key. Disabled groups are included when
// reached but not expanded. A result memoized in meta is reused.
func (r *Registry) AffectedBy(ctx context.Context, keys []types.StoreKey, meta *EventMetadata) (result []*types.ArtifactStore, err error) {
	if meta == nil {
		meta = MetadataFromContext(ctx)
	}
	if meta != nil {
		if cached, ok := meta.AffectedGroups(keys); ok {
			return cached, nil
		}
	}

	ctx, span := r.startSpan(ctx, "registry.AffectedBy", types.StoreKey{})
	span.SetAttributes(attribute.Int("registry.keys", len(keys)))
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.finish(span, "affected_by", status, start, err)
	}()

	processed := visitedPool.Get()
	defer visitedPool.Put(processed)

	queue := append([]types.StoreKey(nil), keys...)
	found := make(map[types.StoreKey]*types.ArtifactStore)

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		direct, err := r.directGroups(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, gk := range direct {
			if _, done := processed[gk]; done {
				continue
			}

			g, err := r.backend.Get(ctx, gk)
			if err != nil {
				return nil, types.NewBackendError(gk, "load", err)
			}
			if g == nil || !slices.Contains(g.Constituents(), next) {
				// 反向边领先或落后于组定义：以组当前成员为准
				continue
			}
			processed[gk] = struct{}{}
			found[gk] = g
			if !g.Disabled {
				queue = append(queue, gk)
			}
		}
	}

	result = make([]*types.ArtifactStore, 0, len(found))
	for _, g := range found {
		if r.affectedFilter != nil && r.affectedFilter.MatchString(g.Key.Name) {
			continue
		}
		result = append(result, g)
	}
	sortStores(result)

	if r.metrics != nil {
		r.metrics.RecordAffectedBy(len(result))
	}
	if meta != nil {
		meta.SetAffectedGroups(keys, result)
	}
	return result, nil
}

// AffectedByAsync computes AffectedBy in the background and hands the result
// to callback. It does not wait for completion.
func (r *Registry) AffectedByAsync(ctx context.Context, keys []types.StoreKey, meta *EventMetadata, callback func([]*types.ArtifactStore, error)) error {
	keys = append([]types.StoreKey(nil), keys...)
	bg := context.WithoutCancel(ctx)
	task := func(ctx context.Context) error {
		groups, err := r.AffectedBy(ctx, keys, meta)
		if callback != nil {
			callback(groups, err)
		}
		return err
	}

	if r.pool != nil {
		err := r.pool.Submit(bg, task)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pool.ErrPoolFull) {
			return err
		}
		r.logger.Debug("background pool full, running affected-by inline goroutine")
	}
	go func() { _ = task(bg) }()
	return nil
}

// =============================================================================
// 🔧 Helpers
// =============================================================================

// linkGroup moves group's reverse edges from oldMembers to newMembers in the
// local index and, on a shared backend, in the persisted edges.
func (r *Registry) linkGroup(ctx context.Context, group types.StoreKey, oldMembers, newMembers []types.StoreKey) error {
	added, removed := r.index.Update(group, oldMembers, newMembers)
	r.recordIndexSize()
	if r.edges == nil {
		return nil
	}
	if err := r.edges.RemoveAffectedBy(ctx, group, removed); err != nil {
		return types.NewBackendError(group, "unlink", err)
	}
	if err := r.edges.AddAffectedBy(ctx, group, added); err != nil {
		return types.NewBackendError(group, "link", err)
	}
	return nil
}

// directGroups returns the groups listing key, sorted.
func (r *Registry) directGroups(ctx context.Context, key types.StoreKey) ([]types.StoreKey, error) {
	if r.edges == nil {
		return r.index.DirectGroups(key), nil
	}
	groups, err := r.edges.AffectedBy(ctx, key)
	if err != nil {
		return nil, types.NewBackendError(key, "affected-by", err)
	}
	types.SortStoreKeys(groups)
	return groups, nil
}

// ancestors returns every group reachable upward from keys, disabled or not.
func (r *Registry) ancestors(ctx context.Context, keys ...types.StoreKey) ([]types.StoreKey, error) {
	if r.edges == nil {
		return r.index.Ancestors(keys...), nil
	}
	seen := make(map[types.StoreKey]struct{})
	queue := append([]types.StoreKey(nil), keys...)
	var out []types.StoreKey
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		groups, err := r.directGroups(ctx, next)
		if err != nil {
			return out, err
		}
		for _, g := range groups {
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
			queue = append(queue, g)
		}
	}
	types.SortStoreKeys(out)
	return out, nil
}

// invalidateOrdering drops cached orderings of key (when a group) and of
// every group above it. Failures are logged; entries expire by TTL.
func (r *Registry) invalidateOrdering(ctx context.Context, key types.StoreKey) {
	if r.ordering == nil {
		return
	}
	groups, err := r.ancestors(ctx, key)
	if err != nil {
		r.logger.Warn("ordering cache ancestors lookup failed", zap.String("key", key.String()), zap.Error(err))
	}
	if key.Type == types.StoreTypeGroup {
		groups = append(groups, key)
	}
	if err := r.ordering.Invalidate(ctx, groups...); err != nil {
		r.logger.Warn("ordering cache invalidation failed", zap.String("key", key.String()), zap.Error(err))
	}
}

func (r *Registry) lock(ctx context.Context, key types.StoreKey, op string) (func(), error) {
	start := time.Now()
	unlock, err := r.locks.Lock(ctx, key, r.lockTimeout)
	if r.metrics != nil {
		r.metrics.RecordLockWait(op, time.Since(start), err != nil)
	}
	if err != nil {
		r.logger.Warn("lock timeout", zap.String("key", key.String()), zap.String("op", op), zap.Error(err))
		return nil, types.NewLockTimeoutError(key, op, err)
	}
	return unlock, nil
}

// validate runs the validator and annotates store. Validator failures are
// logged and never block the write.
func (r *Registry) validate(ctx context.Context, store *types.ArtifactStore) {
	res, err := r.validator.Validate(ctx, store)
	if err != nil {
		r.logger.Warn("store validation errored", zap.String("key", store.Key.String()), zap.Error(err))
		return
	}
	if res == nil {
		return
	}

	store.SetMetadata(types.MetadataValidatedAt, time.Now().UTC().Format(time.RFC3339))
	if res.Valid {
		delete(store.Metadata, types.MetadataValidationFailed)
		delete(store.Metadata, types.MetadataValidationErrors)
		return
	}

	store.SetMetadata(types.MetadataValidationFailed, "true")
	store.SetMetadata(types.MetadataValidationErrors, res.Summary())
	r.logger.Warn("store failed validation",
		zap.String("key", store.Key.String()),
		zap.String("errors", res.Summary()),
		zap.Bool("disabling", r.disableInvalid),
	)
	if r.disableInvalid {
		store.Disabled = true
	}
}

func (r *Registry) startSpan(ctx context.Context, name string, key types.StoreKey) (context.Context, trace.Span) {
	ctx, span := r.tracer.Start(ctx, name)
	if !key.IsZero() {
		span.SetAttributes(attribute.String("store.key", key.String()))
	}
	return ctx, span
}

func (r *Registry) finish(span trace.Span, op, status string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if r.metrics != nil {
		r.metrics.RecordRegistryOperation(op, status, time.Since(start))
	}
}

func (r *Registry) recordIndexSize() {
	if r.metrics != nil {
		r.metrics.SetAffectedIndexSize(r.index.Len())
	}
}

type toggle struct {
	pre, post EventType
}

// toggleEvents detects enable/disable transitions. A new store has none.
func toggleEvents(original, updated *types.ArtifactStore) toggle {
	if original == nil || original.Disabled == updated.Disabled {
		return toggle{}
	}
	if updated.Disabled {
		return toggle{pre: EventPreDisable, post: EventPostDisable}
	}
	return toggle{pre: EventPreEnable, post: EventPostEnable}
}

func sortStores(stores []*types.ArtifactStore) {
	sort.Slice(stores, func(i, j int) bool {
		return stores[i].Key.String() < stores[j].Key.String()
	})
}

func isGroup(s *types.ArtifactStore) bool {
	return s != nil && s.IsGroup()
}
