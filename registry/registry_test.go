package registry_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/internal/ctxkeys"
	"github.com/BaSui01/storeflow/internal/pool"
	"github.com/BaSui01/storeflow/registry"
	"github.com/BaSui01/storeflow/registry/backend"
	"github.com/BaSui01/storeflow/testutil"
	"github.com/BaSui01/storeflow/testutil/fixtures"
	"github.com/BaSui01/storeflow/testutil/mocks"
	"github.com/BaSui01/storeflow/types"
)

var summary = types.NewChangeSummary("tester", "test change")

func newRegistry(t *testing.T, opts ...registry.Option) (*registry.Registry, *mocks.RecordingListener) {
	t.Helper()
	l := mocks.NewRecordingListener()
	opts = append([]registry.Option{registry.WithLogger(zap.NewNop()), registry.WithListeners(l)}, opts...)
	return registry.New(backend.NewMemoryBackend(), opts...), l
}

func mustStore(t *testing.T, r *registry.Registry, stores ...*types.ArtifactStore) {
	t.Helper()
	for _, s := range stores {
		ok, err := r.Store(context.Background(), s, summary, false, true, nil)
		require.NoError(t, err, s.Key.String())
		require.True(t, ok, s.Key.String())
	}
}

// =============================================================================
// ✍️ Store / Get
// =============================================================================

func TestRegistry_StoreAndGet(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := testutil.TestContext(t)
	central := fixtures.Central()

	got, err := r.Get(ctx, central.Key)
	require.NoError(t, err)
	assert.Nil(t, got)

	mustStore(t, r, central)

	got, err = r.Get(ctx, central.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, central.Remote.URL, got.Remote.URL)
	assert.Equal(t, "test change", got.GetMetadata(types.MetadataChangelog))

	has, err := r.Has(ctx, central.Key)
	require.NoError(t, err)
	assert.True(t, has)

	// 调用方持有的值不受写入影响
	assert.Empty(t, central.GetMetadata(types.MetadataChangelog))
}

func TestRegistry_StoreSkipIfExists(t *testing.T) {
	r, l := newRegistry(t)
	ctx := testutil.TestContext(t)
	h := fixtures.Hosted("local")
	mustStore(t, r, h)
	l.Reset()

	changed := h.Copy()
	changed.Description = "changed"
	ok, err := r.Store(ctx, changed, summary, true, true, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, l.Events())

	got, _ := r.Get(ctx, h.Key)
	assert.Empty(t, got.Description)
}

func TestRegistry_StoreRejectsMalformed(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := testutil.TestContext(t)

	_, err := r.Store(ctx, nil, summary, false, true, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidStore))

	bad := fixtures.Hosted("h")
	bad.Hosted = nil
	_, err = r.Store(ctx, bad, summary, false, true, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidStore))
}

func TestRegistry_EventSequence(t *testing.T) {
	r, l := newRegistry(t)
	h := fixtures.Hosted("local")
	mustStore(t, r, h)
	mustStore(t, r, fixtures.Disabled(h))
	mustStore(t, r, h)

	assert.Equal(t, []registry.EventType{
		registry.EventPreUpdate, registry.EventPostUpdate,
		registry.EventPreUpdate, registry.EventPreDisable, registry.EventPostUpdate, registry.EventPostDisable,
		registry.EventPreUpdate, registry.EventPreEnable, registry.EventPostUpdate, registry.EventPostEnable,
	}, l.Types())

	ev := l.Events()[2]
	require.Len(t, ev.Stores, 1)
	assert.False(t, ev.Stores[0].Old.Disabled)
	assert.True(t, ev.Stores[0].New.Disabled)
	assert.Equal(t, "tester", ev.Summary.User)
}

func TestRegistry_StoreWithoutEvents(t *testing.T) {
	r, l := newRegistry(t)
	ok, err := r.Store(testutil.TestContext(t), fixtures.Hosted("quiet"), summary, false, false, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, l.Events())
}

func TestRegistry_UserFromContext(t *testing.T) {
	r, l := newRegistry(t)
	ctx := ctxkeys.WithUser(testutil.TestContext(t), "alice")

	_, err := r.Store(ctx, fixtures.Hosted("h"), types.ChangeSummary{Summary: "via api"}, false, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", l.Events()[0].Summary.User)
}

func TestRegistry_PreUpdateFailureAborts(t *testing.T) {
	boom := errors.New("vetoed")
	r, l := newRegistry(t)
	l.FailOn(registry.EventPreUpdate, boom)
	ctx := testutil.TestContext(t)

	ok, err := r.Store(ctx, fixtures.Hosted("h"), summary, false, true, nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)

	has, _ := r.Has(ctx, fixtures.Hosted("h").Key)
	assert.False(t, has)
}

func TestRegistry_BackendFailure(t *testing.T) {
	b := mocks.NewMockBackend().WithPutErr(errors.New("disk full"))
	r := registry.New(b)

	_, err := r.Store(testutil.TestContext(t), fixtures.Hosted("h"), summary, false, true, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrBackendFailure))

	b = mocks.NewMockBackend().WithGetErr(errors.New("offline"))
	r = registry.New(b)
	_, err = r.Get(testutil.TestContext(t), fixtures.Hosted("h").Key)
	assert.True(t, types.IsErrorCode(err, types.ErrBackendFailure))
}

// =============================================================================
// ↩️ Rollback
// =============================================================================

func TestRegistry_RollbackRestoresPrevious(t *testing.T) {
	boom := errors.New("listener failed")
	r, l := newRegistry(t)
	ctx := testutil.TestContext(t)

	h1, h2 := fixtures.Hosted("h1"), fixtures.Hosted("h2")
	g := fixtures.Group("g", h1)
	mustStore(t, r, h1, h2, g)

	l.FailOn(registry.EventPostUpdate, boom)
	changed := fixtures.Group("g", h2)
	ok, err := r.Store(ctx, changed, summary, false, true, nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)

	got, err := r.Get(ctx, g.Key)
	require.NoError(t, err)
	assert.Equal(t, []types.StoreKey{h1.Key}, got.Constituents())

	affected, err := r.AffectedBy(ctx, []types.StoreKey{h1.Key}, nil)
	require.NoError(t, err)
	testutil.AssertStoreKeys(t, []string{"maven:group:g"}, affected)
	assert.Empty(t, r.Index().DirectGroups(h2.Key))
}

func TestRegistry_RollbackRemovesCreated(t *testing.T) {
	r, l := newRegistry(t)
	ctx := testutil.TestContext(t)
	l.FailOn(registry.EventPostUpdate, errors.New("no"))

	h := fixtures.Hosted("h")
	g := fixtures.Group("g", h)
	_, err := r.Store(ctx, g, summary, false, true, nil)
	require.Error(t, err)

	has, _ := r.Has(ctx, g.Key)
	assert.False(t, has)
	assert.Equal(t, 0, r.Index().Len())
}

func TestRegistry_RollbackOnPostDisableFailure(t *testing.T) {
	r, l := newRegistry(t)
	ctx := testutil.TestContext(t)
	h := fixtures.Hosted("h")
	mustStore(t, r, h)

	l.FailOn(registry.EventPostDisable, errors.New("no"))
	_, err := r.Store(ctx, fixtures.Disabled(h), summary, false, true, nil)
	require.Error(t, err)

	got, _ := r.Get(ctx, h.Key)
	assert.False(t, got.Disabled)
}

// =============================================================================
// 🗑️ Delete
// =============================================================================

func TestRegistry_Delete(t *testing.T) {
	r, l := newRegistry(t)
	ctx := testutil.TestContext(t)
	h := fixtures.Hosted("h")
	g := fixtures.Group("g", h)
	mustStore(t, r, h, g)
	l.Reset()

	require.NoError(t, r.Delete(ctx, types.MustParseStoreKey("maven:hosted:missing"), summary, nil))
	assert.Empty(t, l.Events())

	require.NoError(t, r.Delete(ctx, g.Key, summary, nil))
	assert.Equal(t, []registry.EventType{registry.EventPreDelete, registry.EventPostDelete}, l.Types())
	assert.Equal(t, g.Key, l.Events()[1].Stores[0].Key())
	assert.Nil(t, l.Events()[1].Stores[0].New)

	has, _ := r.Has(ctx, g.Key)
	assert.False(t, has)
	assert.Empty(t, r.Index().DirectGroups(h.Key))
}

func TestRegistry_DeleteReadonly(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := testutil.TestContext(t)
	ro := fixtures.ReadonlyHosted("releases")
	mustStore(t, r, ro)

	readonly, err := r.CheckHostedReadonly(ctx, ro.Key)
	require.NoError(t, err)
	assert.True(t, readonly)

	err = r.Delete(ctx, ro.Key, summary, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrReadonlyViolation))
	has, _ := r.Has(ctx, ro.Key)
	assert.True(t, has)

	meta := registry.NewEventMetadata(summary).WithIgnoreReadonly()
	require.NoError(t, r.Delete(ctx, ro.Key, summary, meta))
	has, _ = r.Has(ctx, ro.Key)
	assert.False(t, has)
}

func TestRegistry_DeleteRollback(t *testing.T) {
	r, l := newRegistry(t)
	ctx := testutil.TestContext(t)
	h := fixtures.Hosted("h")
	g := fixtures.Group("g", h)
	mustStore(t, r, h, g)

	l.FailOn(registry.EventPostDelete, errors.New("keep it"))
	require.Error(t, r.Delete(ctx, g.Key, summary, nil))

	has, _ := r.Has(ctx, g.Key)
	assert.True(t, has)
	assert.Equal(t, []types.StoreKey{g.Key}, r.Index().DirectGroups(h.Key))
}

func TestRegistry_DeletePreFailureKeepsStore(t *testing.T) {
	r, l := newRegistry(t)
	ctx := testutil.TestContext(t)
	h := fixtures.Hosted("h")
	mustStore(t, r, h)

	l.FailOn(registry.EventPreDelete, errors.New("veto"))
	require.Error(t, r.Delete(ctx, h.Key, summary, nil))
	has, _ := r.Has(ctx, h.Key)
	assert.True(t, has)
}

// =============================================================================
// 🔒 Locking
// =============================================================================

func TestRegistry_LockTimeout(t *testing.T) {
	l := mocks.NewRecordingListener()
	release := make(chan struct{})
	entered := make(chan struct{})
	slow := types.MustParseStoreKey("maven:hosted:slow")
	var once sync.Once
	l.OnType(registry.EventPreUpdate, func(ctx context.Context, ev registry.Event) {
		if ev.Stores[0].Key() == slow {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})
	r := registry.New(backend.NewMemoryBackend(),
		registry.WithListeners(l),
		registry.WithLockTimeout(50*time.Millisecond),
	)
	ctx := testutil.TestContext(t)

	done := make(chan error, 1)
	go func() {
		_, err := r.Store(ctx, fixtures.Hosted("slow"), summary, false, true, nil)
		done <- err
	}()
	<-entered

	// 同键写入超时
	_, err := r.Store(ctx, fixtures.Hosted("slow"), summary, false, true, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrLockTimeout))
	err = r.Delete(ctx, slow, summary, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrLockTimeout))

	// 不同键互不影响
	ok, err := r.Store(ctx, fixtures.Hosted("fast"), summary, false, true, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, r.HeldLocks())
}

func TestRegistry_ConcurrentWritersSameKey(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := testutil.TestContext(t)
	hosts := make([]*types.ArtifactStore, 8)
	for i := range hosts {
		hosts[i] = fixtures.Hosted(fmt.Sprintf("h%d", i))
	}
	mustStore(t, r, hosts...)

	var wg sync.WaitGroup
	for i := range hosts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Store(ctx, fixtures.Group("shared", hosts[i]), summary, false, true, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.HeldLocks())

	g, err := r.Get(ctx, types.MustParseStoreKey("maven:group:shared"))
	require.NoError(t, err)
	require.Len(t, g.Constituents(), 1)

	// 索引只保留最终成员的反向边
	member := g.Constituents()[0]
	for _, h := range hosts {
		groups := r.Index().DirectGroups(h.Key)
		if h.Key == member {
			assert.Equal(t, []types.StoreKey{g.Key}, groups)
		} else {
			assert.Empty(t, groups, h.Key.String())
		}
	}
}

func TestRegistry_ConcurrentGroupWritesKeepIndexConsistent(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := testutil.TestContext(t)
	hosts := make([]*types.ArtifactStore, 6)
	for i := range hosts {
		hosts[i] = fixtures.Hosted(fmt.Sprintf("h%d", i))
	}
	mustStore(t, r, hosts...)
	hostKeys := make([]types.StoreKey, len(hosts))
	for i, h := range hosts {
		hostKeys[i] = h.Key
	}

	const writers, rounds = 8, 20
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := r.AffectedBy(ctx, hostKeys, nil)
				assert.NoError(t, err)
			}
		}()
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				// 成员随轮次变化，并且嵌套引用其他写者的组
				members := []*types.ArtifactStore{hosts[(w+i)%len(hosts)], hosts[(w*i)%len(hosts)]}
				if i%3 == 0 {
					members = append(members, fixtures.Group(fmt.Sprintf("g%d", (w+1)%writers)))
				}
				_, err := r.Store(ctx, fixtures.Group(fmt.Sprintf("g%d", w), members...), summary, false, true, nil)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	readers.Wait()
	assert.Equal(t, 0, r.HeldLocks())

	groups, err := r.GetAllByType(ctx, types.StoreTypeGroup)
	require.NoError(t, err)
	require.Len(t, groups, writers)
	expected := registry.NewAffectedIndex()
	expected.Rebuild(groups)
	assert.Equal(t, expected.Snapshot(), r.Index().Snapshot())

	indexed, err := r.AffectedBy(ctx, hostKeys, nil)
	require.NoError(t, err)
	scanned, err := r.Query().GetGroupsAffectedBy(ctx, hostKeys...)
	require.NoError(t, err)
	assert.Equal(t, testutil.Keys(scanned), testutil.Keys(indexed))
}

func TestRegistry_SameKeyWritesDoNotInterleave(t *testing.T) {
	l := mocks.NewRecordingListener()
	r := registry.New(backend.NewMemoryBackend(), registry.WithListeners(l))
	ctx := testutil.TestContext(t)
	shared := types.MustParseStoreKey("maven:group:shared")

	var mu sync.Mutex
	var violations []string
	// 持锁期间：pre 时尚未落盘，post 时后端正是本次写入的值
	l.OnType(registry.EventPreUpdate, func(ctx context.Context, ev registry.Event) {
		if ev.Stores[0].Key() != shared {
			return
		}
		time.Sleep(time.Millisecond)
		cur, err := r.Backend().Get(ctx, shared)
		if err == nil && cur != nil && cur.Description == ev.Stores[0].New.Description {
			mu.Lock()
			violations = append(violations, "persisted before pre-update: "+ev.Summary.Summary)
			mu.Unlock()
		}
	})
	l.OnType(registry.EventPostUpdate, func(ctx context.Context, ev registry.Event) {
		if ev.Stores[0].Key() != shared {
			return
		}
		cur, err := r.Backend().Get(ctx, shared)
		if err != nil || cur == nil || cur.Description != ev.Stores[0].New.Description {
			mu.Lock()
			violations = append(violations, "foreign value at post-update: "+ev.Summary.Summary)
			mu.Unlock()
		}
	})

	const writers = 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			g := types.NewGroup("maven", "shared")
			g.Description = fmt.Sprintf("writer-%d", w)
			_, err := r.Store(ctx, g, types.NewChangeSummary("tester", g.Description), false, true, nil)
			assert.NoError(t, err)
			// 其他键的写入可以穿插
			_, err = r.Store(ctx, fixtures.Hosted(fmt.Sprintf("side-%d", w)), summary, false, true, nil)
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()
	assert.Empty(t, violations)

	var sharedEvents []registry.Event
	for _, ev := range l.Events() {
		if ev.Stores[0].Key() == shared {
			sharedEvents = append(sharedEvents, ev)
		}
	}
	require.Len(t, sharedEvents, 2*writers)
	seen := map[string]bool{}
	for i := 0; i < len(sharedEvents); i += 2 {
		pre, post := sharedEvents[i], sharedEvents[i+1]
		assert.Equal(t, registry.EventPreUpdate, pre.Type)
		assert.Equal(t, registry.EventPostUpdate, post.Type)
		assert.Equal(t, pre.Summary.Summary, post.Summary.Summary, "pre/post pair split at %d", i)
		assert.False(t, seen[pre.Summary.Summary])
		seen[pre.Summary.Summary] = true
	}
}

// =============================================================================
// 🔗 Affected-by
// =============================================================================

func TestRegistry_AffectedByDiamond(t *testing.T) {
	r, _ := newRegistry(t)
	mustStore(t, r, fixtures.Diamond()...)

	got, err := r.AffectedBy(testutil.TestContext(t), []types.StoreKey{fixtures.Hosted("h").Key}, nil)
	require.NoError(t, err)
	testutil.AssertStoreKeys(t, []string{
		"maven:group:base", "maven:group:left", "maven:group:right", "maven:group:top",
	}, got)
}

func TestRegistry_AffectedByCycle(t *testing.T) {
	r, _ := newRegistry(t)
	mustStore(t, r, fixtures.Cycle()...)

	got, err := r.AffectedBy(testutil.TestContext(t), []types.StoreKey{fixtures.Hosted("h").Key}, nil)
	require.NoError(t, err)
	testutil.AssertStoreKeys(t, []string{"maven:group:a", "maven:group:b"}, got)
}

func TestRegistry_AffectedByDisabledIsTerminal(t *testing.T) {
	r, _ := newRegistry(t)
	chain := fixtures.Chain(3)
	mustStore(t, r, chain...)
	mustStore(t, r, fixtures.Disabled(chain[2]))

	got, err := r.AffectedBy(testutil.TestContext(t), []types.StoreKey{chain[0].Key}, nil)
	require.NoError(t, err)
	testutil.AssertStoreKeys(t, []string{"maven:group:g0", "maven:group:g1"}, got)
}

func TestRegistry_AffectedByFilter(t *testing.T) {
	r, _ := newRegistry(t, registry.WithAffectedFilter(regexp.MustCompile(`^temp-`)))
	h := fixtures.Hosted("h")
	tmp := fixtures.Group("temp-build", h)
	outer := fixtures.Group("outer", tmp)
	mustStore(t, r, h, tmp, outer)

	got, err := r.AffectedBy(testutil.TestContext(t), []types.StoreKey{h.Key}, nil)
	require.NoError(t, err)
	testutil.AssertStoreKeys(t, []string{"maven:group:outer"}, got)
}

func TestRegistry_AffectedByMemoizedInMetadata(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := testutil.TestContext(t)
	h := fixtures.Hosted("h")
	mustStore(t, r, h, fixtures.Group("g1", h))

	meta := registry.NewEventMetadata(summary)
	first, err := r.AffectedBy(ctx, []types.StoreKey{h.Key}, meta)
	require.NoError(t, err)
	require.Len(t, first, 1)

	mustStore(t, r, fixtures.Group("g2", h))

	again, err := r.AffectedBy(ctx, []types.StoreKey{h.Key}, meta)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	fresh, err := r.AffectedBy(ctx, []types.StoreKey{h.Key}, nil)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestRegistry_AffectedByAsync(t *testing.T) {
	p := pool.NewGoroutinePool(pool.GoroutinePoolConfig{Name: "test", MaxWorkers: 2, QueueSize: 4}, zap.NewNop())
	defer p.Close()

	for name, opts := range map[string][]registry.Option{
		"pool":      {registry.WithPool(p)},
		"goroutine": nil,
	} {
		t.Run(name, func(t *testing.T) {
			r, _ := newRegistry(t, opts...)
			ctx := testutil.TestContext(t)
			mustStore(t, r, fixtures.Diamond()...)
			keys := []types.StoreKey{fixtures.Hosted("h").Key}

			want, err := r.AffectedBy(ctx, keys, nil)
			require.NoError(t, err)

			results := make(chan []*types.ArtifactStore, 1)
			require.NoError(t, r.AffectedByAsync(ctx, keys, nil, func(groups []*types.ArtifactStore, err error) {
				assert.NoError(t, err)
				results <- groups
			}))

			got, ok := testutil.WaitForChannel(results, 5*time.Second)
			require.True(t, ok)
			assert.Equal(t, testutil.Keys(want), testutil.Keys(got))
		})
	}
}

// =============================================================================
// ✅ Validation
// =============================================================================

func TestRegistry_ValidationFailureRecorded(t *testing.T) {
	bad := fixtures.Remote("broken", "https://broken.example.org/")
	v := mocks.NewMockValidator().Invalid(bad.Key, map[string]string{"get_status": "503"})
	r, _ := newRegistry(t, registry.WithValidator(v))
	ctx := testutil.TestContext(t)

	ok, err := r.Store(ctx, bad, summary, false, true, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := r.Get(ctx, bad.Key)
	assert.Equal(t, "true", got.GetMetadata(types.MetadataValidationFailed))
	assert.Equal(t, "get_status=503", got.GetMetadata(types.MetadataValidationErrors))
	assert.NotEmpty(t, got.GetMetadata(types.MetadataValidatedAt))
	assert.False(t, got.Disabled)

	// 组不做校验
	mustStore(t, r, fixtures.Group("g", bad))
	assert.Equal(t, []types.StoreKey{bad.Key}, v.Calls())
}

func TestRegistry_ValidationDisablesInvalid(t *testing.T) {
	bad := fixtures.Remote("broken", "https://broken.example.org/")
	v := mocks.NewMockValidator().Invalid(bad.Key, map[string]string{"url": "bad"})
	r, _ := newRegistry(t, registry.WithValidator(v), registry.WithDisableInvalid(true))
	ctx := testutil.TestContext(t)

	mustStore(t, r, bad)
	got, _ := r.Get(ctx, bad.Key)
	assert.True(t, got.Disabled)
}

func TestRegistry_ValidationClearsPreviousFailure(t *testing.T) {
	s := fixtures.Central()
	s.SetMetadata(types.MetadataValidationFailed, "true")
	s.SetMetadata(types.MetadataValidationErrors, "old")
	r, _ := newRegistry(t, registry.WithValidator(mocks.NewMockValidator()))

	mustStore(t, r, s)
	got, _ := r.Get(testutil.TestContext(t), s.Key)
	assert.Empty(t, got.GetMetadata(types.MetadataValidationFailed))
	assert.Empty(t, got.GetMetadata(types.MetadataValidationErrors))
}

func TestRegistry_SkippedWriteIsNotValidated(t *testing.T) {
	v := mocks.NewMockValidator()
	r, _ := newRegistry(t, registry.WithValidator(v))
	ctx := testutil.TestContext(t)
	central := fixtures.Central()
	mustStore(t, r, central)
	require.Len(t, v.Calls(), 1)

	ok, err := r.Store(ctx, central, summary, true, true, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, v.Calls(), 1)

	// 新键即使带 skipIfExists 也会校验
	ok, err = r.Store(ctx, fixtures.Remote("other", "https://other.example.org/"), summary, true, true, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, v.Calls(), 2)
}

func TestRegistry_ValidatorErrorDoesNotBlock(t *testing.T) {
	v := mocks.NewMockValidator().WithError(errors.New("validator down"))
	r, _ := newRegistry(t, registry.WithValidator(v))
	mustStore(t, r, fixtures.Central())
}

// =============================================================================
// 🧰 Lifecycle helpers
// =============================================================================

func TestRegistry_InstallDefaults(t *testing.T) {
	r, l := newRegistry(t)
	ctx := testutil.TestContext(t)

	installed, err := r.InstallDefaults(ctx)
	require.NoError(t, err)
	assert.True(t, installed)
	assert.Equal(t, types.SystemUser, l.Events()[0].Summary.User)

	installed, err = r.InstallDefaults(ctx)
	require.NoError(t, err)
	assert.False(t, installed)

	ordered, err := r.Query().GetOrderedConcreteStoresInGroup(ctx, "maven", registry.DefaultPublic, true)
	require.NoError(t, err)
	testutil.AssertStoreKeys(t, []string{"maven:hosted:local-deployments", "maven:remote:central"}, ordered)

	central, _ := r.Get(ctx, types.MustParseStoreKey("maven:remote:central"))
	assert.Equal(t, registry.DefaultCentralURL, central.Remote.URL)
}

func TestRegistry_ClearRemovesEverything(t *testing.T) {
	r, l := newRegistry(t)
	ctx := testutil.TestContext(t)
	ro := fixtures.ReadonlyHosted("ro")
	mustStore(t, r, ro, fixtures.Group("g", ro))
	l.Reset()

	require.NoError(t, r.Clear(ctx, summary))
	empty, err := r.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
	assert.Equal(t, 0, r.Index().Len())
	assert.Len(t, l.Events(), 4)
}

func TestRegistry_RebuildIndexFromBackend(t *testing.T) {
	b := backend.NewMemoryBackend()
	seed := registry.New(b)
	for _, s := range fixtures.Diamond() {
		_, err := seed.Store(context.Background(), s, summary, false, false, nil)
		require.NoError(t, err)
	}

	r := registry.New(b)
	assert.Equal(t, 0, r.Index().Len())
	require.NoError(t, r.Reload(testutil.TestContext(t)))
	assert.Equal(t, seed.Index().Snapshot(), r.Index().Snapshot())
}

func TestRegistry_ListingsSorted(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := testutil.TestContext(t)
	mustStore(t, r, fixtures.Hosted("b"), fixtures.Central(), fixtures.Hosted("a"), fixtures.Group("g"))

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	testutil.AssertStoreKeys(t, []string{
		"maven:group:g", "maven:hosted:a", "maven:hosted:b", "maven:remote:central",
	}, all)

	concrete, err := r.GetAllConcrete(ctx)
	require.NoError(t, err)
	assert.Len(t, concrete, 3)

	keys, err := r.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 4)
	assert.Equal(t, "maven:group:g", keys[0].String())
}

func TestRegistry_ListErrors(t *testing.T) {
	b := mocks.NewMockBackend().WithListErr(errors.New("scan failed"))
	r := registry.New(b)
	ctx := testutil.TestContext(t)

	_, err := r.GetAll(ctx)
	assert.True(t, types.IsErrorCode(err, types.ErrBackendFailure))
	_, err = r.Keys(ctx)
	assert.True(t, types.IsErrorCode(err, types.ErrBackendFailure))
	_, err = r.InstallDefaults(ctx)
	assert.Error(t, err)
}
