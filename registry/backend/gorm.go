package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/storeflow/internal/database"
	"github.com/BaSui01/storeflow/types"
)

// GormBackend stores definitions in the artifact_stores table through gorm.
// Works against postgres, mysql and sqlite. Affected-by edges live in
// artifact_store_affected.
type GormBackend struct {
	pool    *database.PoolManager
	metrics Instrumentation
	logger  *zap.Logger
}

// Instrumentation is the metrics sink for database-backed stores.
type Instrumentation interface {
	database.StatsRecorder
	RecordDBQuery(database, operation string, duration time.Duration)
}

// Instrumented is implemented by backends that report query metrics.
type Instrumented interface {
	Instrument(m Instrumentation)
}

// NewGormBackend creates a relational backend over a pool manager.
func NewGormBackend(pool *database.PoolManager, logger *zap.Logger) *GormBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormBackend{
		pool:   pool,
		logger: logger.With(zap.String("component", "gorm_backend")),
	}
}

// Instrument enables query timing and connection gauges. Call it before
// the backend is shared.
func (b *GormBackend) Instrument(m Instrumentation) {
	b.metrics = m
	b.pool.SetStatsRecorder(m)
}

func (b *GormBackend) observe(op string, start time.Time) {
	if b.metrics != nil {
		b.metrics.RecordDBQuery(b.pool.DB().Dialector.Name(), op, time.Since(start))
	}
}

// EdgeRecord is one persisted affected-by edge.
type EdgeRecord struct {
	MemberKey string `gorm:"primaryKey;size:340"`
	GroupKey  string `gorm:"primaryKey;size:340"`
}

// TableName binds EdgeRecord to the artifact_store_affected table.
func (EdgeRecord) TableName() string { return "artifact_store_affected" }

// AutoMigrate creates or updates the store and edge tables. Production
// deployments use the versioned migrations instead.
func (b *GormBackend) AutoMigrate(ctx context.Context) error {
	return b.pool.DB().WithContext(ctx).AutoMigrate(&Record{}, &EdgeRecord{})
}

// Close closes the underlying pool
func (b *GormBackend) Close() error {
	return b.pool.Close()
}

// Ping checks if the database is reachable
func (b *GormBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func keyScope(key types.StoreKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("package_type = ? AND store_type = ? AND name = ?",
			key.PackageType, string(key.Type), key.Name)
	}
}

func findRecord(db *gorm.DB, key types.StoreKey) (*Record, error) {
	var rec Record
	err := db.Scopes(keyScope(key)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get retrieves a store by key
func (b *GormBackend) Get(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	defer b.observe("get", time.Now())
	rec, err := findRecord(b.pool.DB().WithContext(ctx), key)
	if err != nil || rec == nil {
		return nil, err
	}
	return FromRecord(rec)
}

// Put upserts a store inside a transaction and returns the prior row
func (b *GormBackend) Put(ctx context.Context, store *types.ArtifactStore) (*types.ArtifactStore, error) {
	defer b.observe("put", time.Now())
	if err := checkStore(store); err != nil {
		return nil, err
	}
	rec, err := ToRecord(store)
	if err != nil {
		return nil, err
	}

	var prev *types.ArtifactStore
	err = b.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		prev = nil
		old, err := findRecord(tx, store.Key)
		if err != nil {
			return err
		}
		if old == nil {
			return tx.Create(rec).Error
		}
		if prev, err = FromRecord(old); err != nil {
			return fmt.Errorf("failed to decode previous value: %w", err)
		}
		return tx.Save(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// Remove deletes a store inside a transaction and returns the removed row
func (b *GormBackend) Remove(ctx context.Context, key types.StoreKey) (*types.ArtifactStore, error) {
	defer b.observe("remove", time.Now())
	var prev *types.ArtifactStore
	err := b.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		prev = nil
		old, err := findRecord(tx, key)
		if err != nil || old == nil {
			return err
		}
		if prev, err = FromRecord(old); err != nil {
			return fmt.Errorf("failed to decode previous value: %w", err)
		}
		return tx.Scopes(keyScope(key)).Delete(&Record{}).Error
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// Keys lists all keys
func (b *GormBackend) Keys(ctx context.Context) ([]types.StoreKey, error) {
	defer b.observe("keys", time.Now())
	var recs []Record
	err := b.pool.DB().WithContext(ctx).
		Select("package_type", "store_type", "name").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	keys := make([]types.StoreKey, 0, len(recs))
	for i := range recs {
		keys = append(keys, recs[i].Key())
	}
	return keys, nil
}

// List returns all stores
func (b *GormBackend) List(ctx context.Context) ([]*types.ArtifactStore, error) {
	defer b.observe("list", time.Now())
	var recs []Record
	if err := b.pool.DB().WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	return b.decodeAll(recs)
}

// ListByPackageAndType returns the stores matching packageType and storeType
func (b *GormBackend) ListByPackageAndType(ctx context.Context, packageType string, storeType types.StoreType) ([]*types.ArtifactStore, error) {
	defer b.observe("list_by_type", time.Now())
	var recs []Record
	err := b.pool.DB().WithContext(ctx).
		Where("package_type = ? AND store_type = ?", packageType, string(storeType)).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return b.decodeAll(recs)
}

// decodeAll fails when any row does not decode; a partial listing would
// drop groups from index rebuilds.
func (b *GormBackend) decodeAll(recs []Record) ([]*types.ArtifactStore, error) {
	result := make([]*types.ArtifactStore, 0, len(recs))
	var errs []error
	for i := range recs {
		s, err := FromRecord(&recs[i])
		if err != nil {
			errs = append(errs, corruptError(recs[i].Key().String(), err))
			continue
		}
		result = append(result, s)
	}
	if len(errs) > 0 {
		b.logger.Error("undecodable rows in artifact_stores", zap.Int("count", len(errs)))
		return nil, errors.Join(errs...)
	}
	return result, nil
}

// IsEmpty reports whether the table has no rows
func (b *GormBackend) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := b.pool.DB().WithContext(ctx).Model(&Record{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count == 0, nil
}

// Clear removes every store row and edge
func (b *GormBackend) Clear(ctx context.Context) error {
	return b.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := all.Delete(&EdgeRecord{}).Error; err != nil {
			return err
		}
		return all.Delete(&Record{}).Error
	})
}

// =============================================================================
// 🔗 AffectedEdges
// =============================================================================

// AddAffectedBy records group as a direct container of members
func (b *GormBackend) AddAffectedBy(ctx context.Context, group types.StoreKey, members []types.StoreKey) error {
	defer b.observe("add_edges", time.Now())
	if len(members) == 0 {
		return nil
	}
	edges := make([]EdgeRecord, 0, len(members))
	for _, m := range members {
		edges = append(edges, EdgeRecord{MemberKey: m.String(), GroupKey: group.String()})
	}
	return b.pool.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&edges).Error
}

// RemoveAffectedBy drops the edges from members to group
func (b *GormBackend) RemoveAffectedBy(ctx context.Context, group types.StoreKey, members []types.StoreKey) error {
	defer b.observe("remove_edges", time.Now())
	if len(members) == 0 {
		return nil
	}
	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, m.String())
	}
	return b.pool.DB().WithContext(ctx).
		Where("group_key = ? AND member_key IN ?", group.String(), keys).
		Delete(&EdgeRecord{}).Error
}

// AffectedBy returns the groups listing member directly
func (b *GormBackend) AffectedBy(ctx context.Context, member types.StoreKey) ([]types.StoreKey, error) {
	defer b.observe("affected_by", time.Now())
	var raw []string
	err := b.pool.DB().WithContext(ctx).
		Model(&EdgeRecord{}).
		Where("member_key = ?", member.String()).
		Pluck("group_key", &raw).Error
	if err != nil {
		return nil, err
	}
	groups := make([]types.StoreKey, 0, len(raw))
	for _, g := range raw {
		k, err := types.ParseStoreKey(g)
		if err != nil {
			return nil, corruptError(g, err)
		}
		groups = append(groups, k)
	}
	return groups, nil
}

var (
	_ Backend       = (*GormBackend)(nil)
	_ Instrumented  = (*GormBackend)(nil)
	_ AffectedEdges = (*GormBackend)(nil)
)
