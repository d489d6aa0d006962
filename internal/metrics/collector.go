// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 注册表指标
	registryOpsTotal    *prometheus.CounterVec
	registryOpDuration  *prometheus.HistogramVec
	lockWaitDuration    *prometheus.HistogramVec
	lockTimeoutsTotal   *prometheus.CounterVec
	affectedGroups      prometheus.Histogram
	affectedIndexEdges  prometheus.Gauge
	registryEventsTotal *prometheus.CounterVec
	rollbacksTotal      *prometheus.CounterVec

	// 校验指标
	validationTotal *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 注册表指标
	c.registryOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_operations_total",
			Help:      "Total number of store registry operations",
		},
		[]string{"operation", "status"},
	)

	c.registryOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_operation_duration_seconds",
			Help:      "Store registry operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"operation"},
	)

	c.lockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_lock_wait_seconds",
			Help:      "Time spent waiting for a per-key lock",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 5, 30},
		},
		[]string{"operation"},
	)

	c.lockTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_lock_timeouts_total",
			Help:      "Total number of per-key lock timeouts",
		},
		[]string{"operation"},
	)

	c.affectedGroups = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_affected_groups",
			Help:      "Number of groups returned by affected-by queries",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	c.affectedIndexEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_affected_index_members",
			Help:      "Number of member keys tracked by the affected-by index",
		},
	)

	c.registryEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_events_total",
			Help:      "Total number of dispatched registry events",
		},
		[]string{"type", "status"},
	)

	c.rollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_rollbacks_total",
			Help:      "Total number of write rollbacks",
		},
		[]string{"status"},
	)

	// 校验指标
	c.validationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_total",
			Help:      "Total number of store validations",
		},
		[]string{"result"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🗂️ 注册表指标记录
// =============================================================================

// RecordRegistryOperation 记录注册表操作，status 为 success / error / skipped 等
func (c *Collector) RecordRegistryOperation(operation, status string, duration time.Duration) {
	c.registryOpsTotal.WithLabelValues(operation, status).Inc()
	c.registryOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLockWait 记录按键锁等待时间
func (c *Collector) RecordLockWait(operation string, wait time.Duration, timedOut bool) {
	c.lockWaitDuration.WithLabelValues(operation).Observe(wait.Seconds())
	if timedOut {
		c.lockTimeoutsTotal.WithLabelValues(operation).Inc()
	}
}

// RecordAffectedBy 记录一次受影响分组查询的结果规模
func (c *Collector) RecordAffectedBy(groups int) {
	c.affectedGroups.Observe(float64(groups))
}

// SetAffectedIndexSize 更新反向索引规模
func (c *Collector) SetAffectedIndexSize(members int) {
	c.affectedIndexEdges.Set(float64(members))
}

// RecordEvent 记录事件分发
func (c *Collector) RecordEvent(eventType string, err error) {
	c.registryEventsTotal.WithLabelValues(eventType, resultLabel(err)).Inc()
}

// RecordRollback 记录写回滚
func (c *Collector) RecordRollback(err error) {
	c.rollbacksTotal.WithLabelValues(resultLabel(err)).Inc()
}

// =============================================================================
// ✅ 校验指标记录
// =============================================================================

// RecordValidation 记录校验结果：valid / invalid / error
func (c *Collector) RecordValidation(result string) {
	c.validationTotal.WithLabelValues(result).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
