package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/api"
	"github.com/BaSui01/storeflow/api/handlers"
	"github.com/BaSui01/storeflow/config"
	"github.com/BaSui01/storeflow/internal/cache"
	"github.com/BaSui01/storeflow/internal/metrics"
	"github.com/BaSui01/storeflow/internal/pool"
	"github.com/BaSui01/storeflow/internal/server"
	"github.com/BaSui01/storeflow/internal/telemetry"
	"github.com/BaSui01/storeflow/registry"
	"github.com/BaSui01/storeflow/registry/backend"
	"github.com/BaSui01/storeflow/registry/validation"
	"github.com/BaSui01/storeflow/types"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 持有一次 serve 运行期间的全部组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel

	backend     backend.Backend
	cache       *cache.Manager
	registry    *registry.Registry
	broadcaster *registry.Broadcaster
	pool        *pool.GoroutinePool
	validator   *validation.HTTPValidator
	gate        *validatorGate
	collector   *metrics.Collector
	telemetry   *telemetry.Providers
	reload      *config.ReloadManager
	servers     *server.Manager
}

// NewServer 按配置组装注册表与 HTTP 服务。失败时已创建的资源会被释放。
func NewServer(ctx context.Context, cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) (_ *Server, err error) {
	s := &Server{cfg: cfg, logger: logger, level: level}
	defer func() {
		if err != nil {
			_ = s.release(context.Background())
		}
	}()

	s.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, telemetry.Resource{
		Version: Version,
		Backend: cfg.Registry.Backend,
	}, logger)
	if err != nil {
		// 遥测不可用不影响服务
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		s.telemetry = nil
	}

	s.collector = metrics.NewCollector("storeflow", logger)

	s.backend, err = backend.Open(ctx, cfg.BackendConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Registry.Backend, err)
	}
	if ib, ok := s.backend.(backend.Instrumented); ok {
		ib.Instrument(s.collector)
	}

	opts, err := s.registryOptions(cfg)
	if err != nil {
		return nil, err
	}
	s.registry = registry.New(s.backend, opts...)
	s.registry.AddListener(newAffectedNotifier(s.registry, logger))

	if err := s.registry.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	if cfg.Registry.InstallDefaults {
		installed, err := s.registry.InstallDefaults(ctx)
		if err != nil {
			return nil, fmt.Errorf("install default stores: %w", err)
		}
		if installed {
			logger.Info("installed default stores")
		}
	}

	s.reload = config.NewReloadManager(cfg,
		config.WithReloadLogger(logger),
		config.WithReloadPath(configPath),
	)
	s.reload.OnReload(s.applyReload)

	if err := s.buildServers(ctx, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) registryOptions(cfg *config.Config) ([]registry.Option, error) {
	s.broadcaster = registry.NewBroadcaster(64, s.logger)

	s.pool = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		Name:       "affected-by",
		MaxWorkers: cfg.Registry.AsyncWorkers,
		QueueSize:  cfg.Registry.AsyncQueueSize,
	}, s.logger)

	s.validator = validation.NewHTTPValidator(cfg.Validation.ValidatorConfig(), s.logger,
		validation.WithMetrics(s.collector))
	s.gate = newValidatorGate(s.validator, cfg.Validation.Enabled)

	opts := []registry.Option{
		registry.WithLogger(s.logger),
		registry.WithLockTimeout(cfg.Registry.LockTimeout),
		registry.WithValidator(s.gate),
		registry.WithDisableInvalid(cfg.Validation.DisableInvalid),
		registry.WithPool(s.pool),
		registry.WithMetrics(s.collector),
		registry.WithListeners(s.broadcaster),
	}
	if s.telemetry != nil {
		opts = append(opts, registry.WithTracer(s.telemetry.Tracer("github.com/BaSui01/storeflow/registry")))
	}

	if p := cfg.Registry.AffectedExcludePattern; p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("affected_exclude_pattern: %w", err)
		}
		opts = append(opts, registry.WithAffectedFilter(re))
	}

	if cfg.Registry.OrderingCache {
		cacheCfg := cfg.Redis.CacheConfig()
		cacheCfg.DefaultTTL = cfg.Registry.OrderingTTL
		mgr, err := cache.NewManager(cacheCfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect ordering cache: %w", err)
		}
		s.cache = mgr
		opts = append(opts, registry.WithOrderingCache(
			registry.NewRedisOrderingCache(mgr, cfg.Registry.KeyPrefix+"ordering:", cfg.Registry.OrderingTTL, s.logger).
				WithMetrics(s.collector)))
	}
	return opts, nil
}

func (s *Server) buildServers(ctx context.Context, cfg *config.Config) error {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("registry", s.registry.Ping))
	if s.cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("ordering_cache", s.cache.Ping))
	}

	mux := http.NewServeMux()
	handlers.Routes{
		Stores: handlers.NewStoreHandler(s.registry, s.logger),
		Groups: handlers.NewGroupHandler(s.registry, s.logger),
		Events: handlers.NewEventsHandler(s.broadcaster, cfg.Server.CORSAllowedOrigins, s.logger),
		Health: health,
		Version: api.VersionInfo{
			Version:   Version,
			BuildTime: BuildTime,
			GitCommit: GitCommit,
			Backend:   cfg.Registry.Backend,
		},
	}.Register(mux)

	apiHandler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(cfg.Server.CORSAllowedOrigins),
		Authenticate(cfg.Auth, handlers.PublicPaths, s.logger),
		RateLimiter(ctx, cfg.Auth.RateLimitRPS, cfg.Auth.RateLimitBurst, s.logger),
	)

	s.servers = server.NewManager(cfg.Server.ShutdownTimeout, s.logger)

	apiCfg := server.DefaultConfig()
	apiCfg.Addr = net.JoinHostPort("", strconv.Itoa(cfg.Server.HTTPPort))
	apiCfg.ReadTimeout = cfg.Server.ReadTimeout
	// WriteTimeout 对事件流无效：连接被 websocket 接管后不再受 http.Server 控制
	apiCfg.WriteTimeout = cfg.Server.WriteTimeout
	if err := s.servers.Add("api", apiHandler, apiCfg); err != nil {
		return err
	}

	if cfg.Server.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		metricsCfg := server.DefaultConfig()
		metricsCfg.Addr = net.JoinHostPort("", strconv.Itoa(cfg.Server.MetricsPort))
		if err := s.servers.Add("metrics", metricsMux, metricsCfg); err != nil {
			return err
		}
	}
	return nil
}

// Run 启动配置监听与 HTTP 服务，阻塞到 ctx 结束或服务出错，然后释放全部资源
func (s *Server) Run(ctx context.Context) error {
	if err := s.reload.Start(ctx); err != nil {
		s.logger.Warn("config hot reload unavailable", zap.Error(err))
	}

	s.logger.Info("serving",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	runErr := s.servers.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, s.release(shutdownCtx))
}

// release 按依赖逆序关闭组件；可重复调用
func (s *Server) release(ctx context.Context) error {
	var errs []error
	if s.reload != nil {
		errs = append(errs, s.reload.Stop())
	}
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
		s.cache = nil
	}
	if s.backend != nil {
		errs = append(errs, s.backend.Close())
		s.backend = nil
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
		s.telemetry = nil
	}
	return errors.Join(errs...)
}

// applyReload 应用可热更新的字段：日志级别与校验参数
func (s *Server) applyReload(oldCfg, newCfg *config.Config) error {
	if oldCfg.Log.Level != newCfg.Log.Level {
		s.level.SetLevel(parseLevel(newCfg.Log.Level))
		s.logger.Info("log level changed", zap.String("level", newCfg.Log.Level))
	}
	if s.validator != nil {
		s.validator.UpdateConfig(newCfg.Validation.ValidatorConfig())
		s.gate.SetEnabled(newCfg.Validation.Enabled)
	}
	return nil
}

// =============================================================================
// ✅ validatorGate
// =============================================================================

// validatorGate 在 validation.enabled 关闭时跳过探测；
// 返回 nil 结果表示不修改仓库的校验元数据。
type validatorGate struct {
	inner   validation.Validator
	enabled atomic.Bool
}

func newValidatorGate(inner validation.Validator, enabled bool) *validatorGate {
	g := &validatorGate{inner: inner}
	g.enabled.Store(enabled)
	return g
}

// SetEnabled switches probing on or off for subsequent writes.
func (g *validatorGate) SetEnabled(enabled bool) { g.enabled.Store(enabled) }

// Validate implements validation.Validator.
func (g *validatorGate) Validate(ctx context.Context, store *types.ArtifactStore) (*validation.Result, error) {
	if !g.enabled.Load() {
		return nil, nil
	}
	return g.inner.Validate(ctx, store)
}

// =============================================================================
// 🔔 affectedNotifier
// =============================================================================

// affectedNotifier 在写入后后台计算受影响的组并记录日志，
// 结果随事件元数据缓存，同一变更的后续监听器可直接复用。
type affectedNotifier struct {
	registry *registry.Registry
	logger   *zap.Logger
}

func newAffectedNotifier(reg *registry.Registry, logger *zap.Logger) *affectedNotifier {
	return &affectedNotifier{registry: reg, logger: logger.With(zap.String("component", "affected_notifier"))}
}

func (n *affectedNotifier) OnEvent(ctx context.Context, ev registry.Event) error {
	if !ev.Type.IsPost() || len(ev.Stores) == 0 {
		return nil
	}
	keys := make([]types.StoreKey, 0, len(ev.Stores))
	for _, c := range ev.Stores {
		keys = append(keys, c.Key())
	}

	start := time.Now()
	err := n.registry.AffectedByAsync(ctx, keys, ev.Meta, func(groups []*types.ArtifactStore, err error) {
		if err != nil {
			n.logger.Warn("affected-by computation failed", zap.String("event", ev.ID), zap.Error(err))
			return
		}
		if len(groups) == 0 {
			return
		}
		names := make([]string, len(groups))
		for i, g := range groups {
			names[i] = g.Key.String()
		}
		n.logger.Info("groups affected by change",
			zap.String("event", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.Strings("groups", names),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
	if err != nil {
		// 通知失败不回滚写入
		n.logger.Debug("affected-by not scheduled", zap.Error(err))
	}
	return nil
}
