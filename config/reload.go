// 配置热重载。
//
// ReloadManager 持有当前生效的配置，接收文件变更后重新加载、
// 校验、比较差异并通知钩子；任一钩子失败时回滚到旧配置。
package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadHook 在新配置生效后调用，返回错误将触发回滚
type ReloadHook func(oldConfig, newConfig *Config) error

// Change 描述一个字段的变更
type Change struct {
	Path            string `json:"path"`
	OldValue        any    `json:"old_value,omitempty"`
	NewValue        any    `json:"new_value,omitempty"`
	RequiresRestart bool   `json:"requires_restart"`
}

// Snapshot 是一次生效配置的历史记录
type Snapshot struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Checksum  string    `json:"checksum"`
	Config    *Config   `json:"-"`
}

// reloadableFields 运行期可直接生效的字段，其余字段的变更需要重启
var reloadableFields = map[string]bool{
	"Log.Level":               true,
	"Validation.Enabled":      true,
	"Validation.RequireSSL":   true,
	"Validation.AllowedHosts": true,
	"Validation.Timeout":      true,
}

// sensitiveFields 日志与变更记录中脱敏
var sensitiveFields = map[string]bool{
	"Redis.Password":    true,
	"Database.Password": true,
	"Mongo.URI":         true,
	"Auth.JWTSecret":    true,
	"Auth.APIKeys":      true,
}

const redacted = "[REDACTED]"

// IsReloadable 报告字段变更是否无需重启即可生效
func IsReloadable(path string) bool { return reloadableFields[path] }

// ReloadOption 配置 ReloadManager
type ReloadOption func(*ReloadManager)

// WithReloadLogger 设置记录器
func WithReloadLogger(logger *zap.Logger) ReloadOption {
	return func(m *ReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReloadPath 设置被监听的配置文件
func WithReloadPath(path string) ReloadOption {
	return func(m *ReloadManager) { m.path = path }
}

// WithReloadEnvPrefix 设置重新加载时使用的环境变量前缀
func WithReloadEnvPrefix(prefix string) ReloadOption {
	return func(m *ReloadManager) { m.envPrefix = prefix }
}

// WithMaxHistory 设置保留的历史快照数
func WithMaxHistory(n int) ReloadOption {
	return func(m *ReloadManager) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// WithDebounce 设置文件事件去抖时间
func WithDebounce(d time.Duration) ReloadOption {
	return func(m *ReloadManager) { m.debounce = d }
}

// ReloadManager 管理配置热重载
type ReloadManager struct {
	mu         sync.Mutex
	current    *Config
	history    []Snapshot
	maxHistory int
	hooks      []ReloadHook

	path      string
	envPrefix string
	debounce  time.Duration
	watcher   *Watcher
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	logger *zap.Logger
}

// NewReloadManager 以初始配置创建管理器
func NewReloadManager(initial *Config, opts ...ReloadOption) *ReloadManager {
	m := &ReloadManager{
		current:    initial,
		maxHistory: 10,
		envPrefix:  "STOREFLOW",
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	m.pushHistory(initial, "init")
	return m
}

// OnReload 注册钩子，按注册顺序调用
func (m *ReloadManager) OnReload(hook ReloadHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Current 返回当前生效配置的副本
func (m *ReloadManager) Current() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyConfig(m.current)
}

// History 返回历史快照，按版本升序
func (m *ReloadManager) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Version 返回当前版本号
func (m *ReloadManager) Version() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[len(m.history)-1].Version
}

// Start 开始监听配置文件；未设置路径时直接返回
func (m *ReloadManager) Start(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	m.mu.Lock()
	if m.watcher != nil {
		m.mu.Unlock()
		return errors.New("reload manager already running")
	}
	w, err := NewWatcher(m.path, m.debounce, m.logger)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		m.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	m.watcher = w
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				if err := m.ReloadFromFile(); err != nil {
					m.logger.Error("config reload failed, keeping current config", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop 停止监听
func (m *ReloadManager) Stop() error {
	m.mu.Lock()
	w, cancel := m.watcher, m.cancel
	m.watcher, m.cancel = nil, nil
	m.mu.Unlock()

	if w == nil {
		return nil
	}
	cancel()
	err := w.Stop()
	m.wg.Wait()
	return err
}

// ReloadFromFile 重新加载配置文件并应用
func (m *ReloadManager) ReloadFromFile() error {
	if m.path == "" {
		return errors.New("no config path set")
	}
	cfg, err := NewLoader().WithConfigPath(m.path).WithEnvPrefix(m.envPrefix).Load()
	if err != nil {
		return err
	}
	return m.Apply(cfg, "file")
}

// Apply 校验并应用新配置，无变更时不做任何事。
// 钩子失败时恢复旧配置，并以 (new, old) 再次通知钩子。
func (m *ReloadManager) Apply(newConfig *Config, source string) error {
	if newConfig == nil {
		return errors.New("config is nil")
	}
	if err := newConfig.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	oldConfig := m.current
	changes := diffConfig(oldConfig, newConfig)
	if len(changes) == 0 {
		m.mu.Unlock()
		m.logger.Debug("config unchanged", zap.String("source", source))
		return nil
	}
	m.current = newConfig
	m.pushHistory(newConfig, source)
	hooks := append([]ReloadHook(nil), m.hooks...)
	m.mu.Unlock()

	restart := false
	for _, c := range changes {
		restart = restart || c.RequiresRestart
		m.logger.Info("config changed",
			zap.String("path", c.Path),
			zap.Any("old_value", c.OldValue),
			zap.Any("new_value", c.NewValue),
			zap.Bool("requires_restart", c.RequiresRestart),
		)
	}

	if err := runHooks(hooks, oldConfig, newConfig); err != nil {
		m.mu.Lock()
		if m.current == newConfig {
			m.current = oldConfig
			m.pushHistory(oldConfig, "rollback")
		}
		m.mu.Unlock()
		if rbErr := runHooks(hooks, newConfig, oldConfig); rbErr != nil {
			m.logger.Error("reload hook failed during rollback", zap.Error(rbErr))
		}
		return fmt.Errorf("config reload rolled back: %w", err)
	}

	if restart {
		m.logger.Warn("some configuration changes require a restart to take effect")
	}
	m.logger.Info("configuration reloaded",
		zap.String("source", source),
		zap.Int("changes", len(changes)),
		zap.Int("version", m.Version()),
	)
	return nil
}

// Diff 返回两个配置之间的字段变更，敏感字段已脱敏
func Diff(oldConfig, newConfig *Config) []Change {
	return diffConfig(oldConfig, newConfig)
}

func runHooks(hooks []ReloadHook, oldConfig, newConfig *Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reload hook panicked: %v", r)
		}
	}()
	for _, h := range hooks {
		if err := h(oldConfig, newConfig); err != nil {
			return err
		}
	}
	return nil
}

func (m *ReloadManager) pushHistory(cfg *Config, source string) {
	version := 1
	if n := len(m.history); n > 0 {
		version = m.history[n-1].Version + 1
	}
	m.history = append(m.history, Snapshot{
		Version:   version,
		Timestamp: time.Now(),
		Source:    source,
		Checksum:  checksum(cfg),
		Config:    copyConfig(cfg),
	})
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}

func diffConfig(oldConfig, newConfig *Config) []Change {
	var changes []Change
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]Change) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}
		o, n := oldVal.Field(i), newVal.Field(i)
		if o.Kind() == reflect.Struct {
			compareStructs(path, o, n, changes)
			continue
		}
		if reflect.DeepEqual(o.Interface(), n.Interface()) {
			continue
		}
		c := Change{
			Path:            path,
			OldValue:        o.Interface(),
			NewValue:        n.Interface(),
			RequiresRestart: !reloadableFields[path],
		}
		if sensitiveFields[path] {
			c.OldValue, c.NewValue = redacted, redacted
		}
		*changes = append(*changes, c)
	}
}

func copyConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		c := *cfg
		return &c
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		c := *cfg
		return &c
	}
	return &out
}

func checksum(cfg *Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
