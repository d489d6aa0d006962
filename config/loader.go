// =============================================================================
// 📦 StoreFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("storeflow.yaml").
//	    WithEnvPrefix("STOREFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/storeflow/internal/cache"
	"github.com/BaSui01/storeflow/internal/database"
	"github.com/BaSui01/storeflow/registry/backend"
	"github.com/BaSui01/storeflow/registry/validation"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 StoreFlow 的完整配置结构
type Config struct {
	// Server 管理 API 服务器配置
	Server ServerConfig `yaml:"server" json:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" json:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`

	// Redis 连接配置（redis 后端与排序缓存共用）
	Redis RedisConfig `yaml:"redis" json:"redis" env:"REDIS"`

	// Database 关系型数据库配置（gorm 后端）
	Database DatabaseConfig `yaml:"database" json:"database" env:"DATABASE"`

	// Mongo 配置（mongo 后端）
	Mongo MongoConfig `yaml:"mongo" json:"mongo" env:"MONGO"`

	// Registry 仓库注册表配置
	Registry RegistryConfig `yaml:"registry" json:"registry" env:"REGISTRY"`

	// Validation 远程仓库校验配置
	Validation ValidationConfig `yaml:"validation" json:"validation" env:"VALIDATION"`

	// Auth 认证与限流配置
	Auth AuthConfig `yaml:"auth" json:"auth" env:"AUTH"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" json:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" json:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" json:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" json:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" json:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" json:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" json:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时执行 gorm AutoMigrate（生产环境请使用 storeflow migrate）
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" json:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" json:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" json:"collection" env:"COLLECTION"`
	// 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// RegistryConfig 注册表配置
type RegistryConfig struct {
	// 持久化后端: memory, redis, gorm, mongo
	Backend string `yaml:"backend" json:"backend" env:"BACKEND"`
	// Redis 键前缀（redis 后端）
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
	// 单键锁等待超时
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout" env:"LOCK_TIMEOUT"`
	// 空仓库启动时安装 central / local-deployments / public
	InstallDefaults bool `yaml:"install_defaults" json:"install_defaults" env:"INSTALL_DEFAULTS"`
	// 受影响组结果中排除的组名正则
	AffectedExcludePattern string `yaml:"affected_exclude_pattern" json:"affected_exclude_pattern" env:"AFFECTED_EXCLUDE_PATTERN"`
	// 异步受影响组计算的 worker 数
	AsyncWorkers int `yaml:"async_workers" json:"async_workers" env:"ASYNC_WORKERS"`
	// 异步任务队列长度
	AsyncQueueSize int `yaml:"async_queue_size" json:"async_queue_size" env:"ASYNC_QUEUE_SIZE"`
	// 启用 Redis 组排序缓存
	OrderingCache bool `yaml:"ordering_cache" json:"ordering_cache" env:"ORDERING_CACHE"`
	// 排序缓存过期时间
	OrderingTTL time.Duration `yaml:"ordering_ttl" json:"ordering_ttl" env:"ORDERING_TTL"`
}

// ValidationConfig 远程仓库校验配置
type ValidationConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// 要求远程仓库使用 https（允许列表中的主机除外）
	RequireSSL bool `yaml:"require_ssl" json:"require_ssl" env:"REQUIRE_SSL"`
	// 允许非 SSL 的主机
	AllowedHosts []string `yaml:"allowed_hosts" json:"allowed_hosts" env:"ALLOWED_HOSTS"`
	// 单次探测超时
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// 校验失败时禁用仓库
	DisableInvalid bool `yaml:"disable_invalid" json:"disable_invalid" env:"DISABLE_INVALID"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	// JWT HMAC 密钥，为空表示不启用 JWT
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret" env:"JWT_SECRET"`
	// 静态 API Key 列表
	APIKeys []string `yaml:"api_keys" json:"api_keys" env:"API_KEYS"`
	// 每个客户端每秒请求数，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "STOREFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 按 "30s" 形式解析
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate 验证配置，返回所有问题的合并错误
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort))
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, errors.New("metrics port must differ from HTTP port"))
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("invalid log format: %q", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry sample_rate must be between 0 and 1"))
	}

	switch backend.Type(c.Registry.Backend) {
	case backend.TypeMemory:
	case backend.TypeRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis backend requires redis.addr"))
		}
	case backend.TypeGorm:
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("unsupported database driver: %q", c.Database.Driver))
		}
		if c.Database.Name == "" {
			errs = append(errs, errors.New("gorm backend requires database.name"))
		}
	case backend.TypeMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" || c.Mongo.Collection == "" {
			errs = append(errs, errors.New("mongo backend requires mongo.uri, mongo.database and mongo.collection"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported registry backend: %q", c.Registry.Backend))
	}

	if c.Registry.LockTimeout <= 0 {
		errs = append(errs, errors.New("registry lock_timeout must be positive"))
	}
	if c.Registry.AsyncWorkers < 0 || c.Registry.AsyncQueueSize < 0 {
		errs = append(errs, errors.New("registry async_workers and async_queue_size must not be negative"))
	}
	if c.Registry.AffectedExcludePattern != "" {
		if _, err := regexp.Compile(c.Registry.AffectedExcludePattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid affected_exclude_pattern: %w", err))
		}
	}
	if c.Registry.OrderingCache && c.Redis.Addr == "" {
		errs = append(errs, errors.New("ordering_cache requires redis.addr"))
	}

	if c.Validation.Timeout < 0 {
		errs = append(errs, errors.New("validation timeout must not be negative"))
	}

	if c.Auth.RateLimitRPS < 0 || c.Auth.RateLimitBurst < 0 {
		errs = append(errs, errors.New("auth rate limits must not be negative"))
	}
	if c.Auth.RateLimitRPS > 0 && c.Auth.RateLimitBurst == 0 {
		errs = append(errs, errors.New("auth rate_limit_burst must be positive when rate limiting is on"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// =============================================================================
// 🔌 组件配置转换
// =============================================================================

// CacheConfig 转换为 Redis 连接管理器配置
func (r RedisConfig) CacheConfig() cache.Config {
	return cache.Config{
		Addr:                r.Addr,
		Password:            r.Password,
		DB:                  r.DB,
		MaxRetries:          r.MaxRetries,
		PoolSize:            r.PoolSize,
		MinIdleConns:        r.MinIdleConns,
		HealthCheckInterval: r.HealthCheckInterval,
	}
}

// BackendConfig 组装持久化后端配置
func (c *Config) BackendConfig() backend.Config {
	pool := database.DefaultPoolConfig()
	if c.Database.MaxOpenConns > 0 {
		pool.MaxOpenConns = c.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns > 0 {
		pool.MaxIdleConns = c.Database.MaxIdleConns
	}
	if c.Database.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = c.Database.ConnMaxLifetime
	}

	return backend.Config{
		Type:      backend.Type(c.Registry.Backend),
		KeyPrefix: c.Registry.KeyPrefix,
		Redis:     c.Redis.CacheConfig(),
		Database: backend.DatabaseConfig{
			Driver:      c.Database.Driver,
			DSN:         c.Database.DSN(),
			Pool:        pool,
			AutoMigrate: c.Database.AutoMigrate,
		},
		Mongo: backend.MongoConfig{
			URI:            c.Mongo.URI,
			Database:       c.Mongo.Database,
			Collection:     c.Mongo.Collection,
			ConnectTimeout: c.Mongo.ConnectTimeout,
		},
	}
}

// ValidatorConfig 转换为远程仓库校验器配置
func (v ValidationConfig) ValidatorConfig() validation.Config {
	return validation.Config{
		Enabled:        v.Enabled,
		RequireSSL:     v.RequireSSL,
		AllowedHosts:   append([]string(nil), v.AllowedHosts...),
		Timeout:        v.Timeout,
		DisableInvalid: v.DisableInvalid,
	}
}
