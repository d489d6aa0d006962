package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================
// 一个进程通常有两个监听：管理 API 与 /metrics。Manager 统一启动，
// 任一服务异常退出或 ctx 取消时并发地优雅关闭全部服务。
// =============================================================================

// Config 单个服务器的配置
type Config struct {
	// 监听地址，":0" 表示随机端口
	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 最大请求头大小
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 证书与私钥，均设置时启用 TLS
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

type entry struct {
	name     string
	config   Config
	server   *http.Server
	listener net.Listener
}

// Manager 管理一组具名 HTTP 服务器
type Manager struct {
	mu              sync.Mutex
	entries         []*entry
	started         bool
	closed          bool
	shutdownTimeout time.Duration
	errCh           chan error
	logger          *zap.Logger
}

// NewManager 创建管理器；shutdownTimeout <= 0 时使用 30s
func NewManager(shutdownTimeout time.Duration, logger *zap.Logger) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		shutdownTimeout: shutdownTimeout,
		errCh:           make(chan error, 4),
		logger:          logger.With(zap.String("component", "http_server")),
	}
}

// Add 注册一个服务器，必须在 Start 之前调用
func (m *Manager) Add(name string, handler http.Handler, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.closed {
		return fmt.Errorf("cannot add server %q after start", name)
	}
	for _, e := range m.entries {
		if e.name == name {
			return fmt.Errorf("server %q already registered", name)
		}
	}
	m.entries = append(m.entries, &entry{
		name:   name,
		config: cfg,
		server: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
			TLSConfig:      &tls.Config{MinVersion: tls.VersionTLS12},
		},
	})
	return nil
}

// Start 监听并在后台开始服务（非阻塞）。任一监听失败时关闭已打开的监听。
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("server manager is closed")
	}
	if m.started {
		return errors.New("server manager already started")
	}
	if len(m.entries) == 0 {
		return errors.New("no server registered")
	}

	for i, e := range m.entries {
		ln, err := net.Listen("tcp", e.config.Addr)
		if err != nil {
			for _, prev := range m.entries[:i] {
				prev.listener.Close()
				prev.listener = nil
			}
			return fmt.Errorf("failed to listen on %s (%s): %w", e.config.Addr, e.name, err)
		}
		e.listener = ln
	}

	for _, e := range m.entries {
		m.logger.Info("starting server",
			zap.String("name", e.name),
			zap.String("addr", e.listener.Addr().String()),
			zap.Bool("tls", e.tls()),
		)
		go m.serve(e)
	}
	m.started = true
	return nil
}

func (e *entry) tls() bool {
	return e.config.TLSCertFile != "" && e.config.TLSKeyFile != ""
}

func (m *Manager) serve(e *entry) {
	var err error
	if e.tls() {
		err = e.server.ServeTLS(e.listener, e.config.TLSCertFile, e.config.TLSKeyFile)
	} else {
		err = e.server.Serve(e.listener)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("server failed", zap.String("name", e.name), zap.Error(err))
		select {
		case m.errCh <- fmt.Errorf("%s: %w", e.name, err):
		default:
		}
	}
}

// Run 启动全部服务器并阻塞，直到 ctx 取消或某个服务异常退出，随后优雅关闭。
// ctx 取消时返回 nil。
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested")
	case serveErr = <-m.errCh:
		m.logger.Error("server exited unexpectedly", zap.Error(serveErr))
	}

	shutdownErr := m.Shutdown(context.WithoutCancel(ctx))
	return errors.Join(serveErr, shutdownErr)
}

// Shutdown 并发地优雅关闭全部服务器，可重复调用
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := append([]*entry(nil), m.entries...)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			if err := e.server.Shutdown(gctx); err != nil {
				return fmt.Errorf("shutdown %s: %w", e.name, err)
			}
			m.logger.Info("server stopped", zap.String("name", e.name))
			return nil
		})
	}
	return g.Wait()
}

// Errors 返回异步服务错误
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 返回具名服务器的实际监听地址；未启动时返回配置地址
func (m *Manager) Addr(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.name != name {
			continue
		}
		if e.listener != nil {
			return e.listener.Addr().String()
		}
		return e.config.Addr
	}
	return ""
}

// IsRunning 报告服务器是否已启动且未关闭
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.closed
}
