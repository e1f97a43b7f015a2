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
)

var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrClosed         = errors.New("server is closed")
)

// Config 单个监听端口
type Config struct {
	Name            string        `yaml:"name" json:"name"`
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// 两者都非空时以 HTTPS 服务
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file"`
}

func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

func (c Config) tlsEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

type state int

const (
	stateIdle state = iota
	stateServing
	stateClosed
)

// Manager 一个端口的 listen → serve → shutdown
type Manager struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger
	errCh  chan error

	mu    sync.RWMutex
	state state
	ln    net.Listener
}

func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	logger = logger.With(zap.String("component", "http_server"), zap.String("listener", cfg.Name))
	return &Manager{
		cfg: cfg,
		srv: &http.Server{
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
			ErrorLog:       zap.NewStdLog(logger),
		},
		logger: logger,
		errCh:  make(chan error, 1),
	}
}

// Start 绑定端口后在后台服务。证书在这里加载，加载失败不会占用端口。
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateServing:
		return ErrAlreadyStarted
	case stateClosed:
		return ErrClosed
	}

	var tlsCfg *tls.Config
	if m.cfg.tlsEnabled() {
		cert, err := tls.LoadX509KeyPair(m.cfg.TLSCertFile, m.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("%s: load certificate: %w", m.cfg.Name, err)
		}
		tlsCfg = TLSConfig()
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%s: listen on %s: %w", m.cfg.Name, m.cfg.Addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	m.ln = ln
	m.state = stateServing

	m.logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", tlsCfg != nil),
	)
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.errCh <- err
		}
	}()
	return nil
}

// Run 启动并阻塞到 ctx 取消或服务异常退出，然后优雅关闭
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-m.errCh:
		m.logger.Error("serve failed", zap.Error(serveErr))
	}
	return errors.Join(serveErr, m.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown 等待在途请求，最多 ShutdownTimeout；重复调用返回 nil
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateClosed {
		return nil
	}
	wasServing := m.state == stateServing
	m.state = stateClosed
	if !wasServing {
		return nil
	}

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Error("shutdown incomplete", zap.Error(err))
		return fmt.Errorf("%s: shutdown: %w", m.cfg.Name, err)
	}
	m.logger.Info("stopped", zap.Duration("drain", time.Since(start)))
	return nil
}

// Errors 后台 Serve 的异常退出，最多一个
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 启动后为实际监听地址（端口 0 时有用）
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != stateClosed
}
