package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LENAX/task-lifecycle/pkg/config"
	"github.com/LENAX/task-lifecycle/pkg/core/engine"
)

// ServerConfig API服务器配置
type ServerConfig struct {
	Addr         string        // 监听地址
	Mode         string        // gin模式
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
}

// ServerConfigFrom 从引擎配置读取服务器配置
func ServerConfigFrom(cfg *config.EngineConfig) ServerConfig {
	server := cfg.TaskLifecycle.Server
	return ServerConfig{
		Addr:         cfg.ServerAddr(),
		Mode:         server.Mode,
		ReadTimeout:  server.ReadTimeout,
		WriteTimeout: server.WriteTimeout,
	}
}

// APIServer HTTP API服务器
type APIServer struct {
	engine     *engine.Engine
	httpServer *http.Server
	config     ServerConfig
	version    string
	logger     *zap.Logger
}

// NewAPIServer 创建API服务器
func NewAPIServer(eng *engine.Engine, config ServerConfig, version string, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	s := &APIServer{
		engine:  eng,
		config:  config,
		version: version,
		logger:  logger,
	}
	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      SetupRouter(eng, version, logger),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler 返回路由，便于测试
func (s *APIServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start 启动服务器，阻塞直到关闭
func (s *APIServer) Start() error {
	s.logger.Info("🚀 Task Lifecycle API Server starting", zap.String("addr", s.config.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server listen failed: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.logger.Info("🛑 Shutting down API Server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("✅ API Server stopped")
	return nil
}

// Addr 获取服务器地址
func (s *APIServer) Addr() string {
	return s.config.Addr
}
