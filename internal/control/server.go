package control

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/crit-tech/gms-notebook-server/internal/events"
	"github.com/crit-tech/gms-notebook-server/internal/scheduler"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

// Source 一个被调度的文件夹源
type Source interface {
	Status() scheduler.Status
	// Trigger 返回 false 表示调度器已停止
	Trigger(ctx context.Context) bool
}

// Server 本地控制接口: 手动触发索引、查询状态、订阅日志事件
type Server struct {
	addr    string
	sources map[int]Source
	bus     *events.Bus
	server  *http.Server

	// 所有请求 context 的父 context，Stop 时取消，事件流随之结束
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func NewServer(addr string, sources map[int]Source, bus *events.Bus) *Server {
	s := &Server{addr: addr, sources: sources, bus: bus}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		// 事件流是长连接，不设置 WriteTimeout
	}
	return s
}

// Routes 构建 gin 路由
func (s *Server) Routes() http.Handler {
	r := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	r.Use(sloggin.NewWithConfig(httpLogger, sloggin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
	}))

	api := r.Group("/api")
	api.GET("/sources", s.listSources)
	api.GET("/sources/:port/status", s.sourceStatus)
	api.POST("/sources/:port/index", s.triggerIndex)
	api.GET("/events", s.streamEvents)

	return r
}

// Start 阻塞直到服务关闭
func (s *Server) Start() error {
	slog.Info("控制接口已启动", "addr", fmt.Sprintf("http://%s", s.addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start control server: %w", err)
	}
	return nil
}

// Stop 先结束长连接的事件流，再等待其余请求完成
func (s *Server) Stop(ctx context.Context) error {
	s.cancelBase()
	err := s.server.Shutdown(ctx)
	slog.Info("控制接口已停止")
	return err
}
