// Package api 提供价格看板的 HTTP 接口。
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"toytracker/internal/api/middleware"
	"toytracker/internal/config"
	"toytracker/internal/matcher"
	"toytracker/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Rebuilder 重建商品总表。
type Rebuilder interface {
	Rebuild(ctx context.Context) (matcher.Result, error)
}

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有存储层、可选的 Redis 客户端（仅用于健康检查）、总表匹配器以及 Gin 路由引擎。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	rdb     *redis.Client
	matcher Rebuilder
	router  *gin.Engine
	now     func() time.Time
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 打开数据库并执行迁移
// 2. 按配置连接 Redis
// 3. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	st := store.New(db, cfg.App.Location())
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	return newServer(cfg, logger, st, rdb, matcher.New(st, logger)), nil
}

func newServer(cfg *config.Config, logger *slog.Logger, st *store.Store, rdb *redis.Client, m Rebuilder) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		rdb:     rdb,
		matcher: m,
		router:  r,
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/jd-prices", s.handleListProducts("jd"))
	api.GET("/tmall-prices", s.handleListProducts("tmall"))
	api.GET("/price-history/:id", s.handlePriceHistory)
	api.PATCH("/products/:platform/:id/purchased", s.handleSetPurchased)
	api.PATCH("/products/:platform/:id/followed", s.handleSetFollowed)

	api.GET("/summary", s.handleListSummary)
	api.POST("/summary", s.handleCreateSummary)
	api.POST("/summary/rebuild", s.handleRebuildSummary)
	api.PATCH("/summary/:id", s.handleUpdateSummary)
	api.DELETE("/summary/:id", s.handleDeleteSummary)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "database unavailable"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "redis unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// respondError 把存储层错误映射为 HTTP 状态码。
func (s *Server) respondError(c *gin.Context, msg string, err error) {
	switch {
	case isNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrInvalidPlatform):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		s.logger.Error(msg, slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
