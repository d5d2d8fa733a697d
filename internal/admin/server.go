// Package admin 管理端 HTTP 服务：指标、统计、查询与名单重载
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dnsSteer/internal/classifier"
	"dnsSteer/internal/dispatch"
	"dnsSteer/internal/domain"
	"dnsSteer/internal/iplist"
	"dnsSteer/internal/metrics"
	"dnsSteer/internal/utils"
	"dnsSteer/internal/warmup"
)

// Deps 管理端依赖，Reload 可为 nil
type Deps struct {
	Engine     *dispatch.Engine
	Domains    *domain.Table
	Allow      *iplist.List
	Deny       *iplist.List
	Cache      *warmup.Cache
	Classifier *classifier.Classifier
	Metrics    *metrics.Collector
	Reload     func() error
}

// Server 管理端服务器
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	logger     *utils.Logger
}

// NewServer 创建服务器，port 为监听端口
func NewServer(port int, deps Deps, logger *utils.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		logger: logger,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}
	s.router.Get("/stats", s.handleStats)
	s.router.Route("/lookup", func(r chi.Router) {
		r.Get("/domain/{name}", s.handleLookupDomain)
		r.Get("/ip/{addr}", s.handleLookupIP)
	})
	s.router.Post("/reload", s.handleReload)
}

// Handler 返回路由，测试使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务，阻塞直到服务关闭
func (s *Server) Start() error {
	s.logger.Info("管理端监听 %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return utils.NewSteerError(utils.ErrCodeAdmin, "admin server failed", err)
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s %d %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
