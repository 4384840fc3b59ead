package server

import (
	"context"
	"net/http"

	"download-tracker/app/config"
	"download-tracker/app/database"
	"download-tracker/app/handler"
	"download-tracker/app/inbox"
	"download-tracker/app/logger"
	"download-tracker/app/middleware"
	"download-tracker/app/service"
	"download-tracker/app/tracker"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config  *config.Config
	Logger  *logger.Logger
	gin     *gin.Engine
	http    *http.Server
	engine  *tracker.Engine
	janitor *service.JanitorService
	inbox   *inbox.Watcher
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, log *logger.Logger, engine *tracker.Engine) (*Server, error) {
	router := gin.Default()

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:  cfg,
		Logger:  log,
		engine:  engine,
		janitor: service.NewJanitorService(cfg.Janitor.Schedule, engine, log.Named("janitor")),
	}

	if cfg.Inbox.Enabled {
		w, err := inbox.New(cfg.Inbox, engine, log.Named("inbox"))
		if err != nil {
			return nil, err
		}
		s.inbox = w
	}

	// 设置路由
	s.setupRoutes()

	return s, nil
}

// Handler 返回路由，供测试直接调用
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Start 启动服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	if err := s.janitor.Start(); err != nil {
		return err
	}
	if s.inbox != nil {
		if err := s.inbox.Start(); err != nil {
			s.Logger.Errorf("启动投递目录监控失败: %v", err)
		}
	}

	return s.http.ListenAndServe()
}

// Shutdown 停止后台服务并关闭 HTTP 服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if s.inbox != nil {
		if err := s.inbox.Stop(); err != nil {
			s.Logger.Errorf("停止投递目录监控失败: %v", err)
		}
	}
	s.janitor.Stop()

	// 引擎关闭时订阅通道随之关闭，事件流连接才能结束
	s.engine.Close()
	err := s.http.Shutdown(ctx)

	// 关闭数据库连接
	if dbErr := database.Close(); dbErr != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", dbErr)
	}
	return err
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	healthHandler := handler.NewHealthHandler(s.engine)
	taskHandler := handler.NewTaskHandler(s.engine, s.Logger.Named("handler"))

	s.gin.GET("/healthz", healthHandler.Healthz)

	// 需要JWT验证的路由
	api := s.gin.Group("/api")
	api.Use(middleware.JWTAuth(s.Config))
	{
		tasks := api.Group("/tasks")
		{
			tasks.GET("", taskHandler.GetTasks)
			tasks.POST("", taskHandler.CreateTask)
			tasks.GET("/summary", taskHandler.GetSummary)
			tasks.GET("/events", taskHandler.Events)
			tasks.POST("/cancel-all", taskHandler.CancelAll)
			tasks.POST("/clear-completed", taskHandler.ClearCompleted)
			tasks.GET("/:id", taskHandler.GetTask)
			tasks.POST("/:id/cancel", taskHandler.CancelTask)
			tasks.POST("/:id/retry", taskHandler.RetryTask)
			tasks.DELETE("/:id", taskHandler.DeleteTask)
		}

		window := api.Group("/window")
		{
			window.GET("", taskHandler.GetWindow)
			window.PUT("", taskHandler.SetWindow)
			window.POST("/grow", taskHandler.GrowWindow)
		}
	}
}
