package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/LENAX/task-lifecycle/pkg/api/handler"
	"github.com/LENAX/task-lifecycle/pkg/api/middleware"
	"github.com/LENAX/task-lifecycle/pkg/core/engine"
)

// SetupRouter 设置路由
func SetupRouter(eng *engine.Engine, version string, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))

	// 创建handlers
	workflowHandler := handler.NewWorkflowHandler(eng.Workflows)
	slaHandler := handler.NewSLAHandler(eng.SLAs)
	taskHandler := handler.NewTaskHandler(eng)
	healthHandler := handler.NewHealthHandler(version, eng)

	// 健康检查与指标路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(eng.Registry, promhttp.HandlerOpts{})))

	// API v1 路由组，全部按租户隔离
	v1 := router.Group("/api/v1", middleware.Tenant())
	{
		workflows := v1.Group("/workflow-definitions")
		{
			workflows.GET("", workflowHandler.ListDefinitions)
			workflows.POST("", workflowHandler.CreateDefinition)
			workflows.GET("/:id", workflowHandler.GetDefinition)
			workflows.PUT("/:id", workflowHandler.UpdateDefinition)
			workflows.DELETE("/:id", workflowHandler.DeleteDefinition)
		}

		slaDefs := v1.Group("/sla-definitions")
		{
			slaDefs.GET("", slaHandler.ListDefinitions)
			slaDefs.POST("", slaHandler.CreateDefinition)
			slaDefs.GET("/:id", slaHandler.GetDefinition)
			slaDefs.PUT("/:id", slaHandler.UpdateDefinition)
		}

		tasks := v1.Group("/tasks/:task_id")
		{
			tasks.DELETE("", taskHandler.Purge)
			tasks.POST("/workflow", workflowHandler.Start)
			tasks.GET("/workflow", workflowHandler.Get)
			tasks.POST("/workflow/advance", workflowHandler.Advance)
			tasks.GET("/workflow/transitions", workflowHandler.Transitions)
			tasks.POST("/slas", slaHandler.Start)
			tasks.GET("/slas", slaHandler.ListForTask)
			tasks.POST("/slas/apply", slaHandler.Apply)
		}

		instances := v1.Group("/sla-instances")
		{
			instances.GET("/:id", slaHandler.GetInstance)
			instances.POST("/:id/pause", slaHandler.Pause)
			instances.POST("/:id/resume", slaHandler.Resume)
			instances.POST("/:id/resolve", slaHandler.Resolve)
		}

		v1.POST("/breaches/scan", taskHandler.Scan)
	}

	return router
}
