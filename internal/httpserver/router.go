package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"localrank/internal/handler"
	"localrank/pkg/otel"
	"localrank/pkg/rbac"
)

// Pinger 就绪检查依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Agency  *handler.AgencyHandler
	Client  *handler.ClientHandler
	Project *handler.ProjectHandler
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, jwtSecret string, store Pinger, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), LoggingMiddleware(logger))

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	// Public
	v1.POST("/agencies", h.Agency.CreateAgency)
	v1.GET("/phases", h.Agency.ListPhases)

	// Protected
	auth := v1.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		read := rbac.PermissionReadEngagement
		auth.GET("/activity", RequirePermission(read), h.Agency.ListActivity)

		auth.GET("/clients", RequirePermission(read), h.Client.ListClients)
		auth.POST("/clients", RequirePermission(rbac.PermissionWriteClient), h.Client.CreateClient)
		auth.GET("/clients/:id", RequirePermission(read), h.Client.GetClient)
		auth.PATCH("/clients/:id/status", RequirePermission(rbac.PermissionWriteClient), h.Client.UpdateStatus)
		auth.POST("/clients/:id/project", RequirePermission(rbac.PermissionWriteProject), h.Client.CreateProject)
		auth.GET("/clients/:id/project", RequirePermission(read), h.Client.GetProject)
		auth.POST("/clients/:id/keywords", RequirePermission(rbac.PermissionGenerateKeyword), h.Client.GenerateKeywords)
		auth.GET("/clients/:id/keywords", RequirePermission(read), h.Client.ListKeywords)
		auth.POST("/clients/:id/competitors", RequirePermission(rbac.PermissionWriteCompetitor), h.Client.AddCompetitor)
		auth.GET("/clients/:id/competitors", RequirePermission(read), h.Client.ListCompetitors)
		auth.POST("/clients/:id/insights", RequirePermission(read), h.Client.GenerateInsights)

		auth.GET("/projects/:id", RequirePermission(read), h.Project.GetProject)
		auth.GET("/projects/:id/tasks", RequirePermission(read), h.Project.ListTasks)
		auth.POST("/projects/:id/tasks", RequirePermission(rbac.PermissionWriteTask), h.Project.AddTask)
		auth.PUT("/projects/:id/phases/:phase/progress", RequirePermission(rbac.PermissionWriteProject), h.Project.SetPhaseProgress)
		auth.POST("/tasks/:id/complete", RequirePermission(rbac.PermissionWriteTask), h.Project.CompleteTask)
		auth.POST("/tasks/:id/reopen", RequirePermission(rbac.PermissionWriteTask), h.Project.ReopenTask)
	}

	return &Router{Engine: r}
}

// Server 返回带超时设置的 http.Server，由调用方负责优雅关闭
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
