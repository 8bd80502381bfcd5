package httptransport

import (
	"log/slog"

	"github.com/Matschula1987/heiba-rms-sub001/internal/transport/http/handler"
	"github.com/Matschula1987/heiba-rms-sub001/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(
	logger *slog.Logger,
	taskHandler *handler.TaskHandler,
	pipelineHandler *handler.PipelineHandler,
	syncHandler *handler.SyncHandler,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	tasks := r.Group("/tasks")
	tasks.GET("", taskHandler.List)
	tasks.POST("", taskHandler.Create)
	tasks.GET("/:id", taskHandler.GetByID)
	tasks.PATCH("/:id", taskHandler.Update)
	tasks.POST("/:id/cancel", taskHandler.Cancel)
	tasks.DELETE("/:id", taskHandler.Delete)
	tasks.GET("/:id/logs", taskHandler.Logs)

	pipe := r.Group("/pipeline")
	pipe.POST("/items", pipelineHandler.CreateItem)
	pipe.GET("/items", pipelineHandler.ListItems)
	pipe.GET("/items/:id", pipelineHandler.GetItem)
	pipe.POST("/dispatch/:type", pipelineHandler.Dispatch)
	pipe.PUT("/settings", pipelineHandler.UpsertSettings)
	pipe.GET("/settings", pipelineHandler.ListSettings)

	sync := r.Group("/sync/settings")
	sync.PUT("", syncHandler.Save)
	sync.GET("", syncHandler.List)
	sync.GET("/:entityType/:entityId", syncHandler.Get)
	sync.DELETE("/:entityType/:entityId", syncHandler.Delete)
	sync.POST("/:entityType/:entityId/last-sync", syncHandler.RecordSync)

	return r
}
