package scheduler

import (
	"net/http"

	"github.com/chongs12/asset-knowledge-base/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// Handler 暴露同步状态，只读，没有手动触发入口
type Handler struct {
	scheduler *Scheduler
}

func NewHandler(s *Scheduler) *Handler { return &Handler{scheduler: s} }

func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// SetupRoutes 注册路由；authMiddleware 为 nil 时不做鉴权
func (h *Handler) SetupRoutes(router *gin.Engine, authMiddleware *middleware.AuthMiddleware) {
	group := router.Group("/api/v1/knowledge")
	if authMiddleware != nil {
		group.Use(authMiddleware.RequireAuth(), authMiddleware.RequireRole("admin"))
	}
	group.GET("/sync/status", h.GetStatus)
}
