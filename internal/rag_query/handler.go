package rag_query

import (
	"net/http"

	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	"github.com/chongs12/asset-knowledge-base/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// Handler 问答接口的路由处理器
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler { return &Handler{service: service} }

// Query 只要请求体能解析就返回 200，业务失败体现在 isSuccessful
func (h *Handler) Query(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.ChatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn(ctx, "Invalid chatbot request", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	c.JSON(http.StatusOK, h.service.Answer(ctx, req.Query, req.SessionID))
}

// SetupRoutes 注册路由；authMiddleware 为 nil 时不做鉴权
func (h *Handler) SetupRoutes(router *gin.Engine, authMiddleware *middleware.AuthMiddleware) {
	group := router.Group("/api/v1/chatbot")
	if authMiddleware != nil {
		group.Use(authMiddleware.RequireAuth())
	}
	group.POST("/query", h.Query)
}
