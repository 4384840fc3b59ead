package handler

import (
	"github.com/gin-gonic/gin"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	engine TaskEngine
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(engine TaskEngine) *HealthHandler {
	return &HealthHandler{engine: engine}
}

// Healthz 返回服务状态与任务数量
func (h *HealthHandler) Healthz(c *gin.Context) {
	summary := h.engine.Summary()
	success(c, gin.H{
		"status":  "ok",
		"tasks":   summary.Total,
		"polling": summary.Polling,
	}, "ok")
}
