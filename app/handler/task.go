package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"download-tracker/app/logger"
	"download-tracker/app/model"
	"download-tracker/app/tracker"

	"github.com/gin-gonic/gin"
)

// TaskEngine 任务处理器依赖的引擎能力
type TaskEngine interface {
	Start(ctx context.Context, desc model.Descriptor) (string, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	CancelAll(ctx context.Context) int
	ClearCompleted(ctx context.Context) int
	Views() []model.TaskView
	VisibleViews() []model.TaskView
	View(id string) (model.TaskView, bool)
	Summary() tracker.Summary
	WindowSize() int
	SetWindowSize(n int) int
	GrowWindow() int
	Subscribe(buffer int) (<-chan tracker.Event, func())
}

// TaskHandler 下载任务处理器
type TaskHandler struct {
	engine TaskEngine
	logger *logger.Logger
}

// NewTaskHandler 创建下载任务处理器
func NewTaskHandler(engine TaskEngine, log *logger.Logger) *TaskHandler {
	return &TaskHandler{
		engine: engine,
		logger: log,
	}
}

// WindowRequest 设置可见窗口请求
type WindowRequest struct {
	Size int `json:"size"`
}

// WindowResponse 可见窗口响应
type WindowResponse struct {
	Size int `json:"size"`
}

// CountResponse 批量操作响应
type CountResponse struct {
	Count int `json:"count"`
}

// engineError 将引擎错误映射为HTTP响应
func (h *TaskHandler) engineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tracker.ErrInvalidDescriptor):
		fail(c, http.StatusBadRequest, 400, err.Error())
	case errors.Is(err, tracker.ErrTaskNotFound):
		fail(c, http.StatusNotFound, 404, "任务不存在")
	case errors.Is(err, tracker.ErrTaskEnded):
		fail(c, http.StatusConflict, 409, "任务已结束")
	case errors.Is(err, tracker.ErrNotRetryable):
		fail(c, http.StatusConflict, 409, "任务不可重试")
	case errors.Is(err, tracker.ErrEngineClosed):
		fail(c, http.StatusServiceUnavailable, 503, "服务正在关闭")
	default:
		h.logger.Errorf("处理任务请求失败: %v", err)
		fail(c, http.StatusInternalServerError, 500, "内部错误")
	}
}

// GetTasks 获取任务列表，all=true 时返回窗口外的任务
func (h *TaskHandler) GetTasks(c *gin.Context) {
	all, _ := strconv.ParseBool(c.Query("all"))
	if all {
		success(c, h.engine.Views(), "获取任务列表成功")
		return
	}
	success(c, h.engine.VisibleViews(), "获取任务列表成功")
}

// GetSummary 获取任务概况
func (h *TaskHandler) GetSummary(c *gin.Context) {
	success(c, h.engine.Summary(), "获取任务概况成功")
}

// GetTask 获取单个任务
func (h *TaskHandler) GetTask(c *gin.Context) {
	view, ok := h.engine.View(c.Param("id"))
	if !ok {
		h.engineError(c, tracker.ErrTaskNotFound)
		return
	}
	success(c, view, "获取任务成功")
}

// CreateTask 发起下载任务
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var desc model.Descriptor
	if err := c.ShouldBindJSON(&desc); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	id, err := h.engine.Start(c.Request.Context(), desc)
	if err != nil {
		h.engineError(c, err)
		return
	}

	view, _ := h.engine.View(id)
	success(c, view, "任务已创建")
}

// CancelTask 取消任务
func (h *TaskHandler) CancelTask(c *gin.Context) {
	if err := h.engine.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		h.engineError(c, err)
		return
	}
	success(c, nil, "任务已取消")
}

// RetryTask 立即重试任务
func (h *TaskHandler) RetryTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.Retry(c.Request.Context(), id); err != nil {
		h.engineError(c, err)
		return
	}
	view, _ := h.engine.View(id)
	success(c, view, "任务已重新发起")
}

// DeleteTask 移除任务
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	if err := h.engine.Remove(c.Request.Context(), c.Param("id")); err != nil {
		h.engineError(c, err)
		return
	}
	success(c, nil, "任务已移除")
}

// CancelAll 取消所有任务
func (h *TaskHandler) CancelAll(c *gin.Context) {
	count := h.engine.CancelAll(c.Request.Context())
	success(c, CountResponse{Count: count}, "已取消所有任务")
}

// ClearCompleted 清除已完成的任务
func (h *TaskHandler) ClearCompleted(c *gin.Context) {
	count := h.engine.ClearCompleted(c.Request.Context())
	success(c, CountResponse{Count: count}, "已清除完成的任务")
}

// GetWindow 获取可见窗口大小
func (h *TaskHandler) GetWindow(c *gin.Context) {
	success(c, WindowResponse{Size: h.engine.WindowSize()}, "获取可见窗口成功")
}

// SetWindow 设置可见窗口大小，非正数恢复默认值
func (h *TaskHandler) SetWindow(c *gin.Context) {
	var req WindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}
	success(c, WindowResponse{Size: h.engine.SetWindowSize(req.Size)}, "可见窗口已更新")
}

// GrowWindow 扩大可见窗口
func (h *TaskHandler) GrowWindow(c *gin.Context) {
	success(c, WindowResponse{Size: h.engine.GrowWindow()}, "可见窗口已扩大")
}

// Events 以 SSE 推送任务变更，连接建立时先推送当前可见任务
func (h *TaskHandler) Events(c *gin.Context) {
	events, stop := h.engine.Subscribe(64)
	defer stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", h.engine.VisibleViews())
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}
