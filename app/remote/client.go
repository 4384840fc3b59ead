// Package remote 远程任务服务的 HTTP 客户端
package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"download-tracker/app/config"
	"download-tracker/app/logger"
	"download-tracker/app/model"
	"download-tracker/app/tracker"

	"golang.org/x/time/rate"
	"resty.dev/v3"
)

// StatusError 远程服务返回了非成功状态码
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s 失败，状态码: %d, 响应: %s", e.Op, e.Code, e.Body)
}

// Client 远程任务服务客户端
type Client struct {
	client  *resty.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

var _ tracker.TaskAPI = (*Client)(nil)

type startResponse struct {
	TaskID string `json:"task_id"`
	ID     string `json:"id"`
}

// New 创建远程任务服务客户端
func New(cfg config.RemoteConfig, log *logger.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

// Close 释放底层连接
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.client.R().SetContext(ctx), nil
}

func taskPath(handle string, suffix string) string {
	return "/api/tasks/" + url.PathEscape(handle) + suffix
}

// Start 发起任务，返回远程句柄
func (c *Client) Start(ctx context.Context, desc model.Descriptor) (string, error) {
	req, err := c.request(ctx)
	if err != nil {
		return "", err
	}

	var result startResponse
	resp, err := req.
		SetBody(desc).
		SetResult(&result).
		Post("/api/tasks")
	if err != nil {
		return "", fmt.Errorf("请求发起任务失败: %w", err)
	}
	if resp.IsError() {
		return "", &StatusError{Op: "发起任务", Code: resp.StatusCode(), Body: resp.String()}
	}

	handle := result.TaskID
	if handle == "" {
		handle = result.ID
	}
	c.log.Debugf("远程任务已创建: Handle=%s, 来源: %s", handle, desc.Label())
	return handle, nil
}

// Status 获取任务状态快照
func (c *Client) Status(ctx context.Context, handle string) (model.RawStatus, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	resp, err := req.
		SetResult(&result).
		Get(taskPath(handle, ""))
	if err != nil {
		return nil, fmt.Errorf("请求任务状态失败: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{Op: "获取任务状态", Code: resp.StatusCode(), Body: resp.String()}
	}
	if result == nil {
		return nil, fmt.Errorf("任务状态响应为空: %s", handle)
	}

	raw := model.RawStatus(result)
	if _, ok := raw["task_id"]; !ok {
		raw["task_id"] = handle
	}
	return raw, nil
}

// List 列出远程所有未结束的任务，兼容数组与 {"tasks": [...]} 两种响应
func (c *Client) List(ctx context.Context) ([]model.RawStatus, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var result any
	resp, err := req.
		SetResult(&result).
		Get("/api/tasks")
	if err != nil {
		return nil, fmt.Errorf("请求任务列表失败: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{Op: "获取任务列表", Code: resp.StatusCode(), Body: resp.String()}
	}

	var items []any
	switch v := result.(type) {
	case []any:
		items = v
	case map[string]any:
		items, _ = v["tasks"].([]any)
	}

	list := make([]model.RawStatus, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			list = append(list, model.RawStatus(obj))
		}
	}
	return list, nil
}

// Cancel 取消远程任务
func (c *Client) Cancel(ctx context.Context, handle string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}

	resp, err := req.Post(taskPath(handle, "/cancel"))
	if err != nil {
		return fmt.Errorf("请求取消任务失败: %w", err)
	}
	if resp.IsError() {
		return &StatusError{Op: "取消任务", Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// Delete 删除远程任务，任务已不存在时视为成功
func (c *Client) Delete(ctx context.Context, handle string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}

	resp, err := req.Delete(taskPath(handle, ""))
	if err != nil {
		return fmt.Errorf("请求删除任务失败: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		return &StatusError{Op: "删除任务", Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
