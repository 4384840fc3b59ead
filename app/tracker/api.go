package tracker

import (
	"context"

	"download-tracker/app/model"
)

// TaskAPI 远程任务服务的最小接口
type TaskAPI interface {
	// Start 发起任务，返回远程句柄
	Start(ctx context.Context, desc model.Descriptor) (string, error)
	// Status 获取任务状态快照
	Status(ctx context.Context, handle string) (model.RawStatus, error)
	// List 列出远程所有未结束的任务
	List(ctx context.Context) ([]model.RawStatus, error)
	Cancel(ctx context.Context, handle string) error
	Delete(ctx context.Context, handle string) error
}
