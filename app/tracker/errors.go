package tracker

import "errors"

var (
	// ErrInvalidDescriptor 启动请求缺少必要的标识字段，未产生任何网络请求
	ErrInvalidDescriptor = errors.New("invalid task descriptor")
	// ErrTaskNotFound 任务不存在或已被移除
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskEnded 任务已结束，不能再取消
	ErrTaskEnded = errors.New("task already ended")
	// ErrNotRetryable 任务不满足重试条件
	ErrNotRetryable = errors.New("task is not retryable")
	// ErrEngineClosed 引擎已关闭
	ErrEngineClosed = errors.New("tracker engine closed")
)
