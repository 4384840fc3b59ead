package model

import (
	"time"
)

// TaskKind 任务类型
type TaskKind string

const (
	KindSingle     TaskKind = "single"     // 单曲/单个条目
	KindCollection TaskKind = "collection" // 专辑、歌单、艺人作品集等集合
)

// Valid 检查任务类型是否合法
func (k TaskKind) Valid() bool {
	return k == KindSingle || k == KindCollection
}

// TaskStatus 规范化后的任务状态
type TaskStatus string

const (
	StatusQueued       TaskStatus = "queued"       // 排队中
	StatusInitializing TaskStatus = "initializing" // 初始化中
	StatusDownloading  TaskStatus = "downloading"  // 下载中
	StatusProcessing   TaskStatus = "processing"   // 处理中（转码、打标签）
	StatusRealTime     TaskStatus = "real-time"    // 细粒度实时进度
	StatusDone         TaskStatus = "done"         // 已完成
	StatusError        TaskStatus = "error"        // 失败
	StatusCancelled    TaskStatus = "cancelled"    // 已取消
	StatusSkipped      TaskStatus = "skipped"      // 已跳过
	StatusRetrying     TaskStatus = "retrying"     // 重试中
)

// String 返回状态字符串
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal 是否为终态，终态之后不会再有进度更新
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// IsActive 是否处于执行中
func (s TaskStatus) IsActive() bool {
	switch s {
	case StatusInitializing, StatusDownloading, StatusProcessing, StatusRealTime, StatusRetrying:
		return true
	}
	return false
}

// NeedsAttention 需要用户处理的状态
func (s TaskStatus) NeedsAttention() bool {
	return s == StatusError || s == StatusCancelled
}

// IsDismissable 终态且非错误，可被“清除已完成”或宽限期自动移除
func (s TaskStatus) IsDismissable() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusSkipped
}

// Task 一个被跟踪的远程下载任务
type Task struct {
	ID            string      `json:"id"`
	RemoteHandle  string      `json:"remote_handle"`
	Kind          TaskKind    `json:"kind"`
	DisplayName   string      `json:"display_name"`
	DisplayOwner  string      `json:"display_owner"`
	Status        TaskStatus  `json:"status"`
	Progress      float64     `json:"progress"`     // 0 到 100
	CurrentItem   int         `json:"current_item"` // 从 1 开始，仅集合任务
	TotalItems    int         `json:"total_items"`
	QueuePosition int         `json:"queue_position"`
	ErrorMessage  string      `json:"error_message"`
	SkipReason    string      `json:"skip_reason"`
	FailedItems   int         `json:"failed_items"` // 集合中失败或被取消的条目数
	ItemError     string      `json:"item_error"`   // 最近一个失败条目的错误
	RetryCount    int         `json:"retry_count"`
	Retry         *Descriptor `json:"retry,omitempty"` // 重新发起任务所需的原始请求
	RetryBlocked  bool        `json:"retry_blocked"`
	RetryAt       time.Time   `json:"retry_at"` // 自动重试倒计时截止时间
	HasEnded      bool        `json:"has_ended"`
	CreatedAt     time.Time   `json:"created_at"`
	LastUpdatedAt time.Time   `json:"last_updated_at"`
}

// IsCollection 是否为集合任务
func (t *Task) IsCollection() bool {
	return t.Kind == KindCollection
}

// Clone 返回任务副本，避免外部持有内部指针
func (t *Task) Clone() *Task {
	c := *t
	if t.Retry != nil {
		c.Retry = t.Retry.Clone()
	}
	return &c
}

// TaskView 提供给界面层的任务视图
type TaskView struct {
	ID             string     `json:"id"`
	Kind           TaskKind   `json:"kind"`
	DisplayName    string     `json:"display_name"`
	DisplayOwner   string     `json:"display_owner"`
	Status         TaskStatus `json:"status"`
	Progress       float64    `json:"progress"`
	CurrentItem    int        `json:"current_item,omitempty"`
	TotalItems     int        `json:"total_items,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	SkipReason     string     `json:"skip_reason,omitempty"`
	FailedItems    int        `json:"failed_items,omitempty"`
	ItemError      string     `json:"item_error,omitempty"`
	RetryCount     int        `json:"retry_count"`
	RetryInSeconds int        `json:"retry_in_seconds,omitempty"`
	CanRetry       bool       `json:"can_retry"`
	CanCancel      bool       `json:"can_cancel"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
