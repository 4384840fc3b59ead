package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskCache 任务快照的持久化模型，按远程句柄唯一
type TaskCache struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	RemoteHandle  string     `gorm:"uniqueIndex;not null;size:128" json:"remote_handle"`
	TaskID        string     `gorm:"size:64;index" json:"task_id"`
	Kind          TaskKind   `gorm:"size:20" json:"kind"`
	DisplayName   string     `gorm:"size:255" json:"display_name"`
	DisplayOwner  string     `gorm:"size:255" json:"display_owner"`
	Status        TaskStatus `gorm:"size:20;index" json:"status"`
	Progress      float64    `json:"progress"`
	CurrentItem   int        `json:"current_item"`
	TotalItems    int        `json:"total_items"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message"`
	SkipReason    string     `gorm:"type:text" json:"skip_reason"`
	FailedItems   int        `gorm:"default:0" json:"failed_items"`
	ItemError     string     `gorm:"type:text" json:"item_error"`
	RetryCount    int        `gorm:"default:0" json:"retry_count"`
	RetryBlocked  bool       `gorm:"default:false" json:"retry_blocked"`
	RetryJSON     string     `gorm:"type:text;comment:重试描述JSON" json:"-"`
	TaskCreatedAt time.Time  `json:"task_created_at"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (TaskCache) TableName() string {
	return "task_caches"
}

// NewTaskCache 由任务生成缓存记录
func NewTaskCache(t *Task) TaskCache {
	entry := TaskCache{
		RemoteHandle:  t.RemoteHandle,
		TaskID:        t.ID,
		Kind:          t.Kind,
		DisplayName:   t.DisplayName,
		DisplayOwner:  t.DisplayOwner,
		Status:        t.Status,
		Progress:      t.Progress,
		CurrentItem:   t.CurrentItem,
		TotalItems:    t.TotalItems,
		ErrorMessage:  t.ErrorMessage,
		SkipReason:    t.SkipReason,
		FailedItems:   t.FailedItems,
		ItemError:     t.ItemError,
		RetryCount:    t.RetryCount,
		RetryBlocked:  t.RetryBlocked,
		TaskCreatedAt: t.CreatedAt,
		LastUpdatedAt: t.LastUpdatedAt,
	}
	if t.Retry != nil {
		if data, err := json.Marshal(t.Retry); err == nil {
			entry.RetryJSON = string(data)
		}
	}
	return entry
}

// Descriptor 解析缓存中的重试描述，无效时返回 nil
func (c *TaskCache) Descriptor() *Descriptor {
	if c.RetryJSON == "" {
		return nil
	}
	var d Descriptor
	if err := json.Unmarshal([]byte(c.RetryJSON), &d); err != nil {
		return nil
	}
	return &d
}

// SameState 判断两条记录描述的是否为同一状态（忽略时间戳）
func (c *TaskCache) SameState(o *TaskCache) bool {
	return c.RemoteHandle == o.RemoteHandle &&
		c.TaskID == o.TaskID &&
		c.Kind == o.Kind &&
		c.DisplayName == o.DisplayName &&
		c.DisplayOwner == o.DisplayOwner &&
		c.Status == o.Status &&
		c.Progress == o.Progress &&
		c.CurrentItem == o.CurrentItem &&
		c.TotalItems == o.TotalItems &&
		c.ErrorMessage == o.ErrorMessage &&
		c.SkipReason == o.SkipReason &&
		c.FailedItems == o.FailedItems &&
		c.ItemError == o.ItemError &&
		c.RetryCount == o.RetryCount &&
		c.RetryBlocked == o.RetryBlocked &&
		c.RetryJSON == o.RetryJSON
}

// Upsert 按远程句柄写入缓存，已存在则覆盖
func (c *TaskCache) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "remote_handle"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"task_id", "kind", "display_name", "display_owner", "status", "progress",
			"current_item", "total_items", "error_message", "skip_reason", "failed_items", "item_error", "retry_count",
			"retry_blocked", "retry_json", "task_created_at", "last_updated_at", "updated_at",
		}),
	}).Create(c).Error
}

// ToTask 由缓存记录还原任务
func (c *TaskCache) ToTask() *Task {
	return &Task{
		ID:            c.TaskID,
		RemoteHandle:  c.RemoteHandle,
		Kind:          c.Kind,
		DisplayName:   c.DisplayName,
		DisplayOwner:  c.DisplayOwner,
		Status:        c.Status,
		Progress:      c.Progress,
		CurrentItem:   c.CurrentItem,
		TotalItems:    c.TotalItems,
		ErrorMessage:  c.ErrorMessage,
		SkipReason:    c.SkipReason,
		FailedItems:   c.FailedItems,
		ItemError:     c.ItemError,
		RetryCount:    c.RetryCount,
		RetryBlocked:  c.RetryBlocked,
		Retry:         c.Descriptor(),
		CreatedAt:     c.TaskCreatedAt,
		LastUpdatedAt: c.LastUpdatedAt,
	}
}
