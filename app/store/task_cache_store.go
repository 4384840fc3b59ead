package store

import (
	"download-tracker/app/model"
	"download-tracker/app/tracker"

	"gorm.io/gorm"
)

// TaskCacheStore 基于 gorm 的任务快照存储
type TaskCacheStore struct {
	db *gorm.DB
}

var _ tracker.Store = (*TaskCacheStore)(nil)

// NewTaskCacheStore 创建任务快照存储
func NewTaskCacheStore(db *gorm.DB) *TaskCacheStore {
	return &TaskCacheStore{db: db}
}

// Save 按远程句柄写入快照，已存在则覆盖
func (s *TaskCacheStore) Save(entry *model.TaskCache) error {
	row := *entry
	row.ID = 0
	return row.Upsert(s.db)
}

// Delete 删除指定句柄的快照，不存在时不报错
func (s *TaskCacheStore) Delete(handle string) error {
	return s.db.Where("remote_handle = ?", handle).Delete(&model.TaskCache{}).Error
}

// All 返回全部快照，按创建顺序排列
func (s *TaskCacheStore) All() ([]model.TaskCache, error) {
	var entries []model.TaskCache
	if err := s.db.Order("task_created_at ASC, id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// WindowSize 读取持久化的可见窗口大小
func (s *TaskCacheStore) WindowSize() (int, bool, error) {
	return model.GetIntConfig(s.db, model.KeyWindowSize)
}

// SaveWindowSize 持久化可见窗口大小
func (s *TaskCacheStore) SaveWindowSize(n int) error {
	return model.SetIntConfig(s.db, model.KeyWindowSize, model.CategoryTracker, "可见窗口大小", n)
}

// Count 快照数量
func (s *TaskCacheStore) Count() (int64, error) {
	var count int64
	err := s.db.Model(&model.TaskCache{}).Count(&count).Error
	return count, err
}
