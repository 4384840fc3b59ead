package tracker

import "download-tracker/app/model"

// Store 本地持久化快照，按远程句柄存储
type Store interface {
	Save(entry *model.TaskCache) error
	Delete(handle string) error
	All() ([]model.TaskCache, error)
	WindowSize() (int, bool, error)
	SaveWindowSize(n int) error
}
