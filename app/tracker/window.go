package tracker

import (
	"sort"

	"download-tracker/app/model"
)

// priorityGroup 排序分组：0 需要用户处理，1 执行中或刚结束，2 排队中
func priorityGroup(s model.TaskStatus) int {
	switch {
	case s.NeedsAttention():
		return 0
	case s == model.StatusQueued:
		return 2
	default:
		return 1
	}
}

// lessTask 可见窗口排序规则
func lessTask(a, b *model.Task) bool {
	ga, gb := priorityGroup(a.Status), priorityGroup(b.Status)
	if ga != gb {
		return ga < gb
	}
	if ga == 2 {
		pa, pb := queueRank(a.QueuePosition), queueRank(b.QueuePosition)
		if pa != pb {
			return pa < pb
		}
	}
	if !a.LastUpdatedAt.Equal(b.LastUpdatedAt) {
		return a.LastUpdatedAt.Before(b.LastUpdatedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// queueRank 未知排队位置排在最后
func queueRank(pos int) int {
	if pos <= 0 {
		return int(^uint(0) >> 1)
	}
	return pos
}

// orderedLocked 返回按优先级排序的记录
func (e *Engine) orderedLocked() []*record {
	list := make([]*record, 0, len(e.records))
	for _, rec := range e.records {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool {
		return lessTask(list[i].task, list[j].task)
	})
	return list
}

// refreshWindowLocked 窗口内未结束的任务保持轮询，窗口外的停止轮询
func (e *Engine) refreshWindowLocked() {
	for i, rec := range e.orderedLocked() {
		if i < e.window {
			e.ensureSubscriptionLocked(rec)
		} else {
			e.stopSubscriptionLocked(rec)
		}
	}
}

// SetWindowSize 设置可见窗口大小并持久化，非正数恢复默认值
func (e *Engine) SetWindowSize(n int) int {
	if n <= 0 {
		n = e.opts.WindowSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.window = n
	if err := e.store.SaveWindowSize(n); err != nil {
		e.log.Warnf("保存可见窗口大小失败: %v", err)
	}
	e.refreshWindowLocked()
	e.log.Infof("可见窗口大小已更新为: %d", n)
	return n
}

// GrowWindow 按固定步长扩大可见窗口
func (e *Engine) GrowWindow() int {
	e.mu.Lock()
	next := e.window + e.opts.WindowStep
	e.mu.Unlock()
	return e.SetWindowSize(next)
}

// WindowSize 当前可见窗口大小
func (e *Engine) WindowSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window
}
