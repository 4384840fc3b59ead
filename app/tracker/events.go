package tracker

import (
	"time"

	"download-tracker/app/model"
)

// EventType 变更通知类型
type EventType string

const (
	EventAdded   EventType = "task.added"
	EventUpdated EventType = "task.updated"
	EventRemoved EventType = "task.removed"
)

// Event 任务变更通知
type Event struct {
	Type   EventType       `json:"type"`
	TaskID string          `json:"task_id"`
	Task   *model.TaskView `json:"task,omitempty"`
	At     time.Time       `json:"at"`
}

// Subscribe 订阅任务变更，返回事件通道与取消函数。
// 订阅者消费过慢时事件会被丢弃，消费者应以 Views 为准重新同步。
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
}

// publishLocked 向所有订阅者广播，不阻塞
func (e *Engine) publishLocked(ev Event) {
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.Debugf("订阅者[%d]通道已满，丢弃事件: %s %s", id, ev.Type, ev.TaskID)
		}
	}
}

// closeSubscribersLocked 关闭所有订阅通道
func (e *Engine) closeSubscribersLocked() {
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
