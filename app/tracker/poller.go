package tracker

import (
	"context"
	"sync"
	"time"

	"download-tracker/app/model"
)

// Subscription 一个可取消的状态订阅
type Subscription interface {
	Stop()
}

// UpdateSource 任务状态更新来源。当前以轮询实现，推送型实现可直接替换。
type UpdateSource interface {
	Subscribe(handle string, deliver func(raw model.RawStatus, err error)) Subscription
}

// PollingSource 以固定周期轮询远程状态接口
type PollingSource struct {
	api      TaskAPI
	clock    Clock
	interval time.Duration
	timeout  time.Duration
	ctx      context.Context
}

// NewPollingSource 创建轮询更新来源
func NewPollingSource(ctx context.Context, api TaskAPI, clock Clock, interval, timeout time.Duration) *PollingSource {
	if clock == nil {
		clock = realClock{}
	}
	return &PollingSource{
		api:      api,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		ctx:      ctx,
	}
}

// Subscribe 启动对指定句柄的轮询，首次请求在一个周期后发出
func (s *PollingSource) Subscribe(handle string, deliver func(raw model.RawStatus, err error)) Subscription {
	sub := &pollSubscription{
		source:  s,
		handle:  handle,
		deliver: deliver,
	}
	sub.mu.Lock()
	sub.timer = s.clock.AfterFunc(s.interval, sub.tick)
	sub.mu.Unlock()
	return sub
}

type pollSubscription struct {
	source  *PollingSource
	handle  string
	deliver func(raw model.RawStatus, err error)

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

func (p *pollSubscription) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// tick 拉取一次状态；停止后到达的响应直接丢弃
func (p *pollSubscription) tick() {
	if p.isStopped() {
		return
	}

	ctx := p.source.ctx
	var cancel context.CancelFunc = func() {}
	if p.source.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.source.timeout)
	}
	raw, err := p.source.api.Status(ctx, p.handle)
	cancel()

	if p.isStopped() {
		return
	}
	p.deliver(raw, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped && p.source.ctx.Err() == nil {
		p.timer = p.source.clock.AfterFunc(p.source.interval, p.tick)
	}
}

// Stop 停止轮询，可在 deliver 回调中调用
func (p *pollSubscription) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// ensureSubscriptionLocked 为任务开启订阅，已存在时不做任何事
func (e *Engine) ensureSubscriptionLocked(rec *record) {
	t := rec.task
	if rec.sub != nil || rec.reissuing || e.closed || t.HasEnded || t.RemoteHandle == "" {
		return
	}

	rec.subSeq++
	id, gen, seq, handle := t.ID, rec.attempt, rec.subSeq, t.RemoteHandle
	rec.sub = e.source.Subscribe(handle, func(raw model.RawStatus, err error) {
		e.deliver(id, gen, seq, handle, raw, err)
	})
	e.log.Debugf("开始轮询任务: ID=%s, Handle=%s", id, handle)
}

func (e *Engine) stopSubscriptionLocked(rec *record) {
	if rec.sub != nil {
		rec.sub.Stop()
		rec.sub = nil
		e.log.Debugf("停止轮询任务: ID=%s", rec.task.ID)
	}
}

// deliver 处理一次轮询结果
func (e *Engine) deliver(id string, gen, seq int, handle string, raw model.RawStatus, err error) {
	defer e.recoverTask(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[id]
	if e.closed || !ok || rec.sub == nil || rec.subSeq != seq || rec.attempt != gen {
		return
	}
	t := rec.task
	if t.HasEnded || t.RemoteHandle != handle {
		return
	}

	now := e.clock.Now()
	if err != nil {
		idle := now.Sub(t.LastUpdatedAt)
		e.log.Debugf("获取任务状态失败: ID=%s, 已失联 %v, 错误: %v", id, idle, err)
		if idle > e.opts.InactivityTimeout {
			e.log.Warnf("任务长时间无响应，标记为失败: ID=%s", id)
			e.applyLocked(rec, Snapshot{
				Status:       model.StatusError,
				Error:        "connection lost",
				RetryAllowed: true,
			}, now, false)
		}
		return
	}

	e.applyLocked(rec, Normalize(raw), now, true)
}
