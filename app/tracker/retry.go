package tracker

import (
	"context"
	"fmt"
	"time"

	"download-tracker/app/model"
)

// RetryPolicy 自动重试策略，延迟线性递增
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	DelayIncrease time.Duration
}

// CanRetry 存在重试描述、未被远程禁止且未达上限时可重试
func (p RetryPolicy) CanRetry(t *model.Task) bool {
	return t.Retry != nil && !t.RetryBlocked && t.RetryCount < p.MaxRetries
}

// Delay 第 retryCount 次重试前的等待时间
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	d := p.BaseDelay + time.Duration(retryCount)*p.DelayIncrease
	if d < 0 {
		return 0
	}
	return d
}

// scheduleRetryLocked 启动可见的重试倒计时，会清除已有倒计时
func (e *Engine) scheduleRetryLocked(rec *record) {
	e.stopCountdownLocked(rec)

	t := rec.task
	delay := e.opts.Retry.Delay(t.RetryCount)
	t.RetryAt = e.clock.Now().Add(delay)

	e.log.Infof("任务将在 %v 后重试: ID=%s, 重试次数: %d/%d", delay, t.ID, t.RetryCount, e.opts.Retry.MaxRetries)
	e.armCountdownLocked(rec, delay)
}

func (e *Engine) armCountdownLocked(rec *record, remaining time.Duration) {
	step := time.Second
	if remaining < step {
		step = remaining
	}
	id, gen := rec.task.ID, rec.attempt
	rec.countdown = e.clock.AfterFunc(step, func() {
		e.countdownTick(id, gen)
	})
}

func (e *Engine) stopCountdownLocked(rec *record) {
	if rec.countdown != nil {
		rec.countdown.Stop()
		rec.countdown = nil
	}
}

// countdownTick 每秒推进一次倒计时，到期后重新发起任务
func (e *Engine) countdownTick(id string, gen int) {
	defer e.recoverTask(id)

	e.mu.Lock()
	rec, ok := e.records[id]
	if e.closed || !ok || rec.attempt != gen || rec.countdown == nil || rec.task.Status != model.StatusError {
		e.mu.Unlock()
		return
	}

	remaining := rec.task.RetryAt.Sub(e.clock.Now())
	if remaining > 0 {
		e.armCountdownLocked(rec, remaining)
		e.emitLocked(rec, EventUpdated)
		e.mu.Unlock()
		return
	}
	rec.countdown = nil
	e.mu.Unlock()

	if err := e.reissue(e.ctx, id, gen); err != nil {
		e.log.Warnf("自动重试未执行: ID=%s, 原因: %v", id, err)
	}
}

// Retry 用户立即重试，取消正在进行的倒计时
func (e *Engine) Retry(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	rec, ok := e.records[id]
	if !ok {
		e.mu.Unlock()
		return ErrTaskNotFound
	}
	if rec.task.Status != model.StatusError || !e.opts.Retry.CanRetry(rec.task) {
		e.mu.Unlock()
		return ErrNotRetryable
	}
	e.stopCountdownLocked(rec)
	gen := rec.attempt
	e.mu.Unlock()

	return e.reissue(ctx, id, gen)
}

// reissue 使用重试描述重新发起任务并接管新句柄
func (e *Engine) reissue(ctx context.Context, id string, gen int) error {
	e.mu.Lock()
	rec, ok := e.records[id]
	if !ok || rec.attempt != gen {
		e.mu.Unlock()
		return ErrTaskNotFound
	}
	t := rec.task
	if t.Status != model.StatusError || !e.opts.Retry.CanRetry(t) {
		e.mu.Unlock()
		return ErrNotRetryable
	}

	rec.attempt++
	rec.reissuing = true
	rec.itemOutcomes = nil
	gen = rec.attempt
	desc := *t.Retry.Clone()
	oldHandle := t.RemoteHandle

	t.RetryCount++
	t.Status = model.StatusRetrying
	t.HasEnded = false
	t.RetryAt = time.Time{}
	t.Progress = 0
	t.CurrentItem = 0
	t.FailedItems = 0
	t.ItemError = ""
	t.ErrorMessage = ""
	attemptNo := t.RetryCount
	e.emitLocked(rec, EventUpdated)
	e.mu.Unlock()

	e.log.Infof("重新发起任务: ID=%s, 第 %d 次重试", id, attemptNo)

	reqCtx, cancel := e.requestContext(ctx)
	handle, startErr := e.api.Start(reqCtx, desc)
	cancel()

	if oldHandle != "" {
		e.deleteRemote(ctx, oldHandle)
	}

	e.mu.Lock()
	if oldHandle != "" {
		e.forgetHandleLocked(oldHandle)
	}

	rec, ok = e.records[id]
	if ok {
		rec.reissuing = false
	}
	if !ok || rec.attempt != gen {
		e.mu.Unlock()
		// 重试期间任务被取消或移除，丢弃新任务
		if startErr == nil && handle != "" {
			e.deleteRemote(ctx, handle)
		}
		return nil
	}
	t = rec.task
	t.RemoteHandle = ""

	if startErr != nil || handle == "" {
		if startErr == nil {
			startErr = fmt.Errorf("missing remote handle")
		}
		e.log.Errorf("重试发起失败: ID=%s, 错误: %v", id, startErr)
		t.Status = model.StatusError
		t.ErrorMessage = fmt.Sprintf("retry failed: %v", startErr)
		e.enterTerminalLocked(rec)
		e.emitLocked(rec, EventUpdated)
		e.refreshWindowLocked()
		e.mu.Unlock()
		return nil
	}

	t.RemoteHandle = handle
	e.handles[handle] = id
	t.Status = model.StatusInitializing
	t.LastUpdatedAt = e.clock.Now()
	e.persistLocked(rec)
	e.emitLocked(rec, EventUpdated)
	e.refreshWindowLocked()
	e.mu.Unlock()
	return nil
}
