package tracker

import (
	"context"
	"fmt"
	"time"

	"download-tracker/app/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newTaskID() string {
	return uuid.NewString()
}

// Start 校验启动描述并发起远程任务。
// 校验失败时不创建任务也不发出请求；远程启动失败时任务以不可重试的错误状态保留。
func (e *Engine) Start(ctx context.Context, desc model.Descriptor) (string, error) {
	if err := e.validate.Struct(desc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}

	now := e.clock.Now()
	t := &model.Task{
		ID:            newTaskID(),
		Kind:          desc.Kind,
		DisplayName:   desc.Label(),
		DisplayOwner:  desc.Artist,
		Status:        model.StatusInitializing,
		Retry:         desc.Clone(),
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	rec := e.insertLocked(t)
	id, gen := t.ID, rec.attempt
	e.emitLocked(rec, EventAdded)
	e.mu.Unlock()

	reqCtx, cancel := e.requestContext(ctx)
	handle, startErr := e.api.Start(reqCtx, desc)
	cancel()

	e.mu.Lock()
	rec, ok := e.records[id]
	if !ok || rec.attempt != gen {
		e.mu.Unlock()
		// 启动期间任务已被取消或移除
		if startErr == nil && handle != "" {
			e.deleteRemote(ctx, handle)
		}
		return id, nil
	}
	defer e.mu.Unlock()

	t = rec.task
	if startErr != nil || handle == "" {
		if startErr != nil {
			e.log.Errorf("发起远程任务失败: ID=%s, 错误: %v", id, startErr)
		}
		t.Status = model.StatusError
		t.ErrorMessage = "missing remote handle"
		t.RetryBlocked = true
		e.enterTerminalLocked(rec)
		e.emitLocked(rec, EventUpdated)
		e.refreshWindowLocked()
		return id, nil
	}

	t.RemoteHandle = handle
	e.handles[handle] = id
	t.Status = model.StatusQueued
	t.LastUpdatedAt = e.clock.Now()
	e.persistLocked(rec)
	e.emitLocked(rec, EventUpdated)
	e.refreshWindowLocked()

	e.log.Info("任务已发起",
		zap.String("id", id),
		zap.String("handle", handle),
		zap.String("name", t.DisplayName),
		zap.String("kind", string(t.Kind)))
	return id, nil
}

// Cancel 立即将任务置为已取消并停止轮询，远程取消尽力而为。
// 取消优先于任何尚在途中的轮询结果。
func (e *Engine) Cancel(ctx context.Context, id string) error {
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
	t := rec.task
	if t.Status == model.StatusCancelled {
		e.mu.Unlock()
		return nil
	}
	// 等待自动重试的错误任务仍可取消
	if t.HasEnded && !(t.Status == model.StatusError && rec.countdown != nil) {
		e.mu.Unlock()
		return ErrTaskEnded
	}

	e.stopSubscriptionLocked(rec)
	e.stopCountdownLocked(rec)
	rec.attempt++

	t.Status = model.StatusCancelled
	t.RetryAt = time.Time{}
	e.enterTerminalLocked(rec)
	e.persistLocked(rec)
	e.emitLocked(rec, EventUpdated)
	e.refreshWindowLocked()
	handle := t.RemoteHandle
	e.mu.Unlock()

	e.log.Infof("任务已取消: ID=%s", id)
	if handle == "" {
		return nil
	}

	reqCtx, cancel := e.requestContext(ctx)
	defer cancel()
	if err := e.api.Cancel(reqCtx, handle); err != nil {
		e.log.Warnf("远程取消任务失败: ID=%s, Handle=%s, 错误: %v", id, handle, err)
	}
	return nil
}

// Remove 从注册表移除任务并删除本地缓存，远程删除失败不影响本地移除
func (e *Engine) Remove(ctx context.Context, id string) error {
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
	handle := rec.task.RemoteHandle
	e.dropLocked(rec)
	e.mu.Unlock()

	if handle != "" {
		e.deleteRemote(ctx, handle)
	}
	e.log.Info("任务已移除", zap.String("id", id), zap.String("handle", handle))
	return nil
}

// CancelAll 取消所有可取消的任务，返回取消数量
func (e *Engine) CancelAll(ctx context.Context) int {
	e.mu.Lock()
	var ids []string
	for id, rec := range e.records {
		t := rec.task
		if !t.HasEnded || (t.Status == model.StatusError && rec.countdown != nil) {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	count := 0
	for _, id := range ids {
		if err := e.Cancel(ctx, id); err == nil {
			count++
		}
	}
	return count
}

// ClearCompleted 移除已完成、已取消、已跳过的任务，错误任务保留，返回移除数量
func (e *Engine) ClearCompleted(ctx context.Context) int {
	e.mu.Lock()
	var ids []string
	for id, rec := range e.records {
		if rec.task.HasEnded && rec.task.Status.IsDismissable() {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	count := 0
	for _, id := range ids {
		if err := e.Remove(ctx, id); err == nil {
			count++
		}
	}
	return count
}
