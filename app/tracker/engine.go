// Package tracker 跟踪远程下载任务的状态：轮询、状态规范化、进度聚合、
// 有限次重试、可见窗口以及本地快照的持久化与启动时对账。
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"download-tracker/app/config"
	"download-tracker/app/logger"
	"download-tracker/app/model"

	"github.com/go-playground/validator/v10"
)

// Options 引擎参数
type Options struct {
	PollInterval      time.Duration
	InactivityTimeout time.Duration
	GracePeriod       time.Duration
	RequestTimeout    time.Duration
	Retry             RetryPolicy
	WindowSize        int
	WindowStep        int

	// Clock 为空时使用系统时钟
	Clock Clock
	// Source 为空时使用 PollingSource
	Source UpdateSource
}

// OptionsFromConfig 由配置生成引擎参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:      cfg.Tracker.PollInterval,
		InactivityTimeout: cfg.Tracker.InactivityTimeout,
		GracePeriod:       cfg.Tracker.GracePeriod,
		RequestTimeout:    cfg.Remote.Timeout,
		Retry: RetryPolicy{
			MaxRetries:    cfg.Tracker.MaxRetries,
			BaseDelay:     cfg.Tracker.RetryBaseDelay,
			DelayIncrease: cfg.Tracker.RetryDelayIncrease,
		},
		WindowSize: cfg.Tracker.WindowSize,
		WindowStep: cfg.Tracker.WindowStep,
	}
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 1500 * time.Millisecond
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = 5 * time.Minute
	}
	if o.GracePeriod < 0 {
		o.GracePeriod = 0
	}
	if o.WindowSize <= 0 {
		o.WindowSize = 10
	}
	if o.WindowStep <= 0 {
		o.WindowStep = 10
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
}

// record 注册表中的一条任务及其定时器
type record struct {
	task      *model.Task
	sub       Subscription
	countdown Timer
	removal   Timer
	// attempt 每次重试或取消递增，用于丢弃过期的异步结果
	attempt int
	cached  *model.TaskCache
	// subSeq 每次开启订阅递增，旧订阅迟到的结果直接丢弃
	subSeq int
	// reissuing 重新发起请求在途，期间不开启轮询
	reissuing bool
	// itemOutcomes 本次尝试中已计数的失败或跳过条目
	itemOutcomes map[int]bool
}

// Tallies 终态累计计数
type Tallies struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// Summary 注册表概况
type Summary struct {
	Total      int                      `json:"total"`
	Polling    int                      `json:"polling"`
	WindowSize int                      `json:"window_size"`
	ByStatus   map[model.TaskStatus]int `json:"by_status"`
	Tallies    Tallies                  `json:"tallies"`
}

// Engine 任务注册表与生命周期管理。所有注册表修改都在 mu 保护下串行进行，
// 远程调用在锁外执行，回调返回后重新校验任务是否仍然存在。
type Engine struct {
	mu       sync.Mutex
	opts     Options
	api      TaskAPI
	store    Store
	source   UpdateSource
	clock    Clock
	log      *logger.Logger
	validate *validator.Validate

	records map[string]*record
	handles map[string]string // remote handle -> task id
	window  int
	views   *viewCache
	tallies Tallies

	subs    map[int]chan Event
	nextSub int

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New 创建引擎。可见窗口大小优先读取持久化值。
func New(opts Options, api TaskAPI, store Store, log *logger.Logger) *Engine {
	opts.applyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		opts:     opts,
		api:      api,
		store:    store,
		clock:    opts.Clock,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		records:  make(map[string]*record),
		handles:  make(map[string]string),
		window:   opts.WindowSize,
		views:    newViewCache(),
		subs:     make(map[int]chan Event),
		ctx:      ctx,
		cancel:   cancel,
	}

	e.source = opts.Source
	if e.source == nil {
		e.source = NewPollingSource(ctx, api, opts.Clock, opts.PollInterval, opts.RequestTimeout)
	}

	if size, ok, err := store.WindowSize(); err != nil {
		log.Warnf("读取可见窗口大小失败，使用默认值: %v", err)
	} else if ok && size > 0 {
		e.window = size
	}

	return e
}

// Load 合并本地快照与远程任务列表重建注册表，并恢复未结束任务的轮询
func (e *Engine) Load(ctx context.Context) error {
	entries, err := e.store.All()
	if err != nil {
		return fmt.Errorf("读取任务缓存失败: %w", err)
	}

	reqCtx, cancel := e.requestContext(ctx)
	listed, listErr := e.api.List(reqCtx)
	cancel()
	if listErr != nil {
		e.log.Warnf("获取远程任务列表失败，仅使用本地缓存恢复: %v", listErr)
	}

	remote := make(map[string]Snapshot, len(listed))
	var order []string
	for _, raw := range listed {
		snap := Normalize(raw)
		if snap.Handle == "" {
			continue
		}
		if _, dup := remote[snap.Handle]; !dup {
			order = append(order, snap.Handle)
		}
		remote[snap.Handle] = snap
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}

	now := e.clock.Now()
	var purge []string
	restored := 0

	for i := range entries {
		entry := &entries[i]
		if entry.RemoteHandle == "" {
			continue
		}
		if _, exists := e.handles[entry.RemoteHandle]; exists {
			continue
		}
		if entry.Status.IsDismissable() {
			purge = append(purge, entry.RemoteHandle)
			if err := e.store.Delete(entry.RemoteHandle); err != nil {
				e.log.Warnf("删除已结束任务缓存失败: Handle=%s, 错误: %v", entry.RemoteHandle, err)
			}
			continue
		}

		t := entry.ToTask()
		if t.ID == "" {
			t.ID = newTaskID()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.Status == model.StatusRetrying {
			t.Status = model.StatusInitializing
		}
		// 恢复后以当前时间作为失联计时起点
		t.LastUpdatedAt = now
		t.HasEnded = t.Status.IsTerminal()

		rec := e.insertLocked(t)
		cached := *entry
		rec.cached = &cached
		restored++
	}

	adopted := 0
	var children []Snapshot
	for _, handle := range order {
		snap := remote[handle]
		if snap.Attributed() && snap.Parent.Handle != "" && snap.Parent.Handle != handle {
			children = append(children, snap)
			continue
		}
		if id, ok := e.handles[handle]; ok {
			e.applyLocked(e.records[id], snap, now, true)
			continue
		}

		t := &model.Task{
			ID:            newTaskID(),
			RemoteHandle:  handle,
			Kind:          snap.Kind,
			Status:        model.StatusQueued,
			Retry:         snap.Retry,
			CreatedAt:     now,
			LastUpdatedAt: now,
		}
		if t.Kind == "" {
			t.Kind = model.KindSingle
		}
		rec := e.insertLocked(t)
		e.applyLocked(rec, snap, now, true)
		e.persistLocked(rec)
		adopted++
	}

	// 子条目折叠进所属集合，不单独成行
	for _, snap := range children {
		if id, ok := e.handles[snap.Parent.Handle]; ok {
			e.applyLocked(e.records[id], snap, now, true)
		}
	}

	e.refreshWindowLocked()
	for _, rec := range e.records {
		e.emitLocked(rec, EventAdded)
	}
	e.mu.Unlock()

	for _, handle := range purge {
		e.deleteRemote(ctx, handle)
	}

	e.log.Infof("任务注册表已重建: 恢复 %d 个, 接管远程 %d 个, 清理已结束 %d 个", restored, adopted, len(purge))
	return nil
}

// Close 停止所有轮询与定时器，写回缓存并关闭订阅通道
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	for _, rec := range e.records {
		e.stopSubscriptionLocked(rec)
		e.stopCountdownLocked(rec)
		if rec.removal != nil {
			rec.removal.Stop()
			rec.removal = nil
		}
		e.persistLocked(rec)
	}
	e.views.flush()
	e.closeSubscribersLocked()
	e.cancel()
	e.log.Info("任务跟踪引擎已关闭")
}

// insertLocked 将任务加入注册表
func (e *Engine) insertLocked(t *model.Task) *record {
	rec := &record{task: t}
	e.records[t.ID] = rec
	if t.RemoteHandle != "" {
		e.handles[t.RemoteHandle] = t.ID
	}
	return rec
}

// applyLocked 将规范化快照应用到任务。contact 表示快照来自一次成功的远程响应。
func (e *Engine) applyLocked(rec *record, snap Snapshot, now time.Time, contact bool) {
	t := rec.task
	if t.HasEnded {
		// 已结束的任务（包括已取消）不再接受轮询结果
		return
	}

	status := snap.Status
	item := snap.ItemProgress

	if snap.Attributed() {
		parent := snap.Parent
		t.Kind = model.KindCollection
		if parent.Name != "" {
			t.DisplayName = parent.Name
		}
		if parent.Owner != "" {
			t.DisplayOwner = parent.Owner
		}
		if parent.TotalItems > 0 {
			t.TotalItems = parent.TotalItems
		}
		if snap.CurrentItem > 0 {
			t.CurrentItem = snap.CurrentItem
		}
		e.recordItemOutcomeLocked(rec, snap)
		status = attributedStatus(status, t.CurrentItem, t.TotalItems)
	} else {
		if snap.Kind != "" {
			t.Kind = snap.Kind
		}
		if snap.Name != "" {
			t.DisplayName = snap.Name
		}
		if snap.Owner != "" {
			t.DisplayOwner = snap.Owner
		}
		if t.IsCollection() {
			if snap.TotalItems > 0 {
				t.TotalItems = snap.TotalItems
			}
			if snap.CurrentItem > 0 {
				t.CurrentItem = snap.CurrentItem
			}
		}
	}

	if status == model.StatusRetrying {
		status = model.StatusInitializing
	}

	t.QueuePosition = snap.QueuePosition
	if t.Retry == nil && snap.Retry != nil {
		t.Retry = snap.Retry
	}
	// 只有错误快照上的 can_retry 才有意义
	if status == model.StatusError && !snap.RetryAllowed {
		t.RetryBlocked = true
	}

	t.Progress = aggregate(t, status, snap.Progress, item)
	t.Status = status

	switch status {
	case model.StatusError:
		t.ErrorMessage = snap.Error
		if t.ErrorMessage == "" {
			t.ErrorMessage = "unknown error"
		}
	case model.StatusSkipped:
		t.SkipReason = snap.SkipReason
	}
	if contact {
		t.LastUpdatedAt = now
	}

	if status.IsTerminal() {
		e.enterTerminalLocked(rec)
	}

	e.persistLocked(rec)
	e.emitLocked(rec, EventUpdated)
	if status.IsTerminal() {
		e.refreshWindowLocked()
	}
}

// attributedStatus 子条目的终态不代表整个集合结束，除非是最后一个条目
func attributedStatus(s model.TaskStatus, current, total int) model.TaskStatus {
	switch s {
	case model.StatusDone, model.StatusSkipped, model.StatusError, model.StatusCancelled:
		if total > 0 && current >= total {
			return model.StatusDone
		}
		return model.StatusDownloading
	case model.StatusQueued:
		return model.StatusDownloading
	}
	return s
}

// recordItemOutcomeLocked 子条目的失败、取消或跳过只记在所属集合上，同一条目只计一次
func (e *Engine) recordItemOutcomeLocked(rec *record, snap Snapshot) {
	switch snap.Status {
	case model.StatusError, model.StatusCancelled, model.StatusSkipped:
	default:
		return
	}

	t := rec.task
	if rec.itemOutcomes == nil {
		rec.itemOutcomes = make(map[int]bool)
	}
	if rec.itemOutcomes[t.CurrentItem] {
		return
	}
	rec.itemOutcomes[t.CurrentItem] = true

	if snap.Status == model.StatusSkipped {
		e.tallies.Skipped++
		return
	}

	t.FailedItems++
	switch {
	case snap.Error != "":
		t.ItemError = snap.Error
	case snap.Status == model.StatusCancelled:
		t.ItemError = "cancelled"
	default:
		t.ItemError = "unknown error"
	}
	e.log.Warnf("集合条目失败: ID=%s, 条目: %d/%d, 错误: %s", t.ID, t.CurrentItem, t.TotalItems, t.ItemError)
}

// enterTerminalLocked 进入终态：停止轮询，成功类终态安排宽限期移除，错误按策略安排重试
func (e *Engine) enterTerminalLocked(rec *record) {
	t := rec.task
	wasEnded := t.HasEnded
	t.HasEnded = true
	e.stopSubscriptionLocked(rec)

	if !wasEnded {
		switch t.Status {
		case model.StatusDone:
			e.tallies.Completed++
		case model.StatusError:
			e.tallies.Failed++
		case model.StatusSkipped:
			e.tallies.Skipped++
		case model.StatusCancelled:
			e.tallies.Cancelled++
		}
		e.log.Infof("任务进入终态: ID=%s, 状态: %s", t.ID, t.Status)
	}

	switch {
	case t.Status.IsDismissable():
		e.scheduleRemovalLocked(rec)
	case t.Status == model.StatusError:
		if e.opts.Retry.CanRetry(t) {
			if rec.countdown == nil {
				e.scheduleRetryLocked(rec)
			}
		} else {
			e.log.Warnf("任务失败且不可重试: ID=%s, 错误: %s", t.ID, t.ErrorMessage)
		}
	}
}

// scheduleRemovalLocked 宽限期后移除任务，已安排时不重复安排
func (e *Engine) scheduleRemovalLocked(rec *record) {
	if rec.removal != nil {
		return
	}
	id := rec.task.ID
	rec.removal = e.clock.AfterFunc(e.opts.GracePeriod, func() {
		e.expire(id)
	})
}

// expire 宽限期到期，移除仍处于可清除终态的任务
func (e *Engine) expire(id string) {
	defer e.recoverTask(id)

	e.mu.Lock()
	rec, ok := e.records[id]
	if e.closed || !ok || !rec.task.HasEnded || !rec.task.Status.IsDismissable() {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if err := e.Remove(e.ctx, id); err != nil && err != ErrTaskNotFound {
		e.log.Warnf("宽限期移除任务失败: ID=%s, 错误: %v", id, err)
	}
}

// persistLocked 写入本地快照，状态未变化时跳过
func (e *Engine) persistLocked(rec *record) {
	t := rec.task
	if t.RemoteHandle == "" {
		return
	}
	entry := model.NewTaskCache(t)
	if rec.cached != nil && rec.cached.SameState(&entry) {
		return
	}
	if err := e.store.Save(&entry); err != nil {
		e.log.Warnf("保存任务缓存失败: ID=%s, 错误: %v", t.ID, err)
		return
	}
	rec.cached = &entry
}

// emitLocked 刷新视图缓存并通知订阅者，视图未变化时不通知
func (e *Engine) emitLocked(rec *record, typ EventType) {
	view := buildView(rec.task, e.opts.Retry, e.clock.Now())
	if typ == EventUpdated {
		if prev, ok := e.views.get(view.ID); ok && sameView(prev, view) {
			return
		}
	}
	e.views.set(view)
	e.publishLocked(Event{Type: typ, TaskID: view.ID, Task: &view, At: e.clock.Now()})
}

// dropLocked 从注册表中移除任务并清理相关资源
func (e *Engine) dropLocked(rec *record) {
	t := rec.task
	e.stopSubscriptionLocked(rec)
	e.stopCountdownLocked(rec)
	if rec.removal != nil {
		rec.removal.Stop()
		rec.removal = nil
	}
	rec.attempt++

	delete(e.records, t.ID)
	if t.RemoteHandle != "" {
		e.forgetHandleLocked(t.RemoteHandle)
	}
	e.views.delete(t.ID)
	e.publishLocked(Event{Type: EventRemoved, TaskID: t.ID, At: e.clock.Now()})
	e.refreshWindowLocked()
}

// forgetHandleLocked 删除句柄索引与本地缓存
func (e *Engine) forgetHandleLocked(handle string) {
	delete(e.handles, handle)
	if err := e.store.Delete(handle); err != nil {
		e.log.Warnf("删除任务缓存失败: Handle=%s, 错误: %v", handle, err)
	}
}

// recoverTask 捕获回调中的 panic，将任务降级为错误状态
func (e *Engine) recoverTask(id string) {
	r := recover()
	if r == nil {
		return
	}
	e.log.Errorf("处理任务时发生panic: ID=%s, %v", id, r)

	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[id]
	if !ok || e.closed {
		return
	}
	rec.task.Status = model.StatusError
	rec.task.ErrorMessage = fmt.Sprintf("internal error: %v", r)
	e.enterTerminalLocked(rec)
	e.persistLocked(rec)
	e.emitLocked(rec, EventUpdated)
}

func (e *Engine) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = e.ctx
	}
	if e.opts.RequestTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// deleteRemote 尽力删除远程任务，失败只记录日志
func (e *Engine) deleteRemote(ctx context.Context, handle string) {
	reqCtx, cancel := e.requestContext(ctx)
	defer cancel()
	if err := e.api.Delete(reqCtx, handle); err != nil {
		e.log.Warnf("删除远程任务失败: Handle=%s, 错误: %v", handle, err)
	}
}

// Views 按窗口排序返回所有任务视图
func (e *Engine) Views() []model.TaskView {
	e.mu.Lock()
	defer e.mu.Unlock()

	ordered := e.orderedLocked()
	now := e.clock.Now()
	views := make([]model.TaskView, 0, len(ordered))
	for _, rec := range ordered {
		view, ok := e.views.get(rec.task.ID)
		if !ok {
			view = buildView(rec.task, e.opts.Retry, now)
			e.views.set(view)
		}
		if view.RetryInSeconds > 0 {
			// 倒计时随时间变化，直接重新计算
			view = buildView(rec.task, e.opts.Retry, now)
		}
		views = append(views, view)
	}
	return views
}

// VisibleViews 返回可见窗口内的任务视图
func (e *Engine) VisibleViews() []model.TaskView {
	views := e.Views()
	size := e.WindowSize()
	if len(views) > size {
		views = views[:size]
	}
	return views
}

// View 返回单个任务视图
func (e *Engine) View(id string) (model.TaskView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[id]
	if !ok {
		return model.TaskView{}, false
	}
	return buildView(rec.task, e.opts.Retry, e.clock.Now()), true
}

// Task 返回任务副本
func (e *Engine) Task(id string) (*model.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[id]
	if !ok {
		return nil, false
	}
	return rec.task.Clone(), true
}

// Summary 返回注册表概况
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Summary{
		Total:      len(e.records),
		WindowSize: e.window,
		ByStatus:   make(map[model.TaskStatus]int),
		Tallies:    e.tallies,
	}
	for _, rec := range e.records {
		s.ByStatus[rec.task.Status]++
		if rec.sub != nil {
			s.Polling++
		}
	}
	return s
}

// PruneOrphans 删除注册表中已不存在的任务缓存
func (e *Engine) PruneOrphans() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.store.All()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, entry := range entries {
		if _, ok := e.handles[entry.RemoteHandle]; ok {
			continue
		}
		if err := e.store.Delete(entry.RemoteHandle); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
