package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"download-tracker/app/logger"
	"download-tracker/app/model"
)

// fakeClock 手动推进的时钟，到期回调在 Advance 中同步执行
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	fn    func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			live := c.timers[:0]
			for _, t := range c.timers {
				if !t.done {
					live = append(live, t)
				}
			}
			c.timers = live
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// fakeAPI 内存中的远程任务服务
type fakeAPI struct {
	mu          sync.Mutex
	seq         int
	startErr    error
	statusErr   error
	listErr     error
	statuses    map[string]model.RawStatus
	listed      []model.RawStatus
	starts      []model.Descriptor
	cancels     []string
	deletes     []string
	statusCalls map[string]int
	// startHook 在 Start 返回前执行，用于模拟请求在途时的并发操作
	startHook func()
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		statuses:    make(map[string]model.RawStatus),
		statusCalls: make(map[string]int),
	}
}

func (f *fakeAPI) Start(_ context.Context, desc model.Descriptor) (string, error) {
	f.mu.Lock()
	f.starts = append(f.starts, desc)
	hook := f.startHook
	if f.startErr != nil {
		err := f.startErr
		f.mu.Unlock()
		return "", err
	}
	f.seq++
	handle := fmt.Sprintf("h-%d", f.seq)
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return handle, nil
}

func (f *fakeAPI) Status(_ context.Context, handle string) (model.RawStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls[handle]++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	raw, ok := f.statuses[handle]
	if !ok {
		return nil, errors.New("unknown handle")
	}
	out := make(model.RawStatus, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAPI) List(context.Context) ([]model.RawStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listed, nil
}

func (f *fakeAPI) Cancel(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, handle)
	return nil
}

func (f *fakeAPI) Delete(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, handle)
	return nil
}

func (f *fakeAPI) setStatus(handle string, raw model.RawStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[handle] = raw
}

func (f *fakeAPI) setStatusErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr = err
}

func (f *fakeAPI) calls(handle string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[handle]
}

func (f *fakeAPI) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeAPI) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeAPI) cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

// memStore 内存快照存储
type memStore struct {
	mu        sync.Mutex
	entries   map[string]model.TaskCache
	saves     int
	window    int
	hasWindow bool
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]model.TaskCache)}
}

func (s *memStore) Save(entry *model.TaskCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.RemoteHandle] = *entry
	s.saves++
	return nil
}

func (s *memStore) Delete(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, handle)
	return nil
}

func (s *memStore) All() ([]model.TaskCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TaskCache, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out, nil
}

func (s *memStore) WindowSize() (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window, s.hasWindow, nil
}

func (s *memStore) SaveWindowSize(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = n
	s.hasWindow = true
	return nil
}

func (s *memStore) get(handle string) (model.TaskCache, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[handle]
	return entry, ok
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func testOptions(clock Clock) Options {
	return Options{
		PollInterval:      time.Second,
		InactivityTimeout: 10 * time.Second,
		GracePeriod:       5 * time.Second,
		Retry: RetryPolicy{
			MaxRetries:    3,
			BaseDelay:     5 * time.Second,
			DelayIncrease: 5 * time.Second,
		},
		WindowSize: 10,
		WindowStep: 10,
		Clock:      clock,
	}
}

func newTestEngine(t *testing.T, api *fakeAPI, store *memStore, mutate ...func(*Options)) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts := testOptions(clock)
	for _, fn := range mutate {
		fn(&opts)
	}
	e := New(opts, api, store, logger.NewNop())
	t.Cleanup(e.Close)
	return e, clock
}

func trackDescriptor(id string) model.Descriptor {
	return model.Descriptor{Kind: model.KindSingle, SourceID: id, Title: "Track " + id}
}

func mustView(t *testing.T, e *Engine, id string) model.TaskView {
	t.Helper()
	view, ok := e.View(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return view
}
