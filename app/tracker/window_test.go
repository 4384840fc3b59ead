package tracker

import (
	"context"
	"testing"
	"time"

	"download-tracker/app/logger"
	"download-tracker/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdering(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tasks := []*model.Task{
		{ID: "queued-late", Status: model.StatusQueued, QueuePosition: 0, LastUpdatedAt: base},
		{ID: "queued-2", Status: model.StatusQueued, QueuePosition: 2, LastUpdatedAt: base},
		{ID: "downloading-new", Status: model.StatusDownloading, LastUpdatedAt: base.Add(2 * time.Second)},
		{ID: "error", Status: model.StatusError, LastUpdatedAt: base.Add(time.Minute)},
		{ID: "queued-1", Status: model.StatusQueued, QueuePosition: 1, LastUpdatedAt: base.Add(time.Hour)},
		{ID: "downloading-old", Status: model.StatusDownloading, LastUpdatedAt: base},
		{ID: "cancelled", Status: model.StatusCancelled, LastUpdatedAt: base},
		{ID: "done", Status: model.StatusDone, LastUpdatedAt: base.Add(time.Second)},
	}

	e := New(testOptions(newFakeClock()), newFakeAPI(), newMemStore(), logger.NewNop())
	defer e.Close()
	for _, task := range tasks {
		e.records[task.ID] = &record{task: task}
	}

	var got []string
	for _, rec := range e.orderedLocked() {
		got = append(got, rec.task.ID)
	}
	assert.Equal(t, []string{
		"cancelled", "error",
		"downloading-old", "done", "downloading-new",
		"queued-1", "queued-2", "queued-late",
	}, got)
}

func TestWindowBoundsPolling(t *testing.T) {
	api := newFakeAPI()
	e, clock := newTestEngine(t, api, newMemStore(), func(o *Options) {
		o.WindowSize = 2
	})

	for _, src := range []string{"a", "b", "c"} {
		_, err := e.Start(context.Background(), trackDescriptor(src))
		require.NoError(t, err)
	}
	for _, h := range []string{"h-1", "h-2", "h-3"} {
		api.setStatus(h, model.RawStatus{"status": "done"})
	}
	assert.Equal(t, 2, e.Summary().Polling)

	// 窗口内的任务完成后仍占据窗口，直到宽限期结束被移除
	clock.Advance(time.Second)
	summary := e.Summary()
	assert.Zero(t, summary.Polling)
	assert.Equal(t, 2, summary.ByStatus[model.StatusDone])

	polled := 0
	for _, h := range []string{"h-1", "h-2", "h-3"} {
		if api.calls(h) > 0 {
			polled++
		}
	}
	assert.Equal(t, 2, polled)

	clock.Advance(5 * time.Second)
	summary = e.Summary()
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Polling)

	clock.Advance(time.Second)
	assert.Equal(t, 1, e.Summary().ByStatus[model.StatusDone])
}

func TestWindowSizePersisted(t *testing.T) {
	store := newMemStore()
	e, _ := newTestEngine(t, newFakeAPI(), store, func(o *Options) {
		o.WindowSize = 2
		o.WindowStep = 5
	})
	assert.Equal(t, 2, e.WindowSize())

	assert.Equal(t, 7, e.GrowWindow())
	assert.Equal(t, 7, store.window)
	assert.Equal(t, 2, e.SetWindowSize(0))
	assert.Equal(t, 30, e.SetWindowSize(30))

	reloaded, _ := newTestEngine(t, newFakeAPI(), store)
	assert.Equal(t, 30, reloaded.WindowSize())
}

func TestVisibleViewsTruncated(t *testing.T) {
	api := newFakeAPI()
	e, _ := newTestEngine(t, api, newMemStore(), func(o *Options) {
		o.WindowSize = 1
	})
	for _, src := range []string{"a", "b"} {
		_, err := e.Start(context.Background(), trackDescriptor(src))
		require.NoError(t, err)
	}
	assert.Len(t, e.Views(), 2)
	assert.Len(t, e.VisibleViews(), 1)
}
