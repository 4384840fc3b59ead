package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"download-tracker/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCache(t *testing.T, store *memStore, handle string, status model.TaskStatus) {
	t.Helper()
	require.NoError(t, store.Save(&model.TaskCache{
		RemoteHandle: handle,
		TaskID:       "task-" + handle,
		Kind:         model.KindSingle,
		DisplayName:  "Cached " + handle,
		Status:       status,
		Progress:     10,
	}))
}

func TestLoadRestoresPersistedTasks(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore()
	for _, h := range []string{"r-1", "r-2", "r-3"} {
		seedCache(t, store, h, model.StatusDownloading)
		raw := model.RawStatus{"task_id": h, "type": "track", "status": "downloading", "progress": 30.0}
		api.listed = append(api.listed, raw)
		api.setStatus(h, raw)
	}

	e, clock := newTestEngine(t, api, store)
	require.NoError(t, e.Load(context.Background()))

	summary := e.Summary()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Polling)

	view := mustView(t, e, "task-r-1")
	assert.Equal(t, "Cached r-1", view.DisplayName)
	assert.Equal(t, 30.0, view.Progress)

	clock.Advance(time.Second)
	for _, h := range []string{"r-1", "r-2", "r-3"} {
		assert.Equal(t, 1, api.calls(h), h)
	}
}

func TestLoadReconcilesCacheWithRemote(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore()
	seedCache(t, store, "r-1", model.StatusDownloading)
	seedCache(t, store, "r-2", model.StatusDone)
	seedCache(t, store, "r-3", model.StatusError)

	api.listed = []model.RawStatus{
		{"task_id": "r-1", "type": "album", "status": "downloading", "total_tracks": 8.0},
		{"task_id": "r-4", "type": "track", "status": "queued", "title": "Remote only", "queue_position": 1.0},
		{
			"task_id":       "r-5",
			"type":          "track",
			"status":        "downloading",
			"progress":      50.0,
			"current_track": 3.0,
			"parent":        map[string]any{"task_id": "r-1", "type": "album", "name": "Album", "total_tracks": 8.0},
		},
	}

	e, _ := newTestEngine(t, api, store)
	require.NoError(t, e.Load(context.Background()))

	summary := e.Summary()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Polling)

	// 已完成的缓存条目不会被恢复
	_, cached := store.get("r-2")
	assert.False(t, cached)
	assert.Equal(t, []string{"r-2"}, api.deleted())

	collection := mustView(t, e, "task-r-1")
	assert.Equal(t, model.KindCollection, collection.Kind)
	assert.Equal(t, "Album", collection.DisplayName)
	assert.Equal(t, 8, collection.TotalItems)
	assert.InDelta(t, 31.25, collection.Progress, 0.001)

	failed := mustView(t, e, "task-r-3")
	assert.Equal(t, model.StatusError, failed.Status)
	assert.False(t, failed.CanCancel)
	assert.False(t, failed.CanRetry)

	var adopted *model.TaskView
	for _, v := range e.Views() {
		if v.DisplayName == "Remote only" {
			v := v
			adopted = &v
		}
	}
	require.NotNil(t, adopted)
	assert.Equal(t, model.StatusQueued, adopted.Status)
	_, cached = store.get("r-4")
	assert.True(t, cached)
	_, cached = store.get("r-5")
	assert.False(t, cached)
}

func TestLoadWithoutRemoteList(t *testing.T) {
	api := newFakeAPI()
	api.listErr = errors.New("offline")
	store := newMemStore()
	seedCache(t, store, "r-1", model.StatusProcessing)
	seedCache(t, store, "r-2", model.StatusQueued)

	e, _ := newTestEngine(t, api, store)
	require.NoError(t, e.Load(context.Background()))

	summary := e.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Polling)
}

func TestPruneOrphans(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore()
	e, _ := newTestEngine(t, api, store)

	_, err := e.Start(context.Background(), trackDescriptor("1"))
	require.NoError(t, err)
	seedCache(t, store, "stale", model.StatusDownloading)

	pruned, err := e.PruneOrphans()
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	_, cached := store.get("stale")
	assert.False(t, cached)
	_, cached = store.get("h-1")
	assert.True(t, cached)
}

func TestLoadResumesRemoteRetrying(t *testing.T) {
	api := newFakeAPI()
	api.listed = []model.RawStatus{{"task_id": "r-1", "type": "track", "status": "retrying", "title": "Again"}}
	api.setStatus("r-1", model.RawStatus{"task_id": "r-1", "status": "downloading", "progress": 20.0})

	e, clock := newTestEngine(t, api, newMemStore())
	require.NoError(t, e.Load(context.Background()))

	summary := e.Summary()
	assert.Equal(t, 1, summary.Polling)
	assert.Equal(t, 1, summary.ByStatus[model.StatusInitializing])

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, api.calls("r-1"))
	views := e.Views()
	require.Len(t, views, 1)
	assert.Equal(t, model.StatusDownloading, views[0].Status)
	assert.Equal(t, 20.0, views[0].Progress)
}
