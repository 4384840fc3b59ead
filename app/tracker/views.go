package tracker

import (
	"math"
	"time"

	"download-tracker/app/model"

	"github.com/patrickmn/go-cache"
)

// viewCache 缓存已聚合的任务视图
type viewCache struct {
	items *cache.Cache
}

func newViewCache() *viewCache {
	return &viewCache{items: cache.New(cache.NoExpiration, 0)}
}

func (v *viewCache) get(id string) (model.TaskView, bool) {
	item, ok := v.items.Get(id)
	if !ok {
		return model.TaskView{}, false
	}
	view, ok := item.(model.TaskView)
	return view, ok
}

func (v *viewCache) set(view model.TaskView) {
	v.items.Set(view.ID, view, cache.NoExpiration)
}

func (v *viewCache) delete(id string) {
	v.items.Delete(id)
}

func (v *viewCache) flush() {
	v.items.Flush()
}

// buildView 由任务生成视图
func buildView(t *model.Task, policy RetryPolicy, now time.Time) model.TaskView {
	view := model.TaskView{
		ID:           t.ID,
		Kind:         t.Kind,
		DisplayName:  t.DisplayName,
		DisplayOwner: t.DisplayOwner,
		Status:       t.Status,
		Progress:     math.Round(Clamp(t.Progress)*100) / 100,
		ErrorMessage: t.ErrorMessage,
		SkipReason:   t.SkipReason,
		RetryCount:   t.RetryCount,
		CanRetry:     t.Status == model.StatusError && policy.CanRetry(t),
		CanCancel:    !t.HasEnded || (t.Status == model.StatusError && !t.RetryAt.IsZero()),
		UpdatedAt:    t.LastUpdatedAt,
	}
	if t.IsCollection() {
		view.CurrentItem = t.CurrentItem
		view.TotalItems = t.TotalItems
		view.FailedItems = t.FailedItems
		view.ItemError = t.ItemError
	}
	if t.Status == model.StatusError && !t.RetryAt.IsZero() {
		if remaining := t.RetryAt.Sub(now); remaining > 0 {
			view.RetryInSeconds = int(math.Ceil(remaining.Seconds()))
		}
	}
	return view
}

// sameView 比较两个视图，忽略更新时间
func sameView(a, b model.TaskView) bool {
	a.UpdatedAt = time.Time{}
	b.UpdatedAt = time.Time{}
	return a == b
}
