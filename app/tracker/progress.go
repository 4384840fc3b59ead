package tracker

import (
	"math"

	"download-tracker/app/model"
)

// Clamp 将进度限制在 [0,100]
func Clamp(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// CollectionProgress 计算集合任务整体进度。
// 有条目进度时为 ((current-1) + item/100) / total * 100，否则按位置估算 current / total * 100。
func CollectionProgress(current, total int, itemProgress *float64) float64 {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current > total {
		current = total
	}

	var done float64
	if itemProgress != nil {
		done = float64(current-1) + Clamp(*itemProgress)/100
	} else {
		done = float64(current)
	}
	return Clamp(done / float64(total) * 100)
}

// aggregate 计算应用快照后的任务进度，同一次尝试内单调不减
func aggregate(t *model.Task, status model.TaskStatus, direct, item *float64) float64 {
	if status == model.StatusDone {
		return 100
	}

	var computed float64
	switch {
	case t.IsCollection():
		if t.TotalItems <= 0 || t.CurrentItem <= 0 {
			return Clamp(t.Progress)
		}
		computed = CollectionProgress(t.CurrentItem, t.TotalItems, item)
	case direct != nil:
		computed = Clamp(*direct)
	default:
		return Clamp(t.Progress)
	}

	return math.Max(Clamp(t.Progress), computed)
}
