package tracker

import (
	"strconv"
	"strings"

	"download-tracker/app/model"
)

// ParentRef 子条目快照中携带的所属集合信息
type ParentRef struct {
	Handle     string
	Kind       model.TaskKind
	Name       string
	Owner      string
	TotalItems int
}

// Snapshot 规范化后的状态快照，引擎只依赖此结构
type Snapshot struct {
	Handle        string
	Status        model.TaskStatus
	Kind          model.TaskKind // 为空表示快照未说明
	Name          string
	Owner         string
	Progress      *float64 // 单条目直接百分比
	ItemProgress  *float64 // 集合中当前条目的细粒度进度
	CurrentItem   int
	TotalItems    int
	QueuePosition int
	Parent        *ParentRef
	Error         string
	SkipReason    string
	RetryAllowed  bool
	Retry         *model.Descriptor
}

// Attributed 快照描述的是某个集合中的子条目
func (s *Snapshot) Attributed() bool {
	return s.Parent != nil && s.Kind != model.KindCollection
}

// statusAliases 后端状态字符串到规范状态的映射
var statusAliases = map[string]model.TaskStatus{
	"queued":       model.StatusQueued,
	"pending":      model.StatusQueued,
	"waiting":      model.StatusQueued,
	"initializing": model.StatusInitializing,
	"starting":     model.StatusInitializing,
	"downloading":  model.StatusDownloading,
	"progress":     model.StatusDownloading,
	"processing":   model.StatusProcessing,
	"converting":   model.StatusProcessing,
	"tagging":      model.StatusProcessing,
	"real-time":    model.StatusRealTime,
	"real_time":    model.StatusRealTime,
	"realtime":     model.StatusRealTime,
	"done":         model.StatusDone,
	"complete":     model.StatusDone,
	"completed":    model.StatusDone,
	"success":      model.StatusDone,
	"error":        model.StatusError,
	"failed":       model.StatusError,
	"cancelled":    model.StatusCancelled,
	"canceled":     model.StatusCancelled,
	"skipped":      model.StatusSkipped,
	// 远程自行重试时仍需继续轮询，本地的重试状态只由重新发起产生
	"retrying":     model.StatusInitializing,
}

// ParseStatus 将后端状态字符串映射为规范状态，无法识别时按排队处理
func ParseStatus(raw string) model.TaskStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := statusAliases[key]; ok {
		return s
	}
	return model.StatusQueued
}

// ParseKind 将后端条目类型映射为任务类型
func ParseKind(raw string) model.TaskKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "track", "song", "episode", "single", "item":
		return model.KindSingle
	case "album", "playlist", "artist", "discography", "collection", "show":
		return model.KindCollection
	}
	return ""
}

// Normalize 解析任意形态的状态负载。嵌套的 status_info 优先于顶层字段。
func Normalize(raw model.RawStatus) Snapshot {
	info := object(raw["status_info"])

	snap := Snapshot{
		Handle:        firstString(raw, "task_id", "id", "task_handle"),
		Kind:          ParseKind(firstString(raw, "type", "kind")),
		Name:          displayName(raw),
		Owner:         displayOwner(raw),
		QueuePosition: int(firstNumber(0, raw, "queue_position", "position")),
		RetryAllowed:  true,
	}

	statusText := firstString(info, "status")
	if statusText == "" {
		statusText = firstString(raw, "status")
	}
	snap.Status = ParseStatus(statusText)

	snap.CurrentItem = int(nestedNumber(info, raw, "current_track", "current_item"))
	snap.TotalItems = int(nestedNumber(info, raw, "total_tracks", "total_items"))

	if msg := firstString(info, "error", "error_message"); msg != "" {
		snap.Error = msg
	} else {
		snap.Error = firstString(raw, "error", "error_message")
	}

	if reason := firstString(info, "reason"); reason != "" {
		snap.SkipReason = reason
	} else {
		snap.SkipReason = firstString(raw, "reason")
	}

	if allowed, ok := firstBool(info, "can_retry"); ok {
		snap.RetryAllowed = allowed
	} else if allowed, ok := firstBool(raw, "can_retry"); ok {
		snap.RetryAllowed = allowed
	}

	if parent := object(raw["parent"]); parent != nil {
		snap.Parent = &ParentRef{
			Handle:     firstString(parent, "task_id", "id"),
			Kind:       ParseKind(firstString(parent, "type", "kind")),
			Name:       displayName(parent),
			Owner:      displayOwner(parent),
			TotalItems: int(firstNumber(0, parent, "total_tracks", "total_items")),
		}
		if snap.Parent.Kind == "" {
			snap.Parent.Kind = model.KindCollection
		}
	}

	pct, hasPct := progressValue(info, raw)
	if hasPct {
		switch {
		case snap.Attributed():
			snap.ItemProgress = &pct
		case snap.Kind == model.KindCollection:
			// 集合的条目进度只在实时更新中可靠
			if snap.Status == model.StatusRealTime {
				snap.ItemProgress = &pct
			}
		default:
			snap.Progress = &pct
		}
	}

	snap.Retry = retryDescriptor(object(raw["original_request"]), snap.Kind)

	return snap
}

// displayName 标题优先级：title > name > song > music
func displayName(obj map[string]any) string {
	return firstString(obj, "title", "name", "song", "music")
}

// displayOwner 创作者优先级：artist > artists[0].name > owner
func displayOwner(obj map[string]any) string {
	if artist := firstString(obj, "artist"); artist != "" {
		return artist
	}
	if list, ok := obj["artists"].([]any); ok && len(list) > 0 {
		switch first := list[0].(type) {
		case string:
			if first != "" {
				return first
			}
		case map[string]any:
			if name := firstString(first, "name"); name != "" {
				return name
			}
		}
	}
	return firstString(obj, "owner")
}

// progressValue 依次读取 status_info.progress、progress、percentage
func progressValue(info, raw map[string]any) (float64, bool) {
	if v, ok := number(info["progress"]); ok {
		return v, true
	}
	for _, key := range []string{"progress", "percentage"} {
		if v, ok := number(raw[key]); ok {
			return v, true
		}
	}
	return 0, false
}

// retryDescriptor 从原始请求数据重建启动描述
func retryDescriptor(req map[string]any, fallback model.TaskKind) *model.Descriptor {
	if req == nil {
		return nil
	}
	desc := &model.Descriptor{
		Kind:     ParseKind(firstString(req, "kind", "type")),
		SourceID: firstString(req, "source_id", "id"),
		URL:      firstString(req, "url"),
		Title:    displayName(req),
		Artist:   displayOwner(req),
		Quality:  firstString(req, "quality"),
	}
	if desc.Kind == "" {
		desc.Kind = fallback
	}
	if desc.Kind == "" {
		desc.Kind = model.KindSingle
	}
	if desc.SourceID == "" && desc.URL == "" {
		return nil
	}
	return desc
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func firstNumber(def float64, obj map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := number(obj[key]); ok {
			return v
		}
	}
	return def
}

func nestedNumber(info, raw map[string]any, keys ...string) float64 {
	if v := firstNumber(0, info, keys...); v != 0 {
		return v
	}
	return firstNumber(0, raw, keys...)
}

func firstBool(obj map[string]any, key string) (bool, bool) {
	switch v := obj[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	return false, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		return f, err == nil
	}
	return 0, false
}
