package tracker

import (
	"math"
	"testing"

	"download-tracker/app/model"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestCollectionProgress(t *testing.T) {
	tests := []struct {
		name           string
		current, total int
		item           *float64
		want           float64
	}{
		{name: "third of ten at half", current: 3, total: 10, item: ptr(50), want: 25},
		{name: "second of five at sixty", current: 2, total: 5, item: ptr(60), want: 32},
		{name: "position only", current: 3, total: 4, want: 75},
		{name: "no total", current: 3, total: 0, item: ptr(50), want: 0},
		{name: "not started", current: 0, total: 5, want: 0},
		{name: "current beyond total", current: 7, total: 5, item: ptr(100), want: 100},
		{name: "item progress clamped", current: 1, total: 2, item: ptr(250), want: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CollectionProgress(tt.current, tt.total, tt.item), 1e-9)
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-1))
	assert.Equal(t, 0.0, Clamp(math.NaN()))
	assert.Equal(t, 100.0, Clamp(101))
	assert.Equal(t, 42.5, Clamp(42.5))
}

func TestAggregate(t *testing.T) {
	single := &model.Task{Kind: model.KindSingle, Progress: 30}
	assert.Equal(t, 30.0, aggregate(single, model.StatusDownloading, nil, nil))
	assert.Equal(t, 45.0, aggregate(single, model.StatusDownloading, ptr(45), nil))
	assert.Equal(t, 30.0, aggregate(single, model.StatusDownloading, ptr(10), nil))
	assert.Equal(t, 100.0, aggregate(single, model.StatusDone, ptr(99.6), nil))

	collection := &model.Task{Kind: model.KindCollection, Progress: 12, CurrentItem: 2, TotalItems: 5}
	assert.InDelta(t, 32, aggregate(collection, model.StatusRealTime, nil, ptr(60)), 1e-9)
	assert.InDelta(t, 40, aggregate(collection, model.StatusDownloading, nil, nil), 1e-9)

	unknown := &model.Task{Kind: model.KindCollection, Progress: 12}
	assert.Equal(t, 12.0, aggregate(unknown, model.StatusDownloading, nil, ptr(80)))
}
