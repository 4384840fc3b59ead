package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"download-tracker/app/logger"
	"download-tracker/app/model"
	"download-tracker/app/tracker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine 记录调用并返回预设结果
type stubEngine struct {
	views     map[string]model.TaskView
	startErr  error
	cancelErr error
	retryErr  error
	started   []model.Descriptor
	window    int
	events    chan tracker.Event
}

func newStubEngine() *stubEngine {
	return &stubEngine{
		views:  map[string]model.TaskView{"t-1": {ID: "t-1", Status: model.StatusDownloading, Progress: 40}},
		window: 10,
		events: make(chan tracker.Event, 4),
	}
}

func (s *stubEngine) Start(_ context.Context, desc model.Descriptor) (string, error) {
	if s.startErr != nil {
		return "", s.startErr
	}
	s.started = append(s.started, desc)
	s.views["t-new"] = model.TaskView{ID: "t-new", Status: model.StatusQueued}
	return "t-new", nil
}

func (s *stubEngine) Cancel(context.Context, string) error { return s.cancelErr }
func (s *stubEngine) Retry(context.Context, string) error  { return s.retryErr }

func (s *stubEngine) Remove(_ context.Context, id string) error {
	if _, ok := s.views[id]; !ok {
		return tracker.ErrTaskNotFound
	}
	delete(s.views, id)
	return nil
}

func (s *stubEngine) CancelAll(context.Context) int      { return 2 }
func (s *stubEngine) ClearCompleted(context.Context) int { return 3 }

func (s *stubEngine) Views() []model.TaskView {
	out := make([]model.TaskView, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, v)
	}
	return out
}

func (s *stubEngine) VisibleViews() []model.TaskView { return s.Views() }

func (s *stubEngine) View(id string) (model.TaskView, bool) {
	v, ok := s.views[id]
	return v, ok
}

func (s *stubEngine) Summary() tracker.Summary {
	return tracker.Summary{Total: len(s.views), WindowSize: s.window}
}

func (s *stubEngine) WindowSize() int { return s.window }

func (s *stubEngine) SetWindowSize(n int) int {
	if n <= 0 {
		n = 10
	}
	s.window = n
	return n
}

func (s *stubEngine) GrowWindow() int { return s.SetWindowSize(s.window + 10) }

func (s *stubEngine) Subscribe(int) (<-chan tracker.Event, func()) {
	return s.events, func() {}
}

func newTestRouter(engine TaskEngine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewTaskHandler(engine, logger.NewNop())
	api := r.Group("/api")
	api.GET("/tasks", h.GetTasks)
	api.POST("/tasks", h.CreateTask)
	api.GET("/tasks/events", h.Events)
	api.GET("/tasks/:id", h.GetTask)
	api.POST("/tasks/:id/cancel", h.CancelTask)
	api.POST("/tasks/:id/retry", h.RetryTask)
	api.DELETE("/tasks/:id", h.DeleteTask)
	api.POST("/tasks/cancel-all", h.CancelAll)
	api.PUT("/window", h.SetWindow)
	api.POST("/window/grow", h.GrowWindow)
	return r
}

func doRequest(r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, ApiResponse) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp ApiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestCreateTask(t *testing.T) {
	engine := newStubEngine()
	r := newTestRouter(engine)

	w, resp := doRequest(r, http.MethodPost, "/api/tasks", model.Descriptor{Kind: model.KindSingle, SourceID: "trk-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
	require.Len(t, engine.started, 1)
	assert.Equal(t, "trk-1", engine.started[0].SourceID)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "t-new", data["id"])
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*stubEngine)
		method string
		path   string
		body   any
		status int
	}{
		{
			name:   "invalid descriptor",
			setup:  func(s *stubEngine) { s.startErr = tracker.ErrInvalidDescriptor },
			method: http.MethodPost, path: "/api/tasks", body: model.Descriptor{},
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed body",
			setup:  func(*stubEngine) {},
			method: http.MethodPost, path: "/api/tasks", body: "not an object",
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown task",
			setup:  func(*stubEngine) {},
			method: http.MethodGet, path: "/api/tasks/missing",
			status: http.StatusNotFound,
		},
		{
			name:   "cancel ended",
			setup:  func(s *stubEngine) { s.cancelErr = tracker.ErrTaskEnded },
			method: http.MethodPost, path: "/api/tasks/t-1/cancel",
			status: http.StatusConflict,
		},
		{
			name:   "retry not allowed",
			setup:  func(s *stubEngine) { s.retryErr = tracker.ErrNotRetryable },
			method: http.MethodPost, path: "/api/tasks/t-1/retry",
			status: http.StatusConflict,
		},
		{
			name:   "remove unknown",
			setup:  func(*stubEngine) {},
			method: http.MethodDelete, path: "/api/tasks/missing",
			status: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newStubEngine()
			tt.setup(engine)
			w, resp := doRequest(newTestRouter(engine), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.status, resp.Code)
		})
	}
}

func TestWindowEndpoints(t *testing.T) {
	engine := newStubEngine()
	r := newTestRouter(engine)

	_, resp := doRequest(r, http.MethodPut, "/api/window", WindowRequest{Size: 25})
	assert.Equal(t, map[string]any{"size": 25.0}, resp.Data)

	_, resp = doRequest(r, http.MethodPost, "/api/window/grow", nil)
	assert.Equal(t, map[string]any{"size": 35.0}, resp.Data)

	_, resp = doRequest(r, http.MethodPost, "/api/tasks/cancel-all", nil)
	assert.Equal(t, map[string]any{"count": 2.0}, resp.Data)
}

func TestEventsStream(t *testing.T) {
	engine := newStubEngine()
	r := newTestRouter(engine)

	view := engine.views["t-1"]
	engine.events <- tracker.Event{Type: tracker.EventUpdated, TaskID: "t-1", Task: &view, At: time.Now()}
	close(engine.events)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/events", nil))

	body := w.Body.String()
	assert.True(t, strings.Contains(body, "event:snapshot"))
	assert.True(t, strings.Contains(body, "event:task.updated"))
	assert.True(t, strings.Contains(body, `"task_id":"t-1"`))
}
