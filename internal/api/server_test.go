package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/motionguard/internal/api"
	"github.com/roach88/motionguard/internal/capture"
	"github.com/roach88/motionguard/internal/store"
	"github.com/roach88/motionguard/internal/task"
	"github.com/roach88/motionguard/internal/testutil"
)

type fixture struct {
	dir      string
	tasks    *task.Registry
	journal  *store.Journal
	captures *capture.ArtifactStore
	release  chan struct{}
	runErr   error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:      dir,
		tasks:    task.NewRegistry(task.WithIDGenerator(testutil.NewSequentialIDs(""))),
		journal:  store.NewJournal(filepath.Join(dir, "logs", "detections.log")),
		captures: capture.NewArtifactStore(filepath.Join(dir, "captured")),
		release:  make(chan struct{}),
	}
	t.Cleanup(f.tasks.Close)
	return f
}

func (f *fixture) run(ctx context.Context, logf task.LogFunc) (string, error) {
	logf("motion detected")
	select {
	case <-f.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if f.runErr != nil {
		return "", f.runErr
	}
	logf("authorized person detected")
	return "authorized", nil
}

func (f *fixture) handler(mirror store.Mirror) http.Handler {
	return api.NewServer(f.tasks, f.run, f.journal, mirror, f.captures).Handler()
}

func (f *fixture) finish(t *testing.T, id string) {
	t.Helper()
	close(f.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.tasks.Wait(ctx, id)
	require.NoError(t, err)
}

func reqJSON(t *testing.T, h http.Handler, method, path string, reqBody any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func mustReqJSON(t *testing.T, h http.Handler, method, path string, wantStatus int, respBody any) {
	t.Helper()
	rr := reqJSON(t, h, method, path, nil)
	if rr.Code != wantStatus {
		t.Fatalf("%s %s: status = %d, want %d: %s", method, path, rr.Code, wantStatus, rr.Body.String())
	}
	if respBody != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), respBody); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func startTask(t *testing.T, h http.Handler) string {
	t.Helper()
	var resp api.StartResponse
	mustReqJSON(t, h, http.MethodPost, "/start-detection", http.StatusAccepted, &resp)
	return resp.TaskID
}

func TestStartDetection_Accepted(t *testing.T) {
	f := newFixture(t)
	h := f.handler(nil)

	var resp api.StartResponse
	mustReqJSON(t, h, http.MethodPost, "/start-detection", http.StatusAccepted, &resp)
	assert.Equal(t, "task-1", resp.TaskID)
	assert.Equal(t, "Task started.", resp.Status)

	var status api.StatusResponse
	mustReqJSON(t, h, http.MethodGet, "/task-status/task-1", http.StatusOK, &status)
	assert.Equal(t, task.StatusRunning, status.Status)
	assert.Equal(t, "Task started.", status.Message)
	close(f.release)
}

func TestStartDetection_WrongMethod(t *testing.T) {
	f := newFixture(t)
	rr := reqJSON(t, f.handler(nil), http.MethodGet, "/start-detection", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestTaskEndpoints_UnknownIDIs404(t *testing.T) {
	f := newFixture(t)
	h := f.handler(nil)

	for _, path := range []string{"/task-status/nope", "/task-results/nope", "/task-logs/nope"} {
		var resp map[string]string
		mustReqJSON(t, h, http.MethodGet, path, http.StatusNotFound, &resp)
		assert.Equal(t, "Task not found", resp["error"], path)
	}
}

func TestTaskResults_RunningIs409(t *testing.T) {
	f := newFixture(t)
	h := f.handler(nil)
	id := startTask(t, h)

	var resp map[string]string
	mustReqJSON(t, h, http.MethodGet, "/task-results/"+id, http.StatusConflict, &resp)
	assert.Equal(t, "Task not completed yet.", resp["error"])
	close(f.release)
}

func TestTaskResults_Completed(t *testing.T) {
	f := newFixture(t)
	h := f.handler(nil)
	id := startTask(t, h)
	f.finish(t, id)

	var resp api.ResultResponse
	mustReqJSON(t, h, http.MethodGet, "/task-results/"+id, http.StatusOK, &resp)
	assert.Equal(t, task.StatusCompleted, resp.Status)
	assert.Equal(t, "Task completed successfully", resp.Message)
	assert.Equal(t, "authorized", resp.DetectionResult)
}

func TestTaskResults_ErrorIs500(t *testing.T) {
	f := newFixture(t)
	f.runErr = errors.New("camera unavailable")
	h := f.handler(nil)
	id := startTask(t, h)
	f.finish(t, id)

	var resp map[string]string
	mustReqJSON(t, h, http.MethodGet, "/task-results/"+id, http.StatusInternalServerError, &resp)
	assert.Equal(t, "camera unavailable", resp["error"])

	var status api.StatusResponse
	mustReqJSON(t, h, http.MethodGet, "/task-status/"+id, http.StatusOK, &status)
	assert.Equal(t, task.StatusError, status.Status)
}

func TestTaskLogs_InOrder(t *testing.T) {
	f := newFixture(t)
	h := f.handler(nil)
	id := startTask(t, h)
	f.finish(t, id)

	var resp api.LogsResponse
	mustReqJSON(t, h, http.MethodGet, "/task-logs/"+id, http.StatusOK, &resp)
	require.Len(t, resp.Logs, 2)
	assert.Contains(t, resp.Logs[0], "| motion detected")
	assert.Contains(t, resp.Logs[1], "| authorized person detected")
}

func TestTasks_List(t *testing.T) {
	f := newFixture(t)
	h := f.handler(nil)
	startTask(t, h)

	var resp api.TasksResponse
	mustReqJSON(t, h, http.MethodGet, "/tasks", http.StatusOK, &resp)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "task-1", resp.Tasks[0].ID)
	close(f.release)
}

func TestLatestAlert(t *testing.T) {
	f := newFixture(t)
	h := f.handler(nil)

	rr := reqJSON(t, h, http.MethodGet, "/detections/latest-alert", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	ts := testutil.Epoch
	require.NoError(t, f.journal.Append(store.NewRecord(ts, store.StatusAlert, "captured/a.jpg")))
	require.NoError(t, f.journal.Append(store.NewRecord(ts.Add(time.Minute), store.StatusAuthorized, "captured/b.jpg")))

	var d api.Detection
	mustReqJSON(t, h, http.MethodGet, "/detections/latest-alert", http.StatusOK, &d)
	assert.Equal(t, api.Detection{
		Timestamp: "2025-06-01 22:15:00",
		Status:    "ALERT",
		ImagePath: "captured/a.jpg",
	}, d)
}

func TestLatestCapture(t *testing.T) {
	f := newFixture(t)
	h := f.handler(nil)

	rr := reqJSON(t, h, http.MethodGet, "/detections/latest-capture", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	path, err := f.captures.Save([]byte{0xFF, 0xD8, 0xFF})
	require.NoError(t, err)

	var resp api.CaptureResponse
	mustReqJSON(t, h, http.MethodGet, "/detections/latest-capture", http.StatusOK, &resp)
	assert.Equal(t, path, resp.ImagePath)
	assert.Equal(t, int64(3), resp.Size)
}

type stubMirror struct {
	records []store.Record
	err     error
}

func (m *stubMirror) Name() string { return "stub" }

func (m *stubMirror) Insert(context.Context, store.Record) error { return nil }

func (m *stubMirror) Close() error { return nil }

func (m *stubMirror) Recent(_ context.Context, limit int) ([]store.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.records[:min(limit, len(m.records))], nil
}

func TestDetections_FromJournalNewestFirst(t *testing.T) {
	f := newFixture(t)
	h := f.handler(nil)
	for i, path := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		require.NoError(t, f.journal.Append(store.NewRecord(testutil.Epoch.Add(time.Duration(i)*time.Second), store.StatusAlert, path)))
	}

	var resp api.DetectionsResponse
	mustReqJSON(t, h, http.MethodGet, "/detections?limit=2", http.StatusOK, &resp)
	assert.Equal(t, "journal", resp.Source)
	require.Len(t, resp.Detections, 2)
	assert.Equal(t, "c.jpg", resp.Detections[0].ImagePath)
	assert.Equal(t, "b.jpg", resp.Detections[1].ImagePath)
}

func TestDetections_FromMirror(t *testing.T) {
	f := newFixture(t)
	m := &stubMirror{records: []store.Record{
		store.NewRecord(testutil.Epoch, store.StatusAuthorized, "m.jpg"),
	}}

	var resp api.DetectionsResponse
	mustReqJSON(t, f.handler(m), http.MethodGet, "/detections", http.StatusOK, &resp)
	assert.Equal(t, "stub", resp.Source)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "AUTHORIZED", resp.Detections[0].Status)
}

func TestDetections_MirrorFailureFallsBackToJournal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.journal.Append(store.NewRecord(testutil.Epoch, store.StatusAlert, "j.jpg")))
	m := &stubMirror{err: errors.New("connection refused")}

	var resp api.DetectionsResponse
	mustReqJSON(t, f.handler(m), http.MethodGet, "/detections", http.StatusOK, &resp)
	assert.Equal(t, "journal", resp.Source)
	require.Len(t, resp.Detections, 1)
}

func TestDetections_BadLimit(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"0", "-1", "ten"} {
		rr := reqJSON(t, f.handler(nil), http.MethodGet, "/detections?limit="+q, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestIndexAndHealth(t *testing.T) {
	f := newFixture(t)
	h := f.handler(nil)

	rr := reqJSON(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Intruder Detection API is running.", rr.Body.String())

	var health map[string]string
	mustReqJSON(t, h, http.MethodGet, "/healthz", http.StatusOK, &health)
	assert.Equal(t, "ok", health["status"])

	rr = reqJSON(t, h, http.MethodGet, "/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDetections_EmptyJournal(t *testing.T) {
	f := newFixture(t)
	_, err := os.Stat(f.journal.Path())
	require.True(t, os.IsNotExist(err))

	var resp api.DetectionsResponse
	mustReqJSON(t, f.handler(nil), http.MethodGet, "/detections", http.StatusOK, &resp)
	assert.Empty(t, resp.Detections)
	assert.NotNil(t, resp.Detections)
}
