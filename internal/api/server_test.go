package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ah-its-andy/mediaconv/internal/db"
	"github.com/ah-its-andy/mediaconv/internal/events"
	"github.com/ah-its-andy/mediaconv/internal/fingerprint"
	"github.com/ah-its-andy/mediaconv/internal/livelog"
	"github.com/ah-its-andy/mediaconv/internal/media"
	"github.com/ah-its-andy/mediaconv/internal/metrics"
	"github.com/ah-its-andy/mediaconv/internal/worker"
)

type fixture struct {
	srv   *Server
	deps  Deps
	cache *fingerprint.Cache
}

func newFixture(t *testing.T, withQueue bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })

	root := t.TempDir()
	src := filepath.Join(root, "a.mp4")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))
	f, err := media.Stat(src)
	require.NoError(t, err)
	cache := fingerprint.NewCache(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, cache.Record(f))

	d := Deps{
		DB:        conn,
		Cache:     cache,
		Live:      livelog.NewManager(10),
		Metrics:   metrics.New(),
		Root:      root,
		ExportDir: t.TempDir(),
		Log:       zerolog.Nop(),
	}
	if withQueue {
		d.Queue = worker.NewQueue(1)
	}

	rec := db.NewRecorder(conn, zerolog.Nop())
	obs := events.Multi{rec, d.Live, d.Metrics}
	obs.Notify(events.Event{Kind: events.KindRunStarted, RunID: "run-1", Path: root, Target: "mp4", Time: time.Now()})
	obs.Notify(events.Event{Kind: events.KindItemDone, RunID: "run-1", Path: filepath.Join(root, "a.avi"), Target: src, Bytes: 10, Duration: time.Second})
	obs.Notify(events.Event{Kind: events.KindSummary, RunID: "run-1", Time: time.Now(), Totals: &events.Totals{Processed: 1, BytesReclaimed: 10}})

	return &fixture{srv: NewServer(d), deps: d, cache: cache}
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	f.srv.Router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func TestRunsEndpoints(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Data  []db.Run `json:"data"`
		Total int64    `json:"total"`
	}
	decode(t, rr, &list)
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Data, 1)
	assert.Equal(t, db.StatusCompleted, list.Data[0].Status)

	rr = f.do(t, http.MethodGet, "/api/runs/run-1")
	require.Equal(t, http.StatusOK, rr.Code)
	var run db.Run
	decode(t, rr, &run)
	assert.Equal(t, 1, run.Processed)

	rr = f.do(t, http.MethodGet, "/api/runs/run-1/tasks")
	require.Equal(t, http.StatusOK, rr.Code)
	var tasks []db.TaskHistory
	decode(t, rr, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, db.StatusSuccess, tasks[0].Status)

	rr = f.do(t, http.MethodGet, "/api/runs/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t, false)
	rr := f.do(t, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rr.Code)

	var out map[string]any
	decode(t, rr, &out)
	assert.EqualValues(t, 1, out["runs"])
	assert.EqualValues(t, 1, out["converted"])
	assert.EqualValues(t, 10, out["bytes_reclaimed"])
	assert.EqualValues(t, 2, out["fingerprints"])
	assert.NotContains(t, out, "queue_len")
}

func TestStatsLoadsCacheOnFirstRequest(t *testing.T) {
	f := newFixture(t, false)
	f.deps.Cache = fingerprint.NewCache(f.cache.Dir())
	srv := NewServer(f.deps)

	rr := httptest.NewRecorder()
	srv.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var out map[string]any
	decode(t, rr, &out)
	assert.EqualValues(t, 2, out["fingerprints"])
}

func TestFreshCacheSeesOtherWriters(t *testing.T) {
	f := newFixture(t, false)
	f.deps.FreshCache = true
	srv := NewServer(f.deps)
	get := func(path string) map[string]any {
		rr := httptest.NewRecorder()
		srv.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code)
		var out map[string]any
		decode(t, rr, &out)
		return out
	}
	assert.EqualValues(t, 2, get("/api/stats")["fingerprints"])

	// a run in another process appends to the same log
	src := filepath.Join(f.deps.Root, "b.mp4")
	require.NoError(t, os.WriteFile(src, []byte("other"), 0o644))
	file, err := media.Stat(src)
	require.NoError(t, err)
	require.NoError(t, fingerprint.NewCache(f.cache.Dir()).Record(file))

	assert.EqualValues(t, 4, get("/api/stats")["fingerprints"])
	assert.EqualValues(t, 4, get("/api/fingerprints")["total"])
}

func TestFingerprintsAndExport(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, http.MethodGet, "/api/fingerprints")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Data  []string `json:"data"`
		Total int      `json:"total"`
	}
	decode(t, rr, &list)
	assert.Equal(t, 2, list.Total)

	rr = f.do(t, http.MethodPost, "/api/export")
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Path string `json:"path"`
	}
	decode(t, rr, &out)
	assert.Equal(t, f.deps.ExportDir, filepath.Dir(out.Path))
	body, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(list.Data, "\n")+"\n", string(body))
}

func TestLiveSnapshot(t *testing.T) {
	f := newFixture(t, false)
	f.deps.Live.Notify(events.Event{Kind: events.KindProgress, Path: "/media/b.avi", Percent: 42})

	rr := f.do(t, http.MethodGet, "/api/live")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap livelog.Snapshot
	decode(t, rr, &snap)
	assert.Equal(t, "run-1", snap.RunID)
	require.NotNil(t, snap.Current)
	assert.Equal(t, 42, snap.Current.Percent)
	assert.NotEmpty(t, snap.Recent)
}

func TestLiveDropsStaleItem(t *testing.T) {
	f := newFixture(t, false)
	f.deps.Live.Notify(events.Event{Kind: events.KindProgress, Path: "/media/b.avi", Percent: 42, Time: time.Now().Add(-time.Hour)})

	rr := f.do(t, http.MethodGet, "/api/live")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap livelog.Snapshot
	decode(t, rr, &snap)
	assert.Nil(t, snap.Current)
}

func TestScanNowOnlyInWatchMode(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/scan-now").Code)

	f = newFixture(t, true)
	rr := f.do(t, http.MethodPost, "/api/scan-now")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"queued":true}`, rr.Body.String())
	assert.Equal(t, 1, f.deps.Queue.Len())

	rr = f.do(t, http.MethodPost, "/api/scan-now")
	assert.JSONEq(t, `{"queued":false}`, rr.Body.String(), "pending trigger is not duplicated")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	rr := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "mediaconv_items_processed_total 1")
	assert.Contains(t, rr.Body.String(), "mediaconv_runs_total 1")
}
