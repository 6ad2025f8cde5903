package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ah-its-andy/mediaconv/internal/events"
)

func openTest(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(conn) })
	return conn
}

func TestRecorderStoresRunLifecycle(t *testing.T) {
	conn := openTest(t)
	rec := NewRecorder(conn, zerolog.Nop())

	start := time.Now().Add(-time.Minute)
	rec.Notify(events.Event{Kind: events.KindRunStarted, RunID: "run-1", Path: "/media", Target: "mp4", Time: start})
	rec.Notify(events.Event{Kind: events.KindItemDone, RunID: "run-1", Path: "/media/a.avi", Target: "/media/a.mp4", Bytes: 500, Duration: 2 * time.Second})
	rec.Notify(events.Event{Kind: events.KindItemFailed, RunID: "run-1", Path: "/media/b.avi", Err: errors.New("invalid data"), Duration: time.Second})
	rec.Notify(events.Event{Kind: events.KindProgress, RunID: "run-1", Percent: 50})
	rec.Notify(events.Event{Kind: events.KindSummary, RunID: "run-1", Time: time.Now(), Totals: &events.Totals{
		Processed: 1, Errors: 1, Skipped: 4, BytesReclaimed: 500, Elapsed: 3 * time.Second,
	}})

	run, err := GetRun(conn, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "/media", run.Root)
	assert.Equal(t, "mp4", run.Format)
	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 1, run.Errors)
	assert.Equal(t, 4, run.Skipped)
	assert.Equal(t, int64(3000), run.ElapsedMs)
	require.NotNil(t, run.FinishedAt)

	tasks, err := ListTasks(conn, "run-1", "", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, StatusSuccess, tasks[0].Status)
	assert.Equal(t, "/media/a.mp4", tasks[0].OutputPath)
	assert.Equal(t, "invalid data", tasks[1].ErrorMessage)

	failed, err := ListTasks(conn, "run-1", StatusFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	stats, err := GetStats(conn)
	require.NoError(t, err)
	assert.Equal(t, Stats{Runs: 1, Converted: 1, Failed: 1, BytesReclaimed: 500}, stats)
}

func TestCanceledRun(t *testing.T) {
	conn := openTest(t)
	rec := NewRecorder(conn, zerolog.Nop())
	rec.Notify(events.Event{Kind: events.KindRunStarted, RunID: "r"})
	rec.Notify(events.Event{Kind: events.KindSummary, RunID: "r", Totals: &events.Totals{Canceled: true}})

	run, err := GetRun(conn, "r")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, run.Status)
}

func TestListRunsNewestFirst(t *testing.T) {
	conn := openTest(t)
	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, InsertRun(conn, &Run{ID: id, Status: StatusCompleted, StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	rows, total, err := ListRuns(conn, 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, rows, 2)
	assert.Equal(t, "new", rows[0].ID)
	assert.Equal(t, "mid", rows[1].ID)

	_, err = GetRun(conn, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
