package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ah-its-andy/mediaconv/internal/events"
)

func TestCollectorCountsEvents(t *testing.T) {
	c := New()
	c.Notify(events.Event{Kind: events.KindRunStarted})
	c.Notify(events.Event{Kind: events.KindProgress, Percent: 42})
	assert.Equal(t, 42.0, testutil.ToFloat64(c.CurrentProgress))

	c.Notify(events.Event{Kind: events.KindItemDone, Bytes: 1000, Duration: 2 * time.Second})
	c.Notify(events.Event{Kind: events.KindItemDone, Bytes: -300, Duration: time.Second})
	c.Notify(events.Event{Kind: events.KindItemFailed})
	c.Notify(events.Event{Kind: events.KindSkipped})
	c.Notify(events.Event{Kind: events.KindProbeFailed})
	c.Notify(events.Event{Kind: events.KindSummary, Time: time.Unix(1700000000, 0), Duration: 3 * time.Second, Totals: &events.Totals{Canceled: true}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ItemsProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ItemsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ItemsSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ProbeFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsCanceled))
	assert.Equal(t, 700.0, testutil.ToFloat64(c.BytesReclaimed))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.CurrentProgress))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(c.LastRunTimestamp))
	assert.Equal(t, 1, testutil.CollectAndCount(c.ItemDuration))
}

func TestHandlerExposesSeries(t *testing.T) {
	c := New()
	c.Notify(events.Event{Kind: events.KindRunStarted})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "mediaconv_runs_total 1"))
	assert.Contains(t, body, "go_goroutines")
}
