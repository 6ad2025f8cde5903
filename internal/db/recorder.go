package db

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ah-its-andy/mediaconv/internal/events"
)

// Recorder persists runs and per-item outcomes from the event stream.
// Database failures are logged and never affect the run.
type Recorder struct {
	conn *gorm.DB
	log  zerolog.Logger
}

func NewRecorder(conn *gorm.DB, log zerolog.Logger) *Recorder {
	return &Recorder{conn: conn, log: log}
}

func (r *Recorder) Notify(e events.Event) {
	var err error
	switch e.Kind {
	case events.KindRunStarted:
		err = InsertRun(r.conn, &Run{
			ID:        e.RunID,
			Root:      e.Path,
			Format:    e.Target,
			Status:    StatusRunning,
			StartedAt: stamp(e.Time),
		})
	case events.KindItemDone:
		err = InsertTaskHistory(r.conn, &TaskHistory{
			RunID:          e.RunID,
			FilePath:       e.Path,
			OutputPath:     e.Target,
			Status:         StatusSuccess,
			BytesReclaimed: e.Bytes,
			DurationMs:     e.Duration.Milliseconds(),
		})
	case events.KindItemFailed:
		msg := e.Message
		if e.Err != nil {
			msg = e.Err.Error()
		}
		err = InsertTaskHistory(r.conn, &TaskHistory{
			RunID:        e.RunID,
			FilePath:     e.Path,
			Status:       StatusFailed,
			ErrorMessage: msg,
			DurationMs:   e.Duration.Milliseconds(),
		})
	case events.KindSummary:
		if e.Totals == nil {
			return
		}
		finished := stamp(e.Time)
		run := &Run{
			ID:             e.RunID,
			Status:         StatusCompleted,
			Processed:      e.Totals.Processed,
			Errors:         e.Totals.Errors,
			Skipped:        e.Totals.Skipped,
			BytesReclaimed: e.Totals.BytesReclaimed,
			ElapsedMs:      e.Totals.Elapsed.Milliseconds(),
			FinishedAt:     &finished,
		}
		if e.Totals.Canceled {
			run.Status = StatusCanceled
		}
		err = FinishRun(r.conn, run)
	default:
		return
	}
	if err != nil {
		r.log.Error().Err(err).Str("kind", string(e.Kind)).Str("run", e.RunID).Msg("history write failed")
	}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
