package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ah-its-andy/mediaconv/internal/events"
)

// New returns a timestamped logger writing to w (stderr when nil). format is
// "json" for machine output, anything else gets the console writer.
func New(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if !strings.EqualFold(format, "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Observer writes core events to a zerolog logger. Progress ticks go to
// debug so the console stays readable at info.
type Observer struct {
	log zerolog.Logger
}

func NewObserver(log zerolog.Logger) *Observer {
	return &Observer{log: log}
}

func (o *Observer) Notify(e events.Event) {
	var ev *zerolog.Event
	switch {
	case e.Level == events.LevelError:
		ev = o.log.Error().Err(e.Err)
	case e.Kind == events.KindProgress || e.Kind == events.KindSkipped:
		ev = o.log.Debug()
	default:
		ev = o.log.Info()
	}

	ev = ev.Str("kind", string(e.Kind))
	if e.RunID != "" {
		ev = ev.Str("run", e.RunID)
	}
	if e.Path != "" {
		ev = ev.Str("path", e.Path)
	}
	switch e.Kind {
	case events.KindProgress:
		ev = ev.Int("percent", e.Percent)
	case events.KindItemDone:
		ev = ev.Int64("bytes", e.Bytes).Dur("took", e.Duration)
	case events.KindSummary:
		ev = ev.Int("processed", e.Count).Int64("bytes", e.Bytes).Dur("elapsed", e.Duration)
	case events.KindSkipProgress, events.KindDiscoveryDone:
		ev = ev.Int("count", e.Count)
	}
	ev.Msg(e.Message)
}
