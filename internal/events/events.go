package events

import (
	"sync"
	"time"
)

// Level is the severity of an event.
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "info"
}

// Kind identifies what happened.
type Kind string

const (
	KindRunStarted    Kind = "run_started"
	KindState         Kind = "state"
	KindDirectory     Kind = "directory"
	KindProgress      Kind = "progress"
	KindSkipProgress  Kind = "skip_progress"
	KindSkipped       Kind = "skipped"
	KindProbeFailed   Kind = "probe_failed"
	KindDiscoveryDone Kind = "discovery_done"
	KindItemDone      Kind = "item_done"
	KindItemFailed    Kind = "item_failed"
	KindCanceled      Kind = "canceled"
	KindSummary       Kind = "summary"
	KindInfo          Kind = "info"
)

// Event is a single entry of the append-only event stream. Message is the
// human-readable rendering; the other fields carry the same data structured.
type Event struct {
	Time    time.Time
	Level   Level
	Kind    Kind
	RunID   string
	Message string

	Path     string // source file, directory or run root
	Target   string // output path, or the output format for run_started
	Percent  int
	Count    int
	Bytes    int64
	Duration time.Duration
	Err      error
	Totals   *Totals // set on summary events
}

// Totals are the run metrics. BytesReclaimed goes negative when outputs are
// larger than their sources.
type Totals struct {
	Processed      int
	Errors         int
	Skipped        int
	BytesReclaimed int64
	Elapsed        time.Duration
	Canceled       bool
}

// Observer receives events. Implementations must be safe for concurrent use.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// Multi fans events out to several observers in order.
type Multi []Observer

func (m Multi) Notify(e Event) {
	for _, o := range m {
		if o != nil {
			o.Notify(e)
		}
	}
}

// Discard drops every event.
var Discard Observer = ObserverFunc(func(Event) {})

// Recorder keeps every event it sees, mostly for tests and short-lived runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
