package livelog

import (
	"sync"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/events"
)

// DefaultCapacity is the number of recent entries kept.
const DefaultCapacity = 200

// Entry is one rendered event.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Kind    string    `json:"kind"`
	RunID   string    `json:"run_id,omitempty"`
	Path    string    `json:"path,omitempty"`
	Message string    `json:"message"`
}

// Item is the file currently being converted.
type Item struct {
	FilePath   string    `json:"file_path"`
	Percent    int       `json:"percent"`
	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
}

// Snapshot is a consistent copy of the manager state.
type Snapshot struct {
	RunID   string  `json:"run_id,omitempty"`
	State   string  `json:"state"`
	Current *Item   `json:"current,omitempty"`
	Recent  []Entry `json:"recent"`
}

// Manager tracks the in-flight item and a bounded ring of recent events.
// It is an events.Observer.
type Manager struct {
	mu      sync.RWMutex
	runID   string
	state   string
	current *Item
	ring    []Entry
	next    int
	full    bool
	now     func() time.Time
}

func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{ring: make([]Entry, capacity), state: "idle", now: time.Now}
}

func (m *Manager) Notify(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := e.Time
	if now.IsZero() {
		now = m.now()
	}

	switch e.Kind {
	case events.KindRunStarted:
		m.runID = e.RunID
		m.current = nil
	case events.KindState:
		m.state = e.Message
	case events.KindProgress:
		if m.current == nil || m.current.FilePath != e.Path {
			m.current = &Item{FilePath: e.Path, StartTime: now}
		}
		m.current.Percent = e.Percent
		m.current.LastUpdate = now
		// progress ticks are not kept in the ring
		return
	case events.KindItemDone, events.KindItemFailed, events.KindCanceled:
		m.current = nil
	}

	m.ring[m.next] = Entry{
		Time:    now,
		Level:   e.Level.String(),
		Kind:    string(e.Kind),
		RunID:   e.RunID,
		Path:    e.Path,
		Message: e.Message,
	}
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
}

// Current returns the in-flight item, if any.
func (m *Manager) Current() (Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Item{}, false
	}
	return *m.current, true
}

// Recent returns up to the last capacity entries, oldest first.
func (m *Manager) Recent() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recent()
}

func (m *Manager) recent() []Entry {
	if !m.full {
		out := make([]Entry, m.next)
		copy(out, m.ring[:m.next])
		return out
	}
	out := make([]Entry, 0, len(m.ring))
	out = append(out, m.ring[m.next:]...)
	return append(out, m.ring[:m.next]...)
}

// Snapshot returns everything at once.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{RunID: m.runID, State: m.state, Recent: m.recent()}
	if m.current != nil {
		c := *m.current
		s.Current = &c
	}
	return s
}

// CleanStale drops the current item when it has not progressed for maxAge,
// e.g. after the process driving it died.
func (m *Manager) CleanStale(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.now().Sub(m.current.LastUpdate) > maxAge {
		m.current = nil
	}
}
