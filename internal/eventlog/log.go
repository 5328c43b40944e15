// Package eventlog owns the collector-side session data: the append-only
// event log plus the source files and transitions that arrived with it.
// Events are stored in a flat slice indexed by position; parent/child links
// are event ids, never pointers, so random access is O(1) and reference
// cycles cannot form.
package eventlog

import (
	"sync"

	"go.uber.org/zap"

	"github.com/aniasusual/blind/internal/domain"
)

// Log is the single owner of all Events, SourceFiles and Transitions for a
// session. Derived views (reconstruction, filtering) only ever hold
// recomputable state keyed by cursor position.
type Log struct {
	mu          sync.RWMutex
	logger      *zap.Logger
	events      []domain.Event
	files       map[int]*domain.SourceFile
	fileOrder   []int
	transitions []domain.Transition
	lastEventID int64

	// maxEvents bounds memory; 0 means unbounded. When the bound is hit the
	// oldest events are dropped (drop-oldest policy). evicted counts how many
	// positions have been shed from the front so external indices stay stable.
	maxEvents int
	evicted   int
}

// Option configures a Log.
type Option func(*Log)

// WithMaxEvents bounds the log to n events, evicting the oldest beyond it.
func WithMaxEvents(n int) Option {
	return func(l *Log) { l.maxEvents = n }
}

// New creates an empty log.
func New(logger *zap.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		logger: logger,
		files:  make(map[int]*domain.SourceFile),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AppendEvent appends ev if its id continues the strictly increasing order.
// An out-of-order id indicates a transport bug and is rejected; the log is
// left untouched.
func (l *Log) AppendEvent(ev domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.EventID <= l.lastEventID {
		return domain.Faultf(domain.MalformedMessage,
			"out-of-order event id %d after %d", ev.EventID, l.lastEventID)
	}
	l.lastEventID = ev.EventID
	l.events = append(l.events, ev)

	if l.maxEvents > 0 && len(l.events) > l.maxEvents {
		drop := len(l.events) - l.maxEvents
		l.events = l.events[drop:]
		l.evicted += drop
		l.logger.Debug("evicted oldest events", zap.Int("dropped", drop))
	}
	return nil
}

// AddFile records a source file registration. Re-registration of a known
// file id is ignored; files are immutable once captured.
func (l *Log) AddFile(sf *domain.SourceFile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.files[sf.FileID]; ok {
		return
	}
	cp := *sf
	l.files[sf.FileID] = &cp
	l.fileOrder = append(l.fileOrder, sf.FileID)
}

// AddTransition records a cross-file transition.
func (l *Log) AddTransition(tr domain.Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, tr)
}

// Len reports the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Evicted reports how many events have been shed under the memory bound.
func (l *Log) Evicted() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}

// At returns the event at position i (0-based over retained events).
func (l *Log) At(i int) (domain.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.events) {
		return domain.Event{}, false
	}
	return l.events[i], true
}

// Events returns a copy of the retained events in order.
func (l *Log) Events() []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Event, len(l.events))
	copy(out, l.events)
	return out
}

// ByID returns the retained event with the given id. Event ids are strictly
// increasing, so the lookup is a binary search over the flat slice.
func (l *Log) ByID(id int64) (domain.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lo, hi := 0, len(l.events)
	for lo < hi {
		mid := (lo + hi) / 2
		if l.events[mid].EventID < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(l.events) && l.events[lo].EventID == id {
		return l.events[lo], true
	}
	return domain.Event{}, false
}

// File returns a registered source file by id.
func (l *Log) File(id int) (*domain.SourceFile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sf, ok := l.files[id]
	return sf, ok
}

// Files returns registered files in arrival order.
func (l *Log) Files() []*domain.SourceFile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*domain.SourceFile, 0, len(l.fileOrder))
	for _, id := range l.fileOrder {
		out = append(out, l.files[id])
	}
	return out
}

// Transitions returns a copy of all recorded transitions.
func (l *Log) Transitions() []domain.Transition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Transition, len(l.transitions))
	copy(out, l.transitions)
	return out
}
