// Package collector is the consumption side of a capture session: it ingests
// the ordered wire stream into the event log and answers read-API queries
// over the reconstructed state.
package collector

import (
	"sync"

	"go.uber.org/zap"

	"github.com/aniasusual/blind/internal/cursor"
	"github.com/aniasusual/blind/internal/domain"
	"github.com/aniasusual/blind/internal/eventlog"
	"github.com/aniasusual/blind/internal/export"
	"github.com/aniasusual/blind/internal/query"
	"github.com/aniasusual/blind/internal/reconstruct"
)

// Session joins the log, the reconstruction engine and the timeline cursor
// for one capture session. Log appends and cursor-driven reads serialize on
// one mutex, so a derived view never observes a half-applied mutation.
type Session struct {
	mu     sync.Mutex
	id     string
	logger *zap.Logger
	log    *eventlog.Log
	engine *reconstruct.Engine
	cur    *cursor.Cursor

	// rebuilt tracks how many front evictions the engine has absorbed;
	// positions shift when the log drops its head, forcing a full rebuild.
	rebuilt int
}

// NewSession creates a session over an empty log.
func NewSession(id string, logger *zap.Logger, logOpts ...eventlog.Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := eventlog.New(logger, logOpts...)
	s := &Session{
		id:     id,
		logger: logger,
		log:    log,
		engine: reconstruct.New(log, logger),
	}
	s.cur = cursor.New(log.Len)
	return s
}

// NewSessionFromSnapshot rebuilds a session from an exported snapshot so a
// captured run can be explored offline.
func NewSessionFromSnapshot(snap *export.Snapshot, logger *zap.Logger) (*Session, error) {
	s := NewSession(snap.SessionID, logger)
	for i := range snap.Files {
		s.log.AddFile(&snap.Files[i])
	}
	for _, ev := range snap.Events {
		if err := s.log.AppendEvent(ev); err != nil {
			return nil, err
		}
	}
	for _, tr := range snap.Transitions {
		s.log.AddTransition(tr)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Log exposes the session's event log.
func (s *Session) Log() *eventlog.Log { return s.log }

// Cursor exposes the session's timeline cursor.
func (s *Session) Cursor() *cursor.Cursor { return s.cur }

// GetStateAt derives the full state snapshot at index under the given filter
// set. It also moves the session cursor there: the cursor is the single
// source of truth for "now".
func (s *Session) GetStateAt(index int, filters *query.FilterSet) *domain.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	index = s.cur.Seek(index)
	s.seekEngine(index)

	tree := s.engine.Tree()
	visible := query.VisibleTree(tree, filters, s.lookupEvent, s.log, s.engine)

	return &domain.StateSnapshot{
		Cursor:   index,
		Stack:    s.engine.Stack(),
		Tree:     visible,
		Heatmap:  s.engine.Heatmap(),
		Coverage: s.engine.Coverage(),
	}
}

// VisibleEvents returns the events at positions <= index that pass the
// filter set, with reconstruction state evaluated as of index.
func (s *Session) VisibleEvents(index int, filters *query.FilterSet) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	index = s.cur.Seek(index)
	s.seekEngine(index)

	var out []domain.Event
	for i := 0; i <= index; i++ {
		ev, ok := s.log.At(i)
		if !ok {
			break
		}
		if filters.Visible(&ev, s.log, s.engine) {
			out = append(out, ev)
		}
	}
	return out
}

// ExportLog snapshots the entire session.
func (s *Session) ExportLog() *export.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := export.NewSnapshot(s.id)
	snap.Events = s.log.Events()
	snap.Evicted = s.log.Evicted()
	for _, sf := range s.log.Files() {
		snap.Files = append(snap.Files, *sf)
	}
	snap.Transitions = s.log.Transitions()
	return snap
}

// ExportAt snapshots the single event at index, with its source file.
func (s *Session) ExportAt(index int) (*export.EventSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.log.At(index)
	if !ok {
		return nil, false
	}
	es := &export.EventSnapshot{
		Version: export.SchemaVersion,
		Cursor:  index,
		Event:   ev,
	}
	if sf, ok := s.log.File(ev.FileID); ok {
		cp := *sf
		es.File = &cp
	}
	return es, true
}

func (s *Session) seekEngine(index int) {
	if ev := s.log.Evicted(); ev != s.rebuilt {
		s.rebuilt = ev
		s.engine.Rebuild(index)
		return
	}
	s.engine.Seek(index)
}

func (s *Session) lookupEvent(id int64) (*domain.Event, bool) {
	ev, ok := s.log.ByID(id)
	if !ok {
		return nil, false
	}
	return &ev, true
}
