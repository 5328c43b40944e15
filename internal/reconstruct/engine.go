// Package reconstruct derives call stack, call tree, line heatmap and
// coverage from the event log at an arbitrary cursor position. Single +1/−1
// cursor moves are O(1) via an undo journal; arbitrary seeks replay
// incrementally from the nearer end or rebuild from scratch.
package reconstruct

import (
	"sort"

	"go.uber.org/zap"

	"github.com/aniasusual/blind/internal/domain"
	"github.com/aniasusual/blind/internal/eventlog"
)

type heatKey struct {
	fileID int
	line   int
}

// undo records what one Advance did to the mutable state so Retreat can
// reverse it exactly.
type undo struct {
	key     heatKey
	newLine bool                // line first became covered at this step
	pushed  bool                // a frame was pushed
	popped  []domain.StackEntry // frames removed, bottom-most first
	forced  bool                // the step counted a forced close
}

// Engine is the incremental reconstruction state machine. All mutation goes
// through Advance/Retreat/Seek; reads snapshot-copy so callers never alias
// internal state.
type Engine struct {
	log    *eventlog.Log
	logger *zap.Logger

	pos      int // -1 = before first event
	stack    []domain.StackEntry
	heat     map[heatKey]int
	executed map[int]map[int]struct{}
	journal  []undo

	forcedCloses int
}

// New creates an engine positioned before the first event.
func New(log *eventlog.Log, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		log:      log,
		logger:   logger,
		pos:      -1,
		heat:     make(map[heatKey]int),
		executed: make(map[int]map[int]struct{}),
	}
}

// Pos returns the current cursor position.
func (e *Engine) Pos() int { return e.pos }

// ForcedCloses reports how many unmatched returns were force-closed. These
// are approximations from dropped or abnormal logs, never errors.
func (e *Engine) ForcedCloses() int { return e.forcedCloses }

// Advance applies the next event. It is a no-op at the end of the log.
func (e *Engine) Advance() bool {
	ev, ok := e.log.At(e.pos + 1)
	if !ok {
		return false
	}
	e.apply(ev)
	e.pos++
	return true
}

// Retreat undoes the event at the current position. No-op before the first.
func (e *Engine) Retreat() bool {
	if e.pos < 0 {
		return false
	}
	u := e.journal[len(e.journal)-1]
	e.journal = e.journal[:len(e.journal)-1]

	e.heat[u.key]--
	if e.heat[u.key] <= 0 {
		delete(e.heat, u.key)
	}
	if u.newLine {
		delete(e.executed[u.key.fileID], u.key.line)
		if len(e.executed[u.key.fileID]) == 0 {
			// No phantom zero-coverage entry; apply recreates the map.
			delete(e.executed, u.key.fileID)
		}
	}
	if u.pushed {
		e.stack = e.stack[:len(e.stack)-1]
	}
	if len(u.popped) > 0 {
		e.stack = append(e.stack, u.popped...)
	}
	if u.forced {
		e.forcedCloses--
	}
	e.pos--
	return true
}

// Seek moves the cursor to i, clamped to [-1, len-1], replaying from the
// current position. Repeated seeks to the same position with no intervening
// log growth yield identical derived views.
func (e *Engine) Seek(i int) {
	n := e.log.Len()
	if i < -1 {
		i = -1
	}
	if i > n-1 {
		i = n - 1
	}
	for e.pos < i {
		if !e.Advance() {
			break
		}
	}
	for e.pos > i {
		e.Retreat()
	}
}

// Rebuild discards all derived state and replays from the start up to i.
// Needed after front-eviction shifts positions; otherwise Seek is cheaper.
func (e *Engine) Rebuild(i int) {
	e.pos = -1
	e.stack = e.stack[:0]
	e.heat = make(map[heatKey]int)
	e.executed = make(map[int]map[int]struct{})
	e.journal = e.journal[:0]
	e.forcedCloses = 0
	e.Seek(i)
}

func (e *Engine) apply(ev domain.Event) {
	key := heatKey{ev.FileID, ev.Line}
	u := undo{key: key}

	e.heat[key]++
	lines, ok := e.executed[ev.FileID]
	if !ok {
		lines = make(map[int]struct{})
		e.executed[ev.FileID] = lines
	}
	if _, seen := lines[ev.Line]; !seen {
		lines[ev.Line] = struct{}{}
		u.newLine = true
	}

	switch {
	case ev.Category.IsCall():
		e.stack = append(e.stack, domain.StackEntry{
			EventID:  ev.EventID,
			Function: ev.Function,
			Class:    ev.Class,
			FileID:   ev.FileID,
			Line:     ev.Line,
			Depth:    ev.Depth,
			ScopeID:  ev.ScopeID,
		})
		u.pushed = true

	case ev.Category.IsReturn():
		before := e.forcedCloses
		u.popped = e.popFor(ev)
		u.forced = e.forcedCloses > before
	}

	e.journal = append(e.journal, u)
}

// popFor closes the frame matching a return event. The matching frame is the
// nearest open frame at the return's depth, preferring an exact scope match;
// any frames stacked above it are force-closed with it. A return with no
// candidate frame at all is ignored.
func (e *Engine) popFor(ev domain.Event) []domain.StackEntry {
	idx := -1
	for j := len(e.stack) - 1; j >= 0; j-- {
		if e.stack[j].Depth == ev.Depth {
			idx = j
			if e.stack[j].ScopeID == ev.ScopeID {
				break
			}
		}
	}
	if idx == -1 {
		e.forcedCloses++
		e.logger.Debug("return without open frame",
			zap.Int64("event_id", ev.EventID),
			zap.Int("depth", ev.Depth),
			zap.String("fault", string(domain.ReconstructionInconsistency)))
		return nil
	}
	if idx != len(e.stack)-1 || e.stack[idx].ScopeID != ev.ScopeID {
		e.forcedCloses++
		e.logger.Debug("force-closing frames for unmatched return",
			zap.Int64("event_id", ev.EventID),
			zap.Int("closed", len(e.stack)-idx),
			zap.String("fault", string(domain.ReconstructionInconsistency)))
	}
	popped := make([]domain.StackEntry, len(e.stack)-idx)
	copy(popped, e.stack[idx:])
	e.stack = e.stack[:idx]
	return popped
}

// Stack returns a snapshot of the open frames, outermost first.
func (e *Engine) Stack() []domain.StackEntry {
	out := make([]domain.StackEntry, len(e.stack))
	copy(out, e.stack)
	return out
}

// HeatCount returns the heatmap count for one (file, line) cell at the
// current cursor.
func (e *Engine) HeatCount(fileID, line int) int {
	return e.heat[heatKey{fileID, line}]
}

// Heatmap returns all non-zero heatmap cells, ordered by file then line.
func (e *Engine) Heatmap() []domain.LineCount {
	out := make([]domain.LineCount, 0, len(e.heat))
	for k, c := range e.heat {
		out = append(out, domain.LineCount{FileID: k.fileID, Line: k.line, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FileID != out[j].FileID {
			return out[i].FileID < out[j].FileID
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// Coverage returns per-file coverage at the current cursor. Files with no
// recorded line count (unavailable content) report a zero ratio.
func (e *Engine) Coverage() map[int]domain.Coverage {
	out := make(map[int]domain.Coverage, len(e.executed))
	for fileID, lines := range e.executed {
		cov := domain.Coverage{FileID: fileID, ExecutedLines: len(lines)}
		if sf, ok := e.log.File(fileID); ok && sf.LineCount > 0 {
			cov.TotalLines = sf.LineCount
			cov.Ratio = float64(cov.ExecutedLines) / float64(cov.TotalLines)
		}
		out[fileID] = cov
	}
	return out
}
