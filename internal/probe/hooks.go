package probe

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aniasusual/blind/internal/classify"
	"github.com/aniasusual/blind/internal/domain"
	"github.com/aniasusual/blind/internal/wire"
)

// Frame identifies the execution point a hook fired at. The runtime adapter
// fills it from whatever frame introspection its runtime offers.
type Frame struct {
	File     string
	Line     int
	Function string
	Class    string // empty for free functions
	Module   string
}

// OnCall records entry into a function or method. args are the call
// arguments, rendered through the snapshot provider unless payload capture
// is currently shed.
func (p *Probe) OnCall(f Frame, args map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.excluded(f.File) {
		return
	}

	category := domain.CategoryCall
	if f.Class != "" {
		category = domain.CategoryMethodCall
	}

	var payload *domain.Payload
	if len(args) > 0 && !p.shedding() {
		payload = &domain.Payload{Arguments: p.snapshots.Snapshot(args)}
	} else if len(args) > 0 {
		p.shedPayloads.Add(1)
	}

	ev := p.buildEvent(category, f, payload)

	p.callStack = append(p.callStack, callRecord{
		eventID:  ev.EventID,
		function: f.Function,
		scopeID:  ev.ScopeID,
		start:    p.clk.Now(),
	})
	p.send(ev)
}

// OnLine records execution of one source line. The statement category comes
// from syntactic classification of the captured line text; loop lines are
// split into loop_start on first hit and loop_iteration on re-entry, the
// same way the loop stack tracked them in the original tracer.
func (p *Probe) OnLine(f Frame, locals map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.excluded(f.File) {
		return
	}

	sf := p.emitFileIfNew(f.File, p.eventCounter+1)
	text := p.lineText(sf, f.Line)
	category := classify.Line(text)

	var iteration int
	if category == domain.CategoryLoopStart {
		if top := p.loopTop(); top != nil && top.fileID == sf.FileID && top.line == f.Line {
			top.iteration++
			iteration = top.iteration
			category = domain.CategoryLoopIteration
		} else {
			p.loopStack = append(p.loopStack, loopRecord{fileID: sf.FileID, line: f.Line})
		}
	}

	var payload *domain.Payload
	if !p.shedding() {
		payload = &domain.Payload{Iteration: iteration}
		if len(locals) > 0 {
			payload.Locals = p.snapshots.Snapshot(locals)
		}
	} else if len(locals) > 0 {
		p.shedPayloads.Add(1)
	}

	ev := p.buildEvent(category, f, payload)
	p.send(ev)
}

// OnReturn records exit from the innermost open call. ret is the return
// value, rendered through the snapshot provider.
func (p *Probe) OnReturn(f Frame, ret interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.excluded(f.File) {
		return
	}
	if len(p.callStack) == 0 {
		return
	}

	call := p.callStack[len(p.callStack)-1]
	p.callStack = p.callStack[:len(p.callStack)-1]
	elapsed := p.clk.Now().Sub(call.start)

	category := domain.CategoryReturn
	if f.Class != "" {
		category = domain.CategoryMethodReturn
	}

	var payload *domain.Payload
	if !p.shedding() {
		payload = &domain.Payload{ElapsedMicros: elapsed.Microseconds()}
		if ret != nil {
			payload.ReturnValue = p.snapshots.Render(ret)
		}
	}

	ev := p.buildEvent(category, f, payload)
	p.send(ev)

	key := f.File + "::" + f.Function
	p.timings[key] = append(p.timings[key], elapsed)
}

// OnException records an exception raised in the observed program. The
// engine models it as a first-class event category; it never crosses the
// capture boundary as a Go error.
func (p *Probe) OnException(f Frame, kind, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.excluded(f.File) {
		return
	}

	payload := &domain.Payload{ExceptionKind: kind, ExceptionMsg: message}
	ev := p.buildEvent(domain.CategoryException, f, payload)
	p.send(ev)
}

// buildEvent assembles one event: id, file registration, transition
// detection and stack linkage all happen here, in emission order.
func (p *Probe) buildEvent(category domain.Category, f Frame, payload *domain.Payload) *domain.Event {
	p.eventCounter++
	id := p.eventCounter

	sf := p.emitFileIfNew(f.File, id)

	// Transition detector: a window of two over emitted events.
	if p.currentFile != 0 && p.currentFile != sf.FileID {
		tr := &domain.Transition{
			FromFileID:    p.currentFile,
			ToFileID:      sf.FileID,
			BeforeEventID: id - 1,
			AfterEventID:  id,
		}
		if frame, err := wire.EncodeTransition(tr); err == nil {
			p.enqueue(frame)
		}
	}
	p.currentFile = sf.FileID

	depth := len(p.callStack)
	var parentID int64
	if depth > 0 {
		parentID = p.callStack[depth-1].eventID
	}

	return &domain.Event{
		EventID:       id,
		Timestamp:     p.clk.Now().UnixNano(),
		Category:      category,
		FileID:        sf.FileID,
		Line:          f.Line,
		Function:      f.Function,
		Class:         f.Class,
		Module:        f.Module,
		LineText:      strings.TrimSpace(p.lineText(sf, f.Line)),
		Depth:         depth,
		ParentEventID: parentID,
		ScopeID:       fmt.Sprintf("%s::%s::%d", f.Module, f.Function, depth),
		Payload:       payload,
	}
}

func (p *Probe) send(ev *domain.Event) {
	frame, err := wire.EncodeEvent(ev)
	if err != nil {
		p.logger.Warn("event encode failed", zap.Error(err))
		return
	}
	p.enqueue(frame)
}

func (p *Probe) excluded(path string) bool {
	for _, prefix := range p.exclude {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (p *Probe) loopTop() *loopRecord {
	if len(p.loopStack) == 0 {
		return nil
	}
	return &p.loopStack[len(p.loopStack)-1]
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}
