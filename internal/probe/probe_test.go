package probe

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aniasusual/blind/internal/domain"
	"github.com/aniasusual/blind/internal/wire"
)

// memSink collects frames in memory.
type memSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (m *memSink) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.frames = append(m.frames, cp)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memSink) messages(t *testing.T) []*wire.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	d := wire.NewDecoder()
	out := make([]*wire.Message, 0, len(m.frames))
	for _, frame := range m.frames {
		msg, err := d.Decode(frame)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

// failSink rejects everything.
type failSink struct{}

func (failSink) Send([]byte) error { return errors.New("connection reset") }
func (failSink) Close() error      { return nil }

func writeSource(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func events(msgs []*wire.Message) []*domain.Event {
	var out []*domain.Event
	for _, m := range msgs {
		if m.Kind == wire.TypeEvent {
			out = append(out, m.Event)
		}
	}
	return out
}

func transitions(msgs []*wire.Message) []*domain.Transition {
	var out []*domain.Transition
	for _, m := range msgs {
		if m.Kind == wire.TypeTransition {
			out = append(out, m.Transition)
		}
	}
	return out
}

func fileRegistrations(msgs []*wire.Message) []*domain.SourceFile {
	var out []*domain.SourceFile
	for _, m := range msgs {
		if m.Kind == wire.TypeFile {
			out = append(out, m.File)
		}
	}
	return out
}

func TestCallReturnDepthAndParents(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "app.go",
		"func outer() {",
		"\tinner()",
		"}",
		"func inner() {}",
	)

	sink := &memSink{}
	mock := clock.NewMock()
	p := New("ignored", dir, WithSink(sink), WithClock(mock))
	require.NoError(t, p.Start())

	outer := Frame{File: src, Line: 1, Function: "outer", Module: "app"}
	inner := Frame{File: src, Line: 4, Function: "inner", Module: "app"}

	p.OnCall(outer, map[string]interface{}{"n": 1})
	p.OnCall(inner, nil)
	mock.Add(3 * time.Millisecond)
	p.OnReturn(inner, "done")
	p.OnReturn(outer, nil)
	p.Stop()

	msgs := sink.messages(t)
	evs := events(msgs)
	require.Len(t, evs, 4)

	assert.Equal(t, domain.CategoryCall, evs[0].Category)
	assert.Equal(t, 0, evs[0].Depth)
	assert.Zero(t, evs[0].ParentEventID)
	assert.Equal(t, "app::outer::0", evs[0].ScopeID)
	require.NotNil(t, evs[0].Payload)
	assert.Contains(t, evs[0].Payload.Arguments, "n")

	assert.Equal(t, 1, evs[1].Depth)
	assert.Equal(t, evs[0].EventID, evs[1].ParentEventID)
	assert.Equal(t, "app::inner::1", evs[1].ScopeID)

	// Returns carry the depth of the call they close.
	assert.Equal(t, domain.CategoryReturn, evs[2].Category)
	assert.Equal(t, 1, evs[2].Depth)
	assert.Equal(t, "app::inner::1", evs[2].ScopeID)
	require.NotNil(t, evs[2].Payload)
	assert.Equal(t, "done", evs[2].Payload.ReturnValue)
	assert.Equal(t, int64(3000), evs[2].Payload.ElapsedMicros)

	assert.Equal(t, 0, evs[3].Depth)

	// Event ids are strictly increasing.
	for i := 1; i < len(evs); i++ {
		assert.Greater(t, evs[i].EventID, evs[i-1].EventID)
	}
	assert.True(t, sink.closed)
}

func TestMethodCallCategory(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "svc.go", "func (s *Service) Run() {}")

	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink))
	require.NoError(t, p.Start())

	f := Frame{File: src, Line: 1, Function: "Run", Class: "Service", Module: "svc"}
	p.OnCall(f, nil)
	p.OnReturn(f, nil)
	p.Stop()

	evs := events(sink.messages(t))
	require.Len(t, evs, 2)
	assert.Equal(t, domain.CategoryMethodCall, evs[0].Category)
	assert.Equal(t, domain.CategoryMethodReturn, evs[1].Category)
	assert.Equal(t, "Service", evs[0].Class)
}

func TestFileMetadataEmittedOnce(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "one.go", "x := 1", "y := 2")

	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink))
	require.NoError(t, p.Start())

	f := Frame{File: src, Line: 1, Function: "main", Module: "one"}
	for i := 0; i < 5; i++ {
		p.OnLine(f, nil)
	}
	p.Stop()

	msgs := sink.messages(t)
	regs := fileRegistrations(msgs)
	require.Len(t, regs, 1)
	assert.Equal(t, "one.go", regs[0].RelativePath)
	assert.Equal(t, 2, regs[0].LineCount)

	// Registration precedes the first event that references the file.
	assert.Equal(t, wire.TypeFile, msgs[0].Kind)
	for _, ev := range events(msgs) {
		assert.Equal(t, regs[0].FileID, ev.FileID)
	}
}

func TestLineClassificationAndText(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "calc.go",
		"total := 0",
		"if total > limit {",
	)

	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink))
	require.NoError(t, p.Start())

	p.OnLine(Frame{File: src, Line: 1, Function: "calc", Module: "calc"}, map[string]interface{}{"total": 0})
	p.OnLine(Frame{File: src, Line: 2, Function: "calc", Module: "calc"}, nil)
	p.Stop()

	evs := events(sink.messages(t))
	require.Len(t, evs, 2)
	assert.Equal(t, domain.CategoryAssignment, evs[0].Category)
	assert.Equal(t, "total := 0", evs[0].LineText)
	require.NotNil(t, evs[0].Payload)
	assert.Equal(t, map[string]string{"total": "0"}, evs[0].Payload.Locals)
	assert.Equal(t, domain.CategoryConditional, evs[1].Category)
}

func TestLoopStartThenIterations(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "loop.go",
		"for i := 0; i < 3; i++ {",
		"\twork(i)",
		"}",
	)

	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink))
	require.NoError(t, p.Start())

	loopLine := Frame{File: src, Line: 1, Function: "main", Module: "loop"}
	body := Frame{File: src, Line: 2, Function: "main", Module: "loop"}
	for i := 0; i < 3; i++ {
		p.OnLine(loopLine, nil)
		p.OnLine(body, nil)
	}
	p.Stop()

	evs := events(sink.messages(t))
	require.Len(t, evs, 6)
	assert.Equal(t, domain.CategoryLoopStart, evs[0].Category)

	assert.Equal(t, domain.CategoryLoopIteration, evs[2].Category)
	require.NotNil(t, evs[2].Payload)
	assert.Equal(t, 1, evs[2].Payload.Iteration)

	assert.Equal(t, domain.CategoryLoopIteration, evs[4].Category)
	assert.Equal(t, 2, evs[4].Payload.Iteration)
}

func TestTransitionsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	srcA := writeSource(t, dir, "a.go", "callB()")
	srcB := writeSource(t, dir, "b.go", "return")

	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink))
	require.NoError(t, p.Start())

	a := Frame{File: srcA, Line: 1, Function: "fromA", Module: "a"}
	b := Frame{File: srcB, Line: 1, Function: "fromB", Module: "b"}

	// A, A, B, A: exactly two crossings.
	p.OnLine(a, nil)
	p.OnLine(a, nil)
	p.OnLine(b, nil)
	p.OnLine(a, nil)
	p.Stop()

	msgs := sink.messages(t)
	trs := transitions(msgs)
	require.Len(t, trs, 2)

	regs := fileRegistrations(msgs)
	require.Len(t, regs, 2)
	idA, idB := regs[0].FileID, regs[1].FileID

	assert.Equal(t, idA, trs[0].FromFileID)
	assert.Equal(t, idB, trs[0].ToFileID)
	assert.Equal(t, trs[0].BeforeEventID+1, trs[0].AfterEventID)

	assert.Equal(t, idB, trs[1].FromFileID)
	assert.Equal(t, idA, trs[1].ToFileID)
}

func TestExcludePrefixes(t *testing.T) {
	dir := t.TempDir()
	libDir := filepath.Join(dir, "vendor")
	require.NoError(t, os.Mkdir(libDir, 0o755))
	app := writeSource(t, dir, "app.go", "run()")
	lib := writeSource(t, libDir, "lib.go", "helper()")

	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink), WithExcludePrefixes([]string{libDir}))
	require.NoError(t, p.Start())

	p.OnLine(Frame{File: app, Line: 1, Function: "run", Module: "app"}, nil)
	p.OnLine(Frame{File: lib, Line: 1, Function: "helper", Module: "lib"}, nil)
	p.OnCall(Frame{File: lib, Line: 1, Function: "helper", Module: "lib"}, nil)
	p.Stop()

	evs := events(sink.messages(t))
	require.Len(t, evs, 1)
	assert.Equal(t, "run", evs[0].Function)
}

func TestDegradedOnTransportFailure(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "x.go", "work()")

	p := New("ignored", dir, WithSink(failSink{}))
	require.NoError(t, p.Start())
	assert.False(t, p.Degraded())

	p.OnLine(Frame{File: src, Line: 1, Function: "f", Module: "x"}, nil)
	p.Stop()

	// After Stop the run loop has drained and attempted the write.
	assert.True(t, p.Degraded())
}

func TestHooksBeforeStartAreIgnored(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "x.go", "work()")

	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink))

	p.OnLine(Frame{File: src, Line: 1, Function: "f", Module: "x"}, nil)
	p.OnCall(Frame{File: src, Line: 1, Function: "f", Module: "x"}, nil)

	require.NoError(t, p.Start())
	p.Stop()
	assert.Empty(t, sink.frames)
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink))
	require.NoError(t, p.Start())
	p.Stop()
	p.Stop() // second call must not panic or block
}

func TestReturnWithoutCallIsIgnored(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "x.go", "return")

	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink))
	require.NoError(t, p.Start())

	p.OnReturn(Frame{File: src, Line: 1, Function: "f", Module: "x"}, nil)
	p.Stop()
	assert.Empty(t, events(sink.messages(t)))
}

func TestExceptionEvent(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "x.go", "panic(err)")

	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink))
	require.NoError(t, p.Start())

	p.OnException(Frame{File: src, Line: 1, Function: "f", Module: "x"}, "ValueError", "bad input")
	p.Stop()

	evs := events(sink.messages(t))
	require.Len(t, evs, 1)
	assert.Equal(t, domain.CategoryException, evs[0].Category)
	require.NotNil(t, evs[0].Payload)
	assert.Equal(t, "ValueError", evs[0].Payload.ExceptionKind)
	assert.Equal(t, "bad input", evs[0].Payload.ExceptionMsg)
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "x.go", "func f() {}")

	sink := &memSink{}
	mock := clock.NewMock()
	p := New("ignored", dir, WithSink(sink), WithClock(mock))
	require.NoError(t, p.Start())

	f := Frame{File: src, Line: 1, Function: "f", Module: "x"}
	for i := 0; i < 3; i++ {
		p.OnCall(f, nil)
		mock.Add(2 * time.Millisecond)
		p.OnReturn(f, nil)
	}
	p.Stop()

	st := p.Stats()
	assert.Equal(t, int64(6), st.TotalEvents)
	assert.Equal(t, 1, st.TotalFunctions)
	fs := st.Functions[src+"::f"]
	assert.Equal(t, 3, fs.Calls)
	assert.Equal(t, 2*time.Millisecond, fs.Min)
	assert.Equal(t, 2*time.Millisecond, fs.Max)
	assert.Equal(t, 6*time.Millisecond, fs.Total)
}

func TestUnreadableSourceStillCaptures(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "generated.go")

	sink := &memSink{}
	p := New("ignored", dir, WithSink(sink))
	require.NoError(t, p.Start())

	p.OnLine(Frame{File: missing, Line: 3, Function: "g", Module: "gen"}, nil)
	p.Stop()

	msgs := sink.messages(t)
	regs := fileRegistrations(msgs)
	require.Len(t, regs, 1)
	assert.True(t, regs[0].Unavailable)

	evs := events(msgs)
	require.Len(t, evs, 1)
	assert.Empty(t, evs[0].LineText)
	assert.Equal(t, domain.CategoryLine, evs[0].Category)
}
