// Package probe is the in-process instrumentation SDK. The observed program
// (or a runtime adapter on its behalf) calls the On* hooks at call, line,
// return and exception points; the probe turns each firing into exactly one
// structured event and ships it to the collector without ever blocking the
// observed execution path.
//
// All capture state lives on the Probe instance — one session object,
// constructed and torn down per run, never a process-wide singleton.
package probe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aniasusual/blind/internal/domain"
	"github.com/aniasusual/blind/internal/registry"
	"github.com/aniasusual/blind/internal/wire"
)

const defaultQueueSize = 8192

// queue occupancy beyond which payload capture is shed to protect the target.
const shedWatermarkNum, shedWatermarkDen = 3, 4

// Probe captures execution events for one session.
type Probe struct {
	endpoint string
	root     string
	logger   *zap.Logger
	clk      clock.Clock

	sessionID string
	registry  *registry.Registry
	snapshots SnapshotProvider
	exclude   []string

	sink     Sink
	queue    chan []byte
	overflow [][]byte // holds frames when queue is full; drained in order
	ovMu     sync.Mutex
	done     chan struct{}
	wg       sync.WaitGroup

	started  bool
	degraded atomic.Bool

	// capture bookkeeping; the probe runs interleaved with the target's
	// single logical thread, the mutex only guards against Stop racing a hook.
	mu           sync.Mutex
	eventCounter int64
	callStack    []callRecord
	loopStack    []loopRecord
	currentFile  int // file id of the previously emitted event, 0 = none
	fileLines    map[int][]string
	timings      map[string][]time.Duration

	shedPayloads  atomic.Int64
	droppedFrames atomic.Int64
}

type callRecord struct {
	eventID  int64
	function string
	scopeID  string
	start    time.Time
}

type loopRecord struct {
	fileID    int
	line      int
	iteration int
}

// Option configures a Probe.
type Option func(*Probe)

// WithLogger sets the probe's own diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Probe) { p.logger = l }
}

// WithClock substitutes the wall clock for tests.
func WithClock(c clock.Clock) Option {
	return func(p *Probe) { p.clk = c }
}

// WithSink substitutes the transport, bypassing the TCP dial in Start.
func WithSink(s Sink) Option {
	return func(p *Probe) { p.sink = s }
}

// WithSnapshotProvider substitutes the argument/local capture mechanism.
func WithSnapshotProvider(sp SnapshotProvider) Option {
	return func(p *Probe) { p.snapshots = sp }
}

// WithExcludePrefixes skips frames whose file path starts with any prefix.
func WithExcludePrefixes(prefixes []string) Option {
	return func(p *Probe) { p.exclude = prefixes }
}

// New creates a probe for one capture session. endpoint is the collector
// address, root the project root used for relative paths.
func New(endpoint, root string, opts ...Option) *Probe {
	p := &Probe{
		endpoint:  endpoint,
		root:      root,
		logger:    zap.NewNop(),
		clk:       clock.New(),
		sessionID: uuid.NewString(),
		queue:     make(chan []byte, defaultQueueSize),
		done:      make(chan struct{}),
		fileLines: make(map[int][]string),
		timings:   make(map[string][]time.Duration),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.registry = registry.New(root, p.logger)
	if p.snapshots == nil {
		p.snapshots = NewReflectProvider()
	}
	return p
}

// SessionID returns the unique id of this capture session.
func (p *Probe) SessionID() string { return p.sessionID }

// Degraded reports whether the probe has shed payload capture after a
// transport failure.
func (p *Probe) Degraded() bool { return p.degraded.Load() }

// Start attaches the probe: it connects to the collector and begins shipping
// events. An unreachable collector is a fatal capture fault, reported once;
// the caller should let the target run unobserved.
func (p *Probe) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	if p.sink == nil {
		sink, err := DialTCP(p.endpoint)
		if err != nil {
			fault := domain.NewFault(domain.CaptureFault,
				fmt.Errorf("collector unreachable at %s: %w", p.endpoint, err))
			p.logger.Error("capture disabled", zap.Error(fault))
			return fault
		}
		p.sink = sink
	}

	p.started = true
	p.wg.Add(1)
	go p.runLoop()
	p.logger.Info("tracing started",
		zap.String("session_id", p.sessionID),
		zap.String("endpoint", p.endpoint),
		zap.String("root", p.root))
	return nil
}

// Stop detaches the probe and flushes buffered frames best-effort. Safe to
// call on any exit path, including mid-exception, and more than once.
func (p *Probe) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	if p.sink != nil {
		p.sink.Close()
	}
	p.logger.Info("tracing stopped",
		zap.String("session_id", p.sessionID),
		zap.Int64("events", atomic.LoadInt64(&p.eventCounter)),
		zap.Int64("shed_payloads", p.shedPayloads.Load()),
		zap.Int64("dropped_frames", p.droppedFrames.Load()))
}

// runLoop drains the queue onto the sink. A write failure flips the probe
// into degraded mode; structural capture keeps going and frames keep being
// attempted, they just stop carrying payload detail.
func (p *Probe) runLoop() {
	defer p.wg.Done()
	for {
		select {
		case frame := <-p.queue:
			p.write(frame)
		case <-p.done:
			p.flush()
			return
		default:
			if batch := p.takeOverflow(); batch != nil {
				for _, frame := range batch {
					p.write(frame)
				}
				continue
			}
			select {
			case frame := <-p.queue:
				p.write(frame)
			case <-p.done:
				p.flush()
				return
			}
		}
	}
}

func (p *Probe) flush() {
	for {
		select {
		case frame := <-p.queue:
			p.write(frame)
		default:
			batch := p.takeOverflow()
			if batch == nil {
				return
			}
			for _, frame := range batch {
				p.write(frame)
			}
		}
	}
}

func (p *Probe) write(frame []byte) {
	if err := p.sink.Send(frame); err != nil {
		if !p.degraded.Swap(true) {
			fault := domain.NewFault(domain.TransportFault, err)
			p.logger.Warn("transport failed, capture degraded", zap.Error(fault))
		}
		p.droppedFrames.Add(1)
	}
}

func (p *Probe) takeOverflow() [][]byte {
	p.ovMu.Lock()
	defer p.ovMu.Unlock()
	if len(p.overflow) == 0 {
		return nil
	}
	batch := p.overflow
	p.overflow = nil
	return batch
}

// enqueue ships a wire frame without ever blocking the caller. A full queue
// spills into the overflow buffer; ordering is preserved because once the
// overflow is non-empty every new frame joins it until the loop drains it.
func (p *Probe) enqueue(frame []byte) {
	p.ovMu.Lock()
	if len(p.overflow) > 0 {
		p.overflow = append(p.overflow, frame)
		p.ovMu.Unlock()
		return
	}
	p.ovMu.Unlock()

	select {
	case p.queue <- frame:
	default:
		p.ovMu.Lock()
		p.overflow = append(p.overflow, frame)
		p.ovMu.Unlock()
	}
}

// shedding reports whether payload capture should be skipped right now,
// either because transport is saturated or because it already failed.
func (p *Probe) shedding() bool {
	if p.degraded.Load() {
		return true
	}
	return len(p.queue) >= cap(p.queue)*shedWatermarkNum/shedWatermarkDen
}

// Stats summarizes the session: total events and per-function call timings.
type Stats struct {
	TotalEvents    int64
	TotalFunctions int
	Functions      map[string]FunctionStats
}

// FunctionStats aggregates the return-event timings of one function.
type FunctionStats struct {
	Calls int
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Stats returns execution statistics gathered so far.
func (p *Probe) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		TotalEvents:    p.eventCounter,
		TotalFunctions: len(p.timings),
		Functions:      make(map[string]FunctionStats, len(p.timings)),
	}
	for fn, durs := range p.timings {
		fs := FunctionStats{Calls: len(durs)}
		for i, d := range durs {
			fs.Total += d
			if i == 0 || d < fs.Min {
				fs.Min = d
			}
			if d > fs.Max {
				fs.Max = d
			}
		}
		st.Functions[fn] = fs
	}
	return st
}

// emitFileIfNew registers the frame's file and ships its metadata once.
func (p *Probe) emitFileIfNew(path string, eventID int64) *domain.SourceFile {
	before := p.registry.Len()
	sf := p.registry.RegisterIfAbsent(path, eventID)
	if p.registry.Len() > before {
		if frame, err := wire.EncodeFile(sf); err == nil {
			p.enqueue(frame)
		}
	}
	return sf
}

// lineText returns the text of one line from the captured file snapshot.
func (p *Probe) lineText(sf *domain.SourceFile, line int) string {
	lines, ok := p.fileLines[sf.FileID]
	if !ok {
		lines = splitLines(sf.Text)
		p.fileLines[sf.FileID] = lines
	}
	if line < 1 || line > len(lines) {
		return ""
	}
	return lines[line-1]
}
