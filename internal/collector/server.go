package collector

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/aniasusual/blind/internal/metrics"
	"github.com/aniasusual/blind/internal/wire"
)

// Source files arrive as single JSON lines carrying their full text, so the
// scanner buffer has to hold the largest file we expect to capture.
const maxLineSize = 16 * 1024 * 1024

// Server accepts probe connections and feeds their message streams into the
// session. Message order within one connection is authoritative.
type Server struct {
	session *Session
	logger  *zap.Logger
	metrics *metrics.Set
	decoder *wire.Decoder

	mu       sync.Mutex
	listener net.Listener
}

// NewServer wires a server to its session. metrics may be nil.
func NewServer(session *Session, logger *zap.Logger, m *metrics.Set) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		session: session,
		logger:  logger,
		metrics: m,
		decoder: wire.NewDecoder(),
	}
}

// Listen binds the ingest endpoint. Addr ":0" picks a free port; the chosen
// address is available from Addr afterwards.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("collector listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listen address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until the context is cancelled or Close is
// called. Each connection is drained on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("collector: Serve before Listen")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// handleConn drains one probe connection. A message that cannot be parsed is
// skipped and counted; the stream continues. Only connection-level errors
// end the loop.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.logger.Info("probe connected", zap.String("remote", remote))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.ingest(line)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("probe stream ended with error",
			zap.String("remote", remote), zap.Error(err))
	}
	s.logger.Info("probe disconnected",
		zap.String("remote", remote),
		zap.Int("events", s.session.Log().Len()))
}

func (s *Server) ingest(line []byte) {
	msg, err := s.decoder.Decode(line)
	if err != nil {
		s.count(func(m *metrics.Set) { m.MalformedSkipped.Inc() })
		s.logger.Warn("skipping malformed message", zap.Error(err))
		return
	}

	log := s.session.Log()
	switch msg.Kind {
	case wire.TypeEvent:
		before := log.Evicted()
		if err := log.AppendEvent(*msg.Event); err != nil {
			s.count(func(m *metrics.Set) { m.EventsRejected.Inc() })
			s.logger.Warn("rejecting event", zap.Error(err))
			return
		}
		s.count(func(m *metrics.Set) { m.EventsReceived.Inc() })
		if d := log.Evicted() - before; d > 0 {
			s.count(func(m *metrics.Set) { m.EventsEvicted.Add(float64(d)) })
		}
	case wire.TypeFile:
		log.AddFile(msg.File)
		s.count(func(m *metrics.Set) { m.FilesRegistered.Inc() })
	case wire.TypeTransition:
		log.AddTransition(*msg.Transition)
		s.count(func(m *metrics.Set) { m.TransitionsRecorded.Inc() })
	}
}

func (s *Server) count(fn func(*metrics.Set)) {
	if s.metrics != nil {
		fn(s.metrics)
	}
}
