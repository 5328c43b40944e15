package probe

import (
	"bufio"
	"net"
	"sync"
	"time"
)

const dialTimeout = 3 * time.Second

// Sink is the one-directional transport from the probe to the collector.
// Message order on the sink is authoritative; the collector never reorders.
type Sink interface {
	// Send ships one framed message.
	Send(frame []byte) error
	Close() error
}

// tcpSink frames messages line-by-line over a TCP connection, matching the
// collector's newline-delimited ingest loop.
type tcpSink struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

// DialTCP connects to the collector endpoint.
func DialTCP(endpoint string) (Sink, error) {
	conn, err := net.DialTimeout("tcp", endpoint, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &tcpSink{conn: conn, w: bufio.NewWriterSize(conn, 64*1024)}, nil
}

func (s *tcpSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	// Flush per message: the collector renders live, latency beats throughput.
	return s.w.Flush()
}

func (s *tcpSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.conn.Close()
}
