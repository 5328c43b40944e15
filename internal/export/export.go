// Package export writes and reads versioned snapshots of a capture session:
// the full event/file/transition set, serializable as plain JSON, a
// zstd-compressed stream, or a SQLite database.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"

	"github.com/aniasusual/blind/internal/domain"
)

// SchemaVersion is bumped on any incompatible snapshot layout change.
const SchemaVersion = 1

// Snapshot is a self-contained export of one session's log.
type Snapshot struct {
	Version     int                 `json:"version"`
	SnapshotID  string              `json:"snapshot_id"`
	SessionID   string              `json:"session_id,omitempty"`
	CreatedAt   string              `json:"created_at"`
	Evicted     int                 `json:"evicted_events,omitempty"`
	Events      []domain.Event      `json:"events"`
	Files       []domain.SourceFile `json:"files"`
	Transitions []domain.Transition `json:"transitions"`
}

// EventSnapshot is a single-event export, produced by exportAt.
type EventSnapshot struct {
	Version int                `json:"version"`
	Cursor  int                `json:"cursor"`
	Event   domain.Event       `json:"event"`
	File    *domain.SourceFile `json:"file,omitempty"`
}

// NewSnapshot stamps a snapshot with its id and creation time.
func NewSnapshot(sessionID string) *Snapshot {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Snapshot{
		Version:    SchemaVersion,
		SnapshotID: ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String(),
		SessionID:  sessionID,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

// WriteJSON writes the snapshot to w, zstd-compressed when compress is set.
func WriteJSON(w io.Writer, snap *Snapshot, compress bool) error {
	if compress {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		if err := json.NewEncoder(zw).Encode(snap); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// ReadJSON reads a snapshot written by WriteJSON, sniffing zstd framing.
func ReadJSON(r io.Reader) (*Snapshot, error) {
	br := newPeekReader(r)
	magic, err := br.peek(4)
	if err != nil {
		return nil, err
	}
	var dec *json.Decoder
	if isZstdMagic(magic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		dec = json.NewDecoder(zr)
	} else {
		dec = json.NewDecoder(br)
	}

	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

func isZstdMagic(b []byte) bool {
	return len(b) >= 4 && b[0] == 0x28 && b[1] == 0xb5 && b[2] == 0x2f && b[3] == 0xfd
}

// peekReader lets ReadJSON sniff the first bytes without a full bufio dep on
// the decode path.
type peekReader struct {
	r   io.Reader
	buf []byte
}

func newPeekReader(r io.Reader) *peekReader { return &peekReader{r: r} }

func (p *peekReader) peek(n int) ([]byte, error) {
	for len(p.buf) < n {
		tmp := make([]byte, n-len(p.buf))
		m, err := p.r.Read(tmp)
		p.buf = append(p.buf, tmp[:m]...)
		if err != nil {
			if err == io.EOF && len(p.buf) > 0 {
				break
			}
			return nil, err
		}
	}
	return p.buf, nil
}

func (p *peekReader) Read(b []byte) (int, error) {
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	return p.r.Read(b)
}

// Summary renders a one-line description for logs and CLI output.
func (s *Snapshot) Summary() string {
	parts := []string{
		fmt.Sprintf("snapshot %s", s.SnapshotID),
		fmt.Sprintf("%d events", len(s.Events)),
		fmt.Sprintf("%d files", len(s.Files)),
		fmt.Sprintf("%d transitions", len(s.Transitions)),
	}
	if s.Evicted > 0 {
		parts = append(parts, fmt.Sprintf("%d evicted", s.Evicted))
	}
	return strings.Join(parts, ", ")
}
