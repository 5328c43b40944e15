// Package wire defines the capture-to-collector message framing: one JSON
// object per line, self-tagged with a "type" field. Three message kinds
// exist — trace events, source file registrations, and cross-file
// transitions. Order on the stream is authoritative; the collector never
// re-derives it.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/aniasusual/blind/internal/domain"
)

// Message type tags.
const (
	TypeEvent      = "event"
	TypeFile       = "file_metadata"
	TypeTransition = "transition"
)

// Message is one decoded wire record. Exactly one of Event, File, Transition
// is set, according to Kind.
type Message struct {
	Kind       string
	Event      *domain.Event
	File       *domain.SourceFile
	Transition *domain.Transition
}

type envelope struct {
	Type string `json:"type"`
}

type eventFrame struct {
	envelope
	domain.Event
}

type fileFrame struct {
	envelope
	domain.SourceFile
}

type transitionFrame struct {
	envelope
	domain.Transition
}

// EncodeEvent frames a trace event as a single JSON line (no trailing newline).
func EncodeEvent(ev *domain.Event) ([]byte, error) {
	return json.Marshal(eventFrame{envelope{TypeEvent}, *ev})
}

// EncodeFile frames a source file registration.
func EncodeFile(sf *domain.SourceFile) ([]byte, error) {
	return json.Marshal(fileFrame{envelope{TypeFile}, *sf})
}

// EncodeTransition frames a cross-file transition.
func EncodeTransition(tr *domain.Transition) ([]byte, error) {
	return json.Marshal(transitionFrame{envelope{TypeTransition}, *tr})
}

// Decoder parses wire lines. It wraps a fastjson parser pool so the collector
// ingest loop allocates as little as possible per message.
type Decoder struct {
	pool fastjson.ParserPool
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses a single wire line. A line that is not valid JSON, carries an
// unknown type tag, or is missing required fields yields a MalformedMessage
// fault; the caller skips it and continues with the stream.
func (d *Decoder) Decode(line []byte) (*Message, error) {
	p := d.pool.Get()
	defer d.pool.Put(p)

	v, err := p.ParseBytes(line)
	if err != nil {
		return nil, domain.Faultf(domain.MalformedMessage, "invalid json: %v", err)
	}

	kind := string(v.GetStringBytes("type"))
	switch kind {
	case TypeEvent:
		ev, err := decodeEvent(v)
		if err != nil {
			return nil, err
		}
		return &Message{Kind: kind, Event: ev}, nil
	case TypeFile:
		sf := &domain.SourceFile{
			FileID:           v.GetInt("file_id"),
			AbsolutePath:     string(v.GetStringBytes("absolute_path")),
			RelativePath:     string(v.GetStringBytes("relative_path")),
			Text:             string(v.GetStringBytes("text")),
			LineCount:        v.GetInt("line_count"),
			FirstSeenEventID: v.GetInt64("first_seen_event_id"),
			Unavailable:      v.GetBool("unavailable"),
		}
		if sf.FileID == 0 {
			return nil, domain.Faultf(domain.MalformedMessage, "file_metadata missing file_id")
		}
		return &Message{Kind: kind, File: sf}, nil
	case TypeTransition:
		tr := &domain.Transition{
			FromFileID:    v.GetInt("from_file_id"),
			ToFileID:      v.GetInt("to_file_id"),
			BeforeEventID: v.GetInt64("before_event_id"),
			AfterEventID:  v.GetInt64("after_event_id"),
		}
		return &Message{Kind: kind, Transition: tr}, nil
	case "":
		return nil, domain.Faultf(domain.MalformedMessage, "missing type tag")
	default:
		return nil, domain.Faultf(domain.MalformedMessage, "unknown type %q", kind)
	}
}

func decodeEvent(v *fastjson.Value) (*domain.Event, error) {
	ev := &domain.Event{
		EventID:       v.GetInt64("event_id"),
		Timestamp:     v.GetInt64("timestamp"),
		Category:      domain.Category(v.GetStringBytes("category")),
		FileID:        v.GetInt("file_id"),
		Line:          v.GetInt("line_number"),
		Function:      string(v.GetStringBytes("function_name")),
		Class:         string(v.GetStringBytes("class_name")),
		Module:        string(v.GetStringBytes("module_name")),
		LineText:      string(v.GetStringBytes("line_text")),
		Depth:         v.GetInt("stack_depth"),
		ParentEventID: v.GetInt64("parent_event_id"),
		ScopeID:       string(v.GetStringBytes("scope_id")),
	}
	if ev.EventID == 0 {
		return nil, domain.Faultf(domain.MalformedMessage, "event missing event_id")
	}
	if ev.Category == "" {
		return nil, domain.Faultf(domain.MalformedMessage, "event %d missing category", ev.EventID)
	}
	if ev.Depth < 0 {
		return nil, domain.Faultf(domain.MalformedMessage, "event %d has negative depth", ev.EventID)
	}

	if pv := v.Get("payload"); pv != nil && pv.Type() == fastjson.TypeObject {
		pl := &domain.Payload{
			ReturnValue:   string(pv.GetStringBytes("return_value")),
			ExceptionKind: string(pv.GetStringBytes("exception_kind")),
			ExceptionMsg:  string(pv.GetStringBytes("exception_message")),
			ElapsedMicros: pv.GetInt64("elapsed_us"),
			Iteration:     pv.GetInt("iteration"),
		}
		pl.Arguments = decodeStringMap(pv.Get("arguments"))
		pl.Locals = decodeStringMap(pv.Get("locals"))
		ev.Payload = pl
	}
	return ev, nil
}

func decodeStringMap(v *fastjson.Value) map[string]string {
	if v == nil || v.Type() != fastjson.TypeObject {
		return nil
	}
	obj, err := v.Object()
	if err != nil {
		return nil
	}
	m := make(map[string]string, obj.Len())
	obj.Visit(func(key []byte, val *fastjson.Value) {
		m[string(key)] = string(val.GetStringBytes())
	})
	return m
}

// String implements fmt.Stringer for debug logging.
func (m *Message) String() string {
	switch m.Kind {
	case TypeEvent:
		return fmt.Sprintf("event %d %s", m.Event.EventID, m.Event.Category)
	case TypeFile:
		return fmt.Sprintf("file %d %s", m.File.FileID, m.File.RelativePath)
	case TypeTransition:
		return fmt.Sprintf("transition %d->%d", m.Transition.FromFileID, m.Transition.ToFileID)
	}
	return "unknown"
}
