// Package output renders machine-readable NDJSON records for downstream
// tools: one JSON object per line, self-tagged with a type field.
package output

import (
	"encoding/json"
	"io"
	"sync"
)

// SchemaVersion of the NDJSON output contract.
const SchemaVersion = 1

// NDJSONWriter emits newline-delimited JSON records.
type NDJSONWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewNDJSONWriter creates a writer targeting w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{w: w}
}

// Write emits one record with the given type tag. Extra fields merge into
// the record; a "type" key in extra is overridden.
func (n *NDJSONWriter) Write(recordType string, extra map[string]interface{}) error {
	rec := make(map[string]interface{}, len(extra)+2)
	for k, v := range extra {
		rec[k] = v
	}
	rec["type"] = recordType
	rec["schemaVersion"] = SchemaVersion

	n.mu.Lock()
	defer n.mu.Unlock()
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = n.w.Write(b)
	return err
}

// WriteError emits a normalized error record.
func (n *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	rec := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(hint) > 0 && hint[0] != "" {
		rec["hint"] = hint[0]
	}
	return n.Write("error", rec)
}

// WriteValue emits a record whose payload is an arbitrary marshalable value
// under the "data" key.
func (n *NDJSONWriter) WriteValue(recordType string, value interface{}) error {
	return n.Write(recordType, map[string]interface{}{"data": value})
}
