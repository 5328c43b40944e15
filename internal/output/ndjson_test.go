package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	return rec
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)

	require.NoError(t, w.Write("ready", map[string]interface{}{"addr": "127.0.0.1:9876"}))
	require.NoError(t, w.Write("step", map[string]interface{}{"cursor": 3}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	rec := decodeLine(t, lines[0])
	assert.Equal(t, "ready", rec["type"])
	assert.Equal(t, float64(SchemaVersion), rec["schemaVersion"])
	assert.Equal(t, "127.0.0.1:9876", rec["addr"])

	rec = decodeLine(t, lines[1])
	assert.Equal(t, "step", rec["type"])
	assert.Equal(t, float64(3), rec["cursor"])
}

func TestWriteOverridesTypeKey(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)
	require.NoError(t, w.Write("real", map[string]interface{}{"type": "spoofed"}))

	rec := decodeLine(t, strings.TrimSuffix(buf.String(), "\n"))
	assert.Equal(t, "real", rec["type"])
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)

	require.NoError(t, w.WriteError("SNAPSHOT_LOAD_FAILED", "no such file", "check the path"))
	rec := decodeLine(t, strings.TrimSuffix(buf.String(), "\n"))
	assert.Equal(t, "error", rec["type"])
	assert.Equal(t, "SNAPSHOT_LOAD_FAILED", rec["code"])
	assert.Equal(t, "no such file", rec["message"])
	assert.Equal(t, "check the path", rec["hint"])

	buf.Reset()
	require.NoError(t, w.WriteError("E", "m"))
	rec = decodeLine(t, strings.TrimSuffix(buf.String(), "\n"))
	_, hasHint := rec["hint"]
	assert.False(t, hasHint)
}

func TestWriteValue(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)

	require.NoError(t, w.WriteValue("state", struct {
		Cursor int `json:"cursor"`
	}{Cursor: 9}))

	rec := decodeLine(t, strings.TrimSuffix(buf.String(), "\n"))
	assert.Equal(t, "state", rec["type"])
	data, ok := rec["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(9), data["cursor"])
}
