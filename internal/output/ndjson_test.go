package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vburojevic/adbg/internal/domain"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	dec := json.NewDecoder(buf)
	var m map[string]interface{}
	require.NoError(t, dec.Decode(&m))
	return m
}

func TestWriteSessionStart(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	err := w.WriteSessionStart(domain.NewSessionStart("sess-123", "/src/a.py", 4242))
	require.NoError(t, err)

	m := decodeLine(t, buf)
	require.Equal(t, "session_start", m["type"])
	require.EqualValues(t, 1, m["schemaVersion"])
	require.Equal(t, "sess-123", m["session_id"])
	require.Equal(t, "/src/a.py", m["file"])
	require.EqualValues(t, 4242, m["adapter_pid"])
	require.NotEmpty(t, m["timestamp"])
}

func TestWriteStepFlattensFields(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	step := domain.CapturedStep{
		SessionID:  "sess-123",
		File:       "/src/a.py",
		LineNumber: 7,
		Code:       "x = 1",
		Status:     domain.StatusSuccess,
		Variables:  domain.Variables{"Locals": {"x": "1"}},
	}
	require.NoError(t, w.WriteStep(42, step))

	m := decodeLine(t, buf)
	require.Equal(t, "step", m["type"])
	require.EqualValues(t, 1, m["schemaVersion"])
	require.EqualValues(t, 42, m["step_id"])
	require.EqualValues(t, 7, m["line_number"])
	require.Equal(t, "x = 1", m["code"])
	require.Equal(t, "success", m["status"])
}

func TestWriteSessionEndCarriesSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	summary := domain.SessionSummary{
		SessionID:  "sess-123",
		File:       "/src/a.py",
		TotalSteps: 9,
		ErrorSteps: 2,
	}
	require.NoError(t, w.WriteSessionEnd(domain.NewSessionEnd(summary)))

	m := decodeLine(t, buf)
	require.Equal(t, "session_end", m["type"])
	require.Equal(t, "sess-123", m["session_id"])
	sum, ok := m["summary"].(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 9, sum["total_steps"])
	require.EqualValues(t, 2, sum["error_steps"])
}

func TestWriteErrorShape(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	require.NoError(t, w.WriteError("adapter_unreachable", "could not connect", "is debugpy installed?"))

	m := decodeLine(t, buf)
	require.Equal(t, "error", m["type"])
	require.EqualValues(t, 1, m["schemaVersion"])
	require.Equal(t, "adapter_unreachable", m["code"])
	require.Equal(t, "could not connect", m["message"])
	require.Equal(t, "is debugpy installed?", m["hint"])
}
