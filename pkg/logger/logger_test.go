package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	buf.Reset()
	return line
}

func TestHelpers(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("info", &buf)

	log.Compliance("parental_consent_pending", "sync-agent", map[string]interface{}{"student_id": "s1"})
	line := decodeLine(t, &buf)
	assert.Equal(t, true, line["compliance"])
	assert.Equal(t, "parental_consent_pending", line["event"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "Compliance event", line["message"])

	log.Security("encryption_setup_warning", map[string]interface{}{"warning": "weak key"})
	line = decodeLine(t, &buf)
	assert.Equal(t, true, line["security"])
	assert.Equal(t, "warning", line["level"])

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	log.PIIAccess(ctx, "admin-1", "student", "view", false, nil)
	line = decodeLine(t, &buf)
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "Sensitive data access denied", line["message"])
}

func TestNewWithOutput_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("chatty", &buf)

	log.Debug("hidden")
	assert.Zero(t, buf.Len())
	log.WithComponent("students").Info("shown")
	assert.Contains(t, buf.String(), `"component":"students"`)
}
