package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	Initialize(Config{Level: "debug", Format: "json", Output: &buf})

	Info("Import job queued", map[string]interface{}{
		"job_id": "job-1",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Import job queued", entry["message"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Contains(t, entry["caller"], "logger_test.go")
}

func TestLogger_ErrorIncludesError(t *testing.T) {
	var buf bytes.Buffer
	Initialize(Config{Level: "info", Format: "json", Output: &buf})

	WithContext(map[string]interface{}{"request_id": "r-1"}).
		Error("Failed to cancel policy", errors.New("policy not found"))

	out := buf.String()
	assert.Contains(t, out, `"error":"policy not found"`)
	assert.Contains(t, out, `"request_id":"r-1"`)
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	Initialize(Config{Level: "warn", Format: "json", Output: &buf})

	Debug("hidden")
	Info("hidden too")
	Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "shown")

	Initialize(Config{Level: "info", Format: "json", Output: &buf})
}
