package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json")
	log.Debug("hidden")
	log.Info("workflow opened", "service_request_id", "sr-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "workflow opened", line["msg"])
	assert.Equal(t, "sr-1", line["service_request_id"])
	assert.Equal(t, "approvald", line["service"])
}

func TestNewTextDebug(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "DEBUG", "text").Debug("sweep skipped")
	assert.Contains(t, buf.String(), "msg=\"sweep skipped\"")
}
