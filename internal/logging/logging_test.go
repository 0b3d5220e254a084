package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "json", Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())

	Component(logger, "graph").Debug("loaded", "nodes", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "loaded", rec["msg"])
	assert.Equal(t, "graph", rec["component"])
	assert.EqualValues(t, 3, rec["nodes"])
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "WARN", Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestComponentNilLogger(t *testing.T) {
	assert.NotPanics(t, func() { Component(nil, "x").Error("dropped") })
}
