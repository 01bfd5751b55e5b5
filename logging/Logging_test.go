package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"Warning": LevelWarn,
		"error":   LevelError,
	}
	for name, want := range tests {
		have, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, have, name)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewFiltersLevel(t *testing.T) {
	var out bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &out})
	logger.Info("hidden")
	assert.Empty(t, out.String())
	logger.Warn("shown")
	assert.Contains(t, out.String(), "msg=shown")
}

func TestNewJSON(t *testing.T) {
	var out bytes.Buffer
	New(Config{JSON: true, Service: "pgtrain", Output: &out}).Info("hello",
		"episodes", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "pgtrain", record["service"])
	assert.Equal(t, 3.0, record["episodes"])
}

func TestConfigYAML(t *testing.T) {
	var c Config
	require.NoError(t, yaml.Unmarshal([]byte("{level: debug, json: true}"),
		&c))
	assert.Equal(t, Config{Level: LevelDebug, JSON: true}, c)
}
