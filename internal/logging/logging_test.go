package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn).With("health")

	l.Infof("probe ok agent=%s", "dev-1")
	l.Warnf("probe failed agent=%s", "dev-1")

	out := buf.String()
	assert.NotContains(t, out, "probe ok")
	assert.Contains(t, out, "WARN health: probe failed agent=dev-1")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestLogger_NilIsSafe(t *testing.T) {
	var l *Logger
	l.Errorf("dropped")
	assert.NotNil(t, l.With("x"))
}
