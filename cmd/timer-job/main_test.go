package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommands(t *testing.T) {
	var out, errOut bytes.Buffer

	assert.Equal(t, 0, run0([]string{"version"}, &out, &errOut))
	assert.Contains(t, out.String(), "timer-job")

	out.Reset()
	assert.Equal(t, 0, run0([]string{"help"}, &out, &errOut))
	assert.Contains(t, out.String(), "TIMER_DURATION_SECONDS")

	out.Reset()
	assert.Equal(t, 1, run0([]string{"bogus"}, &out, &errOut))
	assert.Contains(t, errOut.String(), `unknown command "bogus"`)
}

func TestHealthCommandValidatesConfig(t *testing.T) {
	var out, errOut bytes.Buffer

	t.Setenv("TIMER_DURATION_SECONDS", "")
	t.Setenv("CONTROL_PLANE_ENDPOINT", "")
	assert.Equal(t, 1, run0([]string{"--health-check"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "TIMER_DURATION_SECONDS is required")

	t.Setenv("TIMER_DURATION_SECONDS", "30")
	t.Setenv("CONTROL_PLANE_ENDPOINT", "http://control-plane:50053")
	out.Reset()
	assert.Equal(t, 0, run0([]string{"health"}, &out, &errOut))
	assert.Equal(t, "ok\n", out.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
