// ABOUTME: Tests for anfd command helpers
// ABOUTME: Covers param building for the call subcommand and the color log handler

package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParams(t *testing.T) {
	params, err := buildParams([]string{
		"prompt=hello: world",
		"limit=5",
		"context={\"k\":\"v\"}",
		"flag=true",
	}, `{"agent_id":"coder","limit":1}`)
	require.NoError(t, err)

	assert.Equal(t, "hello: world", params["prompt"])
	assert.Equal(t, float64(5), params["limit"], "pairs override --json")
	assert.Equal(t, map[string]any{"k": "v"}, params["context"])
	assert.Equal(t, true, params["flag"])
	assert.Equal(t, "coder", params["agent_id"])
}

func TestBuildParamsErrors(t *testing.T) {
	_, err := buildParams([]string{"novalue"}, "")
	assert.Error(t, err)

	_, err = buildParams([]string{"=x"}, "")
	assert.Error(t, err)

	_, err = buildParams(nil, "{not json")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "router").WithGroup("req").Info("handled", "action", "ping")
	logger.Warn("slow", "ms", 12)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF handled")
	assert.Contains(t, lines[0], "component=router")
	assert.Contains(t, lines[0], "req.action=ping")
	assert.Contains(t, lines[1], "WRN slow")
	assert.Contains(t, lines[1], "ms=12")
}
