package main

import (
	"context"
	"log/slog"
	"testing"
)

func TestRunRejectsBadArguments(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"127.0.0.1"},
		{"127.0.0.1", "http"},
		{"127.0.0.1", "99999"},
		{"127.0.0.1", "80", "extra"},
		{"-config", "/nonexistent/httpd.yaml", "127.0.0.1", "80"},
		{"-workers", "-x"},
	} {
		if err := run(args); err == nil {
			t.Errorf("run(%q) succeeded", args)
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := context.Background()
	if !newLogger("debug").Enabled(ctx, slog.LevelDebug) {
		t.Error("debug level not enabled")
	}
	if newLogger("").Enabled(ctx, slog.LevelDebug) {
		t.Error("default level should be info")
	}
	if newLogger("ERROR").Enabled(ctx, slog.LevelWarn) {
		t.Error("error level lets warnings through")
	}
}
