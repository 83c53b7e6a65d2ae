package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLoggerTo_Formats(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := newLoggerTo(&buf, "debug", "json", false)
	log.Debug("db.migrate.done", "direction", "up")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json output: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "db.migrate.done" || rec["direction"] != "up" {
		t.Fatalf("unexpected record: %v", rec)
	}

	buf.Reset()
	log = newLoggerTo(&buf, "info", "Pretty", false)
	log.Info("server.start", "addr", ":8080")
	if !strings.Contains(buf.String(), "msg=server.start") || !strings.Contains(buf.String(), "addr=:8080") {
		t.Fatalf("pretty output: %q", buf.String())
	}
}
