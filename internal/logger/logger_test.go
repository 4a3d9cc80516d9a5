package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_Attrs(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug, ReplaceAttr: RedactAttr}, false))

	l.With("job_id", "abc-123").Info("chunk done", "chunk", 4)
	out := buf.String()
	if !strings.Contains(out, "INFO  chunk done") {
		t.Errorf("missing level and message: %q", out)
	}
	if !strings.Contains(out, "job_id=abc-123") || !strings.Contains(out, "chunk=4") {
		t.Errorf("missing attrs: %q", out)
	}

	buf.Reset()
	l.WithGroup("http").Info("request", "status", 200)
	if !strings.Contains(buf.String(), "http.status=200") {
		t.Errorf("missing grouped attr: %q", buf.String())
	}
}

func TestPrettyHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestRedactAttr(t *testing.T) {
	tests := []struct {
		attr   slog.Attr
		redact bool
	}{
		{slog.String("api_key", "abc"), true},
		{slog.String("translate_key", "abc"), true},
		{slog.String("Authorization", "Bearer xyz"), true},
		{slog.String("error", "request failed: Bearer abc.def"), true},
		{slog.String("detail", "AIzaSyA1234567890abcdef"), true},
		{slog.String("job_id", "01J"), false},
		{slog.Int("chunks", 4), false},
		{slog.String("error", "status 503"), false},
	}
	for _, tt := range tests {
		got := RedactAttr(nil, tt.attr)
		if redacted := got.Value.String() == "[REDACTED]"; redacted != tt.redact {
			t.Errorf("RedactAttr(%s=%v) redacted=%v, want %v", tt.attr.Key, tt.attr.Value, redacted, tt.redact)
		}
	}
}

func TestNewJSON_Redacts(t *testing.T) {
	var buf bytes.Buffer
	NewJSON(&buf, slog.LevelInfo).Info("configured", "storage_key", "sk-live", "workers", 4)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if rec["storage_key"] != "[REDACTED]" {
		t.Errorf("storage_key = %v", rec["storage_key"])
	}
	if rec["workers"] != float64(4) {
		t.Errorf("workers = %v", rec["workers"])
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
