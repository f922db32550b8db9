package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With("session", "s1")
	l.Err(errors.New("boom"), "执行失败", "action", "ban", "attempt", 2)

	line := strings.TrimSpace(buf.String())
	if !gjson.Valid(line) {
		t.Fatalf("expected one json line, got %q", line)
	}
	for path, want := range map[string]string{
		"level":   "error",
		"message": "执行失败",
		"error":   "boom",
		"session": "s1",
		"action":  "ban",
		"attempt": "2",
	} {
		if got := gjson.Get(line, path).String(); got != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
}

func TestWriterLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Debug("hidden")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn line missing: %q", buf.String())
	}
}

func TestNopIsSilent(t *testing.T) {
	l := NewNop().With("k", "v")
	l.Info("x")
	l.Err(errors.New("e"), "x")
}
