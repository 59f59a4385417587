package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSlogLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(&buf, false, false)

	l.Debug("скрыто %d", 1)
	l.Info("кадр %d отправлен", 7)
	l.Warn("медленно")
	l.Error("сбой: %v", "timeout")

	out := buf.String()
	if strings.Contains(out, "скрыто") {
		t.Error("debug message printed without debug mode")
	}
	for _, want := range []string{"кадр 7 отправлен", "level=WARN", "сбой: timeout", "level=ERROR"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q lacks %q", out, want)
		}
	}
}

func TestSlogLoggerJSONComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(&buf, true, true).With("streaming")
	l.Debug("подключено к %s", "ws://localhost")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}
	if rec["component"] != "streaming" || rec["msg"] != "подключено к ws://localhost" {
		t.Errorf("unexpected record %v", rec)
	}
}
