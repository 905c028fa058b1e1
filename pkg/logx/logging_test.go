package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With(String("comp", "test"))

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	log.Warn("kept", Int("n", 3), Err(errors.New("boom")))
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["message"] != "kept" || m["comp"] != "test" || m["n"] != float64(3) || m["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("expected caller field: %v", m)
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("must not panic")
	if Nop().IsZero() {
		t.Fatal("Nop logger is not zero")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
