package diag

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		" Info ":  LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"ALERT":   LevelAlert,
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v want %v,true", in, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level")
	}
}

func TestLogSink_FiltersBelowMin(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(log.New(&buf, "", 0), LevelInfo)
	s.Log(LevelDebug, "hidden")
	s.Log(LevelWarn, "shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug message leaked: %q", out)
	}
	if !strings.Contains(out, "WARN shown") {
		t.Fatalf("missing warn line: %q", out)
	}
}

func TestTee_FansOutAndSkipsNil(t *testing.T) {
	var a, b Recorder
	s := Tee(&a, nil, &b)
	s.Log(LevelDebug, "hello")
	if len(a.Entries()) != 1 || len(b.Entries()) != 1 {
		t.Fatalf("a=%d b=%d want 1,1", len(a.Entries()), len(b.Entries()))
	}
}

func TestRecorder_Count(t *testing.T) {
	var r Recorder
	r.Log(LevelDebug, "Abigail_20.png does not exist")
	r.Log(LevelDebug, "Aging Sam to 22. Happy Birthday!")
	if got := r.Count("does not exist"); got != 1 {
		t.Fatalf("count=%d want 1", got)
	}
	r.Reset()
	if len(r.Entries()) != 0 {
		t.Fatalf("reset kept entries")
	}
}
