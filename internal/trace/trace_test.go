package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"off": LevelOff, "routine": LevelRoutine, "phase": LevelPhase, "debug": LevelDebug,
		"PHASE": LevelPhase,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel accepted an unknown level")
	}
}

func TestLevelFiltersScopes(t *testing.T) {
	if LevelRoutine.ShouldEmit(ScopePhase) {
		t.Error("routine level leaked a phase event")
	}
	if !LevelPhase.ShouldEmit(ScopeRoutine) {
		t.Error("phase level dropped a routine event")
	}
	if !LevelDebug.ShouldEmit(ScopePass) {
		t.Error("debug level dropped a pass event")
	}
	if LevelOff.ShouldEmit(ScopeRoutine) {
		t.Error("off level emitted")
	}
}

func TestStreamTracerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase)

	tr.Emit(&Event{Time: time.Now(), Kind: KindSpanBegin, Scope: ScopeRoutine,
		Routine: "f1", Session: 7, Name: "acquire"})
	tr.Emit(&Event{Time: time.Now(), Kind: KindPoint, Scope: ScopePass,
		Name: "pass:cfg"}) // filtered at this level
	tr.Emit(&Event{Time: time.Now(), Kind: KindSpanEnd, Scope: ScopeRoutine,
		Routine: "f1", Session: 7, Name: "acquire", Detail: "ok"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if first["kind"] != "begin" || first["routine"] != "f1" {
		t.Errorf("unexpected first event: %v", first)
	}
}

func TestSequenceIsMonotonic(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDebug)
	tr.Emit(&Event{Time: time.Now(), Kind: KindPoint, Scope: ScopeRoutine, Name: "a"})
	tr.Emit(&Event{Time: time.Now(), Kind: KindPoint, Scope: ScopeRoutine, Name: "b"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var a, b eventLine
	if err := json.Unmarshal([]byte(lines[0]), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &b); err != nil {
		t.Fatal(err)
	}
	if b.Seq <= a.Seq {
		t.Errorf("sequence did not advance: %d then %d", a.Seq, b.Seq)
	}
}
