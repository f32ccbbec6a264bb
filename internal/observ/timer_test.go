package observ

import (
	"strings"
	"testing"
	"time"
)

func TestTimerRecordsPhasesInOrder(t *testing.T) {
	tm := NewTimer()
	a := tm.Begin("lower")
	time.Sleep(time.Millisecond)
	tm.End(a, "")
	b := tm.Begin("encode")
	tm.End(b, "cached")

	r := tm.Report()
	if len(r.Phases) != 2 {
		t.Fatalf("got %d phases, want 2", len(r.Phases))
	}
	if r.Phases[0].Name != "lower" || r.Phases[1].Name != "encode" {
		t.Errorf("phase order %q, %q", r.Phases[0].Name, r.Phases[1].Name)
	}
	if r.Phases[1].Note != "cached" {
		t.Errorf("note = %q, want cached", r.Phases[1].Note)
	}
	if r.TotalMS <= 0 {
		t.Errorf("total = %v, want > 0", r.TotalMS)
	}
}

func TestSummaryMentionsEveryPhase(t *testing.T) {
	tm := NewTimer()
	tm.End(tm.Begin("link"), "")
	s := tm.Summary()
	if !strings.Contains(s, "link") {
		t.Errorf("summary %q does not mention link", s)
	}
}

func TestEmptyTimerReport(t *testing.T) {
	r := NewTimer().Report()
	if len(r.Phases) != 0 || r.TotalMS != 0 {
		t.Errorf("empty timer produced %+v", r)
	}
}
