package engine

import (
	"testing"
	"time"

	"github.com/crimson-sun/platewatch/internal/engine/presence"
	"github.com/crimson-sun/platewatch/internal/model"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return New(presence.New(presence.Config{Debounce: 30 * time.Second}))
}

func TestProcessRejectsGarbage(t *testing.T) {
	eng := newTestEngine()

	for _, raw := range []string{"", "hello", "1*ABC*234", "1-ABC-23"} {
		out := eng.Process(raw, t0)
		if !out.Rejected {
			t.Errorf("Process(%q): expected reject", raw)
		}
		if out.Transition() {
			t.Errorf("Process(%q): reject must not be a transition", raw)
		}
	}
	if len(eng.Present()) != 0 {
		t.Fatalf("rejects must not touch the tracker, present = %v", eng.Present())
	}
}

func TestProcessNoisyReadingsShareOnePlate(t *testing.T) {
	eng := newTestEngine()

	first := eng.Process(" 1-ABC-234 \n", t0)
	if first.Rejected || first.Decision.Kind != presence.Arrival {
		t.Fatalf("first reading: %+v, want arrival", first)
	}
	if first.Decision.Plate != model.Plate("1-ABC-234") {
		t.Fatalf("plate = %q", first.Decision.Plate)
	}
	if first.Cleaned != "1-ABC-234" {
		t.Fatalf("cleaned = %q", first.Cleaned)
	}

	second := eng.Process("|1-ABC-234.", t0.Add(2*time.Second))
	if second.Decision.Kind != presence.Ignored || second.Transition() {
		t.Fatalf("second reading: %+v, want ignored", second)
	}
}

func TestProcessEndToEndScenario(t *testing.T) {
	eng := newTestEngine()

	steps := []struct {
		offset time.Duration
		want   presence.Kind
	}{
		{0, presence.Arrival},
		{5 * time.Second, presence.Ignored},
		{40 * time.Second, presence.Departure},
		{45 * time.Second, presence.Arrival},
	}

	var transitions []model.Direction
	for _, s := range steps {
		out := eng.Process("1-ABC-234", t0.Add(s.offset))
		if out.Decision.Kind != s.want {
			t.Fatalf("+%v: got %v, want %v", s.offset, out.Decision.Kind, s.want)
		}
		if dir, ok := out.Decision.Kind.Direction(); ok {
			transitions = append(transitions, dir)
		}
	}

	want := []model.Direction{model.DirectionIn, model.DirectionOut, model.DirectionIn}
	if len(transitions) != len(want) {
		t.Fatalf("got %v transitions, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestProcessSameInstantCollapsesDuplicates(t *testing.T) {
	eng := newTestEngine()
	var outs []Outcome
	for _, raw := range []string{"1-ABC-234", "1-ABC-234", "2-XYZ-999", "junk"} {
		outs = append(outs, eng.Process(raw, t0))
	}

	kinds := []presence.Kind{presence.Arrival, presence.Ignored, presence.Arrival, presence.Ignored}
	for i, out := range outs {
		if out.Decision.Kind != kinds[i] {
			t.Errorf("outcome %d: got %v, want %v", i, out.Decision.Kind, kinds[i])
		}
	}
	if !outs[3].Rejected {
		t.Error("junk should be rejected")
	}
	if got := eng.Present(); len(got) != 2 {
		t.Fatalf("present = %v, want 2 plates", got)
	}
}
