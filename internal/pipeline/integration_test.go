package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crimson-sun/platewatch/internal/artifact"
	"github.com/crimson-sun/platewatch/internal/engine"
	"github.com/crimson-sun/platewatch/internal/engine/presence"
	"github.com/crimson-sun/platewatch/internal/framebuf"
	"github.com/crimson-sun/platewatch/internal/history"
	"github.com/crimson-sun/platewatch/internal/ledger"
	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/wire"
)

// topicPublisher records published payloads per topic.
type topicPublisher struct {
	mu   sync.Mutex
	msgs map[string][]model.TransitionEvent
}

func (p *topicPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.msgs == nil {
		p.msgs = make(map[string][]model.TransitionEvent)
	}
	p.msgs[topic] = append(p.msgs[topic], wire.Decode(payload).Event)
	return nil
}

func (p *topicPublisher) on(topic string) []model.TransitionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.TransitionEvent(nil), p.msgs[topic]...)
}

// TestEndToEnd drives frames through the queue into a real ledger and
// artifact store, then replays the ledger on the history topic.
func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "log.csv")

	led, err := ledger.Open(ledgerPath, ledger.WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	defer led.Close()

	arts, err := artifact.New(filepath.Join(dir, "images"), "png", artifact.WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("artifact.New: %v", err)
	}

	live := &mockOutput{}
	ocr := &scriptedOCR{texts: map[int]string{
		10: "1-ACD-234",
		11: "1-ACD-234",
		12: "1-ACD-234",
		13: "1-ACD-234",
		14: "garbage",
	}}
	eng := engine.New(presence.New(presence.Config{}))
	p := New(&mockDetector{}, ocr, eng, led, live,
		WithArtifacts(arts),
		WithSweepInterval(0))

	q := framebuf.New(8)
	q.Push(frameWidth(10, t0))
	q.Push(frameWidth(11, t0.Add(5*time.Second)))
	q.Push(frameWidth(14, t0.Add(20*time.Second)))
	q.Push(frameWidth(12, t0.Add(40*time.Second)))
	q.Push(frameWidth(13, t0.Add(45*time.Second)))
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Run(ctx, q); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(ledgerPath)
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"Date,Time,Plate,Status",
		"2026-03-14,09:00:00,1-ACD-234,in",
		"2026-03-14,09:00:40,1-ACD-234,out",
		"2026-03-14,09:00:45,1-ACD-234,in",
	}, "\n") + "\n"
	if string(data) != want {
		t.Errorf("ledger =\n%s\nwant\n%s", data, want)
	}

	events := live.published()
	if len(events) != 3 {
		t.Fatalf("live events = %d, want 3", len(events))
	}
	wantTimes := []time.Duration{0, 40 * time.Second, 45 * time.Second}
	for i, ev := range events {
		if ev.Plate != "1-ACD-234" || !ev.Time().Equal(t0.Add(wantTimes[i])) {
			t.Errorf("live event %d = %+v", i, ev)
		}
	}

	images, _ := os.ReadDir(filepath.Join(dir, "images"))
	if len(images) != 3 {
		t.Errorf("saved %d images, want 3", len(images))
	}

	// Replay reads the same three records, in order, on the history topic.
	pub := &topicPublisher{}
	replayer := history.NewReplayer(led, pub, "plates/history", history.WithPace(0))
	res, err := replayer.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.Published != 3 {
		t.Fatalf("replayed %d, want 3", res.Published)
	}
	replayed := pub.on("plates/history")
	for i := range events {
		if replayed[i] != events[i] {
			t.Errorf("replayed %d = %+v, live = %+v", i, replayed[i], events[i])
		}
	}

	st := p.Stats()
	if st.Frames != 5 || st.Rejected != 1 || st.Ignored != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	p := newTestPipeline(&scriptedOCR{}, &mockRecorder{}, &mockOutput{}, WithSweepInterval(10*time.Millisecond))
	q := framebuf.New(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx, q); err != context.DeadlineExceeded {
		t.Errorf("Run = %v, want deadline exceeded", err)
	}
}
