package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/crimson-sun/platewatch/internal/engine"
	"github.com/crimson-sun/platewatch/internal/engine/presence"
	"github.com/crimson-sun/platewatch/internal/framebuf"
	"github.com/crimson-sun/platewatch/internal/ledger"
	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/output"
	"github.com/crimson-sun/platewatch/internal/vision"
)

const (
	defaultDetectTimeout  = 2 * time.Second
	defaultOCRTimeout     = 2 * time.Second
	defaultSweepInterval  = 5 * time.Second
	defaultRecordTries    = 5
	defaultRecordInterval = 100 * time.Millisecond
)

// Recorder durably appends one transition.
type Recorder interface {
	Record(ctx context.Context, plate model.Plate, dir model.Direction, at time.Time) (model.TransitionRecord, error)
}

// ArtifactSaver stores the image of an accepted transition.
type ArtifactSaver interface {
	Save(plate model.Plate, at time.Time, img image.Image) (string, error)
}

// Stats contains pipeline counters.
type Stats struct {
	Frames     uint64
	Regions    uint64
	Readings   uint64
	Rejected   uint64
	Ignored    uint64
	Arrivals   uint64
	Departures uint64
	Expired    uint64
	Abandoned  uint64
	Busy       uint64
	Errors     uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArtifacts saves the region crop of every committed transition.
func WithArtifacts(s ArtifactSaver) Option {
	return func(p *Pipeline) { p.artifacts = s }
}

// Preprocessor transforms a region crop before OCR. The unmodified crop is
// still the one saved as an artifact.
type Preprocessor func(image.Image) (image.Image, error)

// WithPreprocess runs fn on every crop before OCR.
func WithPreprocess(fn Preprocessor) Option {
	return func(p *Pipeline) { p.preprocess = fn }
}

// WithDetectTimeout bounds each detector call. Default: 2s.
func WithDetectTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.detectTimeout = d }
}

// WithOCRTimeout bounds each OCR call. Default: 2s.
func WithOCRTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.ocrTimeout = d }
}

// WithSweepInterval sets how often the tracker is swept. Default: 5s.
func WithSweepInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.sweepInterval = d }
}

// WithRecordRetry sets the number of ledger append attempts and the
// initial backoff between them. Default: 5 tries from 100ms.
func WithRecordRetry(tries uint, initial time.Duration) Option {
	return func(p *Pipeline) {
		p.recordTries = tries
		p.recordInterval = initial
	}
}

// WithClock replaces time.Now for frames without a capture timestamp and
// for sweeps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline takes frames to committed transitions: detect → crop → OCR →
// engine → ledger → live output → artifact. It runs on a single goroutine
// and owns the engine.
type Pipeline struct {
	detector  vision.Detector
	ocr       vision.Recognizer
	engine    *engine.Engine
	ledger    Recorder
	live      output.Output
	artifacts ArtifactSaver

	preprocess     Preprocessor
	detectTimeout  time.Duration
	ocrTimeout     time.Duration
	sweepInterval  time.Duration
	recordTries    uint
	recordInterval time.Duration
	now            func() time.Time

	stats Stats
}

// New creates a Pipeline from the given components.
func New(det vision.Detector, ocr vision.Recognizer, eng *engine.Engine, rec Recorder, live output.Output, opts ...Option) *Pipeline {
	p := &Pipeline{
		detector:       det,
		ocr:            ocr,
		engine:         eng,
		ledger:         rec,
		live:           live,
		detectTimeout:  defaultDetectTimeout,
		ocrTimeout:     defaultOCRTimeout,
		sweepInterval:  defaultSweepInterval,
		recordTries:    defaultRecordTries,
		recordInterval: defaultRecordInterval,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes frames from q until ctx is done or q is closed and
// drained. The tracker is swept on the same goroutine.
func (p *Pipeline) Run(ctx context.Context, q *framebuf.Queue) error {
	var sweep <-chan time.Time
	if p.sweepInterval > 0 {
		ticker := time.NewTicker(p.sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep:
			p.Sweep(ctx, p.now())
		case <-q.Ready():
			for {
				f, ok := q.TryPop()
				if !ok {
					break
				}
				p.ProcessFrame(ctx, f)
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			if q.Closed() && q.Len() == 0 {
				return nil
			}
		}
	}
}

// ProcessFrame runs detection and OCR on one frame and commits every
// resulting transition. It returns the committed records.
func (p *Pipeline) ProcessFrame(ctx context.Context, f model.Frame) []model.TransitionRecord {
	p.stats.Frames++
	if f.Image == nil {
		return nil
	}
	at := f.Timestamp
	if at.IsZero() {
		at = p.now()
	}

	dctx, cancel := context.WithTimeout(ctx, p.detectTimeout)
	regions, err := p.detector.Detect(dctx, f.Image)
	cancel()
	if err != nil {
		p.engineError("plate detection failed", f.Seq, image.Rectangle{}, err)
		return nil
	}

	var committed []model.TransitionRecord
	for _, region := range regions {
		crop := vision.Crop(f.Image, region.Bounds)
		if crop == nil {
			continue
		}
		p.stats.Regions++

		input := crop
		if p.preprocess != nil {
			if input, err = p.preprocess(crop); err != nil {
				p.stats.Errors++
				slog.Warn("crop preprocessing failed", "frame", f.Seq, "region", region.Bounds, "error", err)
				continue
			}
		}

		octx, cancel := context.WithTimeout(ctx, p.ocrTimeout)
		text, err := p.ocr.Recognize(octx, input)
		cancel()
		if err != nil {
			p.engineError("ocr failed", f.Seq, region.Bounds, err)
			continue
		}

		if rec, ok := p.ProcessText(ctx, text, at, crop); ok {
			committed = append(committed, rec)
		}
	}
	return committed
}

// engineError counts a failed detector or OCR call. A call refused because
// the engine is still busy with an abandoned one is expected under load and
// only logged at debug.
func (p *Pipeline) engineError(msg string, seq uint64, region image.Rectangle, err error) {
	if errors.Is(err, vision.ErrBusy) {
		p.stats.Busy++
		slog.Debug(msg, "frame", seq, "region", region, "error", err)
		return
	}
	p.stats.Errors++
	slog.Warn(msg, "frame", seq, "region", region, "error", err)
}

// ProcessText feeds one OCR reading through the engine and commits the
// transition it produces, if any.
func (p *Pipeline) ProcessText(ctx context.Context, text string, at time.Time, crop image.Image) (model.TransitionRecord, bool) {
	p.stats.Readings++
	out := p.engine.Process(text, at)

	switch {
	case out.Rejected:
		p.stats.Rejected++
		slog.Debug("reading rejected", "raw", out.Raw, "cleaned", out.Cleaned)
		return model.TransitionRecord{}, false
	case out.Decision.Kind == presence.Ignored:
		p.stats.Ignored++
		return model.TransitionRecord{}, false
	}
	return p.commit(ctx, out.Decision, crop)
}

// Sweep applies the tracker's stale-entry sweep at now. Departures are
// committed like any other transition; expirations are only logged.
func (p *Pipeline) Sweep(ctx context.Context, now time.Time) []model.TransitionRecord {
	var committed []model.TransitionRecord
	for _, d := range p.engine.Sweep(now) {
		if d.Kind == presence.Expired {
			p.stats.Expired++
			slog.Debug("presence entry expired", "plate", d.Plate)
			continue
		}
		if rec, ok := p.commit(ctx, d, nil); ok {
			committed = append(committed, rec)
		}
	}
	return committed
}

// commit records d durably and then publishes it. A transition whose ledger
// append fails after every retry is abandoned: nothing is published and no
// artifact is saved.
func (p *Pipeline) commit(ctx context.Context, d presence.Decision, crop image.Image) (model.TransitionRecord, bool) {
	dir, ok := d.Kind.Direction()
	if !ok {
		return model.TransitionRecord{}, false
	}

	rec, err := p.record(ctx, d.Plate, dir, d.At)
	if err != nil {
		p.stats.Abandoned++
		slog.Error("ledger append failed, transition abandoned",
			"plate", d.Plate,
			"direction", dir,
			"error", err)
		return model.TransitionRecord{}, false
	}

	if dir == model.DirectionIn {
		p.stats.Arrivals++
	} else {
		p.stats.Departures++
	}
	slog.Info("transition recorded", "plate", rec.Plate, "direction", rec.Direction)

	// Live events carry the sighting time; the ledger keeps whole seconds.
	if err := p.live.Write(ctx, model.NewTransitionEvent(rec.Plate, d.At)); err != nil {
		slog.Warn("live publish failed", "plate", rec.Plate, "direction", rec.Direction, "error", err)
	}

	if p.artifacts != nil && crop != nil {
		if path, err := p.artifacts.Save(rec.Plate, d.At, crop); err != nil {
			slog.Warn("image save failed", "plate", rec.Plate, "error", err)
		} else {
			slog.Debug("image saved", "plate", rec.Plate, "path", path)
		}
	}
	return rec, true
}

func (p *Pipeline) record(ctx context.Context, plate model.Plate, dir model.Direction, at time.Time) (model.TransitionRecord, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.recordInterval

	rec, err := backoff.Retry(ctx, func() (model.TransitionRecord, error) {
		rec, err := p.ledger.Record(ctx, plate, dir, at)
		if errors.Is(err, ledger.ErrClosed) {
			return rec, backoff.Permanent(err)
		}
		return rec, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.recordTries))
	if err != nil {
		return model.TransitionRecord{}, fmt.Errorf("pipeline: record: %w", err)
	}
	return rec, nil
}

// Stats returns a copy of the counters. Call it from the pipeline
// goroutine or after Run returns.
func (p *Pipeline) Stats() Stats {
	return p.stats
}

// Close shuts down the live output.
func (p *Pipeline) Close() error {
	return p.live.Close()
}
