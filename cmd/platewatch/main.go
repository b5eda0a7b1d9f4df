// Command platewatch watches a camera for licence plates, records arrivals
// and departures in a CSV ledger and publishes them over MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/crimson-sun/platewatch/internal/artifact"
	"github.com/crimson-sun/platewatch/internal/broker"
	"github.com/crimson-sun/platewatch/internal/config"
	"github.com/crimson-sun/platewatch/internal/engine"
	"github.com/crimson-sun/platewatch/internal/engine/presence"
	"github.com/crimson-sun/platewatch/internal/framebuf"
	"github.com/crimson-sun/platewatch/internal/history"
	"github.com/crimson-sun/platewatch/internal/ledger"
	"github.com/crimson-sun/platewatch/internal/logging"
	"github.com/crimson-sun/platewatch/internal/output/async"
	"github.com/crimson-sun/platewatch/internal/output/kafka"
	"github.com/crimson-sun/platewatch/internal/output/mqtt"
	"github.com/crimson-sun/platewatch/internal/output/multi"
	"github.com/crimson-sun/platewatch/internal/output/stdout"
	"github.com/crimson-sun/platewatch/internal/output/webhook"
	"github.com/crimson-sun/platewatch/internal/pipeline"
	"github.com/crimson-sun/platewatch/internal/vision"
	"github.com/crimson-sun/platewatch/internal/vision/gocvcam"
	"github.com/crimson-sun/platewatch/internal/vision/tesseract"

	// Register detector implementations.
	_ "github.com/crimson-sun/platewatch/internal/vision/onnxdetect"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	dumpConfig := flag.Bool("dump-config", false, "print the effective config and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "platewatch: %v\n", err)
		os.Exit(1)
	}

	if *dumpConfig {
		data, err := config.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "platewatch: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
		return
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if *debug {
		level = slog.LevelDebug
	}
	// Stdout carries JSON events when enabled; keep stderr parseable too.
	logging.Init(logging.Options{JSON: cfg.Output.Stdout, Level: level, Instance: cfg.InstanceID})

	if err := run(cfg); err != nil {
		slog.Error("platewatch stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	loc, err := time.LoadLocation(cfg.Ledger.Location)
	if err != nil {
		return fmt.Errorf("ledger location: %w", err)
	}

	// Ledger.
	led, err := ledger.Open(cfg.Ledger.Path,
		ledger.WithLocation(loc),
		ledger.WithSync(cfg.Ledger.Sync),
		ledger.WithLogger(logging.Component("ledger")))
	if err != nil {
		return err
	}
	defer led.Close()
	slog.Info("ledger opened", "path", led.Path())

	// Broker.
	client := broker.New(broker.Config{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		QoS:            cfg.MQTT.QoS,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		PublishTimeout: cfg.MQTT.PublishTimeout,
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	// Live output chain.
	live, err := buildLive(cfg, client)
	if err != nil {
		return err
	}

	// Vision.
	det, err := vision.NewDetector(vision.DetectorConfig{
		Kind:         cfg.Detector.Kind,
		CascadePath:  cfg.Detector.CascadePath,
		ScaleFactor:  cfg.Detector.ScaleFactor,
		MinNeighbors: cfg.Detector.MinNeighbors,
		MinSize:      cfg.Detector.MinSize,
		ModelPath:    cfg.Detector.ModelPath,
		LibraryPath:  cfg.Detector.LibraryPath,
		InputSize:    cfg.Detector.InputSize,
		Threshold:    cfg.Detector.Threshold,
	})
	if err != nil {
		live.Close()
		return err
	}
	defer det.Close()

	ocr, err := tesseract.New(tesseract.Config{Language: cfg.OCR.Language, Whitelist: cfg.OCR.Whitelist})
	if err != nil {
		live.Close()
		return err
	}
	defer ocr.Close()

	cam, err := gocvcam.OpenCamera(cfg.Source.Device)
	if err != nil {
		live.Close()
		return err
	}
	defer cam.Close()

	// Engine and pipeline.
	tracker := presence.New(presence.Config{
		Debounce:    cfg.Tracker.Debounce,
		Policy:      presence.ParsePolicy(cfg.Tracker.Policy),
		MaxAge:      cfg.Tracker.MaxAge,
		DepartAfter: cfg.Tracker.DepartAfter,
	})
	opts := []pipeline.Option{
		pipeline.WithDetectTimeout(cfg.Detector.Timeout),
		pipeline.WithOCRTimeout(cfg.OCR.Timeout),
		pipeline.WithSweepInterval(cfg.Tracker.SweepInterval),
		pipeline.WithRecordRetry(uint(cfg.Ledger.RetryTries), cfg.Ledger.RetryInterval),
	}
	if cfg.OCR.RedTextMask {
		opts = append(opts, pipeline.WithPreprocess(gocvcam.RedTextMask))
	}
	if cfg.Images.Enabled {
		store, err := artifact.New(cfg.Images.Dir, cfg.Images.Format,
			artifact.WithJPEGQuality(cfg.Images.JPEGQuality),
			artifact.WithLocation(loc))
		if err != nil {
			live.Close()
			return err
		}
		opts = append(opts, pipeline.WithArtifacts(store))
	}
	p := pipeline.New(det, ocr, engine.New(tracker), led, live, opts...)

	// History replay on request.
	replayer := history.NewReplayer(led, client, cfg.MQTT.Topics.History,
		history.WithPace(cfg.History.Pace),
		history.WithMaxDuration(cfg.History.MaxDuration),
		history.WithPublishTimeout(cfg.History.PublishTimeout))
	listener := history.NewListener(replayer)
	if err := listener.Subscribe(ctx, client, cfg.MQTT.Topics.Control); err != nil {
		p.Close()
		return err
	}

	queue := framebuf.New(cfg.Source.QueueSize)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("history listener stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		capture(ctx, cam, queue)
	}()

	slog.Info("platewatch started",
		"source", cfg.Source.Device,
		"detector", cfg.Detector.Kind,
		"policy", cfg.Tracker.Policy,
		"live_topic", cfg.MQTT.Topics.Live,
		"history_topic", cfg.MQTT.Topics.History)

	runErr := p.Run(ctx, queue)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	// End of stream: stop the listener and capture goroutines too.
	cancel()
	queue.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.ShutdownTimeout):
		slog.Warn("shutdown timed out waiting for workers", "timeout", cfg.ShutdownTimeout)
	}

	if err := p.Close(); err != nil {
		slog.Warn("closing live outputs", "error", err)
	}

	st := p.Stats()
	qs := queue.Stats()
	slog.Info("platewatch stopped",
		"frames", st.Frames,
		"frames_dropped", qs.Dropped,
		"arrivals", st.Arrivals,
		"departures", st.Departures,
		"rejected", st.Rejected,
		"abandoned", st.Abandoned,
		"engine_busy", st.Busy,
		"live_dropped", live.Dropped())
	return runErr
}

// buildLive assembles the live output chain: a fan-out over MQTT and any
// configured mirrors, decoupled from the pipeline by an async buffer.
func buildLive(cfg *config.Config, client *broker.Client) (*async.Async, error) {
	sinks := []multi.Sink{{Name: "mqtt", Output: mqtt.New(client, cfg.MQTT.Topics.Live)}}

	if len(cfg.Kafka.Brokers) > 0 {
		k, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, multi.Sink{Name: "kafka", Output: k})
	}
	if cfg.Webhook.URL != "" {
		w := webhook.New(cfg.Webhook.URL,
			webhook.WithHeaders(cfg.Webhook.Headers),
			webhook.WithBatchSize(cfg.Webhook.BatchSize),
			webhook.WithFlushInterval(cfg.Webhook.FlushInterval),
			webhook.WithTimeout(cfg.Webhook.Timeout),
			webhook.WithOnError(func(err error) {
				slog.Warn("webhook delivery failed", "error", err)
			}))
		sinks = append(sinks, multi.Sink{Name: "webhook", Output: w})
	}
	if cfg.Output.Stdout {
		sinks = append(sinks, multi.Sink{Name: "stdout", Output: stdout.New(cfg.Output.Pretty)})
	}

	fan := multi.New(sinks...)
	slog.Info("live outputs configured", "sinks", fan.Names())

	return async.New(fan, async.WithBufferSize(cfg.Output.BufferSize)), nil
}

// capture reads frames into q until ctx is done or the source ends. The
// queue is closed on the way out so the pipeline drains and returns.
func capture(ctx context.Context, src vision.Source, q *framebuf.Queue) {
	defer q.Close()
	for {
		f, err := src.Read(ctx)
		switch {
		case err == nil:
			if q.Push(f) {
				slog.Debug("frame queue full, oldest frame dropped", "seq", f.Seq)
			}
		case errors.Is(err, vision.ErrEndOfStream):
			slog.Info("video source ended")
			return
		case ctx.Err() != nil:
			return
		default:
			slog.Warn("frame read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}
