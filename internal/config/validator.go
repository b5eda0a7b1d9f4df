package config

import (
	"fmt"
	"regexp"
	"time"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks cfg and fills defaults for every unset field.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "platewatch"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	setDuration(&cfg.ShutdownTimeout, 5*time.Second)

	if cfg.Source.Device == "" {
		cfg.Source.Device = "0"
	}
	if cfg.Source.QueueSize <= 0 {
		cfg.Source.QueueSize = 4
	}

	if err := validateDetector(&cfg.Detector); err != nil {
		return err
	}

	if cfg.OCR.Language == "" {
		cfg.OCR.Language = "eng"
	}
	setDuration(&cfg.OCR.Timeout, 2*time.Second)

	setDuration(&cfg.Tracker.Debounce, 30*time.Second)
	switch cfg.Tracker.Policy {
	case "":
		cfg.Tracker.Policy = "depart_on_resight"
	case "depart_on_resight", "refresh":
	default:
		return fmt.Errorf("tracker.policy: unknown policy %q (must be depart_on_resight or refresh)", cfg.Tracker.Policy)
	}
	setDuration(&cfg.Tracker.DepartAfter, 2*cfg.Tracker.Debounce)
	setDuration(&cfg.Tracker.SweepInterval, 5*time.Second)
	if cfg.Tracker.MaxAge < 0 {
		return fmt.Errorf("tracker.max_age must be >= 0")
	}
	if cfg.Tracker.MaxAge > 0 && cfg.Tracker.MaxAge < cfg.Tracker.Debounce {
		return fmt.Errorf("tracker.max_age (%s) must not be shorter than tracker.debounce (%s)",
			cfg.Tracker.MaxAge, cfg.Tracker.Debounce)
	}

	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "log.csv"
	}
	if cfg.Ledger.Location == "" {
		cfg.Ledger.Location = "Local"
	}
	if _, err := time.LoadLocation(cfg.Ledger.Location); err != nil {
		return fmt.Errorf("ledger.location: %w", err)
	}
	if cfg.Ledger.RetryTries <= 0 {
		cfg.Ledger.RetryTries = 5
	}
	setDuration(&cfg.Ledger.RetryInterval, 100*time.Millisecond)

	if cfg.Images.Dir == "" {
		cfg.Images.Dir = "images"
	}
	switch cfg.Images.Format {
	case "":
		cfg.Images.Format = "jpg"
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("images.format: unsupported format %q (must be jpg or png)", cfg.Images.Format)
	}
	if cfg.Images.JPEGQuality <= 0 {
		cfg.Images.JPEGQuality = 90
	}

	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "broker.emqx.io:1883"
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	setDuration(&cfg.MQTT.ConnectTimeout, 5*time.Second)
	setDuration(&cfg.MQTT.PublishTimeout, 2*time.Second)
	if cfg.MQTT.Topics.Live == "" {
		cfg.MQTT.Topics.Live = "platewatch/live"
	}
	if cfg.MQTT.Topics.History == "" {
		cfg.MQTT.Topics.History = "platewatch/history"
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = cfg.MQTT.Topics.History
	}
	if cfg.MQTT.Topics.Live == cfg.MQTT.Topics.History {
		return fmt.Errorf("mqtt.topics: live and history must differ")
	}

	setDuration(&cfg.History.Pace, 100*time.Millisecond)
	setDuration(&cfg.History.MaxDuration, 5*time.Minute)
	setDuration(&cfg.History.PublishTimeout, cfg.MQTT.PublishTimeout)

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "platewatch.transitions"
	}

	if cfg.Webhook.URL != "" {
		if cfg.Webhook.BatchSize <= 0 {
			cfg.Webhook.BatchSize = 10
		}
		setDuration(&cfg.Webhook.FlushInterval, 2*time.Second)
		setDuration(&cfg.Webhook.Timeout, 10*time.Second)
	}

	if cfg.Output.BufferSize <= 0 {
		cfg.Output.BufferSize = 64
	}
	return nil
}

func validateDetector(d *DetectorConfig) error {
	if d.Kind == "" {
		d.Kind = "cascade"
	}
	switch d.Kind {
	case "cascade":
		if d.CascadePath == "" {
			d.CascadePath = "haarcascade_russian_plate_number.xml"
		}
		if d.ScaleFactor == 0 {
			d.ScaleFactor = 1.1
		}
		if d.ScaleFactor <= 1 {
			return fmt.Errorf("detector.scale_factor must be > 1")
		}
		if d.MinNeighbors <= 0 {
			d.MinNeighbors = 5
		}
		if d.MinSize <= 0 {
			d.MinSize = 30
		}
	case "onnx":
		if d.ModelPath == "" {
			return fmt.Errorf("detector.model_path is required for the onnx detector")
		}
		if d.Threshold == 0 {
			d.Threshold = 0.5
		}
		if d.Threshold < 0 || d.Threshold > 1 {
			return fmt.Errorf("detector.threshold must be in [0,1]")
		}
	}
	setDuration(&d.Timeout, 2*time.Second)
	return nil
}

func setDuration(d *time.Duration, fallback time.Duration) {
	if *d <= 0 {
		*d = fallback
	}
}
