package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all platewatch configuration.
type Config struct {
	InstanceID      string         `yaml:"instance_id"`
	LogLevel        string         `yaml:"log_level"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	Source          SourceConfig   `yaml:"source"`
	Detector        DetectorConfig `yaml:"detector"`
	OCR             OCRConfig      `yaml:"ocr"`
	Tracker         TrackerConfig  `yaml:"tracker"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	Images          ImagesConfig   `yaml:"images"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	History         HistoryConfig  `yaml:"history"`
	Kafka           KafkaConfig    `yaml:"kafka"`
	Webhook         WebhookConfig  `yaml:"webhook"`
	Output          OutputConfig   `yaml:"output"`
}

// SourceConfig selects the video source.
type SourceConfig struct {
	Device    string `yaml:"device"`     // camera index, file path or stream URL
	QueueSize int    `yaml:"queue_size"` // frames buffered between capture and pipeline
}

// DetectorConfig selects and tunes the plate-region detector.
type DetectorConfig struct {
	Kind         string        `yaml:"kind"` // "cascade" or "onnx"
	CascadePath  string        `yaml:"cascade_path"`
	ScaleFactor  float64       `yaml:"scale_factor"`
	MinNeighbors int           `yaml:"min_neighbors"`
	MinSize      int           `yaml:"min_size"`
	ModelPath    string        `yaml:"model_path"`
	LibraryPath  string        `yaml:"library_path"`
	InputSize    int           `yaml:"input_size"`
	Threshold    float64       `yaml:"threshold"`
	Timeout      time.Duration `yaml:"timeout"`
}

// OCRConfig tunes text recognition.
type OCRConfig struct {
	Language    string        `yaml:"language"`
	Whitelist   string        `yaml:"whitelist"`
	RedTextMask bool          `yaml:"red_text_mask"` // isolate dark red characters before OCR
	Timeout     time.Duration `yaml:"timeout"`
}

// TrackerConfig controls the presence debounce.
type TrackerConfig struct {
	Debounce      time.Duration `yaml:"debounce"`
	Policy        string        `yaml:"policy"` // "depart_on_resight" or "refresh"
	MaxAge        time.Duration `yaml:"max_age"`
	DepartAfter   time.Duration `yaml:"depart_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LedgerConfig locates the CSV ledger.
type LedgerConfig struct {
	Path          string        `yaml:"path"`
	Sync          bool          `yaml:"sync"`
	Location      string        `yaml:"location"` // "Local", "UTC" or an IANA zone
	RetryTries    int           `yaml:"retry_tries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ImagesConfig controls per-transition image artifacts.
type ImagesConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	Format      string `yaml:"format"` // "jpg" or "png"
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	Topics         MQTTTopics    `yaml:"topics"`
}

// MQTTTopics names the live, history and control topics. Control defaults
// to the history topic.
type MQTTTopics struct {
	Live    string `yaml:"live"`
	History string `yaml:"history"`
	Control string `yaml:"control"`
}

// HistoryConfig bounds history replays.
type HistoryConfig struct {
	Pace           time.Duration `yaml:"pace"`
	MaxDuration    time.Duration `yaml:"max_duration"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// KafkaConfig enables the Kafka mirror of live events when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic"`
}

// WebhookConfig enables the HTTP mirror of live events when URL is set.
type WebhookConfig struct {
	URL           string            `yaml:"url"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval time.Duration     `yaml:"flush_interval"`
	Timeout       time.Duration     `yaml:"timeout"`
}

// OutputConfig controls the live output chain.
type OutputConfig struct {
	Stdout     bool `yaml:"stdout"` // also print live events as JSON lines
	Pretty     bool `yaml:"pretty"`
	BufferSize int  `yaml:"buffer_size"`
}

// Load reads the YAML file at path (when path is non-empty), applies
// PLATEWATCH_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return data, nil
}

// applyEnv overrides file values with the environment variables that are set.
func applyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"PLATEWATCH_INSTANCE_ID", &cfg.InstanceID},
		{"PLATEWATCH_LOG_LEVEL", &cfg.LogLevel},
		{"PLATEWATCH_SOURCE", &cfg.Source.Device},
		{"PLATEWATCH_DETECTOR", &cfg.Detector.Kind},
		{"PLATEWATCH_CASCADE_PATH", &cfg.Detector.CascadePath},
		{"PLATEWATCH_MODEL_PATH", &cfg.Detector.ModelPath},
		{"PLATEWATCH_ORT_LIBRARY", &cfg.Detector.LibraryPath},
		{"PLATEWATCH_OCR_LANGUAGE", &cfg.OCR.Language},
		{"PLATEWATCH_TRACKER_POLICY", &cfg.Tracker.Policy},
		{"PLATEWATCH_LEDGER_PATH", &cfg.Ledger.Path},
		{"PLATEWATCH_IMAGES_DIR", &cfg.Images.Dir},
		{"PLATEWATCH_MQTT_BROKER", &cfg.MQTT.Broker},
		{"PLATEWATCH_MQTT_USERNAME", &cfg.MQTT.Username},
		{"PLATEWATCH_MQTT_PASSWORD", &cfg.MQTT.Password},
		{"PLATEWATCH_LIVE_TOPIC", &cfg.MQTT.Topics.Live},
		{"PLATEWATCH_HISTORY_TOPIC", &cfg.MQTT.Topics.History},
		{"PLATEWATCH_CONTROL_TOPIC", &cfg.MQTT.Topics.Control},
		{"PLATEWATCH_KAFKA_TOPIC", &cfg.Kafka.Topic},
		{"PLATEWATCH_WEBHOOK_URL", &cfg.Webhook.URL},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	if v := os.Getenv("PLATEWATCH_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}

	durs := []struct {
		key string
		dst *time.Duration
	}{
		{"PLATEWATCH_DEBOUNCE", &cfg.Tracker.Debounce},
		{"PLATEWATCH_MAX_AGE", &cfg.Tracker.MaxAge},
		{"PLATEWATCH_OCR_TIMEOUT", &cfg.OCR.Timeout},
		{"PLATEWATCH_HISTORY_PACE", &cfg.History.Pace},
	}
	for _, d := range durs {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"PLATEWATCH_IMAGES", &cfg.Images.Enabled},
		{"PLATEWATCH_LEDGER_SYNC", &cfg.Ledger.Sync},
		{"PLATEWATCH_OUTPUT_STDOUT", &cfg.Output.Stdout},
		{"PLATEWATCH_OUTPUT_PRETTY", &cfg.Output.Pretty},
	}
	for _, b := range bools {
		v := os.Getenv(b.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
		*b.dst = parsed
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
