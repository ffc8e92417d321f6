package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/blerx/internal/ble"
)

// DefaultConfigPath is the example receiver configuration shipped with the repository.
const DefaultConfigPath = "config/blerx.example.yaml"

// Sample source kinds.
const (
	SourceSerial = "serial"
	SourceFile   = "file"
	SourceMock   = "mock"
)

// ReceiverConfig is the root receiver configuration. Every field is optional; the Get*
// methods supply defaults for anything left unset.
type ReceiverConfig struct {
	// Sample source
	Source     *string `json:"source,omitempty" yaml:"source,omitempty"` // serial, file or mock
	SerialPort *string `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	SampleFile *string `json:"sample_file,omitempty" yaml:"sample_file,omitempty"`
	Loop       *bool   `json:"loop,omitempty" yaml:"loop,omitempty"`
	ReadSize   *int    `json:"read_size,omitempty" yaml:"read_size,omitempty"` // samples per buffer

	// Engine
	Channel      *int    `json:"channel,omitempty" yaml:"channel,omitempty"`
	RingCapacity *int    `json:"ring_capacity,omitempty" yaml:"ring_capacity,omitempty"`
	Cooldown     *int    `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
	LengthMode   *string `json:"length_mode,omitempty" yaml:"length_mode,omitempty"` // basic or extended
	Debug        *bool   `json:"debug,omitempty" yaml:"debug,omitempty"`

	// Output
	TokenQueue    *int  `json:"token_queue,omitempty" yaml:"token_queue,omitempty"`
	FrameMetadata *bool `json:"frame_metadata,omitempty" yaml:"frame_metadata,omitempty"`

	// Persistence and export
	DBPath      *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	CapturePath *string `json:"capture_path,omitempty" yaml:"capture_path,omitempty"` // strftime pattern, .gz compresses

	// MQTT
	MQTTBroker      *string `json:"mqtt_broker,omitempty" yaml:"mqtt_broker,omitempty"`
	MQTTTopicPrefix *string `json:"mqtt_topic_prefix,omitempty" yaml:"mqtt_topic_prefix,omitempty"`
	MQTTClientID    *string `json:"mqtt_client_id,omitempty" yaml:"mqtt_client_id,omitempty"`

	// Process
	Listen        *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	LogLevel      *string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	StatsInterval *string `json:"stats_interval,omitempty" yaml:"stats_interval,omitempty"` // duration string like "10s"
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyReceiverConfig returns a ReceiverConfig with all fields set to nil.
func EmptyReceiverConfig() *ReceiverConfig {
	return &ReceiverConfig{}
}

// DefaultReceiverConfig returns a config with every field populated from the defaults.
func DefaultReceiverConfig() *ReceiverConfig {
	c := EmptyReceiverConfig()
	return &ReceiverConfig{
		Source:          ptrString(c.GetSource()),
		SerialPort:      ptrString(c.GetSerialPort()),
		BaudRate:        ptrInt(c.GetBaudRate()),
		Loop:            ptrBool(c.GetLoop()),
		ReadSize:        ptrInt(c.GetReadSize()),
		Channel:         ptrInt(c.GetChannel()),
		RingCapacity:    ptrInt(c.GetRingCapacity()),
		Cooldown:        ptrInt(c.GetCooldown()),
		LengthMode:      ptrString(c.GetLengthMode()),
		Debug:           ptrBool(c.GetDebug()),
		TokenQueue:      ptrInt(c.GetTokenQueue()),
		FrameMetadata:   ptrBool(c.GetFrameMetadata()),
		MQTTTopicPrefix: ptrString(c.GetMQTTTopicPrefix()),
		Listen:          ptrString(c.GetListen()),
		LogLevel:        ptrString(c.GetLogLevel()),
		StatsInterval:   ptrString(c.GetStatsInterval().String()),
	}
}

// LoadReceiverConfig loads a ReceiverConfig from a JSON or YAML file, chosen by
// extension. Fields omitted from the file keep their defaults, so partial configs are safe.
func LoadReceiverConfig(path string) (*ReceiverConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyReceiverConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ReceiverConfig) Validate() error {
	if c.Source != nil {
		switch *c.Source {
		case SourceSerial, SourceFile, SourceMock:
		default:
			return fmt.Errorf("source must be one of serial, file, mock; got %q", *c.Source)
		}
		if *c.Source == SourceFile && c.GetSampleFile() == "" {
			return fmt.Errorf("source file requires sample_file")
		}
	}

	if c.Channel != nil && (*c.Channel < 0 || *c.Channel > ble.MaxChannel) {
		return fmt.Errorf("channel must be between 0 and %d, got %d", ble.MaxChannel, *c.Channel)
	}

	if c.ReadSize != nil && *c.ReadSize <= 0 {
		return fmt.Errorf("read_size must be positive, got %d", *c.ReadSize)
	}

	if c.TokenQueue != nil && *c.TokenQueue < 0 {
		return fmt.Errorf("token_queue must be non-negative, got %d", *c.TokenQueue)
	}

	if c.StatsInterval != nil && *c.StatsInterval != "" {
		if _, err := time.ParseDuration(*c.StatsInterval); err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
	}

	if _, err := c.EngineOptions(); err != nil {
		return err
	}
	return nil
}

// EngineOptions converts the engine fields into validated ble.Options.
func (c *ReceiverConfig) EngineOptions() (ble.Options, error) {
	mode, err := ble.ParseLengthMode(c.GetLengthMode())
	if err != nil {
		return ble.Options{}, err
	}
	ch := c.GetChannel()
	if ch < 0 || ch > ble.MaxChannel {
		return ble.Options{}, fmt.Errorf("%w: %d", ble.ErrInvalidChannel, ch)
	}
	opts := ble.Options{
		RingCapacity: c.GetRingCapacity(),
		Channel:      uint8(ch),
		Cooldown:     c.GetCooldown(),
		LengthMode:   mode,
		Debug:        c.GetDebug(),
	}
	// An unset ring grows to fit the extended length mode.
	if c.RingCapacity == nil && opts.RingCapacity < ble.MinRingCapacity(mode) {
		opts.RingCapacity = ble.MinRingCapacity(mode)
	}
	if err := opts.Validate(); err != nil {
		return ble.Options{}, err
	}
	return opts, nil
}

// GetSource returns the source value or the default.
func (c *ReceiverConfig) GetSource() string {
	if c.Source == nil || *c.Source == "" {
		return SourceSerial
	}
	return *c.Source
}

// GetSerialPort returns the serial_port value or the default.
func (c *ReceiverConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *ReceiverConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 921600
	}
	return *c.BaudRate
}

// GetSampleFile returns the sample_file value.
func (c *ReceiverConfig) GetSampleFile() string {
	if c.SampleFile == nil {
		return ""
	}
	return *c.SampleFile
}

// GetLoop returns the loop value or the default.
func (c *ReceiverConfig) GetLoop() bool {
	if c.Loop == nil {
		return false
	}
	return *c.Loop
}

// GetReadSize returns the read_size value or the default.
func (c *ReceiverConfig) GetReadSize() int {
	if c.ReadSize == nil {
		return 4096
	}
	return *c.ReadSize
}

// GetChannel returns the channel value or the default.
func (c *ReceiverConfig) GetChannel() int {
	if c.Channel == nil {
		return int(ble.AdvChannel)
	}
	return *c.Channel
}

// GetRingCapacity returns the ring_capacity value or the default.
func (c *ReceiverConfig) GetRingCapacity() int {
	if c.RingCapacity == nil {
		return ble.DefaultRingCapacity
	}
	return *c.RingCapacity
}

// GetCooldown returns the cooldown value or the default.
func (c *ReceiverConfig) GetCooldown() int {
	if c.Cooldown == nil {
		return ble.CooldownSamples
	}
	return *c.Cooldown
}

// GetLengthMode returns the length_mode value or the default.
func (c *ReceiverConfig) GetLengthMode() string {
	if c.LengthMode == nil || *c.LengthMode == "" {
		return ble.LengthBasic.String()
	}
	return *c.LengthMode
}

// GetDebug returns the debug value or the default.
func (c *ReceiverConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}

// GetTokenQueue returns the token_queue value or the default. Zero disables the token
// stream.
func (c *ReceiverConfig) GetTokenQueue() int {
	if c.TokenQueue == nil {
		return 1024
	}
	return *c.TokenQueue
}

// GetFrameMetadata returns the frame_metadata value or the default.
func (c *ReceiverConfig) GetFrameMetadata() bool {
	if c.FrameMetadata == nil {
		return false
	}
	return *c.FrameMetadata
}

// GetDBPath returns the db_path value. Empty disables the sighting store.
func (c *ReceiverConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// GetCapturePath returns the capture_path pattern. Empty disables capture.
func (c *ReceiverConfig) GetCapturePath() string {
	if c.CapturePath == nil {
		return ""
	}
	return *c.CapturePath
}

// GetMQTTBroker returns the mqtt_broker URL. Empty disables publishing.
func (c *ReceiverConfig) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return ""
	}
	return *c.MQTTBroker
}

// GetMQTTTopicPrefix returns the mqtt_topic_prefix value or the default.
func (c *ReceiverConfig) GetMQTTTopicPrefix() string {
	if c.MQTTTopicPrefix == nil || *c.MQTTTopicPrefix == "" {
		return "blerx"
	}
	return *c.MQTTTopicPrefix
}

// GetMQTTClientID returns the mqtt_client_id value. Empty lets the publisher pick one.
func (c *ReceiverConfig) GetMQTTClientID() string {
	if c.MQTTClientID == nil {
		return ""
	}
	return *c.MQTTClientID
}

// GetListen returns the listen address or the default.
func (c *ReceiverConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return "localhost:8088"
	}
	return *c.Listen
}

// GetLogLevel returns the log_level value or the default.
func (c *ReceiverConfig) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return *c.LogLevel
}

// GetStatsInterval parses and returns the StatsInterval as a time.Duration.
func (c *ReceiverConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}
