package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Channel kinds
const (
	KindProbe            = "probe"
	KindComboTemperature = "combo_temperature"
	KindComboHumidity    = "combo_humidity"
)

// Config represents the application configuration.
type Config struct {
	Sampling SamplingConfig  `yaml:"sampling"`
	Clock    ClockConfig     `yaml:"clock"`
	Channels []ChannelConfig `yaml:"channels"`
	Sensors  SensorsConfig   `yaml:"sensors"`
	Webhook  WebhookConfig   `yaml:"webhook"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	Status   StatusConfig    `yaml:"status"`
}

// SamplingConfig controls boundary alignment and window size.
type SamplingConfig struct {
	IntervalMinutes     int           `yaml:"interval_minutes"`      // Sample at minute % interval == 0, second 0
	SamplesPerWindow    int           `yaml:"samples_per_window"`    // Ring capacity per channel
	ReportTriggerSecond int           `yaml:"report_trigger_second"` // Report at hh:00:<second>
	PollInterval        time.Duration `yaml:"poll_interval"`         // Scheduler tick
}

// ClockConfig contains NTP and time zone configuration.
type ClockConfig struct {
	NTPPrimary       string        `yaml:"ntp_primary"`
	NTPSecondary     string        `yaml:"ntp_secondary"`
	UTCOffsetSeconds int           `yaml:"utc_offset_seconds"`
	MinEpoch         int64         `yaml:"min_epoch"`
	ResyncInterval   time.Duration `yaml:"resync_interval"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
}

// ChannelConfig describes one logical reading stream.
type ChannelConfig struct {
	Key     string `yaml:"key"`     // JSON key in the report and state payload
	Name    string `yaml:"name"`    // Display name
	Kind    string `yaml:"kind"`    // probe, combo_temperature or combo_humidity
	Address string `yaml:"address"` // DS18B20 ROM code or w1 id, probes only
	Unit    string `yaml:"unit"`
}

// SensorsConfig selects and configures the sensor drivers.
type SensorsConfig struct {
	W1DevicesPath string        `yaml:"w1_devices_path"`
	SerialPort    string        `yaml:"serial_port"`
	SerialBaud    int           `yaml:"serial_baud"`
	SerialTimeout time.Duration `yaml:"serial_timeout"`
	Simulate      bool          `yaml:"simulate"`
	SimDropout    float64       `yaml:"sim_dropout"` // Probability a simulated read fails
}

// WebhookConfig configures report delivery.
type WebhookConfig struct {
	URL                string        `yaml:"url"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"` // Reduced security, trusts any certificate
	Async              bool          `yaml:"async"`                // Hand reports to a delivery worker
}

// MQTTConfig configures the live telemetry sink.
type MQTTConfig struct {
	Broker            string        `yaml:"broker"`
	Port              int           `yaml:"port"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"-"`
	Password          string        `yaml:"-"`
	DeviceName        string        `yaml:"device_name"`
	Manufacturer      string        `yaml:"manufacturer"`
	MirrorInterval    time.Duration `yaml:"mirror_interval"`     // Fast read cadence for live values
	MinUpdateInterval time.Duration `yaml:"min_update_interval"` // Sink's minimum interval between updates
	Disabled          bool          `yaml:"disabled"`
}

// StatusConfig configures the status HTTP endpoint.
type StatusConfig struct {
	Listen string `yaml:"listen"` // Empty disables the endpoint
}

// Default returns a default configuration matching the reference node:
// four DS18B20 probes and one DHT11 sampled every 10 minutes, reported
// hourly at hh:00:05 in GMT+8.
func Default() *Config {
	return &Config{
		Sampling: SamplingConfig{
			IntervalMinutes:     10,
			SamplesPerWindow:    6,
			ReportTriggerSecond: 5,
			PollInterval:        200 * time.Millisecond,
		},
		Clock: ClockConfig{
			NTPPrimary:       "pool.ntp.org",
			NTPSecondary:     "time.nist.gov",
			UTCOffsetSeconds: 8 * 3600,
			MinEpoch:         946684800, // 2000-01-01
			ResyncInterval:   12 * time.Hour,
			QueryTimeout:     5 * time.Second,
		},
		Channels: DefaultChannels(),
		Sensors: SensorsConfig{
			W1DevicesPath: "/sys/bus/w1/devices",
			SerialPort:    "/dev/ttyUSB0",
			SerialBaud:    9600,
			SerialTimeout: 2 * time.Second,
			SimDropout:    0.02,
		},
		Webhook: WebhookConfig{
			Timeout:            10 * time.Second,
			InsecureSkipVerify: true,
		},
		MQTT: MQTTConfig{
			Broker:            "homeassistant.lan",
			Port:              1883,
			ClientID:          "sensorctl",
			DeviceName:        "Sensor Node",
			Manufacturer:      "Custom",
			MirrorInterval:    10 * time.Second,
			MinUpdateInterval: 10 * time.Second,
		},
		Status: StatusConfig{
			Listen: ":8080",
		},
	}
}

// DefaultChannels returns the six reference channels
func DefaultChannels() []ChannelConfig {
	return []ChannelConfig{
		{Key: "sensor1", Name: "Sensor 1", Kind: KindProbe, Address: "2888955704E13D02", Unit: "°C"},
		{Key: "sensor2", Name: "Sensor 2", Kind: KindProbe, Address: "288A645704E13D07", Unit: "°C"},
		{Key: "sensor3", Name: "Sensor 3", Kind: KindProbe, Address: "28D5DA5704E13DE0", Unit: "°C"},
		{Key: "sensor4", Name: "Sensor 4", Kind: KindProbe, Address: "288D175704E13DA1", Unit: "°C"},
		{Key: "dhttemp", Name: "DHT Temperature", Kind: KindComboTemperature, Unit: "°C"},
		{Key: "dhthumidity", Name: "DHT Humidity", Kind: KindComboHumidity, Unit: "%"},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills zero values left by a partial file
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Sampling.IntervalMinutes == 0 {
		c.Sampling.IntervalMinutes = def.Sampling.IntervalMinutes
	}
	if c.Sampling.SamplesPerWindow == 0 {
		c.Sampling.SamplesPerWindow = 60 / c.Sampling.IntervalMinutes
	}
	if c.Sampling.PollInterval == 0 {
		c.Sampling.PollInterval = def.Sampling.PollInterval
	}

	if c.Clock.MinEpoch == 0 {
		c.Clock.MinEpoch = def.Clock.MinEpoch
	}
	if c.Clock.ResyncInterval == 0 {
		c.Clock.ResyncInterval = def.Clock.ResyncInterval
	}
	if c.Clock.QueryTimeout == 0 {
		c.Clock.QueryTimeout = def.Clock.QueryTimeout
	}

	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}
	for i := range c.Channels {
		if c.Channels[i].Name == "" {
			c.Channels[i].Name = c.Channels[i].Key
		}
	}

	if c.Sensors.W1DevicesPath == "" {
		c.Sensors.W1DevicesPath = def.Sensors.W1DevicesPath
	}
	if c.Sensors.SerialBaud == 0 {
		c.Sensors.SerialBaud = def.Sensors.SerialBaud
	}
	if c.Sensors.SerialTimeout == 0 {
		c.Sensors.SerialTimeout = def.Sensors.SerialTimeout
	}

	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = def.Webhook.Timeout
	}

	if c.MQTT.Port == 0 {
		c.MQTT.Port = def.MQTT.Port
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = def.MQTT.DeviceName
	}
	if c.MQTT.MirrorInterval == 0 {
		c.MQTT.MirrorInterval = def.MQTT.MirrorInterval
	}
	if c.MQTT.MinUpdateInterval == 0 {
		c.MQTT.MinUpdateInterval = def.MQTT.MinUpdateInterval
	}
}

// Validate checks values that would break boundary alignment or the report
// schema.
func (c *Config) Validate() error {
	var errs []error

	if c.Sampling.IntervalMinutes < 1 || c.Sampling.IntervalMinutes > 60 {
		errs = append(errs, fmt.Errorf("sampling.interval_minutes must be 1-60, got %d", c.Sampling.IntervalMinutes))
	}
	if c.Sampling.SamplesPerWindow < 1 {
		errs = append(errs, fmt.Errorf("sampling.samples_per_window must be positive, got %d", c.Sampling.SamplesPerWindow))
	}
	if c.Sampling.ReportTriggerSecond < 0 || c.Sampling.ReportTriggerSecond > 59 {
		errs = append(errs, fmt.Errorf("sampling.report_trigger_second must be 0-59, got %d", c.Sampling.ReportTriggerSecond))
	}
	if c.Sampling.PollInterval <= 0 || c.Sampling.PollInterval >= time.Second {
		errs = append(errs, fmt.Errorf("sampling.poll_interval must be below 1s to catch every second, got %v", c.Sampling.PollInterval))
	}

	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("at least one channel is required"))
	}
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Key == "" {
			errs = append(errs, fmt.Errorf("channels[%d]: key is required", i))
		}
		if seen[ch.Key] {
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate key %q", i, ch.Key))
		}
		seen[ch.Key] = true

		switch ch.Kind {
		case KindProbe:
			if ch.Address == "" {
				errs = append(errs, fmt.Errorf("channels[%d] %s: probe address is required", i, ch.Key))
			}
		case KindComboTemperature, KindComboHumidity:
		default:
			errs = append(errs, fmt.Errorf("channels[%d] %s: unknown kind %q", i, ch.Key, ch.Kind))
		}
	}

	if c.MQTT.MirrorInterval < c.MQTT.MinUpdateInterval {
		errs = append(errs, fmt.Errorf("mqtt.mirror_interval %v is faster than the sink minimum %v",
			c.MQTT.MirrorInterval, c.MQTT.MinUpdateInterval))
	}

	return errors.Join(errs...)
}

// Location returns the fixed zone for the configured UTC offset
func (c *Config) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", c.Clock.UTCOffsetSeconds/3600), c.Clock.UTCOffsetSeconds)
}

// ChannelKeys returns the report key of every channel in order
func (c *Config) ChannelKeys() []string {
	keys := make([]string, len(c.Channels))
	for i, ch := range c.Channels {
		keys[i] = ch.Key
	}
	return keys
}
