package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10, cfg.Sampling.IntervalMinutes)
	assert.Equal(t, 6, cfg.Sampling.SamplesPerWindow)
	assert.Equal(t, 5, cfg.Sampling.ReportTriggerSecond)
	assert.Equal(t, "pool.ntp.org", cfg.Clock.NTPPrimary)
	assert.Equal(t, "time.nist.gov", cfg.Clock.NTPSecondary)
	assert.Equal(t, int64(946684800), cfg.Clock.MinEpoch)
	assert.Equal(t, 12*time.Hour, cfg.Clock.ResyncInterval)
	assert.Equal(t, []string{"sensor1", "sensor2", "sensor3", "sensor4", "dhttemp", "dhthumidity"}, cfg.ChannelKeys())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_PartialYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
sampling:
  interval_minutes: 15
  report_trigger_second: 10

clock:
  utc_offset_seconds: 0
  resync_interval: 6h

channels:
  - key: inside
    kind: probe
    address: 28-3de104579588
  - key: outside_h
    name: Outside Humidity
    kind: combo_humidity
    unit: "%"

webhook:
  url: https://example.test/hook
  timeout: 8s
  async: true
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Sampling.IntervalMinutes)
	// Derived from the interval when not given
	assert.Equal(t, 4, cfg.Sampling.SamplesPerWindow)
	assert.Equal(t, 10, cfg.Sampling.ReportTriggerSecond)
	assert.Equal(t, 200*time.Millisecond, cfg.Sampling.PollInterval)
	assert.Equal(t, 0, cfg.Clock.UTCOffsetSeconds)
	assert.Equal(t, 6*time.Hour, cfg.Clock.ResyncInterval)
	assert.Equal(t, "pool.ntp.org", cfg.Clock.NTPPrimary)

	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "inside", cfg.Channels[0].Name, "name falls back to key")
	assert.Equal(t, "Outside Humidity", cfg.Channels[1].Name)

	assert.Equal(t, "https://example.test/hook", cfg.Webhook.URL)
	assert.Equal(t, 8*time.Second, cfg.Webhook.Timeout)
	assert.True(t, cfg.Webhook.Async)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampling: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Sampling.IntervalMinutes = 5
	cfg.Sampling.SamplesPerWindow = 12
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Sampling.IntervalMinutes)
	assert.Equal(t, 12, loaded.Sampling.SamplesPerWindow)
	assert.Equal(t, cfg.Channels, loaded.Channels)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero interval", func(c *Config) { c.Sampling.IntervalMinutes = 0 }},
		{"interval over an hour", func(c *Config) { c.Sampling.IntervalMinutes = 61 }},
		{"trigger second out of range", func(c *Config) { c.Sampling.ReportTriggerSecond = 60 }},
		{"slow poll", func(c *Config) { c.Sampling.PollInterval = 2 * time.Second }},
		{"no channels", func(c *Config) { c.Channels = nil }},
		{"duplicate key", func(c *Config) { c.Channels[1].Key = c.Channels[0].Key }},
		{"probe without address", func(c *Config) { c.Channels[0].Address = "" }},
		{"unknown kind", func(c *Config) { c.Channels[0].Kind = "thermocouple" }},
		{"mirror faster than sink", func(c *Config) { c.MQTT.MirrorInterval = 5 * time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MQTT_USERNAME", "node")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("MQTT_BROKER", "broker.lan")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("WEBHOOK_URL", "https://example.test/exec")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "node", cfg.MQTT.Username)
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.Equal(t, "broker.lan", cfg.MQTT.Broker)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "https://example.test/exec", cfg.Webhook.URL)
}

func TestLoadEnv_ReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SENSORCTL_TEST_VALUE=from-file\n"), 0644))
	t.Setenv("SENSORCTL_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("SENSORCTL_TEST_VALUE"))

	LoadEnv(path)

	assert.Equal(t, "from-file", os.Getenv("SENSORCTL_TEST_VALUE"))
}

func TestLocation(t *testing.T) {
	cfg := Default()
	_, offset := time.Date(2026, 1, 1, 0, 0, 0, 0, cfg.Location()).Zone()
	assert.Equal(t, 8*3600, offset)
}
