package micglow

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libdb.so/micglow/reactor"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 25, cfg.Matrix.Layout().Count())
	assert.Equal(t, reactor.DefaultConfig, cfg.Loop.Reactor())
	assert.Equal(t, 100*time.Microsecond, time.Duration(cfg.Matrix.Latch))
	assert.Contains(t, []uint16{2047, 2048}, cfg.Mic.Midscale())
}

const exampleConfig = `
trend_window = 8

[matrix]
driver = "console"
order = "rgb"
latch = "300us"

[mic]
source = "synthetic"
samples = 40

[loop]
threshold = 0.5
cascade_color = [255, 0, 64]
cascade_step = "50ms"
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(exampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ConsoleDriver, cfg.Matrix.Driver)
	assert.Equal(t, "rgb", cfg.Matrix.Order)
	assert.Equal(t, 300*time.Microsecond, time.Duration(cfg.Matrix.Latch))
	assert.Equal(t, SyntheticSource, cfg.Mic.Source)
	assert.Equal(t, 40, cfg.Mic.Samples)
	assert.Equal(t, 8, cfg.TrendWindow)

	loop := cfg.Loop.Reactor()
	assert.Equal(t, 0.5, loop.Threshold)
	assert.Equal(t, reactor.Color{R: 255, G: 0, B: 64}, loop.CascadeColor)
	assert.Equal(t, 50*time.Millisecond, loop.CascadeStep)

	// Keys missing from the file keep their defaults.
	assert.Equal(t, 200*time.Millisecond, loop.Idle)
	assert.Equal(t, 5, cfg.Matrix.Width)
	assert.Equal(t, 1.65, cfg.Mic.Baseline)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Device)
}

func TestParseConfigBadDuration(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("[loop]\nidle = \"soon\"\n"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad driver", func(c *Config) { c.Matrix.Driver = "hdmi" }},
		{"bad source", func(c *Config) { c.Mic.Source = "radio" }},
		{"bad order", func(c *Config) { c.Matrix.Order = "bgr" }},
		{"bad size", func(c *Config) { c.Matrix.Width = 0 }},
		{"no device", func(c *Config) { c.Serial.Device = "" }},
		{"bad samples", func(c *Config) { c.Mic.Samples = 0 }},
		{"negative threshold", func(c *Config) { c.Loop.Threshold = -1 }},
		{"short color", func(c *Config) { c.Loop.CascadeColor = []int{1, 2} }},
		{"color overflow", func(c *Config) { c.Loop.CascadeColor = []int{1, 2, 256} }},
		{"serial matrix too large", func(c *Config) { c.Matrix.Width, c.Matrix.Height = 300, 300 }},
		{"serial mic with large matrix", func(c *Config) {
			c.Matrix.Driver = ConsoleDriver
			c.Matrix.Width, c.Matrix.Height = 256, 256
		}},
		{"baseline above reference", func(c *Config) { c.Mic.Baseline = 5 }},
		{"negative baseline", func(c *Config) { c.Mic.Baseline = -1 }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigLargeMatrixWithoutSerial(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Matrix.Driver = ConsoleDriver
	cfg.Mic.Source = SyntheticSource
	cfg.Matrix.Width, cfg.Matrix.Height = 300, 300

	assert.NoError(t, cfg.Validate())
}

func TestConfigSerialOptional(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Matrix.Driver = ConsoleDriver
	cfg.Mic.Source = SyntheticSource
	cfg.Serial.Device = ""

	assert.NoError(t, cfg.Validate())
}
