package micglow

import (
	"encoding"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"libdb.so/micglow/loudness"
	"libdb.so/micglow/matrix"
	"libdb.so/micglow/reactor"
)

// Config is the configuration for the micglow daemon.
type Config struct {
	// Matrix is the LED matrix configuration.
	Matrix MatrixConfig `toml:"matrix"`
	// Serial is the connection to a tethered controller.
	Serial SerialConfig `toml:"serial"`
	// SPI is the SPI bus used by the spi driver.
	SPI SPIConfig `toml:"spi"`
	// Mic is the microphone configuration.
	Mic MicConfig `toml:"mic"`
	// Loop is the reactive loop configuration.
	Loop LoopConfig `toml:"loop"`
	// TrendWindow is the number of iterations the loudness trend is
	// averaged over.
	TrendWindow int `toml:"trend_window"`
}

// MatrixDriver selects how frames leave the host.
type MatrixDriver string

const (
	// SerialDriver sends frames to a tethered controller.
	SerialDriver MatrixDriver = "serial"
	// SPIDriver drives WS2812 LEDs directly from a SPI bus.
	SPIDriver MatrixDriver = "spi"
	// ConsoleDriver previews frames on the terminal.
	ConsoleDriver MatrixDriver = "console"
)

// MicSource selects where microphone readings come from.
type MicSource string

const (
	// SerialSource reads the ADC of the tethered controller.
	SerialSource MicSource = "serial"
	// SyntheticSource generates silence with periodic bursts of sound.
	SyntheticSource MicSource = "synthetic"
)

// MatrixConfig is the configuration for the LED matrix.
type MatrixConfig struct {
	Driver MatrixDriver `toml:"driver"`
	Width  int          `toml:"width"`
	Height int          `toml:"height"`
	// Order is the channel order of the LEDs, "grb" or "rgb".
	Order string `toml:"order"`
	// Latch is the idle time after every frame.
	Latch TOMLDuration `toml:"latch"`
}

// Layout returns the matrix layout.
func (c MatrixConfig) Layout() matrix.Layout {
	return matrix.Layout{Width: c.Width, Height: c.Height}
}

// SerialConfig is the configuration for the serial connection.
type SerialConfig struct {
	// Device is the path to the device file of the controller.
	// This is usually /dev/ttyUSB0 or /dev/ttyACM0.
	Device string `toml:"device"`
	// Baud is the baud rate for the serial connection.
	Baud int `toml:"baud"`
	// Timeout bounds the wait for every reply of the controller.
	Timeout TOMLDuration `toml:"timeout"`
}

// SPIConfig is the configuration for the spi driver.
type SPIConfig struct {
	// Port is the SPI port name. Empty means the first one available.
	Port string `toml:"port"`
}

// MicConfig is the configuration for the microphone.
type MicConfig struct {
	Source     MicSource `toml:"source"`
	Samples    int       `toml:"samples"`
	Reference  float64   `toml:"reference"`
	Resolution int       `toml:"resolution"`
	Baseline   float64   `toml:"baseline"`
	// Batch is the number of readings fetched from a tethered controller
	// per request.
	Batch int `toml:"batch"`
}

// Params returns the loudness parameters.
func (c MicConfig) Params() loudness.Params {
	return loudness.Params{
		Samples:    c.Samples,
		Reference:  c.Reference,
		Resolution: c.Resolution,
		Baseline:   c.Baseline,
	}
}

// Midscale returns the ADC code closest to the baseline voltage.
func (c MicConfig) Midscale() uint16 {
	return uint16(c.Baseline*float64(c.Resolution)/c.Reference + 0.5)
}

// LoopConfig is the configuration for the reactive loop.
type LoopConfig struct {
	Threshold    float64      `toml:"threshold"`
	CascadeColor []int        `toml:"cascade_color"`
	CascadeStep  TOMLDuration `toml:"cascade_step"`
	Idle         TOMLDuration `toml:"idle"`
}

// Reactor returns the loop configuration for the controller.
func (c LoopConfig) Reactor() reactor.Config {
	return reactor.Config{
		Threshold: c.Threshold,
		CascadeColor: reactor.Color{
			R: uint8(c.CascadeColor[0]),
			G: uint8(c.CascadeColor[1]),
			B: uint8(c.CascadeColor[2]),
		},
		CascadeStep: time.Duration(c.CascadeStep),
		Idle:        time.Duration(c.Idle),
	}
}

// DefaultConfig returns the configuration of the stock 5×5 board: a
// tethered RP2040 with the matrix on GPIO7 and the microphone on GPIO28.
func DefaultConfig() *Config {
	loop := reactor.DefaultConfig
	mic := loudness.DefaultParams

	return &Config{
		Matrix: MatrixConfig{
			Driver: SerialDriver,
			Width:  matrix.DefaultWidth,
			Height: matrix.DefaultHeight,
			Order:  matrix.GRB.String(),
			Latch:  TOMLDuration(matrix.DefaultLatch),
		},
		Serial: SerialConfig{
			Device:  "/dev/ttyACM0",
			Baud:    115200,
			Timeout: TOMLDuration(time.Second),
		},
		Mic: MicConfig{
			Source:     SerialSource,
			Samples:    mic.Samples,
			Reference:  mic.Reference,
			Resolution: mic.Resolution,
			Baseline:   mic.Baseline,
			Batch:      mic.Samples,
		},
		Loop: LoopConfig{
			Threshold:    loop.Threshold,
			CascadeColor: []int{int(loop.CascadeColor.R), int(loop.CascadeColor.G), int(loop.CascadeColor.B)},
			CascadeStep:  TOMLDuration(loop.CascadeStep),
			Idle:         TOMLDuration(loop.Idle),
		},
		TrendWindow: 32,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Matrix.Width < 1 || c.Matrix.Height < 1 {
		return fmt.Errorf("invalid matrix size %dx%d", c.Matrix.Width, c.Matrix.Height)
	}

	if _, err := matrix.ParseChannelOrder(c.Matrix.Order); err != nil {
		return err
	}

	switch c.Matrix.Driver {
	case SerialDriver, SPIDriver, ConsoleDriver:
	default:
		return fmt.Errorf("unknown matrix driver %q", c.Matrix.Driver)
	}

	switch c.Mic.Source {
	case SerialSource, SyntheticSource:
	default:
		return fmt.Errorf("unknown mic source %q", c.Mic.Source)
	}

	if c.usesSerial() {
		// The wire format carries the strip length as a uint16.
		if n := c.Matrix.Layout().Count(); n > math.MaxUint16 {
			return fmt.Errorf("matrix of %d LEDs is too large for a serial controller", n)
		}
		if c.Serial.Device == "" {
			return errors.New("serial device is required")
		}
		if c.Serial.Baud < 1 {
			return fmt.Errorf("invalid baud rate %d", c.Serial.Baud)
		}
		if c.Mic.Source == SerialSource && c.Mic.Batch < 1 {
			return fmt.Errorf("invalid sample batch %d", c.Mic.Batch)
		}
	}

	if err := c.Mic.Params().Validate(); err != nil {
		return errors.Wrap(err, "invalid mic configuration")
	}

	if c.Loop.Threshold < 0 {
		return fmt.Errorf("negative threshold %g", c.Loop.Threshold)
	}

	if len(c.Loop.CascadeColor) != 3 {
		return fmt.Errorf("cascade color needs 3 channels, got %d", len(c.Loop.CascadeColor))
	}
	for _, v := range c.Loop.CascadeColor {
		if v < 0 || v > 0xFF {
			return fmt.Errorf("cascade color channel %d out of range", v)
		}
	}

	if c.TrendWindow < 1 {
		return fmt.Errorf("invalid trend window %d", c.TrendWindow)
	}

	return nil
}

func (c *Config) usesSerial() bool {
	return c.Matrix.Driver == SerialDriver || c.Mic.Source == SerialSource
}

// TOMLDuration is a duration that can be parsed from TOML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ParseConfig parses a configuration from a reader. Keys missing from the
// file take their DefaultConfig values.
func ParseConfig(r io.Reader) (*Config, error) {
	var config Config
	if err := toml.NewDecoder(r).Decode(&config); err != nil {
		return nil, err
	}
	config.fillDefaults(DefaultConfig())
	return &config, nil
}

func (c *Config) fillDefaults(def *Config) {
	setString(&c.Matrix.Driver, def.Matrix.Driver)
	setInt(&c.Matrix.Width, def.Matrix.Width)
	setInt(&c.Matrix.Height, def.Matrix.Height)
	setString(&c.Matrix.Order, def.Matrix.Order)
	setInt(&c.Matrix.Latch, def.Matrix.Latch)

	setString(&c.Serial.Device, def.Serial.Device)
	setInt(&c.Serial.Baud, def.Serial.Baud)
	setInt(&c.Serial.Timeout, def.Serial.Timeout)

	setString(&c.Mic.Source, def.Mic.Source)
	setInt(&c.Mic.Samples, def.Mic.Samples)
	setFloat(&c.Mic.Reference, def.Mic.Reference)
	setInt(&c.Mic.Resolution, def.Mic.Resolution)
	setFloat(&c.Mic.Baseline, def.Mic.Baseline)
	setInt(&c.Mic.Batch, def.Mic.Batch)

	setFloat(&c.Loop.Threshold, def.Loop.Threshold)
	setInt(&c.Loop.CascadeStep, def.Loop.CascadeStep)
	setInt(&c.Loop.Idle, def.Loop.Idle)
	if c.Loop.CascadeColor == nil {
		c.Loop.CascadeColor = def.Loop.CascadeColor
	}

	setInt(&c.TrendWindow, def.TrendWindow)
}

func setString[T ~string](v *T, def T) {
	if *v == "" {
		*v = def
	}
}

func setInt[T ~int | ~int64](v *T, def T) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}
