// Package pico wires the micglow matrix and microphone to an RP2040 board.
package pico

import (
	"machine"
	"runtime/interrupt"

	"libdb.so/micglow/loudness"
	"libdb.so/micglow/matrix"
	"tinygo.org/x/drivers/ws2812"
)

var (
	// LEDPin is the data line of the 5×5 WS2812 matrix.
	LEDPin = machine.GPIO7
	// MicPin is the electret microphone, ADC input 2.
	MicPin = machine.ADC2
)

// Mic is the microphone on an ADC pin.
type Mic struct {
	adc machine.ADC
}

var _ loudness.ADC = (*Mic)(nil)

// NewMic configures the ADC for the given pin.
func NewMic(pin machine.Pin) *Mic {
	machine.InitADC()

	adc := machine.ADC{Pin: pin}
	adc.Configure(machine.ADCConfig{Resolution: 12})

	return &Mic{adc: adc}
}

// Read returns a 12-bit reading. machine.ADC scales every conversion to 16
// bits, so the low nibble is dropped.
func (m *Mic) Read() uint16 {
	return m.adc.Get() >> 4
}

// Strip is the WS2812 matrix.
type Strip struct {
	dev ws2812.Device
}

var (
	_ matrix.Transport   = (*Strip)(nil)
	_ matrix.FrameWriter = (*Strip)(nil)
)

// NewStrip configures pin as the WS2812 data line.
func NewStrip(pin machine.Pin) *Strip {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &Strip{dev: ws2812.New(pin)}
}

// WriteByte implements matrix.Transport.
func (s *Strip) WriteByte(c byte) error {
	var err error
	critical(func() { err = s.dev.WriteByte(c) })
	return err
}

// WriteFrame implements matrix.FrameWriter. Interrupts stay off for the
// whole frame so that no gap between bytes reaches the latch time.
func (s *Strip) WriteFrame(frame []byte) error {
	var err error
	critical(func() {
		for _, c := range frame {
			if err = s.dev.WriteByte(c); err != nil {
				return
			}
		}
	})
	return err
}

func critical(f func()) {
	state := interrupt.Disable()
	f()
	interrupt.Restore(state)
}
