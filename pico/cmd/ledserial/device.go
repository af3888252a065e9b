package main

import (
	"fmt"
	"machine"
	"time"

	"libdb.so/micglow/ledserial"
	"libdb.so/micglow/loudness"
	"libdb.so/micglow/matrix"
	"libdb.so/micglow/pico"
)

// Device stores the current state of the device.
type Device struct {
	serial SerialReadWriter
	strip  matrix.Transport
	mic    loudness.ADC

	numLEDs uint16
	pix     []byte
}

// NewDevice creates a new device.
func NewDevice(serial machine.Serialer, strip matrix.Transport, mic loudness.ADC) *Device {
	return &Device{
		serial: WrapSerial(serial),
		strip:  strip,
		mic:    mic,
	}
}

// Run runs the device loop forever.
func (d *Device) Run() {
	for {
		p, err := ledserial.ReadIncomingPacket(d.serial, ledserial.ReadContext{
			NumLEDs: d.numLEDs,
			Pix:     d.pix,
		})
		if err != nil {
			d.logError(err)
			continue
		}

		if err := d.handlePacket(p); err != nil {
			d.logError(err)
		}
	}
}

func (d *Device) logError(err error) {
	d.sendPacket(ledserial.ErrorPacket{Message: err.Error()})
}

func (d *Device) sendPacket(p ledserial.OutgoingPacket) {
	ledserial.WriteOutgoingPacket(d.serial, p)
}

func (d *Device) handlePacket(p ledserial.IncomingPacket) error {
	switch p := p.(type) {
	case ledserial.InitializePacket:
		if p.NumLEDs < 1 {
			return fmt.Errorf("invalid number of LEDs: %d", p.NumLEDs)
		}
		d.numLEDs = p.NumLEDs
		d.pix = make([]byte, 3*int(p.NumLEDs))
		if err := d.writeFrame(d.pix); err != nil {
			return err
		}
		d.sendPacket(ledserial.LogPacket{
			Message: fmt.Sprintf("initialized %d LEDs", p.NumLEDs),
		})

	case ledserial.ClearPacket:
		for i := range d.pix {
			d.pix[i] = 0
		}
		if err := d.writeFrame(d.pix); err != nil {
			return err
		}

	case ledserial.SetPacket:
		if err := d.writeFrame(p.Pix); err != nil {
			return err
		}

	case ledserial.SampleRequestPacket:
		if p.Count < 1 || p.Count > ledserial.MaxSamples {
			return fmt.Errorf("invalid sample count: %d", p.Count)
		}
		raw := make([]uint16, p.Count)
		for i := range raw {
			raw[i] = d.mic.Read()
		}
		d.sendPacket(ledserial.SamplesPacket{Raw: raw})
		return nil

	default:
		return fmt.Errorf("unknown packet type: %T", p)
	}

	d.sendPacket(ledserial.AckPacket{
		IncomingPacketType: p.Type(),
	})
	return nil
}

func (d *Device) writeFrame(pix []byte) error {
	if fw, ok := d.strip.(matrix.FrameWriter); ok {
		if err := fw.WriteFrame(pix); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		time.Sleep(matrix.DefaultLatch)
		return nil
	}

	for _, b := range pix {
		if err := d.strip.WriteByte(b); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
	}
	time.Sleep(matrix.DefaultLatch)
	return nil
}

func main() {
	strip := pico.NewStrip(pico.LEDPin)
	mic := pico.NewMic(pico.MicPin)

	NewDevice(machine.Serial, strip, mic).Run()
}
