// Package periphled drives the matrix from the host through a periph.io
// display: WS2812 LEDs on a SPI bus, or a preview line on the terminal.
package periphled

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"libdb.so/micglow/matrix"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/devices/v3/screen1d"
	"periph.io/x/host/v3"
)

// SPIFrequency is the SPI clock that nrzled needs to emit the WS2812 bit
// rate: three SPI bits per LED bit, plus headroom.
const SPIFrequency = 3*matrix.BitRate*physic.Hertz + 100*physic.KiloHertz

// Strip is a matrix.Transport that gathers bytes into a whole frame and then
// draws it onto a display.Drawer in one go.
type Strip struct {
	drawer display.Drawer
	closer func() error
	order  matrix.ChannelOrder
	frame  []byte
	img    *image.NRGBA
}

var _ matrix.Transport = (*Strip)(nil)

// New creates a strip of numLEDs LEDs drawing onto d.
func New(d display.Drawer, numLEDs int, order matrix.ChannelOrder) *Strip {
	return &Strip{
		drawer: d,
		order:  order,
		frame:  make([]byte, 0, 3*numLEDs),
		img:    image.NewNRGBA(image.Rect(0, 0, numLEDs, 1)),
	}
}

// OpenSPI opens the named SPI port (or the first one if name is empty) and
// returns a strip driving WS2812 LEDs on it.
func OpenSPI(name string, numLEDs int, order matrix.ChannelOrder) (*Strip, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph host")
	}

	port, err := spireg.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open SPI port")
	}

	s, err := NewSPI(port, numLEDs, order)
	if err != nil {
		port.Close()
		return nil, err
	}
	s.closer = port.Close
	return s, nil
}

// NewSPI creates a strip driving WS2812 LEDs on an already open SPI port.
func NewSPI(port spi.Port, numLEDs int, order matrix.ChannelOrder) (*Strip, error) {
	d, err := nrzled.NewSPI(port, &nrzled.Opts{
		NumPixels: numLEDs,
		Channels:  3,
		Freq:      SPIFrequency,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create nrzled device")
	}
	return New(d, numLEDs, order), nil
}

// OpenConsole returns a strip that prints every frame on stdout.
func OpenConsole(numLEDs int, order matrix.ChannelOrder) *Strip {
	d := screen1d.New(&screen1d.Opts{X: numLEDs})
	return New(d, numLEDs, order)
}

// WriteByte implements matrix.Transport.
func (s *Strip) WriteByte(c byte) error {
	s.frame = append(s.frame, c)
	if len(s.frame) < cap(s.frame) {
		return nil
	}

	for i := 0; i < len(s.frame); i += 3 {
		s.img.SetNRGBA(i/3, 0, s.color(s.frame[i:i+3]))
	}
	s.frame = s.frame[:0]

	if err := s.drawer.Draw(s.drawer.Bounds(), s.img, image.Point{}); err != nil {
		return errors.Wrap(err, "failed to draw frame")
	}
	return nil
}

func (s *Strip) color(p []byte) color.NRGBA {
	if s.order == matrix.RGB {
		return color.NRGBA{R: p[0], G: p[1], B: p[2], A: 0xFF}
	}
	return color.NRGBA{R: p[1], G: p[0], B: p[2], A: 0xFF}
}

// Close turns the LEDs off and releases the port.
func (s *Strip) Close() error {
	err := s.drawer.Halt()
	if s.closer != nil {
		if cerr := s.closer(); err == nil {
			err = cerr
		}
	}
	return err
}
