// Package matrix holds the pixel buffer of an addressable LED matrix and
// pushes it, byte by byte, into the LED transport.
package matrix

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultWidth is the width of the 5×5 matrix.
	DefaultWidth = 5
	// DefaultHeight is the height of the 5×5 matrix.
	DefaultHeight = 5
	// DefaultLatch is the idle time the WS2812 line needs after a frame
	// before the pixels latch the new colors.
	DefaultLatch = 100 * time.Microsecond
	// BitRate is the WS2812 data rate in Hz.
	BitRate = 800_000
)

// Transport is the serial bit-stream sender for LED color data. It takes one
// channel byte per call. ws2812.Device satisfies it.
type Transport interface {
	WriteByte(byte) error
}

// FrameWriter is implemented by transports that can send a whole frame at
// once. Flush prefers it over WriteByte.
type FrameWriter interface {
	WriteFrame([]byte) error
}

// ChannelOrder is the order in which the transport expects the channels of
// one pixel.
type ChannelOrder uint8

const (
	// GRB is the WS2812 wire order.
	GRB ChannelOrder = iota
	// RGB is plain red, green, blue.
	RGB
)

// String returns the lowercase name of the order.
func (o ChannelOrder) String() string {
	switch o {
	case GRB:
		return "grb"
	case RGB:
		return "rgb"
	default:
		return fmt.Sprintf("ChannelOrder(%d)", o)
	}
}

// ParseChannelOrder parses "grb" or "rgb".
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch s {
	case "grb", "":
		return GRB, nil
	case "rgb":
		return RGB, nil
	default:
		return 0, fmt.Errorf("unknown channel order %q", s)
	}
}

// NoSleep can be used as Options.Sleep for transports that pace themselves.
func NoSleep(time.Duration) {}

// Pixel is a single LED. Its three channels are stored in transport order,
// which is not necessarily red, green, blue.
type Pixel [3]uint8

// Options configures a Buffer.
type Options struct {
	// Layout is the physical grid. The zero value means 5×5.
	Layout Layout
	// Order is the channel order of the transport.
	Order ChannelOrder
	// Latch is the idle delay after every flush. The zero value means
	// DefaultLatch.
	Latch time.Duration
	// Sleep blocks for the given duration. It defaults to time.Sleep.
	Sleep func(time.Duration)
	// ErrorHandler is called when the transport rejects a byte. The frame
	// is abandoned at that byte. It may be nil.
	ErrorHandler func(error)
}

// Buffer is the in-memory frame of the matrix. It is owned by a single
// goroutine; nothing in it is synchronized.
type Buffer struct {
	pixels    []Pixel
	transport Transport
	layout    Layout
	order     ChannelOrder
	latch     time.Duration
	sleep     func(time.Duration)
	onError   func(error)
	frame     []byte
}

// New creates a new buffer on top of the given transport. The transport must
// already be configured for its output pin at BitRate. All pixels start off.
func New(t Transport, opts Options) (*Buffer, error) {
	if t == nil {
		return nil, errors.New("nil transport")
	}

	layout := opts.Layout
	if layout == (Layout{}) {
		layout = DefaultLayout
	}
	if layout.Width < 1 || layout.Height < 1 {
		return nil, fmt.Errorf("invalid matrix size %dx%d", layout.Width, layout.Height)
	}

	buf := &Buffer{
		pixels:    make([]Pixel, layout.Count()),
		transport: t,
		layout:    layout,
		order:     opts.Order,
		latch:     opts.Latch,
		sleep:     opts.Sleep,
		onError:   opts.ErrorHandler,
	}
	if buf.latch == 0 {
		buf.latch = DefaultLatch
	}
	if buf.sleep == nil {
		buf.sleep = time.Sleep
	}

	return buf, nil
}

// Len returns the number of pixels.
func (buf *Buffer) Len() int { return len(buf.pixels) }

// Width returns the number of columns.
func (buf *Buffer) Width() int { return buf.layout.Width }

// Height returns the number of rows.
func (buf *Buffer) Height() int { return buf.layout.Height }

// Layout returns the grid the buffer was built for.
func (buf *Buffer) Layout() Layout { return buf.layout }

// Order returns the transport channel order.
func (buf *Buffer) Order() ChannelOrder { return buf.order }

// SetPixel sets the color of the pixel at the given index. Indices outside
// [0, Len()) are ignored.
func (buf *Buffer) SetPixel(i int, r, g, b uint8) {
	if i < 0 || i >= len(buf.pixels) {
		return
	}
	switch buf.order {
	case RGB:
		buf.pixels[i] = Pixel{r, g, b}
	default:
		buf.pixels[i] = Pixel{g, r, b}
	}
}

// SetPixelXY sets the pixel at the given grid position using the serpentine
// mapping. Positions outside the grid are ignored.
func (buf *Buffer) SetPixelXY(x, y int, r, g, b uint8) {
	if !buf.layout.Contains(x, y) {
		return
	}
	buf.SetPixel(buf.layout.MapCoordinate(x, y), r, g, b)
}

// Pixel returns the raw pixel at the given index, in transport order. The
// zero Pixel is returned for out-of-range indices.
func (buf *Buffer) Pixel(i int) Pixel {
	if i < 0 || i >= len(buf.pixels) {
		return Pixel{}
	}
	return buf.pixels[i]
}

// RGB returns the color of the pixel at the given index as red, green, blue.
func (buf *Buffer) RGB(i int) (r, g, b uint8) {
	p := buf.Pixel(i)
	if buf.order == RGB {
		return p[0], p[1], p[2]
	}
	return p[1], p[0], p[2]
}

// Pixels returns a copy of the whole frame.
func (buf *Buffer) Pixels() []Pixel {
	return append([]Pixel(nil), buf.pixels...)
}

// Flush transmits the whole frame to the transport, then waits for the
// latch delay.
func (buf *Buffer) Flush() {
	buf.write()
	buf.sleep(buf.latch)
}

func (buf *Buffer) write() {
	if fw, ok := buf.transport.(FrameWriter); ok {
		buf.frame = buf.frame[:0]
		for _, p := range buf.pixels {
			buf.frame = append(buf.frame, p[:]...)
		}
		if err := fw.WriteFrame(buf.frame); err != nil && buf.onError != nil {
			buf.onError(errors.Wrap(err, "failed to write frame"))
		}
		return
	}

	for i, p := range buf.pixels {
		for _, c := range p {
			if err := buf.transport.WriteByte(c); err != nil {
				if buf.onError != nil {
					buf.onError(errors.Wrapf(err, "failed to write pixel %d", i))
				}
				return
			}
		}
	}
}

// Clear turns every pixel off and flushes once.
func (buf *Buffer) Clear() {
	for i := range buf.pixels {
		buf.pixels[i] = Pixel{}
	}
	buf.Flush()
}
