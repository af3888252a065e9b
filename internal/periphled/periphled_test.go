package periphled

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libdb.so/micglow/matrix"
	"periph.io/x/conn/v3/spi/spitest"
)

// drawRecorder is a display.Drawer that keeps a copy of every frame.
type drawRecorder struct {
	bounds image.Rectangle
	frames []*image.NRGBA
	halted bool
}

func (d *drawRecorder) String() string          { return "recorder" }
func (d *drawRecorder) Halt() error             { d.halted = true; return nil }
func (d *drawRecorder) ColorModel() color.Model { return color.NRGBAModel }
func (d *drawRecorder) Bounds() image.Rectangle { return d.bounds }
func (d *drawRecorder) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	img := image.NewNRGBA(r)
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, 0, src.At(x+sp.X, sp.Y))
	}
	d.frames = append(d.frames, img)
	return nil
}

func TestStripDrawsWholeFrames(t *testing.T) {
	d := &drawRecorder{bounds: image.Rect(0, 0, 2, 1)}
	s := New(d, 2, matrix.GRB)

	for _, c := range []byte{200, 10, 20, 0, 0, 0} {
		require.NoError(t, s.WriteByte(c))
	}
	require.Len(t, d.frames, 1)
	assert.Equal(t, color.NRGBA{R: 10, G: 200, B: 20, A: 0xFF}, d.frames[0].NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{A: 0xFF}, d.frames[0].NRGBAAt(1, 0))

	// Half a frame draws nothing.
	require.NoError(t, s.WriteByte(1))
	assert.Len(t, d.frames, 1)

	require.NoError(t, s.Close())
	assert.True(t, d.halted)
}

func TestStripRGBOrder(t *testing.T) {
	d := &drawRecorder{bounds: image.Rect(0, 0, 1, 1)}
	s := New(d, 1, matrix.RGB)

	for _, c := range []byte{1, 2, 3} {
		require.NoError(t, s.WriteByte(c))
	}
	assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 0xFF}, d.frames[0].NRGBAAt(0, 0))
}

func TestStripOnSPI(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSPI(spitest.NewRecordRaw(&buf), 25, matrix.GRB)
	require.NoError(t, err)

	leds, err := matrix.New(s, matrix.Options{Sleep: matrix.NoSleep})
	require.NoError(t, err)

	leds.SetPixel(0, 0, 200, 0)
	leds.Flush()
	first := buf.Len()
	assert.NotZero(t, first)

	leds.Clear()
	assert.Greater(t, buf.Len(), first)
}
