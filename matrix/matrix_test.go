package matrix

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Transport that keeps every byte it was given.
type recorder struct {
	bytes  []byte
	failAt int
}

func (r *recorder) WriteByte(c byte) error {
	if r.failAt > 0 && len(r.bytes) == r.failAt {
		return errors.New("line stuck")
	}
	r.bytes = append(r.bytes, c)
	return nil
}

func newTestBuffer(t *testing.T, opts Options) (*Buffer, *recorder, *[]time.Duration) {
	t.Helper()

	var sleeps []time.Duration
	opts.Sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	rec := &recorder{}
	buf, err := New(rec, opts)
	require.NoError(t, err)
	return buf, rec, &sleeps
}

func TestNewZeroesPixels(t *testing.T) {
	buf, rec, _ := newTestBuffer(t, Options{})

	assert.Equal(t, 25, buf.Len())
	assert.Equal(t, 5, buf.Width())
	assert.Equal(t, 5, buf.Height())
	for _, p := range buf.Pixels() {
		assert.Equal(t, Pixel{}, p)
	}
	assert.Empty(t, rec.bytes, "New must not transmit")
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	_, err = New(&recorder{}, Options{Layout: Layout{Width: 0, Height: 3}})
	assert.Error(t, err)
}

func TestSetPixelChannelOrder(t *testing.T) {
	tests := []struct {
		order  ChannelOrder
		expect Pixel
	}{
		{GRB, Pixel{20, 10, 30}},
		{RGB, Pixel{10, 20, 30}},
	}

	for _, test := range tests {
		t.Run(test.order.String(), func(t *testing.T) {
			buf, _, _ := newTestBuffer(t, Options{Order: test.order})
			buf.SetPixel(3, 10, 20, 30)
			assert.Equal(t, test.expect, buf.Pixel(3))

			r, g, b := buf.RGB(3)
			assert.Equal(t, [3]uint8{10, 20, 30}, [3]uint8{r, g, b})
		})
	}
}

func TestSetPixelOutOfRange(t *testing.T) {
	buf, rec, _ := newTestBuffer(t, Options{})
	for i := 0; i < buf.Len(); i++ {
		buf.SetPixel(i, 1, 2, 3)
	}
	before := buf.Pixels()

	buf.SetPixel(25, 255, 255, 255)
	buf.SetPixel(-1, 255, 255, 255)
	buf.SetPixel(1000, 255, 255, 255)

	assert.Equal(t, before, buf.Pixels())
	assert.Empty(t, rec.bytes)
}

func TestFlushSendsWholeFrame(t *testing.T) {
	buf, rec, sleeps := newTestBuffer(t, Options{})
	buf.SetPixel(0, 1, 2, 3)
	buf.SetPixel(24, 4, 5, 6)
	buf.Flush()

	require.Len(t, rec.bytes, 75)
	assert.Equal(t, []byte{2, 1, 3}, rec.bytes[0:3])
	assert.Equal(t, []byte{5, 4, 6}, rec.bytes[72:75])
	assert.Equal(t, []time.Duration{DefaultLatch}, *sleeps)
}

func TestClear(t *testing.T) {
	buf, rec, sleeps := newTestBuffer(t, Options{})
	for i := 0; i < buf.Len(); i++ {
		buf.SetPixel(i, 0, 200, 0)
	}

	buf.Clear()

	for _, p := range buf.Pixels() {
		assert.Equal(t, Pixel{}, p)
	}
	assert.Len(t, rec.bytes, 75, "exactly one frame")
	for _, c := range rec.bytes {
		assert.Zero(t, c)
	}
	assert.Len(t, *sleeps, 1)
}

func TestFlushTransportError(t *testing.T) {
	var reported error

	rec := &recorder{failAt: 4}
	buf, err := New(rec, Options{
		Sleep:        func(time.Duration) {},
		ErrorHandler: func(err error) { reported = err },
	})
	require.NoError(t, err)

	buf.Flush()

	assert.Len(t, rec.bytes, 4)
	assert.EqualError(t, reported, "failed to write pixel 1: line stuck")
}

// frameRecorder is a FrameWriter. WriteByte must never be reached.
type frameRecorder struct {
	frames [][]byte
	err    error
}

func (r *frameRecorder) WriteByte(byte) error {
	return errors.New("byte write on a frame transport")
}

func (r *frameRecorder) WriteFrame(frame []byte) error {
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return r.err
}

func TestFlushPrefersFrameWriter(t *testing.T) {
	var reported error

	rec := &frameRecorder{}
	buf, err := New(rec, Options{
		Layout:       Layout{Width: 2, Height: 1},
		Sleep:        NoSleep,
		ErrorHandler: func(err error) { reported = err },
	})
	require.NoError(t, err)

	buf.SetPixel(1, 1, 2, 3)
	buf.Flush()
	buf.Clear()

	assert.NoError(t, reported)
	assert.Equal(t, [][]byte{{0, 0, 0, 2, 1, 3}, {0, 0, 0, 0, 0, 0}}, rec.frames)

	rec.err = errors.New("line stuck")
	buf.Flush()
	assert.EqualError(t, reported, "failed to write frame: line stuck")
}

func TestSetPixelXY(t *testing.T) {
	buf, _, _ := newTestBuffer(t, Options{})
	buf.SetPixelXY(0, 0, 0, 9, 0)
	buf.SetPixelXY(5, 0, 0, 9, 0)
	buf.SetPixelXY(0, -1, 0, 9, 0)

	assert.Equal(t, Pixel{9, 0, 0}, buf.Pixel(24))
	lit := 0
	for _, p := range buf.Pixels() {
		if p != (Pixel{}) {
			lit++
		}
	}
	assert.Equal(t, 1, lit)
}

func TestParseChannelOrder(t *testing.T) {
	o, err := ParseChannelOrder("rgb")
	require.NoError(t, err)
	assert.Equal(t, RGB, o)

	o, err = ParseChannelOrder("")
	require.NoError(t, err)
	assert.Equal(t, GRB, o)

	_, err = ParseChannelOrder("bgr")
	assert.Error(t, err)
}
