package ledserial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"
)

// ErrLinkClosed is returned once the listening side of a Link has stopped.
var ErrLinkClosed = errors.New("link closed")

// LinkConfig configures a Link.
type LinkConfig struct {
	// NumLEDs is the length of the strip on the device.
	NumLEDs int
	// SampleBatch is the number of ADC readings fetched per request.
	SampleBatch int
	// Timeout bounds the wait for every reply.
	Timeout time.Duration
	// Midscale is returned by Read after the link has failed, so that the
	// estimator sees silence.
	Midscale uint16
}

// Link is the host end of a tethered controller. It is both the LED
// transport and the microphone ADC of the host daemon: bytes written with
// WriteByte are gathered into whole frames and sent as SetPackets, and Read
// hands out readings fetched in batches.
//
// Listen must be running for any request to complete. Apart from Listen, a
// Link must only be used from one goroutine.
type Link struct {
	w       io.Writer
	r       io.Reader
	cfg     LinkConfig
	logger  *slog.Logger
	packets chan OutgoingPacket
	done    chan struct{}

	frame   []byte
	samples []uint16
	err     error
}

// NewLink creates a new link over rw. NumLEDs must fit the uint16 length
// field of InitializePacket.
func NewLink(rw io.ReadWriter, cfg LinkConfig, logger *slog.Logger) (*Link, error) {
	if cfg.NumLEDs < 1 || cfg.NumLEDs > math.MaxUint16 {
		return nil, fmt.Errorf("invalid number of LEDs: %d", cfg.NumLEDs)
	}
	if cfg.SampleBatch < 1 {
		cfg.SampleBatch = 1
	}
	if cfg.SampleBatch > MaxSamples {
		cfg.SampleBatch = MaxSamples
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	return &Link{
		w:       rw,
		r:       rw,
		cfg:     cfg,
		logger:  logger,
		packets: make(chan OutgoingPacket),
		done:    make(chan struct{}),
		frame:   make([]byte, 0, 3*cfg.NumLEDs),
	}, nil
}

// Listen reads packets from the device until ctx is canceled or the reader
// fails.
func (l *Link) Listen(ctx context.Context) error {
	defer close(l.done)

	for ctx.Err() == nil {
		p, err := ReadOutgoingPacket(l.r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A short read indicates a timeout. This is expected.
			if errors.Is(err, io.EOF) {
				continue
			}
			return fmt.Errorf("failed to read packet: %w", err)
		}

		l.logger.Debug(
			"received packet from controller",
			"type", p.Type())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case l.packets <- p:
			// ok
		}
	}

	return ctx.Err()
}

// Err returns the first error the link ran into, if any. After an error,
// WriteByte fails and Read returns Midscale.
func (l *Link) Err() error {
	return l.err
}

// Initialize tells the device the strip length and waits for its ack.
func (l *Link) Initialize() error {
	return l.request(InitializePacket{NumLEDs: uint16(l.cfg.NumLEDs)})
}

// WriteByte implements matrix.Transport. A SetPacket is sent, and
// acknowledged, every time a whole frame has been written.
func (l *Link) WriteByte(c byte) error {
	if l.err != nil {
		return l.err
	}

	l.frame = append(l.frame, c)
	if len(l.frame) < 3*l.cfg.NumLEDs {
		return nil
	}

	err := l.request(SetPacket{Pix: l.frame})
	l.frame = l.frame[:0]
	return err
}

// Read implements loudness.ADC.
func (l *Link) Read() uint16 {
	if l.err != nil {
		return l.cfg.Midscale
	}

	if len(l.samples) == 0 {
		samples, err := l.fetchSamples()
		if err != nil {
			return l.cfg.Midscale
		}
		l.samples = samples
	}

	v := l.samples[0]
	l.samples = l.samples[1:]
	return v
}

func (l *Link) fetchSamples() ([]uint16, error) {
	if err := l.send(SampleRequestPacket{Count: uint16(l.cfg.SampleBatch)}); err != nil {
		return nil, err
	}

	p, err := l.await(func(p OutgoingPacket) bool {
		_, ok := p.(SamplesPacket)
		return ok
	})
	if err != nil {
		return nil, l.fail(err)
	}

	samples := p.(SamplesPacket).Raw
	if len(samples) == 0 {
		return nil, l.fail(errors.New("controller sent no samples"))
	}
	return samples, nil
}

func (l *Link) request(p IncomingPacket) error {
	if err := l.send(p); err != nil {
		return err
	}

	_, err := l.await(func(reply OutgoingPacket) bool {
		ack, ok := reply.(AckPacket)
		return ok && ack.IncomingPacketType == p.Type()
	})
	if err != nil {
		return l.fail(fmt.Errorf("no ack for %s packet: %w", p.Type(), err))
	}
	return nil
}

func (l *Link) send(p IncomingPacket) error {
	l.logger.Debug(
		"writing packet",
		"type", p.Type())

	if err := WriteIncomingPacket(l.w, p); err != nil {
		return l.fail(fmt.Errorf("failed to write %s packet: %w", p.Type(), err))
	}
	return nil
}

// await waits for the first packet accepted by want. Log packets are logged
// and skipped, error and panic packets end the wait.
func (l *Link) await(want func(OutgoingPacket) bool) (OutgoingPacket, error) {
	timer := time.NewTimer(l.cfg.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-l.done:
			return nil, ErrLinkClosed

		case <-timer.C:
			return nil, fmt.Errorf("timed out after %s", l.cfg.Timeout)

		case p := <-l.packets:
			switch p := p.(type) {
			case LogPacket:
				l.logger.Info(
					"received log packet from controller",
					"message", p.Message)
				continue
			case ErrorPacket:
				return nil, fmt.Errorf("controller reported error: %s", p.Message)
			case PanicPacket:
				return nil, errors.New("controller panicked")
			}

			if want(p) {
				return p, nil
			}

			l.logger.Warn(
				"dropping unexpected packet from controller",
				"type", p.Type())
		}
	}
}

func (l *Link) fail(err error) error {
	if l.err == nil {
		l.err = err
	}
	return l.err
}
