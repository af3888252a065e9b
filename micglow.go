// Package micglow runs the sound-reactive LED matrix loop on a host: frames
// go to a tethered controller, a SPI bus or the terminal, and loudness comes
// from the tethered controller's microphone or a synthetic source.
package micglow

import (
	"context"
	"log/slog"
	"time"

	"github.com/noriah/catnip/util"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
	"libdb.so/micglow/internal/periphled"
	"libdb.so/micglow/internal/synthmic"
	"libdb.so/micglow/ledserial"
	"libdb.so/micglow/loudness"
	"libdb.so/micglow/matrix"
	"libdb.so/micglow/reactor"
)

// Daemon is the main micglow daemon.
type Daemon struct {
	cfg    *Config
	logger *slog.Logger
	clock  reactor.Clock
}

// NewDaemon creates a new micglow daemon.
func NewDaemon(cfg *Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &Daemon{
		cfg:    cfg,
		logger: logger,
		clock:  reactor.SleepClock{},
	}, nil
}

// Run starts the daemon. It blocks until the given context is canceled or a
// device fails.
func (d *Daemon) Run(ctx context.Context) error {
	return (&internalDaemon{Daemon: d}).Run(ctx)
}

type internalDaemon struct {
	*Daemon
	link      *ledserial.Link
	transport matrix.Transport
	adc       loudness.ADC
	trend     *util.MovingWindow
}

func (d *internalDaemon) Run(ctx context.Context) error {
	var port serial.Port
	if d.cfg.usesSerial() {
		p, err := serial.Open(d.cfg.Serial.Device, &serial.Mode{
			BaudRate: d.cfg.Serial.Baud,
		})
		if err != nil {
			return errors.Wrap(err, "failed to open serial port")
		}
		defer p.Close()

		if err := p.SetReadTimeout(serial.NoTimeout); err != nil {
			return errors.Wrap(err, "failed to reset read timeout")
		}

		port = p
		d.link, err = ledserial.NewLink(port, ledserial.LinkConfig{
			NumLEDs:     d.cfg.Matrix.Layout().Count(),
			SampleBatch: d.cfg.Mic.Batch,
			Timeout:     time.Duration(d.cfg.Serial.Timeout),
			Midscale:    d.cfg.Mic.Midscale(),
		}, d.logger)
		if err != nil {
			return errors.Wrap(err, "failed to create controller link")
		}
	}

	closeStrip, err := d.openTransport()
	if err != nil {
		return err
	}
	defer closeStrip()

	d.openADC()

	errg, ctx := errgroup.WithContext(ctx)

	if port != nil {
		errg.Go(func() error {
			<-ctx.Done()
			d.logger.Debug("closing serial port")
			if err := port.Close(); err != nil {
				return errors.Wrap(err, "failed to close serial port")
			}
			return ctx.Err()
		})
		errg.Go(func() error {
			return d.link.Listen(ctx)
		})
	}

	errg.Go(func() error {
		return d.loop(ctx)
	})

	return errg.Wait()
}

func (d *internalDaemon) openTransport() (func(), error) {
	count := d.cfg.Matrix.Layout().Count()
	order := d.order()

	var strip *periphled.Strip

	switch d.cfg.Matrix.Driver {
	case SerialDriver:
		d.transport = d.link
		return func() {}, nil

	case SPIDriver:
		s, err := periphled.OpenSPI(d.cfg.SPI.Port, count, order)
		if err != nil {
			return nil, err
		}
		strip = s

	case ConsoleDriver:
		strip = periphled.OpenConsole(count, order)
	}

	d.transport = strip
	return func() {
		if err := strip.Close(); err != nil {
			d.logger.Warn(
				"failed to close LED strip",
				"error", err)
		}
	}, nil
}

func (d *internalDaemon) openADC() {
	switch d.cfg.Mic.Source {
	case SerialSource:
		d.adc = d.link
	case SyntheticSource:
		cfg := synthmic.DefaultConfig
		cfg.Midscale = d.cfg.Mic.Midscale()
		cfg.Resolution = uint16(d.cfg.Mic.Resolution)
		cfg.Period = 50 * d.cfg.Mic.Samples
		cfg.Burst = 5 * d.cfg.Mic.Samples
		d.adc = synthmic.New(cfg)
	}
}

func (d *internalDaemon) loop(ctx context.Context) error {
	if d.link != nil {
		d.logger.Debug("sending initialize packet")
		if err := d.link.Initialize(); err != nil {
			return errors.Wrap(err, "failed to initialize controller")
		}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	leds, err := matrix.New(d.transport, matrix.Options{
		Layout: d.cfg.Matrix.Layout(),
		Order:  d.order(),
		Latch:  time.Duration(d.cfg.Matrix.Latch),
		ErrorHandler: func(err error) {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn(
				"failed to transmit frame",
				"error", err)
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to create LED buffer")
	}

	estimator, err := loudness.NewEstimator(d.adc, d.cfg.Mic.Params())
	if err != nil {
		return err
	}

	d.trend = util.NewMovingWindow(d.cfg.TrendWindow)

	ctrl, err := reactor.NewController(d.cfg.Loop.Reactor(), leds, estimator,
		reactor.WithClock(d.clock),
		reactor.WithLogger(d.logger),
		reactor.WithObserver(func(it reactor.Iteration) {
			d.observe(it)
			if d.link != nil && d.link.Err() != nil {
				cancel(d.link.Err())
			}
		}))
	if err != nil {
		return errors.Wrap(err, "failed to create controller")
	}

	// A tethered controller may still show the last frame of a previous run.
	leds.Clear()

	if err := ctrl.Run(ctx); err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return errors.Wrap(cause, "controller link failed")
		}
		return err
	}
	return nil
}

func (d *internalDaemon) observe(it reactor.Iteration) {
	mean, stddev := d.trend.Update(it.RMS)
	d.logger.Debug(
		"loudness trend",
		"mean", mean,
		"stddev", stddev,
		"window", d.trend.Len(),
		"iteration", it.Duration)
}

// order returns the channel order. Validate has already rejected bad
// values.
func (d *internalDaemon) order() matrix.ChannelOrder {
	order, _ := matrix.ParseChannelOrder(d.cfg.Matrix.Order)
	return order
}
