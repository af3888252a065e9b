// Package reactor implements the sound-reactive loop: sample the microphone,
// decide between loud and quiet, and drive the LED matrix accordingly.
package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"libdb.so/micglow/loudness"
	"libdb.so/micglow/matrix"
)

// State is the outcome of one loop iteration.
type State uint8

const (
	// Quiet means the RMS was at or below the threshold.
	Quiet State = iota
	// Loud means the RMS was strictly above the threshold.
	Loud
)

// String returns the human readable status of the state.
func (s State) String() string {
	switch s {
	case Quiet:
		return "silence"
	case Loud:
		return "sound detected"
	default:
		return "unknown"
	}
}

// Classify returns Loud if rms is strictly greater than threshold.
func Classify(rms, threshold float64) State {
	if rms > threshold {
		return Loud
	}
	return Quiet
}

// Color is an RGB color.
type Color struct {
	R, G, B uint8
}

// Config is the configuration of the loop.
type Config struct {
	// Threshold is the RMS voltage above which sound is detected.
	Threshold float64
	// CascadeColor is the color the cascade lights pixels with.
	CascadeColor Color
	// CascadeStep is the delay after each cascade frame.
	CascadeStep time.Duration
	// Idle is the delay at the end of every iteration.
	Idle time.Duration
}

// DefaultConfig is the configuration of the stock firmware.
var DefaultConfig = Config{
	Threshold:    0.25,
	CascadeColor: Color{R: 0, G: 200, B: 0},
	CascadeStep:  100 * time.Millisecond,
	Idle:         200 * time.Millisecond,
}

// Clock provides blocking delays.
type Clock interface {
	Sleep(time.Duration)
}

// SleepClock is a Clock backed by time.Sleep.
type SleepClock struct{}

// Sleep implements Clock.
func (SleepClock) Sleep(d time.Duration) { time.Sleep(d) }

// Iteration is the record of one pass through the loop.
type Iteration struct {
	RMS      float64
	State    State
	Duration time.Duration
}

// Observer is called after every iteration.
type Observer func(Iteration)

// Controller owns the LED buffer and the estimator and runs the loop. It is
// not safe for concurrent use.
type Controller struct {
	cfg       Config
	leds      *matrix.Buffer
	estimator *loudness.Estimator
	clock     Clock
	logger    *slog.Logger
	observer  Observer
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the clock. It defaults to SleepClock.
func WithClock(c Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithLogger overrides the logger. It defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ctrl *Controller) { ctrl.logger = l }
}

// WithObserver sets a function called after every iteration.
func WithObserver(o Observer) Option {
	return func(ctrl *Controller) { ctrl.observer = o }
}

// NewController creates a new controller.
func NewController(cfg Config, leds *matrix.Buffer, estimator *loudness.Estimator, opts ...Option) (*Controller, error) {
	if leds == nil {
		return nil, errors.New("nil LED buffer")
	}
	if estimator == nil {
		return nil, errors.New("nil loudness estimator")
	}
	if cfg.Threshold < 0 {
		return nil, errors.Errorf("negative threshold %g", cfg.Threshold)
	}

	c := &Controller{
		cfg:       cfg,
		leds:      leds,
		estimator: estimator,
		clock:     SleepClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Run runs the loop until ctx is canceled. The context is only checked
// between iterations; a cascade that has started always finishes.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Step()
	}
}

// Step runs one iteration of the loop.
func (c *Controller) Step() Iteration {
	start := time.Now()

	rms := c.estimator.Estimate()
	state := Classify(rms, c.cfg.Threshold)

	c.logger.Info(
		"microphone level",
		"rms", formatVolts(rms),
		"status", state.String())

	switch state {
	case Loud:
		c.logger.Info(
			"sound detected, running cascade",
			"rms", formatVolts(rms))
		c.Cascade()
	default:
		c.leds.Clear()
	}

	// Both branches end on a flush already; one more frame goes out every
	// iteration regardless.
	c.leds.Flush()
	c.clock.Sleep(c.cfg.Idle)

	it := Iteration{
		RMS:      rms,
		State:    state,
		Duration: time.Since(start),
	}
	if c.observer != nil {
		c.observer(it)
	}
	return it
}

// Cascade lights every pixel in index order, then turns them off again in
// reverse, flushing and waiting CascadeStep after each change.
func (c *Controller) Cascade() {
	color := c.cfg.CascadeColor
	n := c.leds.Len()

	for i := 0; i < n; i++ {
		c.leds.SetPixel(i, color.R, color.G, color.B)
		c.leds.Flush()
		c.clock.Sleep(c.cfg.CascadeStep)
	}

	for i := n - 1; i >= 0; i-- {
		c.leds.SetPixel(i, 0, 0, 0)
		c.leds.Flush()
		c.clock.Sleep(c.cfg.CascadeStep)
	}
}

func formatVolts(v float64) string {
	return fmt.Sprintf("%.2f V", v)
}
