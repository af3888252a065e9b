// Package synthmic is a fake microphone for running the daemon without
// hardware. It hums around the silence level and periodically bursts into a
// loud tone.
package synthmic

import (
	"math"
	"math/rand"
)

// Config configures a Generator.
type Config struct {
	// Midscale is the ADC code of silence.
	Midscale uint16
	// Resolution is the highest ADC code.
	Resolution uint16
	// Noise is the peak amplitude of the background noise, in codes.
	Noise uint16
	// Amplitude is the peak amplitude of a burst, in codes.
	Amplitude uint16
	// Period is the number of readings between the starts of two bursts.
	Period int
	// Burst is the number of readings a burst lasts.
	Burst int
	// Seed seeds the noise.
	Seed int64
}

// DefaultConfig bursts for five estimates out of every fifty, with the
// default 20 readings per estimate.
var DefaultConfig = Config{
	Midscale:   2048,
	Resolution: 4095,
	Noise:      40,
	Amplitude:  1500,
	Period:     50 * 20,
	Burst:      5 * 20,
	Seed:       1,
}

// Generator implements loudness.ADC.
type Generator struct {
	cfg Config
	rng *rand.Rand
	n   int
}

// New creates a new generator.
func New(cfg Config) *Generator {
	if cfg.Period < 1 {
		cfg.Period = 1
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Read returns the next reading.
func (g *Generator) Read() uint16 {
	phase := g.n % g.cfg.Period
	g.n++

	v := float64(g.cfg.Midscale)
	if g.cfg.Noise > 0 {
		v += float64(g.rng.Intn(2*int(g.cfg.Noise)+1) - int(g.cfg.Noise))
	}
	if phase >= g.cfg.Period-g.cfg.Burst {
		// A tone at an eighth of the sample rate.
		v += float64(g.cfg.Amplitude) * math.Sin(2*math.Pi*float64(phase)/8)
	}

	return uint16(math.Max(0, math.Min(float64(g.cfg.Resolution), math.Round(v))))
}
