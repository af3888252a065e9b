// Package loudness turns raw microphone ADC readings into a single RMS
// loudness figure.
package loudness

import (
	"math"

	"github.com/pkg/errors"
)

// ADC is a single-channel analog input. Read blocks until a conversion is
// done and returns a 12-bit code.
type ADC interface {
	Read() uint16
}

// ADCFunc is a function that implements ADC.
type ADCFunc func() uint16

// Read implements ADC.
func (f ADCFunc) Read() uint16 { return f() }

// Params describes the microphone front end.
type Params struct {
	// Samples is the number of readings per estimate.
	Samples int
	// Reference is the ADC reference voltage.
	Reference float64
	// Resolution is the highest ADC code.
	Resolution int
	// Baseline is the microphone output voltage in silence.
	Baseline float64
}

// DefaultParams is the electret microphone on ADC2 of the RP2040: 12-bit
// conversions against 3.3V, biased at half the rail.
var DefaultParams = Params{
	Samples:    20,
	Reference:  3.3,
	Resolution: 4095,
	Baseline:   1.65,
}

// Validate checks that p can be used for estimates.
func (p Params) Validate() error {
	if p.Samples < 1 {
		return errors.Errorf("sample count must be positive, got %d", p.Samples)
	}
	if p.Resolution < 1 {
		return errors.Errorf("resolution must be positive, got %d", p.Resolution)
	}
	if p.Reference <= 0 {
		return errors.Errorf("reference voltage must be positive, got %g", p.Reference)
	}
	if p.Baseline < 0 || p.Baseline > p.Reference {
		return errors.Errorf("baseline %gV outside [0, %g]V", p.Baseline, p.Reference)
	}
	return nil
}

// Estimator computes the RMS deviation of the microphone signal from its
// silence baseline.
type Estimator struct {
	adc    ADC
	params Params
}

// NewEstimator creates a new estimator reading from adc.
func NewEstimator(adc ADC, params Params) (*Estimator, error) {
	if adc == nil {
		return nil, errors.New("nil ADC")
	}
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid loudness parameters")
	}
	return &Estimator{adc: adc, params: params}, nil
}

// Params returns the parameters of the estimator.
func (e *Estimator) Params() Params { return e.params }

// Voltage converts a raw ADC code into volts.
func (e *Estimator) Voltage(raw uint16) float64 {
	return float64(raw) * e.params.Reference / float64(e.params.Resolution)
}

// Deviation returns how far v lies from the silence baseline.
func (e *Estimator) Deviation(v float64) float64 {
	if v > e.params.Baseline {
		return v - e.params.Baseline
	}
	return e.params.Baseline - v
}

// Estimate takes Samples readings and returns their RMS deviation in volts.
// It blocks for as long as the readings take.
func (e *Estimator) Estimate() float64 {
	var sum float64
	for i := 0; i < e.params.Samples; i++ {
		d := e.Deviation(e.Voltage(e.adc.Read()))
		sum += d * d
	}
	return math.Sqrt(sum / float64(e.params.Samples))
}
