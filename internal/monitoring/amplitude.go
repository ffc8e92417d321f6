package monitoring

import (
	"gonum.org/v1/gonum/stat"
)

// AmplitudeSummary describes the level of a block of demodulated samples. A healthy
// FM-demodulated input sits near zero mean with a stddev well above the noise floor.
type AmplitudeSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    int16   `json:"min"`
	Max    int16   `json:"max"`
}

// AmplitudeStats accumulates samples into a reusable float buffer.
type AmplitudeStats struct {
	buf []float64
}

// Summarize computes the summary of samples. The returned value does not alias samples.
func (a *AmplitudeStats) Summarize(samples []int16) AmplitudeSummary {
	if len(samples) == 0 {
		return AmplitudeSummary{}
	}
	if cap(a.buf) < len(samples) {
		a.buf = make([]float64, len(samples))
	}
	x := a.buf[:len(samples)]
	lo, hi := samples[0], samples[0]
	for i, s := range samples {
		x[i] = float64(s)
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	sum := AmplitudeSummary{Count: len(samples), Min: lo, Max: hi}
	if len(samples) == 1 {
		sum.Mean = x[0]
		return sum
	}
	sum.Mean, sum.StdDev = stat.MeanStdDev(x, nil)
	return sum
}
