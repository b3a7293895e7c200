// Package sensitivity implements the amplitude-floor gate and perceptual UI
// level (spec §4.3). VAD governs when to stop; this governs what to send —
// the two gates are independent and must not be fused (spec §9).
package sensitivity

import "math"

// MaxAmplitude computes the absolute peak i16 sample in a chunk.
func MaxAmplitude(samples []int16) int {
	var max int
	for _, s := range samples {
		a := int(s)
		if a < 0 {
			a = -a
		}
		if a > max {
			max = a
		}
	}
	return max
}

// Level returns the perceptual UI level for a peak amplitude, clamped to
// [0, 1]: sqrt(max_amplitude / 32767).
func Level(maxAmplitude int) float64 {
	level := math.Sqrt(float64(maxAmplitude) / 32767.0)
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}

// Threshold derives the drop threshold from sensitivity in [0, 200]:
// sensitivity>=100 passes everything (threshold 0); below 100 the threshold
// rises linearly to 32767 at sensitivity=0.
func Threshold(sensitivity int) int16 {
	if sensitivity >= 100 {
		return 0
	}
	if sensitivity < 0 {
		sensitivity = 0
	}
	t := (float64(100-sensitivity) / 100.0) * 32767.0
	return int16(t)
}

// Filter holds the sensitivity (re)configured from the app config and
// decides, per chunk, whether to drop it and what level to report.
type Filter struct {
	sensitivity int
	chunkCount  uint64
}

// New builds a Filter at the given sensitivity (0-200, clamped).
func New(sensitivity int) *Filter {
	f := &Filter{}
	f.SetSensitivity(sensitivity)
	return f
}

// SetSensitivity clamps and stores a new sensitivity.
func (f *Filter) SetSensitivity(sensitivity int) {
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 200 {
		sensitivity = 200
	}
	f.sensitivity = sensitivity
}

// Decision is the per-chunk outcome of Evaluate.
type Decision struct {
	MaxAmplitude int
	Level        float64
	// ReportLevel is true every other chunk (~50ms at typical chunk sizes),
	// per spec §4.3.
	ReportLevel bool
	// Drop is true when the chunk's peak falls below the sensitivity
	// threshold and should not reach the provider.
	Drop bool
}

// Evaluate computes the sensitivity decision for one chunk.
func (f *Filter) Evaluate(samples []int16) Decision {
	max := MaxAmplitude(samples)
	threshold := Threshold(f.sensitivity)

	f.chunkCount++
	report := f.chunkCount%2 == 0

	return Decision{
		MaxAmplitude: max,
		Level:        Level(max),
		ReportLevel:  report,
		Drop:         max < int(threshold),
	}
}
