// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_codec

import (
	"math"
)

// Fixed integer ratios between the rates this bridge moves audio across:
// 8kHz telephony, 24kHz AI endpoint, 48kHz Opus.
const (
	upFactor8to24   = 3
	downFactor24to8 = 3
	upFactor8to48   = 6
)

// Decimator tap budget. An odd count in [3,21]; 15 taps keeps the passband
// flat to ~3.4kHz while staying cheap enough for the 20ms tick.
const (
	DefaultDecimatorTaps = 15
	MinDecimatorTaps     = 3
	MaxDecimatorTaps     = 21

	decimatorCutoffHz = 3600.0
	kaiserBeta        = 6.0
)

// Upsample8to24 converts 8kHz PCM to 24kHz by linear interpolation. Two
// intermediate samples are synthesised between every input pair; the final
// input sample is replicated to keep length exactly 3x.
func Upsample8to24(pcm []int16) []int16 {
	if len(pcm) == 0 {
		return nil
	}
	out := make([]int16, len(pcm)*upFactor8to24)
	for i, s := range pcm {
		next := s
		if i+1 < len(pcm) {
			next = pcm[i+1]
		}
		base := i * upFactor8to24
		out[base] = s
		out[base+1] = int16((int32(s)*2 + int32(next)) / 3)
		out[base+2] = int16((int32(s) + int32(next)*2) / 3)
	}
	return out
}

// Upsample8to48 converts 8kHz PCM to 48kHz by linear interpolation, for the
// Opus output path.
func Upsample8to48(pcm []int16) []int16 {
	if len(pcm) == 0 {
		return nil
	}
	out := make([]int16, len(pcm)*upFactor8to48)
	for i, s := range pcm {
		next := s
		if i+1 < len(pcm) {
			next = pcm[i+1]
		}
		base := i * upFactor8to48
		for k := 0; k < upFactor8to48; k++ {
			out[base+k] = int16((int32(s)*int32(upFactor8to48-k) + int32(next)*int32(k)) / upFactor8to48)
		}
	}
	return out
}

// Decimator carries the FIR filter history across frames so the 24kHz→8kHz
// conversion is seamless at frame boundaries. Not safe for concurrent use;
// one instance belongs to one pipeline.
type Decimator struct {
	taps    []float64
	history []float64
	// phase is how many input samples of the next block precede its first
	// output, keeping the 1-in-3 selection grid aligned across blocks whose
	// lengths are not multiples of 3.
	phase int
}

// NewDecimator builds a Kaiser-windowed low-pass FIR decimator. tapCount is
// clamped to an odd value in [MinDecimatorTaps, MaxDecimatorTaps]. Naive
// every-third-sample decimation aliases 4–12kHz energy back into the
// passband, which is audible as metallic ringing on a telephone line; the
// anti-aliasing filter runs before sample selection.
func NewDecimator(tapCount int) *Decimator {
	if tapCount < MinDecimatorTaps {
		tapCount = MinDecimatorTaps
	}
	if tapCount > MaxDecimatorTaps {
		tapCount = MaxDecimatorTaps
	}
	if tapCount%2 == 0 {
		tapCount++
	}
	return &Decimator{
		taps:    kaiserLowPass(tapCount, decimatorCutoffHz/float64(AIRate), kaiserBeta),
		history: make([]float64, tapCount-1),
	}
}

// Process filters and decimates one block of 24kHz PCM to 8kHz. Block
// lengths need not be multiples of 3; the ragged remainder carries into the
// next block's phase so the selection grid never shifts.
func (d *Decimator) Process(pcm24k []int16) []int16 {
	if len(pcm24k) == 0 {
		return nil
	}

	// Contiguous signal: previous tail then this block.
	signal := make([]float64, len(d.history)+len(pcm24k))
	copy(signal, d.history)
	for i, s := range pcm24k {
		signal[len(d.history)+i] = float64(s)
	}

	out := make([]int16, 0, len(pcm24k)/downFactor24to8+1)
	n := len(d.history) + d.phase
	for ; n < len(signal); n += downFactor24to8 {
		var acc float64
		for k, h := range d.taps {
			idx := n - k
			if idx < 0 {
				break
			}
			acc += h * signal[idx]
		}
		out = append(out, clampPCM(acc))
	}
	d.phase = n - len(signal)

	// Keep the last taps-1 samples as the next block's history.
	copy(d.history, signal[len(signal)-len(d.history):])
	return out
}

// Reset clears the filter history and phase (used when playback is flushed).
func (d *Decimator) Reset() {
	for i := range d.history {
		d.history[i] = 0
	}
	d.phase = 0
}

// kaiserLowPass designs an odd-length linear-phase low-pass FIR with a
// Kaiser window. cutoff is normalised to the sample rate (fc/fs).
func kaiserLowPass(taps int, cutoff, beta float64) []float64 {
	h := make([]float64, taps)
	mid := float64(taps-1) / 2
	denom := bessi0(beta)
	var sum float64
	for n := 0; n < taps; n++ {
		x := float64(n) - mid
		// Windowed ideal low-pass impulse response.
		var sinc float64
		if x == 0 {
			sinc = 2 * cutoff
		} else {
			sinc = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		r := 2*float64(n)/float64(taps-1) - 1
		w := bessi0(beta*math.Sqrt(1-r*r)) / denom
		h[n] = sinc * w
		sum += h[n]
	}
	// Normalise to unity DC gain.
	for n := range h {
		h[n] /= sum
	}
	return h
}

// bessi0 is the zeroth-order modified Bessel function of the first kind,
// evaluated by its power series.
func bessi0(x float64) float64 {
	sum := 1.0
	term := 1.0
	half := x / 2
	for k := 1; k < 32; k++ {
		term *= (half / float64(k)) * (half / float64(k))
		sum += term
		if term < 1e-12*sum {
			break
		}
	}
	return sum
}

func clampPCM(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
