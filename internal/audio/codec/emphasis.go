// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_codec

// Telephony line-level tuning for the inbound path. Narrowband G.711 arrives
// dull and quiet compared to what the endpoint's transcription model was
// trained on; a first-order pre-emphasis plus mild gain recovers enough of
// the consonant band to matter for word accuracy.
const (
	DefaultPreEmphasis = 0.90
	DefaultInputGain   = 1.6
)

// Emphasis is the stateful first-order pre-emphasis filter
// y[n] = x[n] - coeff*x[n-1], with the previous sample carried across frames.
type Emphasis struct {
	coeff float64
	prev  float64
}

// NewEmphasis creates a pre-emphasis filter. coeff <= 0 disables it.
func NewEmphasis(coeff float64) *Emphasis {
	return &Emphasis{coeff: coeff}
}

// Process applies pre-emphasis in place and returns the same slice.
func (e *Emphasis) Process(pcm []int16) []int16 {
	if e.coeff <= 0 {
		return pcm
	}
	for i, s := range pcm {
		cur := float64(s)
		pcm[i] = clampPCM(cur - e.coeff*e.prev)
		e.prev = cur
	}
	return pcm
}

// ApplyGain scales samples in place with saturation. gain 1.0 (or less than
// or equal to zero) is a no-op.
func ApplyGain(pcm []int16, gain float64) []int16 {
	if gain <= 0 || gain == 1.0 {
		return pcm
	}
	for i, s := range pcm {
		pcm[i] = clampPCM(float64(s) * gain)
	}
	return pcm
}
