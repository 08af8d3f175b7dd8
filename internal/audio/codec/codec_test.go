// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// G.711 round-trips
// ============================================================================

// representative telephony levels: silence, speech-band amplitudes, extremes.
var pcmVectors = []int16{0, 1, -1, 128, -128, 1000, -1000, 8000, -8000, 30000, -30000, math.MaxInt16, math.MinInt16 + 1}

func TestMuLawRoundTrip_WithinCompandingError(t *testing.T) {
	encoded := EncodeMuLaw(pcmVectors)
	decoded := DecodeMuLaw(encoded)
	require.Len(t, decoded, len(pcmVectors))

	for i, orig := range pcmVectors {
		// µ-law quantisation error grows with amplitude; logarithmic
		// companding keeps relative error bounded. Allow the step size of
		// the segment the sample falls in.
		diff := math.Abs(float64(decoded[i]) - float64(orig))
		tolerance := math.Max(16, math.Abs(float64(orig))/16)
		assert.LessOrEqualf(t, diff, tolerance, "sample %d: %d -> %d", i, orig, decoded[i])
	}
}

func TestALawRoundTrip_WithinCompandingError(t *testing.T) {
	encoded := EncodeALaw(pcmVectors)
	decoded := DecodeALaw(encoded)
	require.Len(t, decoded, len(pcmVectors))

	for i, orig := range pcmVectors {
		diff := math.Abs(float64(decoded[i]) - float64(orig))
		tolerance := math.Max(32, math.Abs(float64(orig))/16)
		assert.LessOrEqualf(t, diff, tolerance, "sample %d: %d -> %d", i, orig, decoded[i])
	}
}

func TestSilenceBytes_DecodeNearZero(t *testing.T) {
	mu := DecodeMuLaw([]byte{MuLawSilence})
	al := DecodeALaw([]byte{ALawSilence})
	assert.InDelta(t, 0, mu[0], 16)
	assert.InDelta(t, 0, al[0], 16)
}

// ============================================================================
// Frame padding
// ============================================================================

func TestPadFrame_ShortFramePaddedWithSilence(t *testing.T) {
	partial := make([]byte, 90)
	for i := range partial {
		partial[i] = 0x42
	}

	padded := PadFrame(partial, TelephonyFrame, MuLawSilence)
	require.Len(t, padded, TelephonyFrame)
	assert.Equal(t, byte(0x42), padded[89])
	for i := 90; i < TelephonyFrame; i++ {
		assert.Equal(t, MuLawSilence, padded[i])
	}

	paddedA := PadFrame(partial, TelephonyFrame, ALawSilence)
	require.Len(t, paddedA, TelephonyFrame)
	assert.Equal(t, ALawSilence, paddedA[TelephonyFrame-1])
}

func TestPadFrame_FullFrameUntouched(t *testing.T) {
	full := make([]byte, TelephonyFrame)
	assert.Equal(t, full, PadFrame(full, TelephonyFrame, MuLawSilence))
}

// ============================================================================
// Resampling
// ============================================================================

func TestUpsample8to24_LengthAndEndpoints(t *testing.T) {
	in := []int16{0, 300, 600, 300}
	out := Upsample8to24(in)
	require.Len(t, out, len(in)*3)
	// Original samples land on every third position.
	for i, s := range in {
		assert.Equal(t, s, out[i*3])
	}
	// Interpolated values are monotonic between rising samples.
	assert.True(t, out[1] > out[0] && out[1] < out[3])
}

func TestUpsample8to48_Length(t *testing.T) {
	out := Upsample8to48(make([]int16, 160))
	assert.Len(t, out, 960)
}

func TestDecimator_DCGainUnity(t *testing.T) {
	d := NewDecimator(DefaultDecimatorTaps)

	// Feed a long DC block; after the filter warms up the output should sit
	// at the input level (unity DC gain).
	in := make([]int16, 2400)
	for i := range in {
		in[i] = 10000
	}
	out := d.Process(in)
	require.Len(t, out, 800)
	assert.InDelta(t, 10000, out[len(out)-1], 2)
}

func TestDecimator_AttenuatesAboveCutoff(t *testing.T) {
	d := NewDecimator(21)

	// 9kHz tone at 24kHz: entirely above the 4kHz Nyquist of the 8kHz
	// output, so it must be strongly attenuated instead of aliasing through.
	in := make([]int16, 4800)
	for i := range in {
		in[i] = int16(12000 * math.Sin(2*math.Pi*9000*float64(i)/24000))
	}
	out := d.Process(in)

	var peak float64
	for _, s := range out[200:] {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	assert.Less(t, peak, 4000.0, "stop-band energy leaked through the decimator")
}

func TestDecimator_TapClamping(t *testing.T) {
	assert.Len(t, NewDecimator(1).taps, MinDecimatorTaps)
	assert.Len(t, NewDecimator(50).taps, MaxDecimatorTaps)
	// Even counts are bumped to odd for linear phase.
	assert.Len(t, NewDecimator(10).taps, 11)
}

func TestDecimator_HistoryCarriesAcrossBlocks(t *testing.T) {
	// Processing one long block or the same signal split in two must give
	// identical output past the first sample.
	sig := make([]int16, 960)
	for i := range sig {
		sig[i] = int16(8000 * math.Sin(2*math.Pi*400*float64(i)/24000))
	}

	whole := NewDecimator(DefaultDecimatorTaps).Process(sig)

	split := NewDecimator(DefaultDecimatorTaps)
	part := append([]int16{}, split.Process(sig[:480])...)
	part = append(part, split.Process(sig[480:])...)

	require.Equal(t, len(whole), len(part))
	for i := range whole {
		assert.InDelta(t, whole[i], part[i], 1)
	}
}

func TestDecimator_RaggedBlocksKeepPhase(t *testing.T) {
	// Endpoint audio deltas arrive in arbitrary sizes. Splitting at
	// boundaries that are not multiples of 3 must select the same output
	// samples as processing the whole signal at once.
	sig := make([]int16, 961)
	for i := range sig {
		sig[i] = int16(8000 * math.Sin(2*math.Pi*400*float64(i)/24000))
	}

	whole := NewDecimator(DefaultDecimatorTaps).Process(sig)

	split := NewDecimator(DefaultDecimatorTaps)
	var part []int16
	for _, cut := range [][2]int{{0, 7}, {7, 8}, {8, 250}, {250, 251}, {251, 961}} {
		part = append(part, split.Process(sig[cut[0]:cut[1]])...)
	}

	require.Equal(t, len(whole), len(part))
	for i := range whole {
		assert.InDelta(t, whole[i], part[i], 1)
	}
}

// ============================================================================
// Pre-emphasis and gain
// ============================================================================

func TestEmphasis_BoostsTransitions(t *testing.T) {
	e := NewEmphasis(DefaultPreEmphasis)
	flat := e.Process([]int16{1000, 1000, 1000, 1000})
	// Steady state: output settles near x*(1-coeff).
	assert.InDelta(t, 100, flat[3], 5)

	disabled := NewEmphasis(0)
	in := []int16{500, 600}
	assert.Equal(t, in, disabled.Process(in))
}

func TestApplyGain_Saturates(t *testing.T) {
	out := ApplyGain([]int16{30000, -30000, 100}, 2.0)
	assert.Equal(t, int16(math.MaxInt16), out[0])
	assert.Equal(t, int16(math.MinInt16), out[1])
	assert.Equal(t, int16(200), out[2])
}

// ============================================================================
// PCM byte conversion
// ============================================================================

func TestPCMBytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 256, -256, math.MaxInt16, math.MinInt16}
	assert.Equal(t, in, BytesToPCM(PCMToBytes(in)))
}
