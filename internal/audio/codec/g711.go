// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_codec

import (
	"github.com/zaf/g711"
)

// Telephony framing: narrowband G.711 at 8kHz, one byte per sample, 20ms
// frames of 160 bytes.
const (
	TelephonyRate  = 8000
	AIRate         = 24000
	OpusRate       = 48000
	FrameDuration  = 20 // milliseconds
	TelephonyFrame = TelephonyRate / 1000 * FrameDuration

	// Companded byte values that decode to (near) digital silence.
	MuLawSilence byte = 0xFF
	ALawSilence  byte = 0xD5
)

// Codec names as they appear in configuration and media negotiation.
const (
	CodecMuLaw = "mulaw"
	CodecALaw  = "alaw"
	CodecOpus  = "opus"
)

// DecodeMuLaw expands µ-law bytes to linear PCM samples.
func DecodeMuLaw(frame []byte) []int16 {
	pcm := make([]int16, len(frame))
	for i, b := range frame {
		pcm[i] = g711.DecodeUlawFrame(b)
	}
	return pcm
}

// EncodeMuLaw compands linear PCM samples to µ-law bytes.
func EncodeMuLaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out
}

// DecodeALaw expands A-law bytes to linear PCM samples.
func DecodeALaw(frame []byte) []int16 {
	pcm := make([]int16, len(frame))
	for i, b := range frame {
		pcm[i] = g711.DecodeAlawFrame(b)
	}
	return pcm
}

// EncodeALaw compands linear PCM samples to A-law bytes.
func EncodeALaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = g711.EncodeAlawFrame(s)
	}
	return out
}

// SilenceByte returns the companded silence value for a G.711 codec name.
func SilenceByte(codec string) byte {
	if codec == CodecALaw {
		return ALawSilence
	}
	return MuLawSilence
}

// PadFrame right-pads a short frame to size with the codec silence byte.
// Full frames are returned unchanged.
func PadFrame(frame []byte, size int, silence byte) []byte {
	if len(frame) >= size {
		return frame
	}
	padded := make([]byte, size)
	copy(padded, frame)
	for i := len(frame); i < size; i++ {
		padded[i] = silence
	}
	return padded
}

// PCMToBytes serialises samples as 16-bit little-endian PCM.
func PCMToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToPCM parses 16-bit little-endian PCM; a trailing odd byte is dropped.
func BytesToPCM(data []byte) []int16 {
	n := len(data) / 2
	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		pcm[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return pcm
}
